package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mediaforge/mediaforge/artifact"
	"github.com/mediaforge/mediaforge/cache"
	"github.com/mediaforge/mediaforge/config"
	"github.com/mediaforge/mediaforge/gateway"
	"github.com/mediaforge/mediaforge/internal/metrics"
	"github.com/mediaforge/mediaforge/internal/server"
	"github.com/mediaforge/mediaforge/output"
	"github.com/mediaforge/mediaforge/provider"
	"github.com/mediaforge/mediaforge/workflow"
)

// Server wires the gateway subsystems and runs the HTTP front-ends.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	artifacts  artifact.Store
	tiered     *cache.TieredCache
	router     *output.Router
	stateStore workflow.StateStore
	engine     *workflow.Engine
	service    *gateway.Service
	tools      *gateway.ToolRegistry
	collector  *metrics.Collector

	redisClient *redis.Client

	httpManager    *server.Manager
	metricsManager *server.Manager
	statsStop      chan struct{}
}

// NewServer builds every subsystem from the configuration.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger, statsStop: make(chan struct{})}

	if cfg.Metrics.Enabled {
		s.collector = metrics.NewCollector(cfg.Metrics.Namespace, nil, logger)
	}

	if err := s.initArtifactStore(); err != nil {
		return nil, err
	}
	if err := s.initCache(); err != nil {
		return nil, err
	}

	router, err := output.NewRouter(s.artifacts, s.tiered, cfg.Output, logger)
	if err != nil {
		return nil, err
	}
	s.router = router

	if err := s.initStateStore(); err != nil {
		return nil, err
	}

	registry := s.buildProviderRegistry()

	engine, err := workflow.NewEngine(s.stateStore, registry, s.artifacts, s.tiered, cfg.Workflow.Engine, s.collector, logger)
	if err != nil {
		return nil, err
	}
	s.engine = engine

	service, err := gateway.NewService(engine, workflow.NewLibrary(), router, s.collector, logger)
	if err != nil {
		return nil, err
	}
	s.service = service

	s.tools = gateway.NewToolRegistry()
	if err := service.RegisterTools(s.tools); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Server) initArtifactStore() error {
	switch s.cfg.Artifacts.Backend {
	case "memory":
		s.artifacts = artifact.NewMemoryStore()
	default:
		store, err := artifact.NewFileStore(s.cfg.Artifacts.Store, s.logger)
		if err != nil {
			return fmt.Errorf("failed to open artifact store: %w", err)
		}
		s.artifacts = store
	}
	return nil
}

func (s *Server) initCache() error {
	var slow cache.SlowStore
	switch s.cfg.Cache.Backend {
	case "redis":
		slow = cache.NewRedisSlowStore(s.redis(), s.logger)
	default:
		store, err := cache.NewFileSlowStore(s.cfg.Cache.Dir, s.logger)
		if err != nil {
			return fmt.Errorf("failed to open cache slow tier: %w", err)
		}
		slow = store
	}
	s.tiered = cache.NewTieredCache(slow, s.cfg.Cache.Tiers, s.logger)
	return nil
}

func (s *Server) initStateStore() error {
	switch s.cfg.Workflow.StateBackend {
	case "memory":
		s.stateStore = workflow.NewMemoryStateStore()
	case "file":
		store, err := workflow.NewFileStateStore(s.cfg.Workflow.StateDir)
		if err != nil {
			return fmt.Errorf("failed to open workflow state store: %w", err)
		}
		s.stateStore = store
	case "redis":
		s.stateStore = workflow.NewRedisStateStore(s.redis(), s.logger)
	default:
		store, err := workflow.NewSQLiteStateStore(s.cfg.Workflow.SQLitePath, s.logger)
		if err != nil {
			return fmt.Errorf("failed to open workflow state store: %w", err)
		}
		s.stateStore = store
	}
	return nil
}

// redis returns the shared Redis client, creating it on first use.
func (s *Server) redis() *redis.Client {
	if s.redisClient == nil {
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:         s.cfg.Redis.Addr,
			Password:     s.cfg.Redis.Password,
			DB:           s.cfg.Redis.DB,
			PoolSize:     s.cfg.Redis.PoolSize,
			MinIdleConns: s.cfg.Redis.MinIdleConns,
		})
	}
	return s.redisClient
}

// buildProviderRegistry registers one adapter per capability. Until a
// deployment links real provider clients, local echo adapters keep the
// pipeline exercisable end to end.
func (s *Server) buildProviderRegistry() *provider.Registry {
	registry := provider.NewRegistry()

	adapters := []struct {
		name string
		cap  provider.Capability
		cfg  config.ProviderConfig
	}{
		{"local-text", provider.CapabilityText, s.cfg.Providers.Text},
		{"local-image", provider.CapabilityImage, s.cfg.Providers.Image},
		{"local-video", provider.CapabilityVideo, s.cfg.Providers.Video},
	}

	for _, a := range adapters {
		var invoker provider.Invoker = provider.NewFake(a.name, a.cap)
		if a.cfg.RPS > 0 {
			invoker = provider.NewRateLimited(invoker, a.cfg.RPS, a.cfg.Burst)
		}
		if err := registry.Register(invoker); err != nil {
			s.logger.Error("Failed to register provider adapter",
				zap.String("adapter", a.name), zap.Error(err))
		}
	}

	s.logger.Info("Provider adapters registered (local echo mode)")
	return registry
}

// Start brings up the API server and, when enabled, the metrics server.
func (s *Server) Start() error {
	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	handler := Chain(s.buildMux(),
		Recovery(s.logger),
		RequestID(),
		RequestLogger(s.logger),
	)

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}
	s.logger.Info("API server started", zap.Int("port", s.cfg.Server.HTTPPort))

	if s.cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		metricsConfig := serverConfig
		metricsConfig.Addr = fmt.Sprintf(":%d", s.cfg.Metrics.Port)
		s.metricsManager = server.NewManager(mux, metricsConfig, s.logger)
		if err := s.metricsManager.Start(); err != nil {
			return err
		}
		s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Metrics.Port))

		go s.statsLoop()
	}

	return nil
}

// statsLoop mirrors cache occupancy and lease counts into the gauges.
func (s *Server) statsLoop() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			stats := s.tiered.Stats()
			s.collector.SetCacheBytesResident(stats.BytesResident)
			s.collector.SetLeasesActive(s.router.Leases().Active())
		case <-s.statsStop:
			return
		}
	}
}

func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)

	mux.HandleFunc("GET /api/v1/tools", s.handleListTools)
	mux.HandleFunc("POST /api/v1/tools/{tool}", s.handleDispatchTool)
	mux.HandleFunc("GET /api/v1/templates", s.handleListTemplates)

	mux.HandleFunc("GET /artifacts/{token}", s.handleServeArtifact)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	tools := make(map[string]gateway.ToolDescriptor)
	for _, name := range s.tools.List() {
		if desc, ok := s.tools.Describe(name); ok {
			tools[name] = desc
		}
	}
	writeJSON(w, http.StatusOK, tools)
}

func (s *Server) handleDispatchTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("tool")

	var args map[string]any
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&args); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
	}

	result, err := s.tools.Dispatch(r.Context(), name, args)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	var ids []string
	switch {
	case r.URL.Query().Get("q") != "":
		ids = s.service.SearchTemplates(r.URL.Query().Get("q"))
	default:
		ids = s.service.ListTemplatesByTag(r.URL.Query().Get("tag"))
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": ids})
}

// handleServeArtifact serves leased artifact bytes. The token comes
// from a url-mode delivery descriptor and stops working once the lease
// expires or is revoked.
func (s *Server) handleServeArtifact(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")

	lease, err := s.router.Leases().Resolve(token)
	if err != nil {
		// Leases are minted with a deadline: once one stops resolving
		// the URL is permanently dead, not temporarily missing.
		writeJSON(w, http.StatusGone, map[string]string{"error": "unknown or expired lease"})
		return
	}

	art, err := s.artifacts.Stat(r.Context(), lease.ArtifactID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "artifact no longer available"})
		return
	}
	data, err := s.artifacts.Read(r.Context(), lease.ArtifactID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read artifact"})
		return
	}

	w.Header().Set("Content-Type", contentTypeFor(art.MediaKind))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func contentTypeFor(kind artifact.MediaKind) string {
	switch kind {
	case artifact.MediaText:
		return "text/plain; charset=utf-8"
	case artifact.MediaImage:
		return "image/png"
	case artifact.MediaVideo:
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}

// WaitForShutdown blocks until a shutdown signal, then winds down.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown closes the front-ends and the subsystems in reverse
// dependency order.
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown")
	ctx := context.Background()

	close(s.statsStop)

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("API server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	if err := s.service.Close(); err != nil {
		s.logger.Error("Gateway service shutdown error", zap.Error(err))
	}
	if err := s.tiered.Close(); err != nil {
		s.logger.Error("Cache shutdown error", zap.Error(err))
	}
	if err := s.stateStore.Close(); err != nil {
		s.logger.Error("State store shutdown error", zap.Error(err))
	}
	if err := s.artifacts.Close(); err != nil {
		s.logger.Error("Artifact store shutdown error", zap.Error(err))
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Redis client shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
