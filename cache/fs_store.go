package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// slowEnvelope is the on-disk form of a slow tier entry.
type slowEnvelope struct {
	Entry     *Entry    `json:"entry"`
	ExpiresAt time.Time `json:"expires_at"`
}

// FileSlowStore persists cache entries as one JSON file per id under
// a base directory.
type FileSlowStore struct {
	basePath string
	logger   *zap.Logger

	mu     sync.RWMutex
	closed bool
}

var _ SlowStore = (*FileSlowStore)(nil)

// NewFileSlowStore creates a filesystem-backed slow tier rooted at basePath.
func NewFileSlowStore(basePath string, logger *zap.Logger) (*FileSlowStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &FileSlowStore{
		basePath: basePath,
		logger:   logger.With(zap.String("component", "cache_fs")),
	}, nil
}

// Put writes the entry with the given TTL.
func (s *FileSlowStore) Put(ctx context.Context, entry *Entry, ttl time.Duration) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("slow store is closed")
	}

	env := slowEnvelope{Entry: entry, ExpiresAt: time.Now().Add(ttl)}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	path := s.entryPath(entry.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Get returns the entry, or ErrCacheMiss if absent or expired.
// Expired entries are deleted on the spot.
func (s *FileSlowStore) Get(ctx context.Context, id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("slow store is closed")
	}

	path := s.entryPath(id)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var env slowEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		// A corrupt entry behaves as a miss; drop it so it cannot
		// poison later reads.
		s.logger.Warn("Dropping corrupt cache entry", zap.String("id", id), zap.Error(err))
		os.Remove(path)
		return nil, ErrCacheMiss
	}

	if time.Now().After(env.ExpiresAt) {
		os.Remove(path)
		return nil, ErrCacheMiss
	}
	return env.Entry, nil
}

// Remove deletes the entry if present.
func (s *FileSlowStore) Remove(ctx context.Context, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := os.Remove(s.entryPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove cache entry: %w", err)
	}
	return nil
}

// Clear deletes every entry.
func (s *FileSlowStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := os.ReadDir(s.basePath)
	if err != nil {
		return fmt.Errorf("failed to list cache directory: %w", err)
	}
	for _, name := range names {
		if strings.HasSuffix(name.Name(), ".json") {
			os.Remove(filepath.Join(s.basePath, name.Name()))
		}
	}
	return nil
}

// SweepExpired removes expired entries and returns how many were dropped.
func (s *FileSlowStore) SweepExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := os.ReadDir(s.basePath)
	if err != nil {
		return 0, fmt.Errorf("failed to list cache directory: %w", err)
	}

	now := time.Now()
	removed := 0
	for _, name := range names {
		if !strings.HasSuffix(name.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.basePath, name.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var env slowEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			os.Remove(path)
			removed++
			continue
		}
		if now.After(env.ExpiresAt) {
			os.Remove(path)
			removed++
		}
	}
	return removed, nil
}

// Close marks the store closed. Files stay on disk for the next run.
func (s *FileSlowStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *FileSlowStore) entryPath(id string) string {
	return filepath.Join(s.basePath, id+".json")
}
