package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileStore implements Store on the local filesystem. Content lives under
// basePath/objects/<id>, metadata in an index file written atomically
// (temp file + rename) so a crash mid-write never leaves a corrupt index.
type FileStore struct {
	basePath string
	logger   *zap.Logger
	mu       sync.RWMutex
	index    map[string]*Artifact
	closed   bool
	stopCh   chan struct{}
}

// FileStoreConfig configures a FileStore.
type FileStoreConfig struct {
	// BasePath is the root directory for objects and the index.
	BasePath string `yaml:"base_path" json:"base_path"`

	// SweepInterval is how often expired artifacts are swept.
	// Zero disables the background sweeper.
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
}

// DefaultFileStoreConfig returns sensible defaults.
func DefaultFileStoreConfig() FileStoreConfig {
	return FileStoreConfig{
		BasePath:      "./data/artifacts",
		SweepInterval: 5 * time.Minute,
	}
}

// NewFileStore creates a filesystem-backed artifact store.
func NewFileStore(config FileStoreConfig, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Join(config.BasePath, "objects"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact store directory: %w", err)
	}

	s := &FileStore{
		basePath: config.BasePath,
		logger:   logger.With(zap.String("component", "artifact_store")),
		index:    make(map[string]*Artifact),
		stopCh:   make(chan struct{}),
	}

	if err := s.loadIndex(); err != nil {
		return nil, fmt.Errorf("failed to load artifact index: %w", err)
	}

	if config.SweepInterval > 0 {
		go s.sweepLoop(config.SweepInterval)
	}

	return s, nil
}

func (s *FileStore) Write(ctx context.Context, data []byte, kind MediaKind, opts ...WriteOption) (*Artifact, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid media kind: %q", kind)
	}
	o := applyWriteOptions(opts)
	id := Fingerprint(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	// Identical bytes already stored: the write is a no-op.
	if existing, ok := s.index[id]; ok {
		return existing, nil
	}

	objectPath := filepath.Join(s.basePath, "objects", id)
	if err := writeFileAtomic(objectPath, data); err != nil {
		return nil, fmt.Errorf("failed to write artifact data: %w", err)
	}

	art := &Artifact{
		ID:              id,
		MediaKind:       kind,
		ByteSize:        int64(len(data)),
		CreatedAt:       time.Now(),
		Tags:            o.tags,
		StorageLocation: objectPath,
	}
	if o.ttl > 0 {
		expiresAt := art.CreatedAt.Add(o.ttl)
		art.ExpiresAt = &expiresAt
	}

	s.index[id] = art
	if err := s.saveIndex(); err != nil {
		delete(s.index, id)
		return nil, fmt.Errorf("failed to persist artifact index: %w", err)
	}

	s.logger.Debug("artifact written",
		zap.String("id", id),
		zap.String("media_kind", string(kind)),
		zap.Int64("byte_size", art.ByteSize),
	)

	return art, nil
}

func (s *FileStore) Read(ctx context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	art, ok := s.index[id]
	closed := s.closed
	s.mu.RUnlock()

	if closed {
		return nil, ErrStoreClosed
	}
	if !ok || art.Expired(time.Now()) {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(art.StorageLocation)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact data: %w", err)
	}
	return data, nil
}

func (s *FileStore) Stat(ctx context.Context, id string) (*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	art, ok := s.index[id]
	if !ok || art.Expired(time.Now()) {
		return nil, ErrNotFound
	}
	return art, nil
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	art, ok := s.index[id]
	if !ok {
		return ErrNotFound
	}

	if err := os.Remove(art.StorageLocation); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete artifact data: %w", err)
	}
	delete(s.index, id)
	return s.saveIndex()
}

func (s *FileStore) List(ctx context.Context, tag string) ([]*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	now := time.Now()
	results := make([]*Artifact, 0)
	for _, art := range s.index {
		if art.Expired(now) {
			continue
		}
		if tag == "" || art.HasTag(tag) {
			results = append(results, art)
		}
	}
	return results, nil
}

func (s *FileStore) SweepExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	now := time.Now()
	count := 0
	for id, art := range s.index {
		if !art.Expired(now) {
			continue
		}
		if err := os.Remove(art.StorageLocation); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove expired artifact",
				zap.String("id", id),
				zap.Error(err),
			)
			continue
		}
		delete(s.index, id)
		count++
	}

	if count > 0 {
		if err := s.saveIndex(); err != nil {
			return count, err
		}
		s.logger.Info("expired artifacts swept", zap.Int("count", count))
	}
	return count, nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.stopCh)
	return s.saveIndex()
}

func (s *FileStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			_, _ = s.SweepExpired(context.Background())
		}
	}
}

func (s *FileStore) loadIndex() error {
	indexPath := filepath.Join(s.basePath, "index.json")
	data, err := os.ReadFile(indexPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var index map[string]*Artifact
	if err := json.Unmarshal(data, &index); err != nil {
		return err
	}
	if index != nil {
		s.index = index
	}
	return nil
}

func (s *FileStore) saveIndex() error {
	data, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(s.basePath, "index.json"), data)
}

// writeFileAtomic writes to a temp file and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tempPath, path)
}

var _ Store = (*FileStore)(nil)
