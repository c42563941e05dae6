package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStateStore persists one JSON file per instance under a base
// directory. Writes go through a temp file and rename so a crash
// mid-write never corrupts a record.
type FileStateStore struct {
	basePath string
	mu       sync.RWMutex
	closed   bool
}

var _ StateStore = (*FileStateStore)(nil)

// NewFileStateStore creates a store rooted at basePath.
func NewFileStateStore(basePath string) (*FileStateStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workflow state directory: %w", err)
	}
	return &FileStateStore{basePath: basePath}, nil
}

// Save upserts the instance atomically.
func (s *FileStateStore) Save(ctx context.Context, instance *Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("state store is closed")
	}

	data, err := json.MarshalIndent(instance, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode workflow instance: %w", err)
	}

	path := s.instancePath(instance.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write workflow instance: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write workflow instance: %w", err)
	}
	return nil
}

// Load returns the instance, or ErrInstanceNotFound.
func (s *FileStateStore) Load(ctx context.Context, id string) (*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.instancePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrInstanceNotFound
		}
		return nil, fmt.Errorf("failed to read workflow instance: %w", err)
	}

	var instance Instance
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("failed to decode workflow instance %s: %w", id, err)
	}
	return &instance, nil
}

// List returns ids of all persisted instances.
func (s *FileStateStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow state directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".json") {
			ids = append(ids, strings.TrimSuffix(name, ".json"))
		}
	}
	return ids, nil
}

// Delete removes an instance record.
func (s *FileStateStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.instancePath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete workflow instance: %w", err)
	}
	return nil
}

// Close marks the store closed.
func (s *FileStateStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *FileStateStore) instancePath(id string) string {
	return filepath.Join(s.basePath, id+".json")
}
