package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStateStore keeps instances in memory. Intended for tests and
// single-process setups where durability across restarts is not needed.
type MemoryStateStore struct {
	mu        sync.RWMutex
	instances map[string][]byte
	closed    bool
}

var _ StateStore = (*MemoryStateStore)(nil)

// NewMemoryStateStore creates an empty in-memory store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		instances: make(map[string][]byte),
	}
}

// Save upserts the instance. State is stored serialized so callers
// cannot alias the stored copy.
func (s *MemoryStateStore) Save(ctx context.Context, instance *Instance) error {
	data, err := json.Marshal(instance)
	if err != nil {
		return fmt.Errorf("failed to encode workflow instance: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("state store is closed")
	}
	s.instances[instance.ID] = data
	return nil
}

// Load returns the instance, or ErrInstanceNotFound.
func (s *MemoryStateStore) Load(ctx context.Context, id string) (*Instance, error) {
	s.mu.RLock()
	data, ok := s.instances[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrInstanceNotFound
	}

	var instance Instance
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("failed to decode workflow instance: %w", err)
	}
	return &instance, nil
}

// List returns all persisted instance ids.
func (s *MemoryStateStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.instances))
	for id := range s.instances {
		ids = append(ids, id)
	}
	return ids, nil
}

// Delete removes an instance.
func (s *MemoryStateStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.instances, id)
	return nil
}

// Close marks the store closed.
func (s *MemoryStateStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
