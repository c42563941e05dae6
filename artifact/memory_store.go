package artifact

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore implements Store in memory. Intended for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	index   map[string]*Artifact
	closed  bool
}

// NewMemoryStore creates an in-memory artifact store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
		index:   make(map[string]*Artifact),
	}
}

func (s *MemoryStore) Write(ctx context.Context, data []byte, kind MediaKind, opts ...WriteOption) (*Artifact, error) {
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
	if existing, ok := s.index[id]; ok {
		return existing, nil
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	s.objects[id] = buf

	art := &Artifact{
		ID:              id,
		MediaKind:       kind,
		ByteSize:        int64(len(data)),
		CreatedAt:       time.Now(),
		Tags:            o.tags,
		StorageLocation: "memory://" + id,
	}
	if o.ttl > 0 {
		expiresAt := art.CreatedAt.Add(o.ttl)
		art.ExpiresAt = &expiresAt
	}
	s.index[id] = art
	return art, nil
}

func (s *MemoryStore) Read(ctx context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	art, ok := s.index[id]
	if !ok || art.Expired(time.Now()) {
		return nil, ErrNotFound
	}
	return s.objects[id], nil
}

func (s *MemoryStore) Stat(ctx context.Context, id string) (*Artifact, error) {
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

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.index[id]; !ok {
		return ErrNotFound
	}
	delete(s.index, id)
	delete(s.objects, id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, tag string) ([]*Artifact, error) {
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

func (s *MemoryStore) SweepExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}
	now := time.Now()
	count := 0
	for id, art := range s.index {
		if art.Expired(now) {
			delete(s.index, id)
			delete(s.objects, id)
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Len returns the number of stored artifacts. Test helper.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

var _ Store = (*MemoryStore)(nil)
