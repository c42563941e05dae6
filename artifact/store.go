package artifact

import (
	"context"
	"time"
)

// Store is the content-addressable persistence interface for artifact bytes
// plus metadata. Writes of identical bytes are idempotent: the second write
// returns the existing artifact and stores nothing new.
type Store interface {
	// Write persists the bytes and returns the artifact record. Identical
	// bytes yield the same id regardless of how often they are written.
	Write(ctx context.Context, data []byte, kind MediaKind, opts ...WriteOption) (*Artifact, error)

	// Read returns the content bytes for an id, or ErrNotFound.
	Read(ctx context.Context, id string) ([]byte, error)

	// Stat returns the metadata record for an id, or ErrNotFound.
	Stat(ctx context.Context, id string) (*Artifact, error)

	// Delete removes an artifact. Deleting an unknown id returns ErrNotFound.
	Delete(ctx context.Context, id string) error

	// List returns artifacts carrying the given tag; an empty tag lists all.
	List(ctx context.Context, tag string) ([]*Artifact, error)

	// SweepExpired removes artifacts whose expiry has passed and returns
	// the number removed.
	SweepExpired(ctx context.Context) (int, error)

	// Close releases store resources.
	Close() error
}

// WriteOption configures an artifact write.
type WriteOption func(*writeOptions)

type writeOptions struct {
	ttl  time.Duration
	tags []string
}

// WithTTL sets an expiry relative to the write time.
func WithTTL(ttl time.Duration) WriteOption {
	return func(o *writeOptions) { o.ttl = ttl }
}

// WithTags attaches labels such as workflow id and step name.
func WithTags(tags ...string) WriteOption {
	return func(o *writeOptions) { o.tags = tags }
}

func applyWriteOptions(opts []WriteOption) writeOptions {
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
