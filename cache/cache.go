// Package cache provides a two-tier artifact byte cache: a small
// in-process LRU tier in front of a durable slow tier with TTL expiry.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/mediaforge/mediaforge/artifact"
)

// ErrCacheMiss indicates the requested entry is in neither tier.
var ErrCacheMiss = errors.New("cache miss")

// Entry is a cached artifact payload together with its metadata.
type Entry struct {
	ID        string             `json:"id"`
	MediaKind artifact.MediaKind `json:"media_kind"`
	Data      []byte             `json:"data"`
	StoredAt  time.Time          `json:"stored_at"`
}

// Stats is a point-in-time snapshot of cache behaviour.
type Stats struct {
	FastHits      uint64 `json:"fast_hits"`
	SlowHits      uint64 `json:"slow_hits"`
	Misses        uint64 `json:"misses"`
	Evictions     uint64 `json:"evictions"`
	FastEntries   int    `json:"fast_entries"`
	BytesResident int64  `json:"bytes_resident"`
}

// Hits returns the combined hit count across both tiers.
func (s Stats) Hits() uint64 {
	return s.FastHits + s.SlowHits
}

// SlowStore is the durable second tier. Implementations must expire
// entries after the TTL passed to Put, either lazily on Get or via
// SweepExpired.
type SlowStore interface {
	Put(ctx context.Context, entry *Entry, ttl time.Duration) error
	Get(ctx context.Context, id string) (*Entry, error)
	Remove(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	SweepExpired(ctx context.Context) (int, error)
	Close() error
}

// Config configures a TieredCache.
type Config struct {
	// FastMaxEntries bounds the fast tier entry count.
	FastMaxEntries int `yaml:"fast_max_entries" json:"fast_max_entries"`
	// FastMaxBytes bounds the fast tier resident payload bytes.
	FastMaxBytes int64 `yaml:"fast_max_bytes" json:"fast_max_bytes"`
	// SlowTTL is how long slow tier entries live.
	SlowTTL time.Duration `yaml:"slow_ttl" json:"slow_ttl"`
	// SweepInterval is how often the slow tier is swept for expired
	// entries. Zero disables the background sweeper.
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FastMaxEntries: 256,
		FastMaxBytes:   64 << 20,
		SlowTTL:        24 * time.Hour,
		SweepInterval:  10 * time.Minute,
	}
}
