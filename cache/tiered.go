package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mediaforge/mediaforge/artifact"
	"github.com/mediaforge/mediaforge/types"
)

// TieredCache fronts a durable SlowStore with an in-process LRU tier.
// Slow tier hits are promoted into the fast tier when they fit its
// byte budget.
type TieredCache struct {
	fast   *fastTier
	slow   SlowStore
	config Config
	logger *zap.Logger

	fastHits  atomic.Uint64
	slowHits  atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64

	// locks serializes operations per id so a Put racing a promotion
	// for the same artifact cannot interleave tier writes. Entries are
	// dropped once the last holder releases, keeping the map bounded
	// by in-flight ids.
	locksMu sync.Mutex
	locks   map[string]*idLock

	stopCh chan struct{}
	stopMu sync.Mutex
	closed bool
}

// NewTieredCache creates a tiered cache over the given slow store.
func NewTieredCache(slow SlowStore, config Config, logger *zap.Logger) *TieredCache {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &TieredCache{
		fast:   newFastTier(config.FastMaxEntries, config.FastMaxBytes),
		slow:   slow,
		config: config,
		logger: logger.With(zap.String("component", "cache")),
		locks:  make(map[string]*idLock),
		stopCh: make(chan struct{}),
	}

	if config.SweepInterval > 0 {
		go c.sweepLoop(config.SweepInterval)
	}
	return c
}

// Put stores the payload in both tiers. The slow tier write is
// mandatory; a failure there surfaces as a cache-write error rather
// than being swallowed into a later miss.
func (c *TieredCache) Put(ctx context.Context, id string, kind artifact.MediaKind, data []byte) error {
	unlock := c.lockID(id)
	defer unlock()

	entry := &Entry{
		ID:        id,
		MediaKind: kind,
		Data:      data,
		StoredAt:  time.Now(),
	}

	if err := c.slow.Put(ctx, entry, c.config.SlowTTL); err != nil {
		return types.NewError(types.ErrCacheWrite, "failed to persist cache entry").WithCause(err)
	}

	if c.fast.admits(int64(len(data))) {
		c.evictions.Add(uint64(c.fast.set(id, entry, c.fastExpiry(entry))))
	}
	return nil
}

// Get returns the cached payload for id, or ErrCacheMiss.
func (c *TieredCache) Get(ctx context.Context, id string) ([]byte, error) {
	if entry, ok := c.fast.get(id); ok {
		c.fastHits.Add(1)
		return entry.Data, nil
	}

	unlock := c.lockID(id)
	defer unlock()

	// Re-check under the id lock: a concurrent promotion may have
	// landed while we waited.
	if entry, ok := c.fast.get(id); ok {
		c.fastHits.Add(1)
		return entry.Data, nil
	}

	entry, err := c.slow.Get(ctx, id)
	if err == ErrCacheMiss {
		c.misses.Add(1)
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, types.NewError(types.ErrCacheRead, "failed to read cache entry").WithCause(err)
	}

	c.slowHits.Add(1)
	if c.fast.admits(int64(len(entry.Data))) {
		c.evictions.Add(uint64(c.fast.set(id, entry, c.fastExpiry(entry))))
	}
	return entry.Data, nil
}

// fastExpiry derives the fast tier deadline from the entry's slow tier
// TTL, so both tiers expire the entry at the same moment.
func (c *TieredCache) fastExpiry(entry *Entry) time.Time {
	if c.config.SlowTTL <= 0 {
		return time.Time{}
	}
	return entry.StoredAt.Add(c.config.SlowTTL)
}

// Remove drops the id from both tiers.
func (c *TieredCache) Remove(ctx context.Context, id string) error {
	unlock := c.lockID(id)
	defer unlock()

	c.fast.remove(id)
	return c.slow.Remove(ctx, id)
}

// Clear empties both tiers.
func (c *TieredCache) Clear(ctx context.Context) error {
	c.fast.clear()
	return c.slow.Clear(ctx)
}

// Stats returns a snapshot of cache counters.
func (c *TieredCache) Stats() Stats {
	entries, bytes := c.fast.snapshot()
	return Stats{
		FastHits:      c.fastHits.Load(),
		SlowHits:      c.slowHits.Load(),
		Misses:        c.misses.Load(),
		Evictions:     c.evictions.Load(),
		FastEntries:   entries,
		BytesResident: bytes,
	}
}

// Close stops the sweeper and closes the slow store.
func (c *TieredCache) Close() error {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.stopCh)
	return c.slow.Close()
}

func (c *TieredCache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if purged := c.fast.purgeExpired(time.Now()); purged > 0 {
				c.logger.Debug("Purged expired fast tier entries", zap.Int("purged", purged))
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			removed, err := c.slow.SweepExpired(ctx)
			cancel()
			if err != nil {
				c.logger.Warn("Cache sweep failed", zap.Error(err))
			} else if removed > 0 {
				c.logger.Debug("Swept expired cache entries", zap.Int("removed", removed))
			}
		}
	}
}

type idLock struct {
	mu   sync.Mutex
	refs int
}

func (c *TieredCache) lockID(id string) func() {
	c.locksMu.Lock()
	lock, ok := c.locks[id]
	if !ok {
		lock = &idLock{}
		c.locks[id] = lock
	}
	lock.refs++
	c.locksMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		c.locksMu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(c.locks, id)
		}
		c.locksMu.Unlock()
	}
}
