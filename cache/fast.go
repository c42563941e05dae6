package cache

import (
	"sync"
	"time"
)

// fastTier is an LRU map bounded by both entry count and total payload
// bytes. Eviction removes least-recently-used entries until both
// bounds hold again. Nodes carry the expiry of their slow-tier
// counterpart so a resident entry never outlives its TTL.
type fastTier struct {
	mu         sync.Mutex
	maxEntries int
	maxBytes   int64
	bytes      int64
	items      map[string]*lruNode
	head       *lruNode
	tail       *lruNode
}

type lruNode struct {
	key       string
	entry     *Entry
	expiresAt time.Time
	prev      *lruNode
	next      *lruNode
}

func (n *lruNode) expired(now time.Time) bool {
	return !n.expiresAt.IsZero() && now.After(n.expiresAt)
}

func newFastTier(maxEntries int, maxBytes int64) *fastTier {
	return &fastTier{
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		items:      make(map[string]*lruNode),
	}
}

// admits reports whether a payload of the given size can ever fit the
// byte budget. Oversized payloads bypass the fast tier entirely so a
// single large artifact cannot flush everything else out.
func (t *fastTier) admits(size int64) bool {
	return size <= t.maxBytes && t.maxEntries > 0
}

func (t *fastTier) get(key string) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.items[key]
	if !ok {
		return nil, false
	}
	if node.expired(time.Now()) {
		t.removeNode(node)
		delete(t.items, key)
		t.bytes -= int64(len(node.entry.Data))
		return nil, false
	}
	t.moveToHead(node)
	return node.entry, true
}

// set inserts or refreshes an entry and returns how many entries were
// evicted to make room. A zero expiresAt means the entry never expires.
func (t *fastTier) set(key string, entry *Entry, expiresAt time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if node, ok := t.items[key]; ok {
		t.bytes += int64(len(entry.Data)) - int64(len(node.entry.Data))
		node.entry = entry
		node.expiresAt = expiresAt
		t.moveToHead(node)
		return t.evictUntilBounded(node)
	}

	node := &lruNode{key: key, entry: entry, expiresAt: expiresAt}
	t.items[key] = node
	t.addToHead(node)
	t.bytes += int64(len(entry.Data))
	return t.evictUntilBounded(node)
}

func (t *fastTier) remove(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.items[key]
	if !ok {
		return
	}
	t.removeNode(node)
	delete(t.items, key)
	t.bytes -= int64(len(node.entry.Data))
}

func (t *fastTier) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.items = make(map[string]*lruNode)
	t.head = nil
	t.tail = nil
	t.bytes = 0
}

// purgeExpired removes every node whose TTL has passed and returns how
// many were removed.
func (t *fastTier) purgeExpired(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key, node := range t.items {
		if node.expired(now) {
			t.removeNode(node)
			delete(t.items, key)
			t.bytes -= int64(len(node.entry.Data))
			removed++
		}
	}
	return removed
}

func (t *fastTier) snapshot() (entries int, bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items), t.bytes
}

// evictUntilBounded drops LRU entries until the count and byte bounds
// both hold. The freshly-touched node is never evicted.
func (t *fastTier) evictUntilBounded(keep *lruNode) int {
	evicted := 0
	for (len(t.items) > t.maxEntries || t.bytes > t.maxBytes) && t.tail != nil && t.tail != keep {
		victim := t.tail
		t.removeNode(victim)
		delete(t.items, victim.key)
		t.bytes -= int64(len(victim.entry.Data))
		evicted++
	}
	return evicted
}

func (t *fastTier) addToHead(node *lruNode) {
	node.prev = nil
	node.next = t.head
	if t.head != nil {
		t.head.prev = node
	}
	t.head = node
	if t.tail == nil {
		t.tail = node
	}
}

func (t *fastTier) removeNode(node *lruNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		t.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		t.tail = node.prev
	}
}

func (t *fastTier) moveToHead(node *lruNode) {
	if node == t.head {
		return
	}
	t.removeNode(node)
	t.addToHead(node)
}
