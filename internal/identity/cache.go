package identity

import (
	"hash/fnv"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const shardCount = 32

// Stats exposes cache counters for operational visibility.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Size      int64   `json:"size"`
	HitRate   float64 `json:"hit_rate"`
}

type cacheEntry struct {
	value     any
	userID    int64
	expiresAt time.Time
}

type cacheShard struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// Cache is a process-wide, time-bounded cache of resolved identities and
// permission decisions. Entries are tagged with the owning user id so
// user-scoped invalidation can walk them. Sharded so that no single lock
// serializes all requests.
//
// Every invalidation advances an epoch counter. A fill that started
// before an invalidation carries an older epoch and is dropped by
// PutIfFresh, so a lookup racing an invalidation can never re-install
// the pre-invalidation state.
type Cache struct {
	clock  func() time.Time
	shards [shardCount]*cacheShard

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	epoch      atomic.Uint64
	flushEpoch atomic.Uint64

	userMu     sync.Mutex
	userEpochs map[int64]userEpoch
}

type userEpoch struct {
	epoch uint64
	at    time.Time
}

// NewCache constructs a Cache. The clock is injected so expiry can be
// tested without sleeping; pass time.Now in production.
func NewCache(clock func() time.Time) *Cache {
	if clock == nil {
		clock = time.Now
	}
	c := &Cache{clock: clock, userEpochs: make(map[int64]userEpoch)}
	for i := range c.shards {
		c.shards[i] = &cacheShard{entries: make(map[string]cacheEntry)}
	}
	return c
}

// IdentityKey builds the cache key for a session token resolution.
func IdentityKey(token string) string {
	return "sess:" + token
}

// DecisionKey builds the cache key for a fine-grained permission check.
func DecisionKey(userID int64, permission string) string {
	return "perm:" + strconv.FormatInt(userID, 10) + ":" + permission
}

func (c *Cache) shardFor(key string) *cacheShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%shardCount]
}

// Get returns the cached value for key, treating expired entries as misses
// and evicting them lazily.
func (c *Cache) Get(key string) (any, bool) {
	shard := c.shardFor(key)
	shard.mu.RLock()
	entry, ok := shard.entries[key]
	shard.mu.RUnlock()
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if !c.clock().Before(entry.expiresAt) {
		shard.mu.Lock()
		if current, still := shard.entries[key]; still && current.expiresAt.Equal(entry.expiresAt) {
			delete(shard.entries, key)
			c.evictions.Add(1)
		}
		shard.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return entry.value, true
}

// Put stores value under key for ttl, tagged with the owning user id.
func (c *Cache) Put(key string, value any, userID int64, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	shard := c.shardFor(key)
	shard.mu.Lock()
	shard.entries[key] = cacheEntry{value: value, userID: userID, expiresAt: c.clock().Add(ttl)}
	shard.mu.Unlock()
}

// Snapshot returns the current invalidation epoch. Callers take it before
// a store lookup and hand it to PutIfFresh when the lookup completes.
func (c *Cache) Snapshot() uint64 {
	return c.epoch.Load()
}

// PutIfFresh stores value only if no invalidation covering key has
// happened since snapshot was taken. The re-check after the insert closes
// the window where an invalidation walks the shards between our check and
// our write.
func (c *Cache) PutIfFresh(key string, value any, userID int64, ttl time.Duration, snapshot uint64) {
	if c.invalidatedSince(userID, snapshot) {
		return
	}
	c.Put(key, value, userID, ttl)
	if c.invalidatedSince(userID, snapshot) {
		c.Invalidate(key)
	}
}

func (c *Cache) invalidatedSince(userID int64, snapshot uint64) bool {
	if c.flushEpoch.Load() > snapshot {
		return true
	}
	c.userMu.Lock()
	ue, ok := c.userEpochs[userID]
	c.userMu.Unlock()
	return ok && ue.epoch > snapshot
}

// Invalidate discards a single entry.
func (c *Cache) Invalidate(key string) {
	shard := c.shardFor(key)
	shard.mu.Lock()
	if _, ok := shard.entries[key]; ok {
		delete(shard.entries, key)
		c.evictions.Add(1)
	}
	shard.mu.Unlock()
}

// InvalidateUser discards every entry tagged with the user id, both
// identity snapshots and permission decisions. The epoch is recorded
// before the shard walk so a racing fill observes it no matter how the
// two interleave.
func (c *Cache) InvalidateUser(userID int64) {
	epoch := c.epoch.Add(1)
	now := c.clock()

	c.userMu.Lock()
	if len(c.userEpochs) > 4096 {
		for id, ue := range c.userEpochs {
			if now.Sub(ue.at) >= time.Minute {
				delete(c.userEpochs, id)
			}
		}
	}
	c.userEpochs[userID] = userEpoch{epoch: epoch, at: now}
	c.userMu.Unlock()

	for _, shard := range c.shards {
		shard.mu.Lock()
		for key, entry := range shard.entries {
			if entry.userID == userID {
				delete(shard.entries, key)
				c.evictions.Add(1)
			}
		}
		shard.mu.Unlock()
	}
}

// InvalidateAll discards everything. This is the coarse fallback used when
// role-to-user fan-out is not cheaply known, and the only invalidation
// guaranteed correct in all cases.
func (c *Cache) InvalidateAll() {
	c.flushEpoch.Store(c.epoch.Add(1))
	for _, shard := range c.shards {
		shard.mu.Lock()
		c.evictions.Add(int64(len(shard.entries)))
		shard.entries = make(map[string]cacheEntry)
		shard.mu.Unlock()
	}
}

// Stats returns a point-in-time snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	var size int64
	for _, shard := range c.shards {
		shard.mu.RLock()
		size += int64(len(shard.entries))
		shard.mu.RUnlock()
	}
	hits := c.hits.Load()
	misses := c.misses.Load()
	stats := Stats{
		Hits:      hits,
		Misses:    misses,
		Evictions: c.evictions.Load(),
		Size:      size,
	}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}
