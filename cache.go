// Package giftrelay provides the upstream-call plumbing of a gift
// recommendation service: a TTL cache with an optional durable mirror, a
// bounded-concurrency priority queue, and a paced batch runner.
package giftrelay

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gozephyr/giftrelay/errors"
	"github.com/gozephyr/giftrelay/metrics"
	"github.com/gozephyr/giftrelay/policy"
	"github.com/gozephyr/giftrelay/store"
	"github.com/gozephyr/giftrelay/ttl"
)

// Stats tracks cache statistics
type Stats struct {
	Hits            atomic.Int64
	Misses          atomic.Int64
	Sets            atomic.Int64
	Deletes         atomic.Int64
	Evictions       atomic.Int64
	Expirations     atomic.Int64
	PersistFailures atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats
type StatsSnapshot struct {
	Size            int
	Hits            int64
	Misses          int64
	Sets            int64
	Deletes         int64
	Evictions       int64
	Expirations     int64
	PersistFailures int64
}

// Cache is a string-keyed TTL cache. Entries expire lazily on read and are
// purged approximately oldest-first once the entry count exceeds the
// configured maximum. When a mirror is configured, the full entry set is
// written to it after every change.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]store.Entry[V]
	order   policy.Policy[string]
	closed  bool
	version uint64

	// persistMu serializes mirror writes; persisted is the last written version
	persistMu sync.Mutex
	persisted uint64

	name          string
	ttl           time.Duration
	maxEntries    int
	evictFraction float64
	mirror        store.Mirror[V]
	timeout       time.Duration
	now           func() time.Time
	logger        *slog.Logger
	recorder      metrics.Recorder
	stats         Stats

	sweepInterval time.Duration
	sweepStop     chan struct{}
	sweepDone     chan struct{}
	closeOnce     sync.Once
}

// NewCache creates a new cache with the given options. When a mirror is
// configured its snapshot is loaded before NewCache returns; a failed load
// is logged and the cache starts empty.
func NewCache[V any](opts ...Option[V]) (*Cache[V], error) {
	options := DefaultOptions[V]()
	for _, opt := range opts {
		opt(options)
	}
	if err := options.Validate(); err != nil {
		return nil, err
	}

	c := &Cache[V]{
		entries:       make(map[string]store.Entry[V]),
		order:         policy.New[string](options.Policy),
		name:          options.Name,
		ttl:           options.TTLConfig.TTL,
		maxEntries:    options.MaxEntries,
		evictFraction: options.EvictFraction,
		mirror:        options.Mirror,
		timeout:       options.PersistTimeout,
		now:           options.Clock,
		logger:        options.Logger,
		recorder:      options.Recorder,
		sweepInterval: options.SweepInterval,
	}

	if c.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		if err := c.Load(ctx); err != nil {
			c.logger.Warn("cache load failed", "cache", c.name, "error", err)
		}
		cancel()
	}

	if c.sweepInterval > 0 {
		c.sweepStop = make(chan struct{})
		c.sweepDone = make(chan struct{})
		go c.sweepLoop()
	}

	return c, nil
}

// Name returns the cache name
func (c *Cache[V]) Name() string {
	return c.name
}

// TTL returns the entry lifetime
func (c *Cache[V]) TTL() time.Duration {
	return c.ttl
}

// Get returns the value stored under key. An entry whose age has reached
// the TTL is removed and reported as absent; the mirror catches up on the
// next write or sweep.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return zero, false
	}
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		c.miss()
		return zero, false
	}
	if ttl.Expired(e.Timestamp, c.now(), c.ttl) {
		c.removeLocked(key)
		c.stats.Expirations.Add(1)
		c.recorder.CacheEviction(c.name, metrics.ReasonExpired)
		c.recorder.CacheSize(c.name, len(c.entries))
		c.mu.Unlock()
		c.miss()
		return zero, false
	}
	c.order.OnGet(key)
	c.mu.Unlock()

	c.stats.Hits.Add(1)
	c.recorder.CacheHit(c.name)
	return e.Value, true
}

func (c *Cache[V]) miss() {
	c.stats.Misses.Add(1)
	c.recorder.CacheMiss(c.name)
}

// Set stores value under key, stamping it with the current time
func (c *Cache[V]) Set(key string, value V) {
	_ = c.SetE(key, value)
}

// SetE is Set that reports ErrCacheClosed. Persistence failures are never
// returned; the in-memory entry is authoritative.
func (c *Cache[V]) SetE(key string, value V) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.Wrap("Set", key, errors.ErrCacheClosed)
	}
	now := c.now()
	c.entries[key] = store.Entry[V]{Value: value, Timestamp: now}
	c.order.OnSet(key)
	c.stats.Sets.Add(1)

	if c.maxEntries > 0 && len(c.entries) > c.maxEntries {
		c.purgeExpiredLocked(now)
		if len(c.entries) > c.maxEntries {
			c.evictLocked(len(c.entries) - c.overflowTarget())
		}
	}
	snap, version := c.snapshotLocked()
	c.mu.Unlock()

	c.persist(snap, version)
	return nil
}

// overflowTarget is the entry count an overflow purge shrinks the cache to
func (c *Cache[V]) overflowTarget() int {
	return c.maxEntries - int(math.Floor(float64(c.maxEntries)*c.evictFraction))
}

// Delete removes key. It reports whether the key was present.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if _, ok := c.entries[key]; !ok {
		c.mu.Unlock()
		return false
	}
	c.removeLocked(key)
	c.stats.Deletes.Add(1)
	snap, version := c.snapshotLocked()
	c.mu.Unlock()

	c.persist(snap, version)
	return true
}

// Clear removes every entry
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.entries = make(map[string]store.Entry[V])
	c.order.OnClear()
	snap, version := c.snapshotLocked()
	c.mu.Unlock()

	c.persist(snap, version)
}

// Len returns the number of stored entries, including expired entries that
// have not been read or swept yet
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Keys returns the live keys in sorted order
func (c *Cache[V]) Keys() []string {
	c.mu.Lock()
	now := c.now()
	keys := make([]string, 0, len(c.entries))
	for k, e := range c.entries {
		if !ttl.Expired(e.Timestamp, now, c.ttl) {
			keys = append(keys, k)
		}
	}
	c.mu.Unlock()

	sort.Strings(keys)
	return keys
}

// Sweep removes expired entries and returns how many were removed
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0
	}
	n := c.purgeExpiredLocked(c.now())
	if n == 0 {
		c.mu.Unlock()
		return 0
	}
	snap, version := c.snapshotLocked()
	c.mu.Unlock()

	c.persist(snap, version)
	return n
}

// Stats returns the current cache statistics
func (c *Cache[V]) Stats() StatsSnapshot {
	return StatsSnapshot{
		Size:            c.Len(),
		Hits:            c.stats.Hits.Load(),
		Misses:          c.stats.Misses.Load(),
		Sets:            c.stats.Sets.Load(),
		Deletes:         c.stats.Deletes.Load(),
		Evictions:       c.stats.Evictions.Load(),
		Expirations:     c.stats.Expirations.Load(),
		PersistFailures: c.stats.PersistFailures.Load(),
	}
}

// Load replaces the in-memory entries with the mirror snapshot, dropping
// entries that have already expired. Oldest entries are ordered first.
func (c *Cache[V]) Load(ctx context.Context) error {
	if c.mirror == nil {
		return nil
	}
	entries, err := c.mirror.ReadAll(ctx)
	if err != nil {
		return errors.Wrap("Load", c.name, err)
	}

	type kv struct {
		key string
		ts  time.Time
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.Wrap("Load", c.name, errors.ErrCacheClosed)
	}

	now := c.now()
	live := make([]kv, 0, len(entries))
	c.entries = make(map[string]store.Entry[V], len(entries))
	c.order.OnClear()
	for k, e := range entries {
		if ttl.Expired(e.Timestamp, now, c.ttl) {
			continue
		}
		c.entries[k] = e
		live = append(live, kv{k, e.Timestamp})
	}
	sort.Slice(live, func(i, j int) bool {
		if live[i].ts.Equal(live[j].ts) {
			return live[i].key < live[j].key
		}
		return live[i].ts.Before(live[j].ts)
	})
	for _, e := range live {
		c.order.OnSet(e.key)
	}
	if c.maxEntries > 0 && len(c.entries) > c.maxEntries {
		c.evictLocked(len(c.entries) - c.overflowTarget())
	}
	c.recorder.CacheSize(c.name, len(c.entries))
	return nil
}

// Close stops the sweep task, drops the in-memory entries and closes the
// mirror. The mirror keeps its last snapshot.
func (c *Cache[V]) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.sweepStop != nil {
			close(c.sweepStop)
			<-c.sweepDone
		}

		c.mu.Lock()
		c.closed = true
		c.entries = make(map[string]store.Entry[V])
		c.order.OnClear()
		c.mu.Unlock()

		if c.mirror != nil {
			// Wait for an in-progress write before closing the backend
			c.persistMu.Lock()
			err = c.mirror.Close()
			c.persistMu.Unlock()
		}
	})
	return err
}

func (c *Cache[V]) sweepLoop() {
	defer close(c.sweepDone)

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("cache sweep", "cache", c.name, "removed", n)
			}
		case <-c.sweepStop:
			return
		}
	}
}

// removeLocked deletes key from the map and the policy
func (c *Cache[V]) removeLocked(key string) {
	delete(c.entries, key)
	c.order.OnDelete(key)
}

// purgeExpiredLocked removes every expired entry
func (c *Cache[V]) purgeExpiredLocked(now time.Time) int {
	n := 0
	for k, e := range c.entries {
		if ttl.Expired(e.Timestamp, now, c.ttl) {
			c.removeLocked(k)
			n++
		}
	}
	if n > 0 {
		c.stats.Expirations.Add(int64(n))
		for i := 0; i < n; i++ {
			c.recorder.CacheEviction(c.name, metrics.ReasonExpired)
		}
	}
	return n
}

// evictLocked removes up to n entries in policy order
func (c *Cache[V]) evictLocked(n int) int {
	evicted := 0
	for evicted < n {
		key, ok := c.order.Evict()
		if !ok {
			break
		}
		if _, exists := c.entries[key]; !exists {
			continue
		}
		delete(c.entries, key)
		evicted++
		c.recorder.CacheEviction(c.name, metrics.ReasonOverflow)
	}
	c.stats.Evictions.Add(int64(evicted))
	return evicted
}

// snapshotLocked copies the entry set for the mirror and bumps the version
func (c *Cache[V]) snapshotLocked() (map[string]store.Entry[V], uint64) {
	c.version++
	c.recorder.CacheSize(c.name, len(c.entries))
	if c.mirror == nil {
		return nil, c.version
	}
	snap := make(map[string]store.Entry[V], len(c.entries))
	for k, e := range c.entries {
		snap[k] = e
	}
	return snap, c.version
}

// persist writes snap to the mirror unless a newer snapshot was already
// written. A failed write is retried once, after an eviction sweep when the
// mirror reported ErrQuotaExceeded; a second failure is counted and logged,
// never returned.
func (c *Cache[V]) persist(snap map[string]store.Entry[V], version uint64) {
	if c.mirror == nil {
		return
	}

	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	if version <= c.persisted {
		return
	}

	err := c.write(snap)
	if err == nil {
		c.persisted = version
		return
	}
	if errors.IsQuotaExceeded(err) {
		c.logger.Debug("cache persist over quota, evicting", "cache", c.name, "error", err)
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.purgeExpiredLocked(c.now())
		c.evictLocked(c.sweepCount())
		snap, version = c.snapshotLocked()
		c.mu.Unlock()
	} else {
		c.logger.Debug("cache persist failed, retrying", "cache", c.name, "error", err)
	}

	if err = c.write(snap); err == nil {
		c.persisted = version
		return
	}
	c.stats.PersistFailures.Add(1)
	c.recorder.CachePersistFailure(c.name)
	c.logger.Warn("cache persist failed", "cache", c.name, "entries", len(snap),
		"error", errors.Wrap("persist", c.name, err))
}

// sweepCount is the number of oldest entries dropped after a failed write
func (c *Cache[V]) sweepCount() int {
	n := int(math.Ceil(float64(len(c.entries)) * c.evictFraction))
	if n < 1 {
		n = 1
	}
	return n
}

func (c *Cache[V]) write(snap map[string]store.Entry[V]) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.mirror.WriteAll(ctx, snap)
}
