// Package metrics provides functionality for collecting and reporting
// cache, queue and batch metrics.
package metrics

import (
	"sync/atomic"
	"time"
)

// Eviction reasons
const (
	ReasonExpired  = "expired"
	ReasonOverflow = "overflow"
)

// Recorder receives events from caches, queues and batch runners. The name
// argument identifies the component instance (for example "products").
type Recorder interface {
	// CacheHit records a cache hit
	CacheHit(name string)
	// CacheMiss records a cache miss
	CacheMiss(name string)
	// CacheEviction records a removed entry; reason is ReasonExpired or ReasonOverflow
	CacheEviction(name, reason string)
	// CacheSize updates the current number of cache entries
	CacheSize(name string, size int)
	// CachePersistFailure records a mirror write that failed after the retry
	CachePersistFailure(name string)

	// QueueInFlight updates the number of executing or pacing slots
	QueueInFlight(name string, n int)
	// QueuePending updates the number of waiting items
	QueuePending(name string, n int)
	// QueueDispatched records an item start
	QueueDispatched(name string)
	// QueueTimeout records an item that never started in time
	QueueTimeout(name string)
	// QueueFailure records an item whose execute returned an error
	QueueFailure(name string)

	// BatchItem records a finished batch item
	BatchItem(name string, ok bool)

	// Retry records a retried upstream call
	Retry(op, reason string)
}

// Nop discards all events
type Nop struct{}

func (Nop) CacheHit(string) {}
func (Nop) CacheMiss(string) {}
func (Nop) CacheEviction(string, string) {}
func (Nop) CacheSize(string, int) {}
func (Nop) CachePersistFailure(string) {}
func (Nop) QueueInFlight(string, int) {}
func (Nop) QueuePending(string, int) {}
func (Nop) QueueDispatched(string) {}
func (Nop) QueueTimeout(string) {}
func (Nop) QueueFailure(string) {}
func (Nop) BatchItem(string, bool) {}
func (Nop) Retry(string, string) {}

// Counters is an in-process Recorder backed by atomics. It aggregates
// across names and is what tests and the stats endpoint read.
type Counters struct {
	// Cache
	Hits            atomic.Int64
	Misses          atomic.Int64
	Expirations     atomic.Int64
	Evictions       atomic.Int64
	Size            atomic.Int64
	PersistFailures atomic.Int64

	// Queue
	InFlight     atomic.Int64
	PeakInFlight atomic.Int64
	Pending      atomic.Int64
	Dispatched   atomic.Int64
	Timeouts     atomic.Int64
	Failures     atomic.Int64

	// Batch
	BatchSuccess atomic.Int64
	BatchErrors  atomic.Int64

	Retries atomic.Int64

	LastOperationTime atomic.Value // time.Time
}

// Snapshot is a point-in-time copy of Counters
type Snapshot struct {
	Hits            int64
	Misses          int64
	Expirations     int64
	Evictions       int64
	Size            int64
	PersistFailures int64

	InFlight     int64
	PeakInFlight int64
	Pending      int64
	Dispatched   int64
	Timeouts     int64
	Failures     int64

	BatchSuccess int64
	BatchErrors  int64

	Retries int64

	LastOperationTime time.Time
}

// NewCounters creates a new Counters instance
func NewCounters() *Counters {
	c := &Counters{}
	c.LastOperationTime.Store(time.Time{})
	return c
}

func (c *Counters) touch() {
	c.LastOperationTime.Store(time.Now())
}

// CacheHit implements Recorder
func (c *Counters) CacheHit(string) {
	c.Hits.Add(1)
	c.touch()
}

// CacheMiss implements Recorder
func (c *Counters) CacheMiss(string) {
	c.Misses.Add(1)
	c.touch()
}

// CacheEviction implements Recorder
func (c *Counters) CacheEviction(_ string, reason string) {
	if reason == ReasonExpired {
		c.Expirations.Add(1)
		return
	}
	c.Evictions.Add(1)
}

// CacheSize implements Recorder
func (c *Counters) CacheSize(_ string, size int) {
	c.Size.Store(int64(size))
}

// CachePersistFailure implements Recorder
func (c *Counters) CachePersistFailure(string) {
	c.PersistFailures.Add(1)
}

// QueueInFlight implements Recorder
func (c *Counters) QueueInFlight(_ string, n int) {
	c.InFlight.Store(int64(n))
	for {
		peak := c.PeakInFlight.Load()
		if int64(n) <= peak || c.PeakInFlight.CompareAndSwap(peak, int64(n)) {
			return
		}
	}
}

// QueuePending implements Recorder
func (c *Counters) QueuePending(_ string, n int) {
	c.Pending.Store(int64(n))
}

// QueueDispatched implements Recorder
func (c *Counters) QueueDispatched(string) {
	c.Dispatched.Add(1)
	c.touch()
}

// QueueTimeout implements Recorder
func (c *Counters) QueueTimeout(string) {
	c.Timeouts.Add(1)
}

// QueueFailure implements Recorder
func (c *Counters) QueueFailure(string) {
	c.Failures.Add(1)
}

// BatchItem implements Recorder
func (c *Counters) BatchItem(_ string, ok bool) {
	if ok {
		c.BatchSuccess.Add(1)
	} else {
		c.BatchErrors.Add(1)
	}
	c.touch()
}

// Retry implements Recorder
func (c *Counters) Retry(string, string) {
	c.Retries.Add(1)
}

// GetSnapshot returns a thread-safe copy of current metrics
func (c *Counters) GetSnapshot() Snapshot {
	last, _ := c.LastOperationTime.Load().(time.Time)
	return Snapshot{
		Hits:              c.Hits.Load(),
		Misses:            c.Misses.Load(),
		Expirations:       c.Expirations.Load(),
		Evictions:         c.Evictions.Load(),
		Size:              c.Size.Load(),
		PersistFailures:   c.PersistFailures.Load(),
		InFlight:          c.InFlight.Load(),
		PeakInFlight:      c.PeakInFlight.Load(),
		Pending:           c.Pending.Load(),
		Dispatched:        c.Dispatched.Load(),
		Timeouts:          c.Timeouts.Load(),
		Failures:          c.Failures.Load(),
		BatchSuccess:      c.BatchSuccess.Load(),
		BatchErrors:       c.BatchErrors.Load(),
		Retries:           c.Retries.Load(),
		LastOperationTime: last,
	}
}

// HitRatio returns the cache hit ratio
func (s Snapshot) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Reset resets all counters to zero
func (c *Counters) Reset() {
	for _, v := range []*atomic.Int64{
		&c.Hits, &c.Misses, &c.Expirations, &c.Evictions, &c.Size, &c.PersistFailures,
		&c.InFlight, &c.PeakInFlight, &c.Pending, &c.Dispatched, &c.Timeouts, &c.Failures,
		&c.BatchSuccess, &c.BatchErrors, &c.Retries,
	} {
		v.Store(0)
	}
	c.LastOperationTime.Store(time.Time{})
}

// Multi fans events out to several recorders
type Multi []Recorder

func (m Multi) CacheHit(name string) {
	for _, r := range m {
		r.CacheHit(name)
	}
}

func (m Multi) CacheMiss(name string) {
	for _, r := range m {
		r.CacheMiss(name)
	}
}

func (m Multi) CacheEviction(name, reason string) {
	for _, r := range m {
		r.CacheEviction(name, reason)
	}
}

func (m Multi) CacheSize(name string, size int) {
	for _, r := range m {
		r.CacheSize(name, size)
	}
}

func (m Multi) CachePersistFailure(name string) {
	for _, r := range m {
		r.CachePersistFailure(name)
	}
}

func (m Multi) QueueInFlight(name string, n int) {
	for _, r := range m {
		r.QueueInFlight(name, n)
	}
}

func (m Multi) QueuePending(name string, n int) {
	for _, r := range m {
		r.QueuePending(name, n)
	}
}

func (m Multi) QueueDispatched(name string) {
	for _, r := range m {
		r.QueueDispatched(name)
	}
}

func (m Multi) QueueTimeout(name string) {
	for _, r := range m {
		r.QueueTimeout(name)
	}
}

func (m Multi) QueueFailure(name string) {
	for _, r := range m {
		r.QueueFailure(name)
	}
}

func (m Multi) BatchItem(name string, ok bool) {
	for _, r := range m {
		r.BatchItem(name, ok)
	}
}

func (m Multi) Retry(op, reason string) {
	for _, r := range m {
		r.Retry(op, reason)
	}
}
