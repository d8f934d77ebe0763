// Package internal provides utilities shared across the giftrelay packages.
package internal

import (
	"context"
	"sync"
	"time"
)

// Clock returns the current time. Components accept one so tests can
// control expiry without sleeping.
type Clock func() time.Time

// SystemClock is the wall clock
func SystemClock() time.Time {
	return time.Now()
}

// Sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// SafeCounter is a thread-safe counter that remembers its high-water mark
type SafeCounter struct {
	mu    sync.RWMutex
	count int64
	peak  int64
}

// NewSafeCounter creates a new thread-safe counter
func NewSafeCounter() *SafeCounter {
	return &SafeCounter{}
}

// Increment increases the counter by 1 and returns the new value
func (c *SafeCounter) Increment() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	if c.count > c.peak {
		c.peak = c.count
	}
	return c.count
}

// Decrement decreases the counter by 1
func (c *SafeCounter) Decrement() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count > 0 {
		c.count--
	}
}

// Get returns the current count
func (c *SafeCounter) Get() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.count
}

// Peak returns the highest value the counter has reached
func (c *SafeCounter) Peak() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peak
}

// Reset sets the counter and its peak to 0
func (c *SafeCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count = 0
	c.peak = 0
}

// ObjectPool provides a pool of reusable objects
type ObjectPool[T any] struct {
	pool  sync.Pool
	reset func(T)
}

// NewObjectPool creates a new object pool. reset, if non-nil, runs before an
// object goes back into the pool.
func NewObjectPool[T any](newFunc func() T, reset func(T)) *ObjectPool[T] {
	return &ObjectPool[T]{
		pool: sync.Pool{
			New: func() any {
				return newFunc()
			},
		},
		reset: reset,
	}
}

// Get retrieves an object from the pool
func (p *ObjectPool[T]) Get() T {
	return p.pool.Get().(T)
}

// Put returns an object to the pool
func (p *ObjectPool[T]) Put(x T) {
	if p.reset != nil {
		p.reset(x)
	}
	p.pool.Put(x)
}
