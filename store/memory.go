package store

import (
	"context"
	"sync"

	"github.com/gozephyr/giftrelay/errors"
)

// Memory is an in-process mirror. It behaves like browser local storage:
// a bounded key space whose writes fail once the quota is hit.
type Memory[V any] struct {
	mu       sync.RWMutex
	opts     *Options
	entries  map[string]Entry[V]
	writeErr error
	writes   int
	closed   bool
}

// NewMemory creates a new in-memory mirror
func NewMemory[V any](opts ...Option) (*Memory[V], error) {
	options := NewOptions()
	options.MaxBytes = 0
	if err := options.Apply(opts...); err != nil {
		return nil, errors.Wrap("NewMemory", nil, err)
	}
	return &Memory[V]{
		opts:    options,
		entries: make(map[string]Entry[V]),
	}, nil
}

// ReadAll implements Mirror
func (m *Memory[V]) ReadAll(ctx context.Context) (map[string]Entry[V], error) {
	if ctx.Err() != nil {
		return nil, errors.Wrap("ReadAll", nil, errors.ErrContextCanceled)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Entry[V], len(m.entries))
	for k, v := range m.entries {
		out[k] = v
	}
	return out, nil
}

// WriteAll implements Mirror
func (m *Memory[V]) WriteAll(ctx context.Context, entries map[string]Entry[V]) error {
	if ctx.Err() != nil {
		return errors.Wrap("WriteAll", nil, errors.ErrContextCanceled)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writes++
	if m.writeErr != nil {
		return m.writeErr
	}
	if err := m.opts.checkQuota(len(entries)); err != nil {
		return errors.Wrap("WriteAll", len(entries), err)
	}

	next := make(map[string]Entry[V], len(entries))
	for k, v := range entries {
		next[k] = v
	}
	m.entries = next
	return nil
}

// SetWriteError makes every following write fail with err (nil clears it)
func (m *Memory[V]) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// Writes returns the number of WriteAll calls, successful or not
func (m *Memory[V]) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Len returns the number of entries in the last successful snapshot
func (m *Memory[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close implements Mirror
func (m *Memory[V]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
