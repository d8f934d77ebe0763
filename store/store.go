// Package store provides durable mirrors for the TTL cache.
//
// A mirror holds a full snapshot of a cache's entries so state survives a
// process restart. The in-memory cache stays authoritative: a mirror is read
// once when the cache starts and rewritten after every mutation.
package store

import (
	"context"
	"time"
)

// Entry represents a cached value with its creation time
type Entry[V any] struct {
	Value     V         `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Mirror defines the interface for durable cache snapshots
type Mirror[V any] interface {
	// ReadAll returns every entry held by the mirror
	ReadAll(ctx context.Context) (map[string]Entry[V], error)

	// WriteAll replaces the mirror contents with entries
	WriteAll(ctx context.Context, entries map[string]Entry[V]) error

	// Close releases any resources owned by the mirror
	Close() error
}

// Nop is a mirror that stores nothing. It is the default for server use.
type Nop[V any] struct{}

// NewNop creates a no-op mirror
func NewNop[V any]() Mirror[V] {
	return Nop[V]{}
}

// ReadAll implements Mirror
func (Nop[V]) ReadAll(context.Context) (map[string]Entry[V], error) {
	return map[string]Entry[V]{}, nil
}

// WriteAll implements Mirror
func (Nop[V]) WriteAll(context.Context, map[string]Entry[V]) error {
	return nil
}

// Close implements Mirror
func (Nop[V]) Close() error {
	return nil
}
