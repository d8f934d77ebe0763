// Package policy provides victim selection for cache eviction.
//
// Policies track keys only; the cache owns values and serializes every call,
// so implementations are not safe for concurrent use on their own.
package policy

// Policy defines the interface for cache eviction policies
type Policy[K comparable] interface {
	// OnGet is called when a live entry is read
	OnGet(key K)

	// OnSet is called when an entry is written or overwritten
	OnSet(key K)

	// OnDelete is called when an entry is removed for any reason
	OnDelete(key K)

	// OnClear is called when the cache is cleared
	OnClear()

	// Evict removes and returns the next victim
	Evict() (K, bool)

	// Peek returns the next victim without removing it
	Peek() (K, bool)

	// Size returns the number of tracked keys
	Size() int
}

// Kind names a policy implementation
type Kind string

const (
	// KindFIFO evicts by write order (oldest timestamp first)
	KindFIFO Kind = "fifo"
	// KindLRU evicts by access order
	KindLRU Kind = "lru"
)

// New returns the policy for kind, defaulting to FIFO
func New[K comparable](kind Kind) Policy[K] {
	if kind == KindLRU {
		return NewLRU[K]()
	}
	return NewFIFO[K]()
}
