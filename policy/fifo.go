package policy

import "container/list"

// FIFO orders keys by their last write. Overwriting a key moves it to the
// back, so the front is always the entry with the oldest timestamp.
type FIFO[K comparable] struct {
	items map[K]*list.Element
	list  *list.List
}

// NewFIFO creates a new FIFO policy
func NewFIFO[K comparable]() *FIFO[K] {
	return &FIFO[K]{
		items: make(map[K]*list.Element),
		list:  list.New(),
	}
}

// OnGet is a no-op: reads do not change write order
func (p *FIFO[K]) OnGet(key K) {}

// OnSet is called when an item is added to the cache
func (p *FIFO[K]) OnSet(key K) {
	if element, exists := p.items[key]; exists {
		p.list.MoveToBack(element)
		return
	}
	p.items[key] = p.list.PushBack(key)
}

// OnDelete is called when an item is removed from the cache
func (p *FIFO[K]) OnDelete(key K) {
	if element, exists := p.items[key]; exists {
		p.list.Remove(element)
		delete(p.items, key)
	}
}

// OnClear is called when the cache is cleared
func (p *FIFO[K]) OnClear() {
	p.list.Init()
	p.items = make(map[K]*list.Element)
}

// Evict returns the next key to be evicted from the cache
func (p *FIFO[K]) Evict() (K, bool) {
	element := p.list.Front()
	if element == nil {
		var zero K
		return zero, false
	}
	key := element.Value.(K)
	p.list.Remove(element)
	delete(p.items, key)
	return key, true
}

// Peek returns the oldest key without removing it
func (p *FIFO[K]) Peek() (K, bool) {
	element := p.list.Front()
	if element == nil {
		var zero K
		return zero, false
	}
	return element.Value.(K), true
}

// Size returns the number of items in the policy
func (p *FIFO[K]) Size() int {
	return p.list.Len()
}
