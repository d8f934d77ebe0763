package policy

import "container/list"

// LRU orders keys by their last read or write
type LRU[K comparable] struct {
	items map[K]*list.Element
	list  *list.List
}

// NewLRU creates a new LRU policy
func NewLRU[K comparable]() *LRU[K] {
	return &LRU[K]{
		items: make(map[K]*list.Element),
		list:  list.New(),
	}
}

// OnGet is called when an item is retrieved from the cache
func (p *LRU[K]) OnGet(key K) {
	if element, exists := p.items[key]; exists {
		p.list.MoveToFront(element)
	}
}

// OnSet is called when an item is added to the cache
func (p *LRU[K]) OnSet(key K) {
	if element, exists := p.items[key]; exists {
		p.list.MoveToFront(element)
		return
	}
	p.items[key] = p.list.PushFront(key)
}

// OnDelete is called when an item is removed from the cache
func (p *LRU[K]) OnDelete(key K) {
	if element, exists := p.items[key]; exists {
		p.list.Remove(element)
		delete(p.items, key)
	}
}

// OnClear is called when the cache is cleared
func (p *LRU[K]) OnClear() {
	p.list.Init()
	p.items = make(map[K]*list.Element)
}

// Evict returns the least recently used key
func (p *LRU[K]) Evict() (K, bool) {
	element := p.list.Back()
	if element == nil {
		var zero K
		return zero, false
	}
	key := element.Value.(K)
	p.list.Remove(element)
	delete(p.items, key)
	return key, true
}

// Peek returns the least recently used key without removing it
func (p *LRU[K]) Peek() (K, bool) {
	element := p.list.Back()
	if element == nil {
		var zero K
		return zero, false
	}
	return element.Value.(K), true
}

// Size returns the number of items in the policy
func (p *LRU[K]) Size() int {
	return p.list.Len()
}
