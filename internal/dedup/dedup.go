// Package dedup provides a bounded set of event identifiers used to
// suppress duplicate relay writes and duplicate deliveries.
//
// The set evicts in insertion order once full. Membership checks never
// refresh an entry, so an identifier is forgotten exactly capacity
// insertions after it was added, however often it was seen since.
package dedup

import "sync"

// DefaultCapacity is the number of identifiers a Set retains.
const DefaultCapacity = 1000

// Set is a capped, insertion-ordered set of strings. It is safe for
// concurrent use.
type Set struct {
	mu    sync.Mutex
	items map[string]struct{}
	ring  []string
	head  int // index of the oldest entry once the ring is full
}

// New returns a Set holding at most capacity entries. A non-positive
// capacity selects DefaultCapacity.
func New(capacity int) *Set {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Set{
		items: make(map[string]struct{}, capacity),
		ring:  make([]string, 0, capacity),
	}
}

// Contains reports whether id is in the retained window.
func (s *Set) Contains(id string) bool {
	s.mu.Lock()
	_, ok := s.items[id]
	s.mu.Unlock()
	return ok
}

// Add records id and reports whether it was new. When the set is full the
// oldest entry is evicted to make room.
func (s *Set) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; ok {
		return false
	}
	if len(s.ring) < cap(s.ring) {
		s.ring = append(s.ring, id)
	} else {
		delete(s.items, s.ring[s.head])
		s.ring[s.head] = id
		s.head = (s.head + 1) % len(s.ring)
	}
	s.items[id] = struct{}{}
	return true
}

// Len returns the number of retained identifiers.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Clear forgets every identifier.
func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.items)
	s.ring = s.ring[:0]
	s.head = 0
}
