// Package dedup provides a bounded membership set for suppressing replayed
// trade fills.
package dedup

import "sync"

// DefaultCapacity bounds the set at roughly a week of feed volume.
const DefaultCapacity = 500_000

// Set is a fixed-capacity membership set with approximate insertion-order
// eviction. Once more than capacity distinct keys are held, the oldest are
// dropped, so a key evicted long ago can be admitted again; that false
// negative is accepted to bound memory.
type Set struct {
	mu       sync.Mutex
	capacity int
	members  map[string]struct{}
	queue    []string // insertion order
	head     int      // next eviction index
}

func New(capacity int) *Set {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Set{
		capacity: capacity,
		members:  make(map[string]struct{}, 1024),
	}
}

// Add inserts key and reports whether it was newly added.
func (s *Set) Add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.members[key]; ok {
		return false
	}
	s.members[key] = struct{}{}
	s.queue = append(s.queue, key)

	for len(s.members) > s.capacity && s.head < len(s.queue) {
		delete(s.members, s.queue[s.head])
		s.queue[s.head] = ""
		s.head++
	}

	// Compact the queue once the consumed prefix dominates it.
	if s.head > 4096 && s.head*2 > len(s.queue) {
		s.queue = append([]string(nil), s.queue[s.head:]...)
		s.head = 0
	}
	return true
}

// Size reports the current membership count.
func (s *Set) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}
