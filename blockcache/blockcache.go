// Package blockcache provides the in-memory set of blocked identifiers.
package blockcache

import (
	"iter"
	"sync"

	"github.com/zephyrtronium/warden/blocklist"
)

type key struct {
	id   uint64
	kind blocklist.Kind
}

// Set is a set of blocked identifiers synchronized with a mutex.
// The zero value is not usable; use New.
type Set struct {
	mu sync.Mutex
	m  map[key]struct{}
}

var _ blocklist.Cache = (*Set)(nil)

// New returns an empty set.
func New() *Set {
	return &Set{m: make(map[key]struct{})}
}

// Contains reports whether id is blocked as any kind.
func (s *Set) Contains(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, u := s.m[key{id, blocklist.User}]
	_, g := s.m[key{id, blocklist.Guild}]
	return u || g
}

// Has reports whether id is blocked as the given kind.
func (s *Set) Has(id uint64, kind blocklist.Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[key{id, kind}]
	return ok
}

// Add adds an identifier. Adding a present identifier is a no-op.
func (s *Set) Add(id uint64, kind blocklist.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key{id, kind}] = struct{}{}
}

// Remove removes an identifier. Removing an absent identifier is a no-op.
func (s *Set) Remove(id uint64, kind blocklist.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key{id, kind})
}

// Replace sets the contents of the set to exactly the given entries.
func (s *Set) Replace(entries []blocklist.Entry) {
	m := make(map[key]struct{}, len(entries))
	for _, e := range entries {
		m[key{e.ID, e.Kind}] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m = m
}

// Len returns the number of identifiers in the set.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

// All iterates over all identifiers in the set.
// The set is unlocked while the loop body runs.
func (s *Set) All() iter.Seq2[uint64, blocklist.Kind] {
	return func(f func(uint64, blocklist.Kind) bool) {
		s.mu.Lock()
		for k := range s.m {
			s.mu.Unlock()
			if !f(k.id, k.kind) {
				s.mu.Lock()
				break
			}
			s.mu.Lock()
		}
		s.mu.Unlock()
	}
}
