// Package seenset provides a bounded, concurrency-safe dedup cache for
// protocol authors who need "have I processed this message before" without
// growing an unbounded set for the lifetime of a connection — the need
// every gossip-style ProcessMessage implementation runs into.
package seenset

import (
	lru "github.com/hashicorp/golang-lru"
	"github.com/twmb/murmur3"
)

// Set is a fixed-capacity, least-recently-used set of 64-bit digests.
// Entries beyond capacity evict the oldest. It is safe for concurrent use.
type Set struct {
	cache *lru.Cache
}

// New builds a Set holding at most capacity digests.
func New(capacity int) (*Set, error) {
	c, err := lru.New(capacity)
	if err != nil {
		return nil, err
	}
	return &Set{cache: c}, nil
}

// Seen reports whether data's digest was already recorded, and records it
// if not — a single atomic check-and-insert, so two concurrent callers with
// the same payload never both get "new".
func (s *Set) Seen(data []byte) bool {
	key := murmur3.Sum64(data)
	alreadyPresent, _ := s.cache.ContainsOrAdd(key, struct{}{})
	return alreadyPresent
}

// Len reports the current number of recorded digests.
func (s *Set) Len() int { return s.cache.Len() }

// Purge discards every recorded digest.
func (s *Set) Purge() { s.cache.Purge() }
