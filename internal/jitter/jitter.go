// Package jitter draws the randomized delays and choices the bot uses to
// look like a human client. A Source is safe for concurrent use.
package jitter

import (
	"math/rand/v2"
	"sync"
	"time"
)

type Source struct {
	mu sync.Mutex
	r  *rand.Rand
}

// New returns a deterministic source; tests pass a fixed seed.
func New(seed uint64) *Source {
	return &Source{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func NewRandom() *Source {
	return New(rand.Uint64())
}

// IntRange returns a uniform integer in [lo, hi].
func (s *Source) IntRange(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo + s.r.IntN(hi-lo+1)
}

// Duration returns a uniform duration in [lo, hi].
func (s *Source) Duration(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo + time.Duration(s.r.Int64N(int64(hi-lo)+1))
}

// Seconds returns a whole number of seconds in [lo, hi].
func (s *Source) Seconds(lo, hi int) time.Duration {
	return time.Duration(s.IntRange(lo, hi)) * time.Second
}

func (s *Source) Bool() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.IntN(2) == 1
}
