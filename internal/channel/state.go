package channel

import "sync"

// Resume carries the recovery position reported by the server for the
// identity's user channel. Nil fields are unknown.
type Resume struct {
	Recoverable *bool
	Epoch       *string
	Offset      *uint64
}

// SubscriptionState is the per-identity frame counter plus recovery position.
// It survives reconnects and is cleared only by a deliberate teardown.
type SubscriptionState struct {
	mu     sync.Mutex
	id     uint64
	resume Resume
}

func NewSubscriptionState() *SubscriptionState {
	return &SubscriptionState{id: 1}
}

func (s *SubscriptionState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = 1
	s.resume = Resume{}
}

func (s *SubscriptionState) ID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *SubscriptionState) advance() {
	s.mu.Lock()
	s.id++
	s.mu.Unlock()
}

func (s *SubscriptionState) Resume() Resume {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resume
}

func (s *SubscriptionState) setResume(r Resume) {
	s.mu.Lock()
	s.resume = r
	s.mu.Unlock()
}

func (s *SubscriptionState) setOffset(offset uint64) {
	s.mu.Lock()
	s.resume.Offset = &offset
	s.mu.Unlock()
}
