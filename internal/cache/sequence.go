package cache

import "sync"

// Ticket identifies one started fetch of a logical resource.
type Ticket struct {
	key string
	seq uint64
}

// Sequencer implements last-started-wins: a fetch may apply its result only
// while no newer fetch for the same key has begun.
type Sequencer struct {
	mu     sync.Mutex
	latest map[string]uint64
}

// NewSequencer returns an empty sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{latest: make(map[string]uint64)}
}

// Begin records a new fetch for key and supersedes earlier ones.
func (s *Sequencer) Begin(key string) Ticket {
	key = Key(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[key]++
	return Ticket{key: key, seq: s.latest[key]}
}

// Current reports whether t is still the newest fetch for its key.
func (s *Sequencer) Current(t Ticket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest[t.key] == t.seq
}
