package pipeline

import "sync"

// runSlot holds the id of the one request allowed to run. Only the
// Pipeline that owns it mutates it, always under mu.
type runSlot struct {
	mu     sync.Mutex
	active string
}

// admit claims the slot for id. It fails when a different request holds it.
func (s *runSlot) admit(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != "" && s.active != id {
		return false
	}
	s.active = id
	return true
}

// owns reports whether id still holds the slot.
func (s *runSlot) owns(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active == id
}

// finish clears the slot if id still holds it and reports whether it did.
func (s *runSlot) finish(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != id {
		return false
	}
	s.active = ""
	return true
}

// clear empties the slot and returns the id it held.
func (s *runSlot) clear() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.active
	s.active = ""
	return prev
}

func (s *runSlot) current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}
