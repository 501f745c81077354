package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ActiveCall is the Engine's in-memory record of a call in flight,
// keyed by provider call id (spec §4.7, §5).
type ActiveCall struct {
	CallID      string
	ContactID   uuid.UUID
	StartTime   time.Time
	PhoneNumber string
	Name        string
}

// activeCallSet is a single campaign's process-local active-calls map,
// keyed by provider call id — the only natural key per spec §3, since
// no internal-id/alias split exists in this architecture.
type activeCallSet struct {
	mu    sync.RWMutex
	calls map[string]*ActiveCall
}

func newActiveCallSet() *activeCallSet {
	return &activeCallSet{calls: make(map[string]*ActiveCall)}
}

func (s *activeCallSet) add(call *ActiveCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[call.CallID] = call
}

func (s *activeCallSet) remove(callID string) *ActiveCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[callID]
	if !ok {
		return nil
	}
	delete(s.calls, callID)
	return call
}

func (s *activeCallSet) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.calls)
}

func (s *activeCallSet) list() []*ActiveCall {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ActiveCall, 0, len(s.calls))
	for _, c := range s.calls {
		out = append(out, c)
	}
	return out
}
