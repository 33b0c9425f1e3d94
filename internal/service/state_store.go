package service

import (
	"sync"

	"github.com/maspatas/maspatas-bfa-go/internal/domain"
)

const stateSubscriberBuffer = 16

// StateStore holds the published {currentUser, loading, isGhosting} triple.
// Writes go through Update so every field change lands in one step; readers
// only ever see copies.
type StateStore struct {
	mu     sync.RWMutex
	state  domain.SessionState
	nextID int
	subs   map[int]chan domain.SessionState
}

// NewStateStore starts in the Initializing state (loading, no user).
func NewStateStore() *StateStore {
	return &StateStore{
		state: domain.SessionState{Loading: true},
		subs:  make(map[int]chan domain.SessionState),
	}
}

// Snapshot returns a deep copy of the current state.
func (s *StateStore) Snapshot() domain.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneState(s.state)
}

// Update applies fn atomically and notifies subscribers with the result.
func (s *StateStore) Update(fn func(st *domain.SessionState)) domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(&s.state)
	out := cloneState(s.state)
	for _, ch := range s.subs {
		offer(ch, cloneState(out))
	}
	return out
}

// Subscribe returns a channel that receives the state after every update,
// starting with the current one. A slow reader loses the oldest pending
// states, never the latest.
func (s *StateStore) Subscribe() (<-chan domain.SessionState, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan domain.SessionState, stateSubscriberBuffer)
	ch <- cloneState(s.state)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// offer must be called with the store lock held; it is the only sender.
func offer(ch chan domain.SessionState, st domain.SessionState) {
	for {
		select {
		case ch <- st:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func cloneState(st domain.SessionState) domain.SessionState {
	return domain.SessionState{
		CurrentUser: st.CurrentUser.Clone(),
		Loading:     st.Loading,
		IsGhosting:  st.IsGhosting.Clone(),
	}
}
