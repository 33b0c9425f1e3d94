package supabase

import (
	"sync"

	"github.com/maspatas/maspatas-bfa-go/internal/domain"

	"github.com/google/uuid"
)

const subscriberBuffer = 64

type subscriber struct {
	ch   chan domain.AuthEvent
	done chan struct{}
	once sync.Once
}

// broadcaster fans auth events out to subscribers in emission order.
// Channels are never closed; a cancelled subscriber is skipped.
type broadcaster struct {
	publishMu sync.Mutex
	mu        sync.Mutex
	subs      map[string]*subscriber
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[string]*subscriber)}
}

// Subscribe registers a listener. The returned func unregisters it and is
// safe to call more than once.
func (b *broadcaster) Subscribe() (<-chan domain.AuthEvent, func()) {
	id := uuid.NewString()
	s := &subscriber{
		ch:   make(chan domain.AuthEvent, subscriberBuffer),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	cancel := func() {
		s.once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.done)
		})
	}
	return s.ch, cancel
}

func (b *broadcaster) publish(ev domain.AuthEvent) {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	b.mu.Lock()
	targets := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		select {
		case s.ch <- ev:
		case <-s.done:
		}
	}
}
