package memory

import (
	"context"
	"sync"

	"quiz-session-service/internal/domain"
)

// Bus is the in-process implementation of app.EventBus. Subscribers get
// a buffered channel per session; when a subscriber is too slow its
// oldest pending event is dropped so a fresh one can take its place,
// which keeps publishers from ever blocking. That is safe because every
// event carries the full current slice, so the latest one always wins.
type Bus struct {
	mu          sync.Mutex
	subscribers map[string]map[chan domain.Event]struct{}
}

func NewBus() *Bus {
	return &Bus{subscribers: make(map[string]map[chan domain.Event]struct{})}
}

func (b *Bus) Publish(_ context.Context, event domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers[event.SessionID] {
		select {
		case ch <- event:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- event
		}
	}
	return nil
}

func (b *Bus) Subscribe(_ context.Context, sessionID string) (<-chan domain.Event, func(), error) {
	ch := make(chan domain.Event, 16)

	b.mu.Lock()
	if b.subscribers[sessionID] == nil {
		b.subscribers[sessionID] = make(map[chan domain.Event]struct{})
	}
	b.subscribers[sessionID][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[sessionID]
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(b.subscribers, sessionID)
		}
	}
	return ch, cancel, nil
}
