package client

import (
	"context"
	"errors"
	"sync"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/domain"
)

// ErrStreamClosed is delivered to OnError when the event stream dies
// underneath a live subscription, e.g. a dropped pub/sub connection. The
// reconciler keeps its last-known-good snapshot.
var ErrStreamClosed = errors.New("session event stream closed")

// Handlers is the set of independent callbacks, one per entity slice.
// Each callback receives the entire current value of its slice. Any
// handler may be nil. Transport errors go to OnError and never tear the
// subscription down; the reconciler keeps its last-known-good snapshot.
type Handlers struct {
	OnSession  func(domain.Session)
	OnPlayers  func([]domain.Player)
	OnAnswers  func([]domain.Answer)
	OnPresence func([]domain.PresenceUser)
	OnError    func(error)
}

// Subscription is an explicitly owned handle on a session's event
// stream. It must be released with Unsubscribe on every exit path of the
// owning screen; there is no shared module-level channel state.
type Subscription struct {
	reconciler *Reconciler
	cancel     func()
	done       chan struct{}
	closing    chan struct{}
	once       sync.Once
}

// Subscribe opens the synchronization channel for sessionID, seeds the
// reconciler with the initial snapshot, and runs a consumer loop that
// merges each event and then fires the matching callback.
func Subscribe(ctx context.Context, orch *app.Orchestrator, bus app.EventBus, sessionID string, handlers Handlers) (*Subscription, error) {
	initial, err := orch.GetSnapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	events, cancel, err := bus.Subscribe(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		reconciler: NewReconciler(initial),
		cancel:     cancel,
		done:       make(chan struct{}),
		closing:    make(chan struct{}),
	}

	go func() {
		defer close(sub.done)
		for event := range events {
			sub.reconciler.Apply(event)
			sub.dispatch(event, handlers)
		}
		// The channel closed underneath us. If this was not Unsubscribe,
		// the transport died; tell the owner.
		select {
		case <-sub.closing:
		default:
			if handlers.OnError != nil {
				handlers.OnError(ErrStreamClosed)
			}
		}
	}()

	return sub, nil
}

func (s *Subscription) dispatch(event domain.Event, handlers Handlers) {
	switch event.Kind {
	case domain.EventSession:
		if handlers.OnSession != nil {
			handlers.OnSession(s.reconciler.Snapshot().Session)
		}
	case domain.EventPlayers:
		if handlers.OnPlayers != nil {
			handlers.OnPlayers(event.Players)
		}
	case domain.EventAnswers:
		if handlers.OnAnswers != nil {
			handlers.OnAnswers(event.Answers)
		}
	case domain.EventPresence:
		if handlers.OnPresence != nil {
			handlers.OnPresence(event.Presence)
		}
	}
}

// Reconciler exposes the reconciled local view.
func (s *Subscription) Reconciler() *Reconciler {
	return s.reconciler
}

// Unsubscribe releases the channel resources. Safe to call more than
// once; it waits for the consumer loop to drain and stop so no callback
// fires after it returns.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.closing)
		s.cancel()
		<-s.done
	})
}
