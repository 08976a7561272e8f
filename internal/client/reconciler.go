// Package client holds the device-side reconciliation layer: a local
// snapshot of one session, kept current by merging the typed events
// fanned out over the synchronization channel. UI state derives from the
// reconciled snapshot only, never from transient flags.
package client

import (
	"sync"

	"quiz-session-service/internal/domain"
)

// Reconciler owns the local view of a session. Each incoming event
// replaces exactly one slice of the snapshot and leaves the others
// untouched, so out-of-order or coalesced delivery cannot accumulate
// drift: the latest event for a slice always wins outright.
type Reconciler struct {
	mu       sync.RWMutex
	snapshot domain.Snapshot
	presence []domain.PresenceUser

	// pending is the short-lived optimistic state overlay set right
	// after issuing a command. It is discarded unconditionally the
	// moment an authoritative session event arrives.
	pending *domain.State
}

func NewReconciler(initial domain.Snapshot) *Reconciler {
	return &Reconciler{snapshot: initial}
}

// Apply merges one event into the snapshot. Session events whose state
// would move backwards are stale deliveries and are ignored, keeping the
// observed state monotonic.
func (r *Reconciler) Apply(event domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch event.Kind {
	case domain.EventSession:
		if event.Session == nil {
			return
		}
		r.pending = nil
		if !r.snapshot.Session.State.CanTransition(event.Session.State) {
			return
		}
		r.snapshot.Session = *event.Session
	case domain.EventPlayers:
		r.snapshot.Players = event.Players
	case domain.EventAnswers:
		r.snapshot.Answers = event.Answers
	case domain.EventPresence:
		r.presence = event.Presence
	}
}

// SetPendingState records an optimistic state overlay after a command
// resolves locally. Ignored if it would move the authoritative state
// backwards.
func (r *Reconciler) SetPendingState(state domain.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.snapshot.Session.State.CanTransition(state) {
		return
	}
	r.pending = &state
}

// Snapshot returns the current reconciled view with any pending overlay
// applied on top.
func (r *Reconciler) Snapshot() domain.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := r.snapshot
	if r.pending != nil {
		snap.Session.State = *r.pending
	}
	return snap
}

// State is the snapshot's session state; screen transitions key off this
// and nothing else, so every device walks lobby -> game -> results in
// the same order no matter who issued the triggering command.
func (r *Reconciler) State() domain.State {
	return r.Snapshot().Session.State
}

// Presence returns the last delivered presence list. Presence is matched
// against Player.UserID by the UI; players with a nil UserID are local
// seats and are never online or offline.
func (r *Reconciler) Presence() []domain.PresenceUser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.presence
}

// PlayerOnline reports whether the player is currently present. The
// second return is false for local-only players, for which online state
// is meaningless.
func (r *Reconciler) PlayerOnline(player domain.Player) (online, ok bool) {
	if player.UserID == nil {
		return false, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.presence {
		if u.UserID == *player.UserID {
			return true, true
		}
	}
	return false, true
}
