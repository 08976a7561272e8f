package app

import (
	"context"
	"time"

	"quiz-session-service/internal/domain"
)

// Store abstracts durable session state (in-memory, Postgres). Writes
// that enforce an invariant are conditional: they check the stored row
// inside the store's own critical section or SQL statement, so two racing
// orchestrator calls cannot both succeed.
type Store interface {
	// InsertSession persists a new session together with its host player.
	InsertSession(ctx context.Context, session domain.Session, host domain.Player) error
	SessionByID(ctx context.Context, id string) (domain.Session, error)
	// SessionByCode resolves an access code. Codes are only resolvable
	// while the session is unexpired; a missing code is domain.ErrNotFound.
	SessionByCode(ctx context.Context, code string) (domain.Session, error)
	// TransitionState moves the session from one state to another only if
	// the stored state still equals from; otherwise domain.ErrInvalidState.
	TransitionState(ctx context.Context, id string, from, to domain.State, at time.Time) (domain.Session, error)
	// BumpQuestionIndex advances the current question of an in-progress
	// session by one; domain.ErrInvalidState if it is not in progress.
	BumpQuestionIndex(ctx context.Context, id string, at time.Time) (domain.Session, error)

	// SeatPlayer inserts the player with seat_order assigned inside the
	// store's critical section, so concurrent joins get distinct seats.
	// When a player with the same non-null user id is already seated the
	// existing row is returned instead of inserting a second one.
	SeatPlayer(ctx context.Context, player domain.Player) (domain.Player, error)
	PlayersBySession(ctx context.Context, sessionID string) ([]domain.Player, error)
	PlayerByID(ctx context.Context, sessionID, playerID string) (domain.Player, error)
	// MarkPlayerLeft soft-removes a player. Marking an already-left player
	// is a no-op returning the current row.
	MarkPlayerLeft(ctx context.Context, sessionID, playerID string, at time.Time) (domain.Player, error)
	// ConsumeLifeline decrements one of the player's lifeline counters,
	// failing with domain.ErrNoLifelines when it is already zero.
	ConsumeLifeline(ctx context.Context, sessionID, playerID string, kind domain.LifelineKind, at time.Time) (domain.Player, error)

	// InsertAnswer writes the answer and applies the awarded score to the
	// player atomically. A second answer for the same (player, question
	// index) fails with domain.ErrDuplicateAnswer and changes nothing.
	InsertAnswer(ctx context.Context, answer domain.Answer, awarded int) (domain.Answer, domain.Player, error)
	AnswersBySession(ctx context.Context, sessionID string) ([]domain.Answer, error)
}

// QuestionRepository loads quiz content (from cache/backing store).
type QuestionRepository interface {
	// Pick selects an ordered question list for a new session.
	Pick(ctx context.Context, categoryID string, count int) ([]domain.Question, error)
	// ByIDs resolves questions preserving the order of ids.
	ByIDs(ctx context.Context, ids []string) ([]domain.Question, error)
}

// EventBus fans change notifications out to every subscriber of a
// session. Publish is fire-and-forget: a slow subscriber has its stale
// pending event dropped rather than blocking the publisher.
type EventBus interface {
	Publish(ctx context.Context, event domain.Event) error
	// Subscribe returns a channel of events for one session. The caller
	// must invoke the returned cancel function to avoid leaks.
	Subscribe(ctx context.Context, sessionID string) (<-chan domain.Event, func(), error)
}

// PresenceTracker is the ephemeral liveness facility scoped by session.
// Best effort: failures are logged by callers, never fatal.
type PresenceTracker interface {
	Track(ctx context.Context, sessionID string, user domain.PresenceUser) error
	Untrack(ctx context.Context, sessionID, userID string) error
	List(ctx context.Context, sessionID string) ([]domain.PresenceUser, error)
}

// CodeRegistry guarantees access-code uniqueness across instances while
// a session is active.
type CodeRegistry interface {
	// Reserve claims code for sessionID; false when already taken.
	Reserve(ctx context.Context, code, sessionID string) (bool, error)
	Release(ctx context.Context, code string) error
}
