package domain

import "errors"

var (
	// ErrNotFound is returned when no session matches the given id or access code.
	ErrNotFound = errors.New("session not found")
	// ErrAlreadyStarted is returned when joining a session that has left the lobby.
	ErrAlreadyStarted = errors.New("session already started")
	// ErrInvalidState is returned when a command is issued against the wrong session state.
	ErrInvalidState = errors.New("invalid session state")
	// ErrForbidden is returned when a non-host issues a host-only command.
	ErrForbidden = errors.New("requester is not the session host")
	// ErrNotEnoughPlayers is returned when start is attempted below the mode threshold.
	ErrNotEnoughPlayers = errors.New("not enough active players")
	// ErrDuplicateAnswer is returned when a player resubmits a question they already answered.
	ErrDuplicateAnswer = errors.New("answer already submitted")
	// ErrPlayerNotFound is returned when a player id is not part of the session roster.
	ErrPlayerNotFound = errors.New("player not found in session")
	// ErrQuestionNotFound indicates an out-of-range question index or unknown question id.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrNoLifelines is returned when consuming a lifeline whose counter is already zero.
	ErrNoLifelines = errors.New("no lifelines left")
)

// ErrorKind maps a domain error to its wire-level error kind, the string
// clients branch on. Unknown errors map to "internal".
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyStarted):
		return "already_started"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotEnoughPlayers):
		return "not_enough_players"
	case errors.Is(err, ErrDuplicateAnswer):
		return "duplicate_answer"
	case errors.Is(err, ErrPlayerNotFound):
		return "player_not_found"
	case errors.Is(err, ErrQuestionNotFound):
		return "question_not_found"
	case errors.Is(err, ErrNoLifelines):
		return "no_lifelines"
	default:
		return "internal"
	}
}
