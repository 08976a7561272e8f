package domain

import "time"

// Mode selects how a quiz session is played and how many players it needs.
type Mode string

const (
	ModeDuo     Mode = "duo"
	ModeGroup   Mode = "group"
	ModeHotseat Mode = "hotseat"
)

// MinPlayers returns the number of active players required to start a
// session in this mode. Hotseat is a single device driving every seat.
func (m Mode) MinPlayers() int {
	switch m {
	case ModeDuo:
		return 2
	case ModeGroup:
		return 3
	default:
		return 1
	}
}

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeDuo, ModeGroup, ModeHotseat:
		return true
	}
	return false
}

// State is the lifecycle phase of a session. It only ever moves forward:
// lobby -> in_progress -> finished.
type State string

const (
	StateLobby      State = "lobby"
	StateInProgress State = "in_progress"
	StateFinished   State = "finished"
)

var stateRank = map[State]int{
	StateLobby:      0,
	StateInProgress: 1,
	StateFinished:   2,
}

// CanTransition reports whether moving from s to next respects the
// monotonic lobby -> in_progress -> finished order. Staying put counts
// as valid so redelivered events are harmless.
func (s State) CanTransition(next State) bool {
	from, ok := stateRank[s]
	if !ok {
		return false
	}
	to, ok := stateRank[next]
	if !ok {
		return false
	}
	return to >= from
}

// PlayerStatus tracks roster membership. Players are soft-removed; the
// only transition is active -> left.
type PlayerStatus string

const (
	PlayerActive PlayerStatus = "active"
	PlayerLeft   PlayerStatus = "left"
)

// Session is one quiz room. QuestionIDs is fixed at creation and never
// mutated afterwards; State is written only by the orchestrator.
type Session struct {
	ID                   string    `json:"id"`
	Mode                 Mode      `json:"mode"`
	State                State     `json:"state"`
	AccessCode           string    `json:"accessCode"`
	HostUserID           string    `json:"hostUserId"`
	CategoryID           string    `json:"categoryId"`
	QuestionIDs          []string  `json:"questionIds"`
	CurrentQuestionIndex int       `json:"currentQuestionIndex"`
	CreatedAt            time.Time `json:"createdAt"`
	StartedAt            time.Time `json:"startedAt,omitempty"`
	FinishedAt           time.Time `json:"finishedAt,omitempty"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// Player is one seat in a session. UserID is nil for local participants
// that exist only on the device that seated them.
type Player struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"sessionId"`
	UserID      *string      `json:"userId"`
	DisplayName string       `json:"displayName"`
	SeatOrder   int          `json:"seatOrder"`
	Score       int          `json:"score"`
	Status      PlayerStatus `json:"status"`
	JokersLeft  int          `json:"jokersLeft"`
	HelpsLeft   int          `json:"helpsLeft"`
	JoinedAt    time.Time    `json:"joinedAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// LifelineKind names the per-player lifeline counters.
type LifelineKind string

const (
	LifelineJoker LifelineKind = "joker"
	LifelineHelp  LifelineKind = "help"
)

// Valid reports whether k is a known lifeline kind.
func (k LifelineKind) Valid() bool {
	return k == LifelineJoker || k == LifelineHelp
}

// Answer is an accepted submission. Immutable once written; at most one
// exists per (player, question index).
type Answer struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"sessionId"`
	PlayerID       string    `json:"playerId"`
	QuestionIndex  int       `json:"questionIndex"`
	SubmittedValue string    `json:"submittedValue"`
	IsCorrect      bool      `json:"isCorrect"`
	ResponseMS     int       `json:"responseMs"`
	SubmittedAt    time.Time `json:"submittedAt"`
}

// PresenceUser is an ephemeral liveness signal, held only in the
// transport layer. Independent of Player.Status: a roster-active player
// can be offline here and vice versa.
type PresenceUser struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName,omitempty"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

// Snapshot is the client-facing view of a session: the session row plus
// the full roster and answer log.
type Snapshot struct {
	Session Session  `json:"session"`
	Players []Player `json:"players"`
	Answers []Answer `json:"answers"`
}

// Option is a possible answer for a question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question models an MCQ question with exactly one correct option.
type Question struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []Option `json:"options"`
	Points  int      `json:"points"` // defaults to 1 if zero
}

// CorrectValue returns the ID of the correct option, or the first option
// when none is flagged.
func (q Question) CorrectValue() string {
	for _, opt := range q.Options {
		if opt.Correct {
			return opt.ID
		}
	}
	if len(q.Options) > 0 {
		return q.Options[0].ID
	}
	return ""
}

// Identity is what the auth collaborator hands us: a stable user id
// (empty for anonymous/local callers) and a display name.
type Identity struct {
	UserID      string
	DisplayName string
}
