package domain

// EventKind discriminates the typed messages on a session's
// synchronization channel. One kind per entity slice; each event carries
// the entire current value of that slice, never a diff.
type EventKind string

const (
	EventSession  EventKind = "session"
	EventPlayers  EventKind = "players"
	EventAnswers  EventKind = "answers"
	EventPresence EventKind = "presence"
)

// Event is one change notification for a session. Exactly one payload
// field is set, matching Kind.
type Event struct {
	Kind      EventKind      `json:"kind"`
	SessionID string         `json:"sessionId"`
	Session   *Session       `json:"session,omitempty"`
	Players   []Player       `json:"players,omitempty"`
	Answers   []Answer       `json:"answers,omitempty"`
	Presence  []PresenceUser `json:"presence,omitempty"`
}

// SessionEvent wraps a full session value as an event.
func SessionEvent(s Session) Event {
	return Event{Kind: EventSession, SessionID: s.ID, Session: &s}
}

// PlayersEvent wraps the full roster as an event.
func PlayersEvent(sessionID string, players []Player) Event {
	return Event{Kind: EventPlayers, SessionID: sessionID, Players: players}
}

// AnswersEvent wraps the full answer log as an event.
func AnswersEvent(sessionID string, answers []Answer) Event {
	return Event{Kind: EventAnswers, SessionID: sessionID, Answers: answers}
}

// PresenceEvent wraps the current presence list as an event.
func PresenceEvent(sessionID string, presence []PresenceUser) Event {
	return Event{Kind: EventPresence, SessionID: sessionID, Presence: presence}
}
