// Package hotseat implements the single-device offline variant: every
// participant shares one device and takes turns, no backend session
// exists, and the whole game travels as one self-contained payload.
package hotseat

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"quiz-session-service/internal/domain"
)

const (
	minPlayers = 2
	maxPlayers = 8
)

var (
	// ErrNotEnoughSeats is returned when fewer than two names are given.
	ErrNotEnoughSeats = errors.New("hotseat needs at least 2 players")
	// ErrTooManySeats caps the roster of a single shared device.
	ErrTooManySeats = errors.New("hotseat supports at most 8 players")
)

// Player is one seat on the shared device. Seats have no user id; they
// are always rendered as local, never online or offline.
type Player struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	SeatOrder   int    `json:"seatOrder"`
	Score       int    `json:"score"`
}

// Answer is one recorded turn.
type Answer struct {
	PlayerID      string    `json:"playerId"`
	QuestionIndex int       `json:"questionIndex"`
	Value         string    `json:"value"`
	IsCorrect     bool      `json:"isCorrect"`
	ResponseMS    int       `json:"responseMs"`
	AnsweredAt    time.Time `json:"answeredAt"`
}

// Session is the serialized hot-seat payload. It reuses the shared
// State type; a hot-seat game starts directly in progress since the
// lobby phase is just people sitting around one device.
type Session struct {
	ID                   string            `json:"id"`
	State                domain.State      `json:"state"`
	CategoryID           string            `json:"categoryId"`
	Questions            []domain.Question `json:"questions"`
	Players              []Player          `json:"players"`
	Answers              []Answer          `json:"answers"`
	CurrentQuestionIndex int               `json:"currentQuestionIndex"`
	CurrentSeat          int               `json:"currentSeat"`
	StartedAt            time.Time         `json:"startedAt"`
	FinishedAt           time.Time         `json:"finishedAt,omitempty"`
	UpdatedAt            time.Time         `json:"updatedAt"`
}

// NewSession seats the given names in order and starts play at question
// 0, seat 0.
func NewSession(categoryID string, questions []domain.Question, playerNames []string, now time.Time) (*Session, error) {
	if len(playerNames) < minPlayers {
		return nil, ErrNotEnoughSeats
	}
	if len(playerNames) > maxPlayers {
		return nil, ErrTooManySeats
	}
	if len(questions) == 0 {
		return nil, domain.ErrQuestionNotFound
	}

	id := uuid.NewString()
	players := make([]Player, len(playerNames))
	for i, name := range playerNames {
		if name == "" {
			name = fmt.Sprintf("Player %d", i+1)
		}
		players[i] = Player{
			ID:          fmt.Sprintf("%s-seat-%d", id, i),
			DisplayName: name,
			SeatOrder:   i,
		}
	}

	return &Session{
		ID:         id,
		State:      domain.StateInProgress,
		CategoryID: categoryID,
		Questions:  questions,
		Players:    players,
		StartedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// CurrentPlayer is the seat whose turn it is.
func (s *Session) CurrentPlayer() Player {
	return s.Players[s.CurrentSeat]
}

// CurrentQuestion is the question in play.
func (s *Session) CurrentQuestion() domain.Question {
	return s.Questions[s.CurrentQuestionIndex]
}

// SubmitAnswer records the current seat's answer, scores it, and rotates
// to the next seat, advancing the question once every seat has answered
// it. The question index past the last question finishes the session.
// The same duplicate rule as online play applies: one answer per
// (player, question index).
func (s *Session) SubmitAnswer(value string, responseMS int, now time.Time) (Answer, error) {
	if s.State != domain.StateInProgress {
		return Answer{}, domain.ErrInvalidState
	}

	player := &s.Players[s.CurrentSeat]
	for _, a := range s.Answers {
		if a.PlayerID == player.ID && a.QuestionIndex == s.CurrentQuestionIndex {
			return Answer{}, domain.ErrDuplicateAnswer
		}
	}

	question := s.CurrentQuestion()
	correct := value == question.CorrectValue()
	if correct {
		points := question.Points
		if points == 0 {
			points = 1
		}
		player.Score += points
	}

	answer := Answer{
		PlayerID:      player.ID,
		QuestionIndex: s.CurrentQuestionIndex,
		Value:         value,
		IsCorrect:     correct,
		ResponseMS:    responseMS,
		AnsweredAt:    now,
	}
	s.Answers = append(s.Answers, answer)
	s.UpdatedAt = now

	s.CurrentSeat++
	if s.CurrentSeat >= len(s.Players) {
		s.CurrentSeat = 0
		s.CurrentQuestionIndex++
		if s.CurrentQuestionIndex >= len(s.Questions) {
			s.State = domain.StateFinished
			s.FinishedAt = now
		}
	}
	return answer, nil
}

// Summary ranks the seats with the same rule as online play: score
// descending, seat order ascending. A summary built here and one built
// from the equivalent live snapshot rank identically.
func (s *Session) Summary() domain.ResultSummary {
	players := make([]domain.Player, len(s.Players))
	for i, p := range s.Players {
		players[i] = domain.Player{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			SeatOrder:   p.SeatOrder,
			Score:       p.Score,
		}
	}
	return domain.Summarize(domain.ModeHotseat, len(s.Questions), players)
}
