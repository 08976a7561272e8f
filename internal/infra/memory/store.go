package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"quiz-session-service/internal/domain"
)

// Store is the in-memory implementation of app.Store. Conditional writes
// hold the store mutex for the whole check-then-write, which gives the
// same guarantee the SQL store gets from conditional UPDATEs.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
	byCode   map[string]string
	players  map[string][]domain.Player
	answers  map[string][]domain.Answer
	answered map[string]map[answerKey]struct{}
}

type answerKey struct {
	playerID      string
	questionIndex int
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]domain.Session),
		byCode:   make(map[string]string),
		players:  make(map[string][]domain.Player),
		answers:  make(map[string][]domain.Answer),
		answered: make(map[string]map[answerKey]struct{}),
	}
}

func (s *Store) InsertSession(_ context.Context, session domain.Session, host domain.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	if session.AccessCode != "" {
		s.byCode[session.AccessCode] = session.ID
	}
	s.players[session.ID] = []domain.Player{host}
	s.answers[session.ID] = nil
	s.answered[session.ID] = make(map[answerKey]struct{})
	return nil
}

func (s *Store) SessionByID(_ context.Context, id string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrNotFound
	}
	return session, nil
}

func (s *Store) SessionByCode(_ context.Context, code string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCode[code]
	if !ok {
		return domain.Session{}, domain.ErrNotFound
	}
	session, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrNotFound
	}
	return session, nil
}

func (s *Store) TransitionState(_ context.Context, id string, from, to domain.State, at time.Time) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrNotFound
	}
	if session.State != from {
		return domain.Session{}, domain.ErrInvalidState
	}
	session.State = to
	session.UpdatedAt = at
	switch to {
	case domain.StateInProgress:
		session.StartedAt = at
	case domain.StateFinished:
		session.FinishedAt = at
	}
	s.sessions[id] = session
	return session, nil
}

func (s *Store) BumpQuestionIndex(_ context.Context, id string, at time.Time) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrNotFound
	}
	if session.State != domain.StateInProgress {
		return domain.Session{}, domain.ErrInvalidState
	}
	session.CurrentQuestionIndex++
	session.UpdatedAt = at
	s.sessions[id] = session
	return session, nil
}

func (s *Store) SeatPlayer(_ context.Context, player domain.Player) (domain.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[player.SessionID]; !ok {
		return domain.Player{}, domain.ErrNotFound
	}

	players := s.players[player.SessionID]
	if player.UserID != nil {
		for _, p := range players {
			if p.UserID != nil && *p.UserID == *player.UserID {
				return p, nil
			}
		}
	}

	nextSeat := 0
	for _, p := range players {
		if p.SeatOrder >= nextSeat {
			nextSeat = p.SeatOrder + 1
		}
	}
	player.SeatOrder = nextSeat
	s.players[player.SessionID] = append(players, player)
	return player, nil
}

func (s *Store) PlayersBySession(_ context.Context, sessionID string) ([]domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, domain.ErrNotFound
	}
	players := make([]domain.Player, len(s.players[sessionID]))
	copy(players, s.players[sessionID])
	sort.Slice(players, func(i, j int) bool { return players[i].SeatOrder < players[j].SeatOrder })
	return players, nil
}

func (s *Store) PlayerByID(_ context.Context, sessionID, playerID string) (domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.players[sessionID] {
		if p.ID == playerID {
			return p, nil
		}
	}
	return domain.Player{}, domain.ErrPlayerNotFound
}

func (s *Store) MarkPlayerLeft(_ context.Context, sessionID, playerID string, at time.Time) (domain.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	players := s.players[sessionID]
	for i, p := range players {
		if p.ID != playerID {
			continue
		}
		if p.Status == domain.PlayerLeft {
			return p, nil
		}
		p.Status = domain.PlayerLeft
		p.UpdatedAt = at
		players[i] = p
		return p, nil
	}
	return domain.Player{}, domain.ErrPlayerNotFound
}

func (s *Store) ConsumeLifeline(_ context.Context, sessionID, playerID string, kind domain.LifelineKind, at time.Time) (domain.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	players := s.players[sessionID]
	for i, p := range players {
		if p.ID != playerID {
			continue
		}
		switch kind {
		case domain.LifelineJoker:
			if p.JokersLeft <= 0 {
				return domain.Player{}, domain.ErrNoLifelines
			}
			p.JokersLeft--
		case domain.LifelineHelp:
			if p.HelpsLeft <= 0 {
				return domain.Player{}, domain.ErrNoLifelines
			}
			p.HelpsLeft--
		default:
			return domain.Player{}, domain.ErrInvalidState
		}
		p.UpdatedAt = at
		players[i] = p
		return p, nil
	}
	return domain.Player{}, domain.ErrPlayerNotFound
}

func (s *Store) InsertAnswer(_ context.Context, answer domain.Answer, awarded int) (domain.Answer, domain.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen, ok := s.answered[answer.SessionID]
	if !ok {
		return domain.Answer{}, domain.Player{}, domain.ErrNotFound
	}
	key := answerKey{playerID: answer.PlayerID, questionIndex: answer.QuestionIndex}
	if _, dup := seen[key]; dup {
		return domain.Answer{}, domain.Player{}, domain.ErrDuplicateAnswer
	}

	players := s.players[answer.SessionID]
	idx := -1
	for i, p := range players {
		if p.ID == answer.PlayerID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.Answer{}, domain.Player{}, domain.ErrPlayerNotFound
	}

	seen[key] = struct{}{}
	s.answers[answer.SessionID] = append(s.answers[answer.SessionID], answer)

	players[idx].Score += awarded
	players[idx].UpdatedAt = answer.SubmittedAt
	return answer, players[idx], nil
}

func (s *Store) AnswersBySession(_ context.Context, sessionID string) ([]domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, domain.ErrNotFound
	}
	answers := make([]domain.Answer, len(s.answers[sessionID]))
	copy(answers, s.answers[sessionID])
	sort.Slice(answers, func(i, j int) bool {
		if answers[i].QuestionIndex != answers[j].QuestionIndex {
			return answers[i].QuestionIndex < answers[j].QuestionIndex
		}
		return answers[i].SubmittedAt.Before(answers[j].SubmittedAt)
	})
	return answers, nil
}
