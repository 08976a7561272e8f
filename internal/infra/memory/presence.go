package memory

import (
	"context"
	"sort"
	"sync"

	"quiz-session-service/internal/domain"
)

// Presence is the in-process implementation of app.PresenceTracker for
// single-node runs and tests. Entries live only as long as the process.
type Presence struct {
	mu       sync.RWMutex
	sessions map[string]map[string]domain.PresenceUser
}

func NewPresence() *Presence {
	return &Presence{sessions: make(map[string]map[string]domain.PresenceUser)}
}

func (p *Presence) Track(_ context.Context, sessionID string, user domain.PresenceUser) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessions[sessionID] == nil {
		p.sessions[sessionID] = make(map[string]domain.PresenceUser)
	}
	p.sessions[sessionID][user.UserID] = user
	return nil
}

func (p *Presence) Untrack(_ context.Context, sessionID, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions[sessionID], userID)
	if len(p.sessions[sessionID]) == 0 {
		delete(p.sessions, sessionID)
	}
	return nil
}

func (p *Presence) List(_ context.Context, sessionID string) ([]domain.PresenceUser, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	users := make([]domain.PresenceUser, 0, len(p.sessions[sessionID]))
	for _, u := range p.sessions[sessionID] {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users, nil
}
