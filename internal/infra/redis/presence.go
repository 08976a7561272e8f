package redis

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-session-service/internal/domain"
)

// Presence is the Redis implementation of app.PresenceTracker. Each
// session has a hash of userID -> presence entry; the whole key expires
// after ttl so abandoned sessions clean themselves up. Presence is best
// effort and never persisted anywhere durable.
type Presence struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPresence(client *redis.Client, ttl time.Duration) *Presence {
	return &Presence{client: client, ttl: ttl}
}

func (p *Presence) Track(ctx context.Context, sessionID string, user domain.PresenceUser) error {
	data, err := json.Marshal(user)
	if err != nil {
		return err
	}
	pipe := p.client.Pipeline()
	pipe.HSet(ctx, p.key(sessionID), user.UserID, data)
	if p.ttl > 0 {
		pipe.Expire(ctx, p.key(sessionID), p.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (p *Presence) Untrack(ctx context.Context, sessionID, userID string) error {
	return p.client.HDel(ctx, p.key(sessionID), userID).Err()
}

func (p *Presence) List(ctx context.Context, sessionID string) ([]domain.PresenceUser, error) {
	entries, err := p.client.HGetAll(ctx, p.key(sessionID)).Result()
	if err != nil {
		return nil, err
	}
	users := make([]domain.PresenceUser, 0, len(entries))
	for _, raw := range entries {
		var user domain.PresenceUser
		if err := json.Unmarshal([]byte(raw), &user); err != nil {
			continue
		}
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users, nil
}

func (p *Presence) key(sessionID string) string {
	return "quiz:session:" + sessionID + ":presence"
}
