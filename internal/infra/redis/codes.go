package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Codes is the Redis implementation of app.CodeRegistry. SETNX makes a
// reservation atomic across instances; the ttl bounds how long a code
// of an abandoned lobby stays claimed.
type Codes struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCodes(client *redis.Client, ttl time.Duration) *Codes {
	return &Codes{client: client, ttl: ttl}
}

func (c *Codes) Reserve(ctx context.Context, code, sessionID string) (bool, error) {
	return c.client.SetNX(ctx, c.key(code), sessionID, c.ttl).Result()
}

func (c *Codes) Release(ctx context.Context, code string) error {
	return c.client.Del(ctx, c.key(code)).Err()
}

func (c *Codes) key(code string) string {
	return "quiz:code:" + code
}
