package memory

import (
	"context"
	"sync"
)

// Codes is the in-process implementation of app.CodeRegistry.
type Codes struct {
	mu    sync.Mutex
	taken map[string]string
}

func NewCodes() *Codes {
	return &Codes{taken: make(map[string]string)}
}

func (c *Codes) Reserve(_ context.Context, code, sessionID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.taken[code]; ok {
		return false, nil
	}
	c.taken[code] = sessionID
	return true, nil
}

func (c *Codes) Release(_ context.Context, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.taken, code)
	return nil
}
