package hotseat

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Attempt is a completed hot-seat result queued for upload once the
// device is back online.
type Attempt struct {
	LocalSessionID string    `json:"localSessionId"`
	CategoryID     string    `json:"categoryId"`
	Score          int       `json:"score"`
	TotalQuestions int       `json:"totalQuestions"`
	Accuracy       float64   `json:"accuracy"`
	DurationSec    int       `json:"durationSec"`
	CompletedAt    time.Time `json:"completedAt"`
}

// Uploader pushes one attempt to the backend.
type Uploader func(ctx context.Context, attempt Attempt) error

// SyncResult reports one queue drain.
type SyncResult struct {
	Processed int
	Synced    int
	Remaining int
}

// Queue is a durable FIFO of unsynced attempts backed by a single JSON
// file. Failed uploads are retained and retried on the next sync.
type Queue struct {
	path string
	mu   sync.Mutex
}

func NewQueue(path string) *Queue {
	return &Queue{path: path}
}

func (q *Queue) Enqueue(attempt Attempt) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	attempts, err := q.read()
	if err != nil {
		return err
	}
	return q.write(append(attempts, attempt))
}

func (q *Queue) Len() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	attempts, err := q.read()
	if err != nil {
		return 0, err
	}
	return len(attempts), nil
}

// Sync uploads every queued attempt, keeping the ones that fail.
func (q *Queue) Sync(ctx context.Context, upload Uploader) (SyncResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	attempts, err := q.read()
	if err != nil {
		return SyncResult{}, err
	}
	if len(attempts) == 0 {
		return SyncResult{}, nil
	}

	var remaining []Attempt
	synced := 0
	for _, attempt := range attempts {
		if err := upload(ctx, attempt); err != nil {
			remaining = append(remaining, attempt)
			continue
		}
		synced++
	}

	if err := q.write(remaining); err != nil {
		return SyncResult{}, err
	}
	return SyncResult{Processed: len(attempts), Synced: synced, Remaining: len(remaining)}, nil
}

func (q *Queue) read() ([]Attempt, error) {
	data, err := os.ReadFile(q.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var attempts []Attempt
	if err := json.Unmarshal(data, &attempts); err != nil {
		// A corrupt queue file is dropped rather than wedging sync forever.
		return nil, nil
	}
	return attempts, nil
}

func (q *Queue) write(attempts []Attempt) error {
	if attempts == nil {
		attempts = []Attempt{}
	}
	data, err := json.Marshal(attempts)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(q.path), 0o755); err != nil {
		return err
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, q.path)
}
