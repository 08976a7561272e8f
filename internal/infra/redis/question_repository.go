package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quiz-session-service/internal/domain"
)

// QuestionLoader fetches question content from a backing store (e.g.,
// Postgres).
type QuestionLoader interface {
	LoadCategory(ctx context.Context, categoryID string) ([]domain.Question, error)
	LoadQuestions(ctx context.Context, ids []string) ([]domain.Question, error)
}

// QuestionRepository caches questions in Redis (one JSON value per
// question id) and falls back to the loader on cache miss, so every
// instance scoring answers for the same session hits the backing store
// once.
type QuestionRepository struct {
	client *redis.Client
	loader QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewQuestionRepository(client *redis.Client, loader QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuestionRepository) Pick(ctx context.Context, categoryID string, count int) ([]domain.Question, error) {
	questions, err := r.loader.LoadCategory(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	if len(questions) < count {
		return nil, domain.ErrQuestionNotFound
	}
	picked := questions[:count]
	r.fill(ctx, picked)
	return picked, nil
}

func (r *QuestionRepository) ByIDs(ctx context.Context, ids []string) ([]domain.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}

	cached, err := r.client.MGet(ctx, keys...).Result()
	if err == nil {
		questions := make([]domain.Question, 0, len(ids))
		complete := true
		for _, raw := range cached {
			s, ok := raw.(string)
			if !ok {
				complete = false
				break
			}
			var q domain.Question
			if err := json.Unmarshal([]byte(s), &q); err != nil {
				complete = false
				break
			}
			questions = append(questions, q)
		}
		if complete {
			return questions, nil
		}
	}

	// Load the full list once per concurrent miss and refill the cache.
	// The flight key covers the whole id list; two lists sharing a prefix
	// must not share a result.
	result, err, _ := r.sf.Do(strings.Join(ids, ","), func() (interface{}, error) {
		questions, err := r.loader.LoadQuestions(ctx, ids)
		if err != nil {
			return nil, err
		}
		r.fill(ctx, questions)
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (r *QuestionRepository) fill(ctx context.Context, questions []domain.Question) {
	pipe := r.client.Pipeline()
	for _, q := range questions {
		data, err := json.Marshal(q)
		if err != nil {
			continue
		}
		pipe.Set(ctx, r.key(q.ID), data, r.ttlWithJitter())
	}
	_, _ = pipe.Exec(ctx)
}

func (r *QuestionRepository) key(id string) string {
	return "quiz:question:" + id
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
