package memory

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quiz-session-service/internal/domain"
)

// QuestionLoader fetches question content from a backing store.
type QuestionLoader interface {
	// LoadCategory returns every active question of a category.
	LoadCategory(ctx context.Context, categoryID string) ([]domain.Question, error)
	// LoadQuestions resolves questions by id, preserving order.
	LoadQuestions(ctx context.Context, ids []string) ([]domain.Question, error)
}

// QuestionRepository caches loaded questions with TTL to avoid repeated
// backing-store hits while many sessions play the same category.
type QuestionRepository struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu         sync.RWMutex
	categories map[string]cachedCategory
	byID       map[string]domain.Question
}

type cachedCategory struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewQuestionRepository(loader QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		loader:     loader,
		ttl:        ttl,
		clock:      time.Now,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
		categories: make(map[string]cachedCategory),
		byID:       make(map[string]domain.Question),
	}
}

func (r *QuestionRepository) Pick(ctx context.Context, categoryID string, count int) ([]domain.Question, error) {
	questions, err := r.category(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	if len(questions) < count {
		return nil, fmt.Errorf("%w: category %q has %d questions, need %d", domain.ErrQuestionNotFound, categoryID, len(questions), count)
	}
	picked := make([]domain.Question, count)
	copy(picked, questions[:count])
	return picked, nil
}

func (r *QuestionRepository) ByIDs(ctx context.Context, ids []string) ([]domain.Question, error) {
	questions := make([]domain.Question, 0, len(ids))
	var missing []string

	r.mu.RLock()
	for _, id := range ids {
		if q, ok := r.byID[id]; ok {
			questions = append(questions, q)
		} else {
			missing = append(missing, id)
		}
	}
	r.mu.RUnlock()

	if len(missing) == 0 {
		return questions, nil
	}

	loaded, err := r.loader.LoadQuestions(ctx, ids)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	for _, q := range loaded {
		r.byID[q.ID] = q
	}
	r.mu.Unlock()
	return loaded, nil
}

func (r *QuestionRepository) category(ctx context.Context, categoryID string) ([]domain.Question, error) {
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.categories[categoryID]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.questions, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(categoryID, func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.categories[categoryID]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.questions, nil
		}
		r.mu.RUnlock()

		questions, err := r.loader.LoadCategory(ctx, categoryID)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.categories[categoryID] = cachedCategory{
			questions: questions,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		for _, q := range questions {
			r.byID[q.ID] = q
		}
		r.mu.Unlock()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticQuestionLoader is a loader backed by an in-memory map (useful
// for tests/demos and redis-less runs).
type StaticQuestionLoader struct {
	categories map[string][]domain.Question
}

func NewStaticQuestionLoader(categories map[string][]domain.Question) *StaticQuestionLoader {
	return &StaticQuestionLoader{categories: categories}
}

func (l *StaticQuestionLoader) LoadCategory(_ context.Context, categoryID string) ([]domain.Question, error) {
	questions, ok := l.categories[categoryID]
	if !ok {
		return nil, domain.ErrQuestionNotFound
	}
	return questions, nil
}

func (l *StaticQuestionLoader) LoadQuestions(_ context.Context, ids []string) ([]domain.Question, error) {
	index := make(map[string]domain.Question)
	for _, questions := range l.categories {
		for _, q := range questions {
			index[q.ID] = q
		}
	}
	resolved := make([]domain.Question, 0, len(ids))
	for _, id := range ids {
		q, ok := index[id]
		if !ok {
			return nil, domain.ErrQuestionNotFound
		}
		resolved = append(resolved, q)
	}
	return resolved, nil
}
