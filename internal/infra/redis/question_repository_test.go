package redis

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"quiz-session-service/internal/domain"
)

type countingLoader struct {
	questions map[string]domain.Question
	loads     atomic.Int64
}

func (l *countingLoader) LoadCategory(_ context.Context, _ string) ([]domain.Question, error) {
	l.loads.Add(1)
	out := make([]domain.Question, 0, len(l.questions))
	for _, q := range l.questions {
		out = append(out, q)
	}
	return out, nil
}

func (l *countingLoader) LoadQuestions(_ context.Context, ids []string) ([]domain.Question, error) {
	l.loads.Add(1)
	out := make([]domain.Question, 0, len(ids))
	for _, id := range ids {
		q, ok := l.questions[id]
		if !ok {
			return nil, domain.ErrQuestionNotFound
		}
		out = append(out, q)
	}
	return out, nil
}

func TestByIDsServesSecondCallFromCache(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	loader := &countingLoader{questions: map[string]domain.Question{
		"q1": {ID: "q1", Prompt: "one", Options: []domain.Option{{ID: "o1", Correct: true}}},
		"q2": {ID: "q2", Prompt: "two", Options: []domain.Option{{ID: "o2", Correct: true}}},
	}}
	repo := NewQuestionRepository(client, loader, 5*time.Minute)

	first, err := repo.ByIDs(ctx, []string{"q1", "q2"})
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	if len(first) != 2 || first[0].ID != "q1" {
		t.Fatalf("unexpected questions %+v", first)
	}

	second, err := repo.ByIDs(ctx, []string{"q1", "q2"})
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if len(second) != 2 || second[1].ID != "q2" {
		t.Fatalf("unexpected questions %+v", second)
	}
	if got := loader.loads.Load(); got != 1 {
		t.Fatalf("expected a single backing load, got %d", got)
	}
}

// gatedLoader blocks every LoadQuestions call on a barrier so two
// cache-miss loads are forced to overlap.
type gatedLoader struct {
	countingLoader
	release chan struct{}
}

func (l *gatedLoader) LoadQuestions(ctx context.Context, ids []string) ([]domain.Question, error) {
	<-l.release
	return l.countingLoader.LoadQuestions(ctx, ids)
}

func TestConcurrentByIDsWithSharedPrefixStayDistinct(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	loader := &gatedLoader{
		countingLoader: countingLoader{questions: map[string]domain.Question{
			"q1": {ID: "q1", Options: []domain.Option{{ID: "o1", Correct: true}}},
			"q2": {ID: "q2", Options: []domain.Option{{ID: "o2", Correct: true}}},
			"q3": {ID: "q3", Options: []domain.Option{{ID: "o3", Correct: true}}},
		}},
		release: make(chan struct{}),
	}
	repo := NewQuestionRepository(client, loader, 5*time.Minute)

	type result struct {
		questions []domain.Question
		err       error
	}
	results := make(map[string]chan result)
	lists := map[string][]string{
		"a": {"q1", "q2"},
		"b": {"q1", "q3"},
	}
	for name, ids := range lists {
		ch := make(chan result, 1)
		results[name] = ch
		go func(ids []string, ch chan result) {
			qs, err := repo.ByIDs(ctx, ids)
			ch <- result{questions: qs, err: err}
		}(ids, ch)
	}

	// Let both misses reach the loader before either can finish.
	time.Sleep(20 * time.Millisecond)
	close(loader.release)

	for name, ids := range lists {
		res := <-results[name]
		if res.err != nil {
			t.Fatalf("load %s: %v", name, res.err)
		}
		if len(res.questions) != len(ids) {
			t.Fatalf("load %s: expected %d questions, got %d", name, len(ids), len(res.questions))
		}
		for i, id := range ids {
			if res.questions[i].ID != id {
				t.Fatalf("load %s: expected %s at %d, got %s", name, id, i, res.questions[i].ID)
			}
		}
	}
}

func TestPickRequiresEnoughQuestions(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	loader := &countingLoader{questions: map[string]domain.Question{
		"q1": {ID: "q1", Options: []domain.Option{{ID: "o1", Correct: true}}},
	}}
	repo := NewQuestionRepository(client, loader, time.Minute)

	if _, err := repo.Pick(ctx, "cat-1", 5); err == nil {
		t.Fatalf("expected error when category is too small")
	}

	picked, err := repo.Pick(ctx, "cat-1", 1)
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if len(picked) != 1 {
		t.Fatalf("expected 1 question, got %d", len(picked))
	}
}
