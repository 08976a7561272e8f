package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-session-service/internal/domain"
)

// QuestionLoader reads question content from Postgres. It is meant to
// sit behind a caching repository, not to be hit on every submission.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

func (l *QuestionLoader) LoadCategory(ctx context.Context, categoryID string) ([]domain.Question, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, prompt, options, points
		FROM quiz_questions
		WHERE category_id=$1
		ORDER BY sort_order, id`, categoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectQuestions(rows)
}

func (l *QuestionLoader) LoadQuestions(ctx context.Context, ids []string) ([]domain.Question, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, prompt, options, points
		FROM quiz_questions
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	loaded, err := collectQuestions(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]domain.Question, len(loaded))
	for _, q := range loaded {
		byID[q.ID] = q
	}
	resolved := make([]domain.Question, 0, len(ids))
	for _, id := range ids {
		q, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrQuestionNotFound, id)
		}
		resolved = append(resolved, q)
	}
	return resolved, nil
}

func collectQuestions(rows pgxRows) ([]domain.Question, error) {
	var questions []domain.Question
	for rows.Next() {
		var (
			q       domain.Question
			options []byte
		)
		if err := rows.Scan(&q.ID, &q.Prompt, &options, &q.Points); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(options, &q.Options); err != nil {
			return nil, fmt.Errorf("unmarshal options for question %s: %w", q.ID, err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}
