package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-session-service/internal/domain"
)

const pgUniqueViolation = "23505"

// Store is the Postgres implementation of app.Store. Invariant-bearing
// writes are single conditional statements, so concurrent orchestrator
// calls race on the database row, not on process memory.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) InsertSession(ctx context.Context, session domain.Session, host domain.Player) error {
	questionIDs, err := json.Marshal(session.QuestionIDs)
	if err != nil {
		return fmt.Errorf("marshal question ids: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO quiz_sessions (id, mode, state, access_code, host_user_id, category_id, question_ids, current_question_index, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		session.ID, session.Mode, session.State, session.AccessCode, session.HostUserID,
		session.CategoryID, questionIDs, session.CurrentQuestionIndex, session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	if err := insertPlayer(ctx, tx, host); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) SessionByID(ctx context.Context, id string) (domain.Session, error) {
	return s.scanSession(s.pool.QueryRow(ctx, sessionColumns+` WHERE id=$1`, id))
}

func (s *Store) SessionByCode(ctx context.Context, code string) (domain.Session, error) {
	return s.scanSession(s.pool.QueryRow(ctx, sessionColumns+` WHERE access_code=$1 AND state <> 'finished'`, code))
}

func (s *Store) TransitionState(ctx context.Context, id string, from, to domain.State, at time.Time) (domain.Session, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE quiz_sessions
		SET state=$3,
		    started_at=CASE WHEN $3='in_progress' THEN $4 ELSE started_at END,
		    finished_at=CASE WHEN $3='finished' THEN $4 ELSE finished_at END,
		    updated_at=$4
		WHERE id=$1 AND state=$2
		RETURNING id, mode, state, access_code, host_user_id, category_id, question_ids, current_question_index, created_at, started_at, finished_at, updated_at`,
		id, from, to, at,
	)
	session, err := s.scanSession(row)
	if errors.Is(err, domain.ErrNotFound) {
		// Distinguish a missing session from a lost state race.
		if _, lookupErr := s.SessionByID(ctx, id); lookupErr != nil {
			return domain.Session{}, lookupErr
		}
		return domain.Session{}, domain.ErrInvalidState
	}
	return session, err
}

func (s *Store) BumpQuestionIndex(ctx context.Context, id string, at time.Time) (domain.Session, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE quiz_sessions
		SET current_question_index=current_question_index+1, updated_at=$2
		WHERE id=$1 AND state='in_progress'
		RETURNING id, mode, state, access_code, host_user_id, category_id, question_ids, current_question_index, created_at, started_at, finished_at, updated_at`,
		id, at,
	)
	session, err := s.scanSession(row)
	if errors.Is(err, domain.ErrNotFound) {
		if _, lookupErr := s.SessionByID(ctx, id); lookupErr != nil {
			return domain.Session{}, lookupErr
		}
		return domain.Session{}, domain.ErrInvalidState
	}
	return session, err
}

const seatAttempts = 5

// SeatPlayer assigns the seat inside the INSERT itself: seat_order is
// computed from MAX(seat_order)+1, and the UNIQUE (session_id,
// seat_order) constraint turns a racing duplicate into a 23505 that is
// retried with a freshly computed seat.
func (s *Store) SeatPlayer(ctx context.Context, player domain.Player) (domain.Player, error) {
	for attempt := 0; attempt < seatAttempts; attempt++ {
		if player.UserID != nil {
			existing, err := scanPlayer(s.pool.QueryRow(ctx,
				playerColumns+` WHERE session_id=$1 AND user_id=$2`,
				player.SessionID, *player.UserID,
			))
			if err == nil {
				return existing, nil
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				return domain.Player{}, err
			}
		}

		seated, err := scanPlayer(s.pool.QueryRow(ctx, `
			INSERT INTO quiz_session_players (id, session_id, user_id, display_name, seat_order, score, status, jokers_left, helps_left, joined_at, updated_at)
			VALUES ($1, $2, $3, $4,
			        (SELECT COALESCE(MAX(seat_order)+1, 0) FROM quiz_session_players WHERE session_id=$2),
			        $5, $6, $7, $8, $9, $10)
			RETURNING id, session_id, user_id, display_name, seat_order, score, status, jokers_left, helps_left, joined_at, updated_at`,
			player.ID, player.SessionID, player.UserID, player.DisplayName,
			player.Score, player.Status, player.JokersLeft, player.HelpsLeft, player.JoinedAt, player.UpdatedAt,
		))
		if err == nil {
			return seated, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			continue
		}
		return domain.Player{}, fmt.Errorf("seat player: %w", err)
	}
	return domain.Player{}, fmt.Errorf("could not seat player after %d attempts", seatAttempts)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func insertPlayer(ctx context.Context, db execer, player domain.Player) error {
	_, err := db.Exec(ctx, `
		INSERT INTO quiz_session_players (id, session_id, user_id, display_name, seat_order, score, status, jokers_left, helps_left, joined_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		player.ID, player.SessionID, player.UserID, player.DisplayName,
		player.SeatOrder, player.Score, player.Status, player.JokersLeft, player.HelpsLeft,
		player.JoinedAt, player.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert player: %w", err)
	}
	return nil
}

func (s *Store) PlayersBySession(ctx context.Context, sessionID string) ([]domain.Player, error) {
	rows, err := s.pool.Query(ctx, playerColumns+` WHERE session_id=$1 ORDER BY seat_order`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []domain.Player
	for rows.Next() {
		player, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, player)
	}
	return players, rows.Err()
}

func (s *Store) PlayerByID(ctx context.Context, sessionID, playerID string) (domain.Player, error) {
	player, err := scanPlayer(s.pool.QueryRow(ctx, playerColumns+` WHERE session_id=$1 AND id=$2`, sessionID, playerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Player{}, domain.ErrPlayerNotFound
	}
	return player, err
}

func (s *Store) MarkPlayerLeft(ctx context.Context, sessionID, playerID string, at time.Time) (domain.Player, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE quiz_session_players
		SET status='left', updated_at=CASE WHEN status='left' THEN updated_at ELSE $3 END
		WHERE session_id=$1 AND id=$2
		RETURNING id, session_id, user_id, display_name, seat_order, score, status, jokers_left, helps_left, joined_at, updated_at`,
		sessionID, playerID, at,
	)
	player, err := scanPlayer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Player{}, domain.ErrPlayerNotFound
	}
	return player, err
}

func (s *Store) ConsumeLifeline(ctx context.Context, sessionID, playerID string, kind domain.LifelineKind, at time.Time) (domain.Player, error) {
	var stmt string
	switch kind {
	case domain.LifelineJoker:
		stmt = `UPDATE quiz_session_players
			SET jokers_left=jokers_left-1, updated_at=$3
			WHERE session_id=$1 AND id=$2 AND jokers_left > 0
			RETURNING id, session_id, user_id, display_name, seat_order, score, status, jokers_left, helps_left, joined_at, updated_at`
	case domain.LifelineHelp:
		stmt = `UPDATE quiz_session_players
			SET helps_left=helps_left-1, updated_at=$3
			WHERE session_id=$1 AND id=$2 AND helps_left > 0
			RETURNING id, session_id, user_id, display_name, seat_order, score, status, jokers_left, helps_left, joined_at, updated_at`
	default:
		return domain.Player{}, domain.ErrInvalidState
	}

	player, err := scanPlayer(s.pool.QueryRow(ctx, stmt, sessionID, playerID, at))
	if errors.Is(err, pgx.ErrNoRows) {
		// No row matched: either the player is unknown or the counter hit zero.
		if _, lookupErr := s.PlayerByID(ctx, sessionID, playerID); lookupErr != nil {
			return domain.Player{}, lookupErr
		}
		return domain.Player{}, domain.ErrNoLifelines
	}
	return player, err
}

func (s *Store) InsertAnswer(ctx context.Context, answer domain.Answer, awarded int) (domain.Answer, domain.Player, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Answer{}, domain.Player{}, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO quiz_session_answers (id, session_id, player_id, question_index, submitted_value, is_correct, response_ms, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		answer.ID, answer.SessionID, answer.PlayerID, answer.QuestionIndex,
		answer.SubmittedValue, answer.IsCorrect, answer.ResponseMS, answer.SubmittedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return domain.Answer{}, domain.Player{}, domain.ErrDuplicateAnswer
		}
		return domain.Answer{}, domain.Player{}, fmt.Errorf("insert answer: %w", err)
	}

	player, err := scanPlayer(tx.QueryRow(ctx, `
		UPDATE quiz_session_players
		SET score=score+$3, updated_at=$4
		WHERE session_id=$1 AND id=$2
		RETURNING id, session_id, user_id, display_name, seat_order, score, status, jokers_left, helps_left, joined_at, updated_at`,
		answer.SessionID, answer.PlayerID, awarded, answer.SubmittedAt,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Answer{}, domain.Player{}, domain.ErrPlayerNotFound
	}
	if err != nil {
		return domain.Answer{}, domain.Player{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Answer{}, domain.Player{}, err
	}
	return answer, player, nil
}

func (s *Store) AnswersBySession(ctx context.Context, sessionID string) ([]domain.Answer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, player_id, question_index, submitted_value, is_correct, response_ms, submitted_at
		FROM quiz_session_answers WHERE session_id=$1 ORDER BY question_index, submitted_at`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []domain.Answer
	for rows.Next() {
		var a domain.Answer
		if err := rows.Scan(&a.ID, &a.SessionID, &a.PlayerID, &a.QuestionIndex, &a.SubmittedValue, &a.IsCorrect, &a.ResponseMS, &a.SubmittedAt); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

const sessionColumns = `SELECT id, mode, state, access_code, host_user_id, category_id, question_ids, current_question_index, created_at, started_at, finished_at, updated_at FROM quiz_sessions`

const playerColumns = `SELECT id, session_id, user_id, display_name, seat_order, score, status, jokers_left, helps_left, joined_at, updated_at FROM quiz_session_players`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanSession(row rowScanner) (domain.Session, error) {
	var (
		session     domain.Session
		questionIDs []byte
		startedAt   *time.Time
		finishedAt  *time.Time
	)
	err := row.Scan(
		&session.ID, &session.Mode, &session.State, &session.AccessCode, &session.HostUserID,
		&session.CategoryID, &questionIDs, &session.CurrentQuestionIndex,
		&session.CreatedAt, &startedAt, &finishedAt, &session.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Session{}, err
	}
	if err := json.Unmarshal(questionIDs, &session.QuestionIDs); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal question ids: %w", err)
	}
	if startedAt != nil {
		session.StartedAt = *startedAt
	}
	if finishedAt != nil {
		session.FinishedAt = *finishedAt
	}
	return session, nil
}

func scanPlayer(row rowScanner) (domain.Player, error) {
	var player domain.Player
	err := row.Scan(
		&player.ID, &player.SessionID, &player.UserID, &player.DisplayName,
		&player.SeatOrder, &player.Score, &player.Status, &player.JokersLeft, &player.HelpsLeft,
		&player.JoinedAt, &player.UpdatedAt,
	)
	return player, err
}
