package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"quiz-attempt-engine/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

const attemptColumns = `id, quiz_id, user_id, status, started_at, submitted_at, ordinal`

const uniqueViolation = "23505"

// AttemptStore keeps attempt records in Postgres and implements app.AttemptAPI.
// started_at is stamped by the database clock. A partial unique index keeps at most one
// in-progress attempt per user and quiz.
type AttemptStore struct {
	pool    *pgxpool.Pool
	quizzes *QuizLoader
}

func NewAttemptStore(pool *pgxpool.Pool, quizzes *QuizLoader) *AttemptStore {
	return &AttemptStore{pool: pool, quizzes: quizzes}
}

func (s *AttemptStore) StartAttempt(ctx context.Context, userID, quizID string) (domain.Attempt, error) {
	quiz, err := s.quizzes.LoadQuiz(ctx, quizID)
	if err != nil {
		return domain.Attempt{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serialise starts for one user+quiz so the limit check and the insert agree.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID+":"+quizID); err != nil {
		return domain.Attempt{}, fmt.Errorf("lock attempts: %w", err)
	}

	current, err := scanAttempt(tx.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE user_id=$1 AND quiz_id=$2 AND status='in_progress'`,
		userID, quizID))
	if err == nil {
		return current, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Attempt{}, fmt.Errorf("current attempt: %w", err)
	}

	var submitted int
	err = tx.QueryRow(ctx,
		`SELECT count(*) FROM attempts WHERE user_id=$1 AND quiz_id=$2 AND status IN ('submitted','graded')`,
		userID, quizID).Scan(&submitted)
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("count attempts: %w", err)
	}
	if !quiz.IsPractice && quiz.MaxAttempts > 0 && submitted >= quiz.MaxAttempts {
		return domain.Attempt{}, domain.ErrPolicyDenied
	}

	attempt, err := scanAttempt(tx.QueryRow(ctx,
		`INSERT INTO attempts (id, quiz_id, user_id, status, started_at, ordinal)
		 VALUES ($1, $2, $3, 'in_progress', now(),
		         (SELECT COALESCE(MAX(ordinal), 0) + 1 FROM attempts WHERE user_id=$3 AND quiz_id=$2))
		 RETURNING `+attemptColumns,
		uuid.NewString(), quizID, userID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			// Another writer won; hand back its attempt.
			_ = tx.Rollback(ctx)
			existing, getErr := s.GetCurrentAttempt(ctx, userID, quizID)
			if getErr == nil && existing != nil {
				return *existing, nil
			}
		}
		return domain.Attempt{}, fmt.Errorf("insert attempt: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Attempt{}, fmt.Errorf("commit: %w", err)
	}
	return attempt, nil
}

func (s *AttemptStore) GetCurrentAttempt(ctx context.Context, userID, quizID string) (*domain.Attempt, error) {
	attempt, err := scanAttempt(s.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE user_id=$1 AND quiz_id=$2 AND status='in_progress'`,
		userID, quizID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("current attempt: %w", err)
	}
	return &attempt, nil
}

func (s *AttemptStore) ListAttempts(ctx context.Context, userID, quizID string) ([]domain.Attempt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE user_id=$1 AND quiz_id=$2 ORDER BY ordinal`,
		userID, quizID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	attempts := []domain.Attempt{}
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		attempts = append(attempts, attempt)
	}
	return attempts, rows.Err()
}

// SubmitAttempt moves an in-progress attempt to submitted and stores the answer payload in
// the same transaction.
func (s *AttemptStore) SubmitAttempt(ctx context.Context, userID, attemptID string, answers []domain.AnswerPayload) (domain.Attempt, error) {
	if answers == nil {
		answers = []domain.AnswerPayload{}
	}
	data, err := json.Marshal(answers)
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("marshal answers: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	attempt, err := scanAttempt(tx.QueryRow(ctx,
		`UPDATE attempts SET status='submitted', submitted_at=now()
		 WHERE id=$1 AND user_id=$2 AND status='in_progress'
		 RETURNING `+attemptColumns,
		attemptID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM attempts WHERE id=$1 AND user_id=$2`, attemptID, userID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Attempt{}, domain.ErrAttemptNotFound
		}
		if err != nil {
			return domain.Attempt{}, fmt.Errorf("attempt status: %w", err)
		}
		return domain.Attempt{}, domain.ErrAlreadySubmitted
	}
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("submit attempt: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO attempt_answers (attempt_id, answers) VALUES ($1, $2::jsonb)`,
		attemptID, string(data)); err != nil {
		return domain.Attempt{}, fmt.Errorf("store answers: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Attempt{}, fmt.Errorf("commit: %w", err)
	}
	return attempt, nil
}

// MarkGraded records the grader's verdict on a submitted attempt.
func (s *AttemptStore) MarkGraded(ctx context.Context, attemptID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE attempts SET status='graded' WHERE id=$1 AND status='submitted'`, attemptID)
	if err != nil {
		return fmt.Errorf("mark graded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAttemptNotFound
	}
	return nil
}

// SubmittedAnswers returns the payload stored with a submission.
func (s *AttemptStore) SubmittedAnswers(ctx context.Context, attemptID string) ([]domain.AnswerPayload, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT answers FROM attempt_answers WHERE attempt_id=$1`, attemptID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load answers: %w", err)
	}
	var answers []domain.AnswerPayload
	if err := json.Unmarshal(raw, &answers); err != nil {
		return nil, fmt.Errorf("unmarshal answers: %w", err)
	}
	return answers, nil
}

func scanAttempt(row pgx.Row) (domain.Attempt, error) {
	var (
		attempt domain.Attempt
		status  string
	)
	err := row.Scan(&attempt.ID, &attempt.QuizID, &attempt.UserID, &status,
		&attempt.StartedAt, &attempt.SubmittedAt, &attempt.Ordinal)
	if err != nil {
		return domain.Attempt{}, err
	}
	attempt.Status = domain.AttemptStatus(status)
	attempt.StartedAt = attempt.StartedAt.UTC()
	if attempt.SubmittedAt != nil {
		t := attempt.SubmittedAt.UTC()
		attempt.SubmittedAt = &t
	}
	return attempt, nil
}
