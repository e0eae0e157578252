package quiz

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/afribourse/internal/domain"
	"github.com/victornm/afribourse/internal/errors"
)

const codeUniqueViolation = "23505"

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is the Store backed by PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetModule(ctx context.Context, moduleID string) (*domain.Module, error) {
	const stmt = `
SELECT module_id, slug, title, passing_score, is_published
FROM learning_modules
WHERE module_id = $1 AND is_published;`

	var m domain.Module
	err := s.db.QueryRow(ctx, stmt, moduleID).Scan(&m.ModuleID, &m.Slug, &m.Title, &m.PassingScore, &m.Published)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &m, nil
}

func (s *PostgresStore) ListQuestions(ctx context.Context, moduleID string) ([]domain.Question, error) {
	const stmt = `
SELECT question_id, prompt, options, correct_index, explanation
FROM questions
WHERE module_id = $1
ORDER BY position;`

	rows, err := s.db.Query(ctx, stmt, moduleID)
	if err != nil {
		return nil, err
	}

	qs, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Question, error) {
		var (
			q       domain.Question
			options []byte
		)
		if err := r.Scan(&q.QuestionID, &q.Prompt, &options, &q.CorrectIndex, &q.Explanation); err != nil {
			return domain.Question{}, err
		}
		if err := json.Unmarshal(options, &q.Options); err != nil {
			return domain.Question{}, fmt.Errorf("question %s: options: %w", q.QuestionID, err)
		}
		return q, nil
	})
	if err != nil {
		return nil, err
	}

	valid := qs[:0]
	for _, q := range qs {
		if err := q.Validate(); err != nil {
			slog.WarnContext(ctx, "quiz: skipping invalid question", "module", moduleID, "error", err)
			continue
		}
		valid = append(valid, q)
	}

	return valid, nil
}

const progressColumns = `learner_id, module_id, is_completed, best_score, quiz_attempts, failed_in_cycle,
	last_attempt_at, completed_at, time_spent_seconds, create_time, update_time`

func scanProgress(r pgx.Row) (domain.Progress, error) {
	var (
		p     domain.Progress
		spent int64
	)
	err := r.Scan(&p.LearnerID, &p.ModuleID, &p.IsCompleted, &p.BestScore, &p.QuizAttempts, &p.FailedInCycle,
		&p.LastAttemptAt, &p.CompletedAt, &spent, &p.CreateTime, &p.UpdateTime)
	p.TimeSpent = time.Duration(spent) * time.Second
	return p, err
}

func (s *PostgresStore) GetProgress(ctx context.Context, learnerID, moduleID string) (*domain.Progress, error) {
	stmt := `SELECT ` + progressColumns + ` FROM learning_progress WHERE learner_id = $1 AND module_id = $2;`

	p, err := scanProgress(s.db.QueryRow(ctx, stmt, learnerID, moduleID))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &p, nil
}

func (s *PostgresStore) ListProgress(ctx context.Context, learnerID string) ([]domain.Progress, error) {
	stmt := `SELECT ` + progressColumns + ` FROM learning_progress WHERE learner_id = $1 ORDER BY create_time;`

	rows, err := s.db.Query(ctx, stmt, learnerID)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Progress, error) {
		return scanProgress(r)
	})
}

func (s *PostgresStore) EnsureProgress(ctx context.Context, learnerID, moduleID string, now time.Time) error {
	return ensureProgress(ctx, s.db, learnerID, moduleID, now)
}

func ensureProgress(ctx context.Context, q querier, learnerID, moduleID string, now time.Time) error {
	const stmt = `
INSERT INTO learning_progress (learner_id, module_id, create_time, update_time)
VALUES ($1, $2, $3, $3)
ON CONFLICT (learner_id, module_id) DO NOTHING;`

	_, err := q.Exec(ctx, stmt, learnerID, moduleID, now)
	return err
}

const attemptColumns = `attempt_id, attempt_ref, learner_id, module_id, question_ids, correct, total, score, passed,
	sequence, submit_time`

func scanAttempt(r pgx.Row) (domain.QuizAttempt, error) {
	var a domain.QuizAttempt
	err := r.Scan(&a.AttemptID, &a.AttemptRef, &a.LearnerID, &a.ModuleID, &a.QuestionIDs, &a.Correct, &a.Total,
		&a.Score, &a.Passed, &a.Sequence, &a.SubmitTime)
	return a, err
}

func (s *PostgresStore) GetAttemptByRef(ctx context.Context, ref string) (*domain.QuizAttempt, error) {
	stmt := `SELECT ` + attemptColumns + ` FROM quiz_attempts WHERE attempt_ref = $1;`

	a, err := scanAttempt(s.db.QueryRow(ctx, stmt, ref))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &a, nil
}

func (s *PostgresStore) ListAttempts(ctx context.Context, learnerID, moduleID string) ([]domain.QuizAttempt, error) {
	stmt := `SELECT ` + attemptColumns + `
FROM quiz_attempts
WHERE learner_id = $1 AND module_id = $2
ORDER BY sequence DESC;`

	rows, err := s.db.Query(ctx, stmt, learnerID, moduleID)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.QuizAttempt, error) {
		return scanAttempt(r)
	})
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	if err = fn(ctx, pgTx{tx: tx}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

type pgTx struct {
	tx pgx.Tx
}

func (t pgTx) LockProgress(ctx context.Context, learnerID, moduleID string, now time.Time) (*domain.Progress, error) {
	if err := ensureProgress(ctx, t.tx, learnerID, moduleID, now); err != nil {
		return nil, fmt.Errorf("ensure progress: %w", err)
	}

	stmt := `SELECT ` + progressColumns + `
FROM learning_progress
WHERE learner_id = $1 AND module_id = $2
FOR UPDATE;`

	p, err := scanProgress(t.tx.QueryRow(ctx, stmt, learnerID, moduleID))
	if err != nil {
		return nil, err
	}

	return &p, nil
}

func (t pgTx) InsertAttempt(ctx context.Context, a *domain.QuizAttempt) error {
	const stmt = `
INSERT INTO quiz_attempts (attempt_id, attempt_ref, learner_id, module_id, question_ids, correct, total, score,
	passed, sequence, submit_time)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);`

	_, err := t.tx.Exec(ctx, stmt, a.AttemptID, a.AttemptRef, a.LearnerID, a.ModuleID, a.QuestionIDs, a.Correct,
		a.Total, a.Score, a.Passed, a.Sequence, a.SubmitTime)

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithReason(errors.ReasonAlreadyGraded),
			errors.WithCause(err))
	}

	return err
}

// SaveProgress never moves completed_at once set, whatever the caller passes.
func (t pgTx) SaveProgress(ctx context.Context, p *domain.Progress) error {
	const stmt = `
UPDATE learning_progress
SET is_completed = is_completed OR $3,
	best_score = GREATEST(best_score, $4),
	quiz_attempts = GREATEST(quiz_attempts, $5),
	failed_in_cycle = $6,
	last_attempt_at = $7,
	completed_at = COALESCE(completed_at, $8),
	time_spent_seconds = $9,
	update_time = $10
WHERE learner_id = $1 AND module_id = $2;`

	_, err := t.tx.Exec(ctx, stmt, p.LearnerID, p.ModuleID, p.IsCompleted, p.BestScore, p.QuizAttempts,
		p.FailedInCycle, p.LastAttemptAt, p.CompletedAt, int64(p.TimeSpent/time.Second), p.UpdateTime)
	return err
}
