package xp

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/afribourse/internal/domain"
)

// PostgresStore is the Store backed by PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetUserXP(ctx context.Context, userID string) (*domain.UserXP, error) {
	const stmt = `SELECT user_id, total_xp, level, update_time FROM user_xp WHERE user_id = $1;`

	var u domain.UserXP
	err := s.db.QueryRow(ctx, stmt, userID).Scan(&u.UserID, &u.TotalXP, &u.Level, &u.UpdateTime)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &u, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, userID string, limit int) ([]domain.XPEvent, error) {
	const stmt = `
SELECT user_id, reason, amount, source_ref, create_time
FROM xp_events
WHERE user_id = $1
ORDER BY create_time DESC
LIMIT $2;`

	rows, err := s.db.Query(ctx, stmt, userID, limit)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.XPEvent, error) {
		var e domain.XPEvent
		err := r.Scan(&e.UserID, &e.Reason, &e.Amount, &e.SourceRef, &e.CreateTime)
		return e, err
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

func (t pgTx) InsertEvent(ctx context.Context, e *domain.XPEvent) (bool, error) {
	const stmt = `
INSERT INTO xp_events (user_id, reason, amount, source_ref, create_time)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id, reason, source_ref) DO NOTHING;`

	tag, err := t.tx.Exec(ctx, stmt, e.UserID, e.Reason, e.Amount, e.SourceRef, e.CreateTime)
	if err != nil {
		return false, err
	}

	return tag.RowsAffected() == 1, nil
}

func (t pgTx) LockUserXP(ctx context.Context, userID string, now time.Time) (*domain.UserXP, error) {
	const (
		insStmt = `
INSERT INTO user_xp (user_id, total_xp, level, update_time)
VALUES ($1, 0, 1, $2)
ON CONFLICT (user_id) DO NOTHING;`
		selStmt = `SELECT user_id, total_xp, level, update_time FROM user_xp WHERE user_id = $1 FOR UPDATE;`
	)

	if _, err := t.tx.Exec(ctx, insStmt, userID, now); err != nil {
		return nil, fmt.Errorf("ensure balance: %w", err)
	}

	var u domain.UserXP
	if err := t.tx.QueryRow(ctx, selStmt, userID).Scan(&u.UserID, &u.TotalXP, &u.Level, &u.UpdateTime); err != nil {
		return nil, err
	}

	return &u, nil
}

func (t pgTx) SaveUserXP(ctx context.Context, u *domain.UserXP) error {
	const stmt = `UPDATE user_xp SET total_xp = $2, level = $3, update_time = $4 WHERE user_id = $1;`

	_, err := t.tx.Exec(ctx, stmt, u.UserID, u.TotalXP, u.Level, u.UpdateTime)
	return err
}
