package xp

import (
	"context"
	"time"

	"github.com/victornm/afribourse/internal/domain"
)

// Store is the persistent XP ledger.
type Store interface {
	// GetUserXP returns nil without error for users who never earned XP.
	GetUserXP(ctx context.Context, userID string) (*domain.UserXP, error)
	// ListEvents returns at most limit events, newest first.
	ListEvents(ctx context.Context, userID string, limit int) ([]domain.XPEvent, error)

	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type Tx interface {
	// InsertEvent reports false when the user already earned the reason for the source.
	InsertEvent(ctx context.Context, e *domain.XPEvent) (bool, error)
	// LockUserXP returns the user's balance locked until the end of the transaction,
	// creating an empty one if needed.
	LockUserXP(ctx context.Context, userID string, now time.Time) (*domain.UserXP, error)
	SaveUserXP(ctx context.Context, u *domain.UserXP) error
}
