package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/victornm/afribourse/internal/domain"
)

// Store is the persistent state of the portfolio ledger. Lookups of a single row return
// nil without error when the row does not exist.
type Store interface {
	// CreatePortfolio fails with CodeAlreadyExists when the user already has a portfolio of
	// the same wallet type.
	CreatePortfolio(ctx context.Context, p *domain.Portfolio) error
	// GetPortfolio returns the portfolio with its positions.
	GetPortfolio(ctx context.Context, portfolioID string) (*domain.Portfolio, error)
	ListPortfolios(ctx context.Context, userID string) ([]domain.Portfolio, error)
	// ListActivePortfolios returns every active portfolio with its positions.
	ListActivePortfolios(ctx context.Context) ([]domain.Portfolio, error)

	// ListTransactions returns at most limit transactions, newest first.
	ListTransactions(ctx context.Context, portfolioID string, limit int) ([]domain.Transaction, error)

	// LatestPrices returns the last known price of the tickers that have one.
	LatestPrices(ctx context.Context, tickers []string) (map[string]decimal.Decimal, error)
	// SaveSnapshot overwrites the snapshot of the same portfolio and date.
	SaveSnapshot(ctx context.Context, s domain.Snapshot) error
	// ListSnapshots returns snapshots ordered by date.
	ListSnapshots(ctx context.Context, portfolioID string) ([]domain.Snapshot, error)

	// WithinTx runs fn in a transaction, committed only if fn returns nil.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of reads and writes an order performs atomically.
type Tx interface {
	// LockPortfolio returns the portfolio without positions, locked until the end of the
	// transaction.
	LockPortfolio(ctx context.Context, portfolioID string) (*domain.Portfolio, error)
	GetPosition(ctx context.Context, portfolioID, ticker string) (*domain.Position, error)
	// UserHasTransactions reports whether any portfolio of the user has a transaction.
	UserHasTransactions(ctx context.Context, userID string) (bool, error)

	UpdateCash(ctx context.Context, portfolioID string, cash decimal.Decimal, now time.Time) error
	// SavePosition creates or overwrites the position.
	SavePosition(ctx context.Context, p *domain.Position) error
	DeletePosition(ctx context.Context, portfolioID, ticker string) error
	InsertTransaction(ctx context.Context, t *domain.Transaction) error
}
