package ledger

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/victornm/afribourse/internal/domain"
	"github.com/victornm/afribourse/internal/errors"
)

const codeUniqueViolation = "23505"

// PostgresStore is the Store backed by PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreatePortfolio(ctx context.Context, p *domain.Portfolio) error {
	const stmt = `
INSERT INTO portfolios (portfolio_id, user_id, wallet_type, status, cash_balance, initial_balance, create_time, update_time)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`

	_, err := s.db.Exec(ctx, stmt, p.PortfolioID, p.UserID, p.WalletType, p.Status, p.CashBalance, p.InitialBalance,
		p.CreateTime, p.UpdateTime)

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("user %s already has a %s portfolio", p.UserID, p.WalletType),
			errors.WithCause(err))
	}

	return err
}

const portfolioColumns = `portfolio_id, user_id, wallet_type, status, cash_balance, initial_balance, create_time, update_time`

func scanPortfolio(r pgx.Row) (domain.Portfolio, error) {
	var p domain.Portfolio
	err := r.Scan(&p.PortfolioID, &p.UserID, &p.WalletType, &p.Status, &p.CashBalance, &p.InitialBalance,
		&p.CreateTime, &p.UpdateTime)
	return p, err
}

func (s *PostgresStore) GetPortfolio(ctx context.Context, portfolioID string) (*domain.Portfolio, error) {
	stmt := `SELECT ` + portfolioColumns + ` FROM portfolios WHERE portfolio_id = $1;`

	p, err := scanPortfolio(s.db.QueryRow(ctx, stmt, portfolioID))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	const posStmt = `
SELECT portfolio_id, ticker, quantity, average_buy_price, update_time
FROM positions
WHERE portfolio_id = $1
ORDER BY ticker;`

	rows, err := s.db.Query(ctx, posStmt, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}

	p.Positions, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Position, error) {
		return scanPosition(r)
	})
	if err != nil {
		return nil, fmt.Errorf("collect positions: %w", err)
	}

	return &p, nil
}

func (s *PostgresStore) ListPortfolios(ctx context.Context, userID string) ([]domain.Portfolio, error) {
	stmt := `SELECT ` + portfolioColumns + ` FROM portfolios WHERE user_id = $1 ORDER BY create_time;`

	rows, err := s.db.Query(ctx, stmt, userID)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Portfolio, error) {
		return scanPortfolio(r)
	})
}

func (s *PostgresStore) ListActivePortfolios(ctx context.Context) ([]domain.Portfolio, error) {
	stmt := `SELECT ` + portfolioColumns + ` FROM portfolios WHERE status = $1 ORDER BY portfolio_id;`

	rows, err := s.db.Query(ctx, stmt, domain.PortfolioActive)
	if err != nil {
		return nil, err
	}

	ps, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Portfolio, error) {
		return scanPortfolio(r)
	})
	if err != nil {
		return nil, err
	}

	const posStmt = `
SELECT p.portfolio_id, p.ticker, p.quantity, p.average_buy_price, p.update_time
FROM positions p
JOIN portfolios pf ON pf.portfolio_id = p.portfolio_id
WHERE pf.status = $1;`

	rows, err = s.db.Query(ctx, posStmt, domain.PortfolioActive)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}

	positions, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Position, error) {
		return scanPosition(r)
	})
	if err != nil {
		return nil, fmt.Errorf("collect positions: %w", err)
	}

	byPortfolio := make(map[string][]domain.Position)
	for _, pos := range positions {
		byPortfolio[pos.PortfolioID] = append(byPortfolio[pos.PortfolioID], pos)
	}
	for i := range ps {
		ps[i].Positions = byPortfolio[ps[i].PortfolioID]
	}

	return ps, nil
}

const transactionColumns = `transaction_id, portfolio_id, ticker, side, quantity, price_per_share, amount,
	cash_before, cash_after, out_of_hours, was_weekend, executable_at, execute_time`

func (s *PostgresStore) ListTransactions(ctx context.Context, portfolioID string, limit int) ([]domain.Transaction, error) {
	stmt := `SELECT ` + transactionColumns + `
FROM transactions
WHERE portfolio_id = $1
ORDER BY execute_time DESC, transaction_id DESC
LIMIT $2;`

	rows, err := s.db.Query(ctx, stmt, portfolioID, limit)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Transaction, error) {
		var t domain.Transaction
		err := r.Scan(&t.TransactionID, &t.PortfolioID, &t.Ticker, &t.Side, &t.Quantity, &t.PricePerShare, &t.Amount,
			&t.CashBefore, &t.CashAfter, &t.OutOfHours, &t.WasWeekend, &t.ExecutableAt, &t.ExecuteTime)
		return t, err
	})
}

func (s *PostgresStore) LatestPrices(ctx context.Context, tickers []string) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal, len(tickers))
	if len(tickers) == 0 {
		return prices, nil
	}

	const stmt = `
SELECT ticker, current_price
FROM stocks
WHERE ticker = ANY($1) AND current_price IS NOT NULL;`

	rows, err := s.db.Query(ctx, stmt, tickers)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ticker string
			price  decimal.Decimal
		)
		if err := rows.Scan(&ticker, &price); err != nil {
			return nil, err
		}
		prices[ticker] = price
	}

	return prices, rows.Err()
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap domain.Snapshot) error {
	const stmt = `
INSERT INTO portfolio_snapshots (portfolio_id, snapshot_date, cash, holdings_value, total_value)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (portfolio_id, snapshot_date) DO UPDATE
SET cash = EXCLUDED.cash, holdings_value = EXCLUDED.holdings_value, total_value = EXCLUDED.total_value;`

	_, err := s.db.Exec(ctx, stmt, snap.PortfolioID, snap.Date.Format(time.DateOnly), snap.Cash, snap.HoldingsValue,
		snap.TotalValue)
	return err
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, portfolioID string) ([]domain.Snapshot, error) {
	const stmt = `
SELECT portfolio_id, snapshot_date, cash, holdings_value, total_value
FROM portfolio_snapshots
WHERE portfolio_id = $1
ORDER BY snapshot_date;`

	rows, err := s.db.Query(ctx, stmt, portfolioID)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Snapshot, error) {
		var snap domain.Snapshot
		err := r.Scan(&snap.PortfolioID, &snap.Date, &snap.Cash, &snap.HoldingsValue, &snap.TotalValue)
		return snap, err
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

func (t pgTx) LockPortfolio(ctx context.Context, portfolioID string) (*domain.Portfolio, error) {
	stmt := `SELECT ` + portfolioColumns + ` FROM portfolios WHERE portfolio_id = $1 FOR UPDATE;`

	p, err := scanPortfolio(t.tx.QueryRow(ctx, stmt, portfolioID))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &p, nil
}

func scanPosition(r pgx.Row) (domain.Position, error) {
	var p domain.Position
	err := r.Scan(&p.PortfolioID, &p.Ticker, &p.Quantity, &p.AverageBuyPrice, &p.UpdateTime)
	return p, err
}

func (t pgTx) GetPosition(ctx context.Context, portfolioID, ticker string) (*domain.Position, error) {
	const stmt = `
SELECT portfolio_id, ticker, quantity, average_buy_price, update_time
FROM positions
WHERE portfolio_id = $1 AND ticker = $2;`

	p, err := scanPosition(t.tx.QueryRow(ctx, stmt, portfolioID, ticker))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &p, nil
}

func (t pgTx) UserHasTransactions(ctx context.Context, userID string) (bool, error) {
	const stmt = `
SELECT EXISTS (
	SELECT 1
	FROM transactions tr
	JOIN portfolios p ON p.portfolio_id = tr.portfolio_id
	WHERE p.user_id = $1
);`

	var ok bool
	err := t.tx.QueryRow(ctx, stmt, userID).Scan(&ok)
	return ok, err
}

func (t pgTx) UpdateCash(ctx context.Context, portfolioID string, cash decimal.Decimal, now time.Time) error {
	const stmt = `UPDATE portfolios SET cash_balance = $2, update_time = $3 WHERE portfolio_id = $1;`

	_, err := t.tx.Exec(ctx, stmt, portfolioID, cash, now)
	return err
}

func (t pgTx) SavePosition(ctx context.Context, p *domain.Position) error {
	const stmt = `
INSERT INTO positions (portfolio_id, ticker, quantity, average_buy_price, update_time)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (portfolio_id, ticker) DO UPDATE
SET quantity = EXCLUDED.quantity, average_buy_price = EXCLUDED.average_buy_price, update_time = EXCLUDED.update_time;`

	_, err := t.tx.Exec(ctx, stmt, p.PortfolioID, p.Ticker, p.Quantity, p.AverageBuyPrice, p.UpdateTime)
	return err
}

func (t pgTx) DeletePosition(ctx context.Context, portfolioID, ticker string) error {
	const stmt = `DELETE FROM positions WHERE portfolio_id = $1 AND ticker = $2;`

	_, err := t.tx.Exec(ctx, stmt, portfolioID, ticker)
	return err
}

func (t pgTx) InsertTransaction(ctx context.Context, tr *domain.Transaction) error {
	const stmt = `
INSERT INTO transactions (transaction_id, portfolio_id, ticker, side, quantity, price_per_share, amount,
	cash_before, cash_after, out_of_hours, was_weekend, executable_at, execute_time)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13);`

	_, err := t.tx.Exec(ctx, stmt, tr.TransactionID, tr.PortfolioID, tr.Ticker, tr.Side, tr.Quantity, tr.PricePerShare,
		tr.Amount, tr.CashBefore, tr.CashAfter, tr.OutOfHours, tr.WasWeekend, tr.ExecutableAt, tr.ExecuteTime)
	return err
}
