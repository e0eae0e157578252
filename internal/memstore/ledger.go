package memstore

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/victornm/afribourse/internal/domain"
	"github.com/victornm/afribourse/internal/errors"
	"github.com/victornm/afribourse/internal/ledger"
)

// Ledger implements ledger.Store.
type Ledger struct {
	mu           sync.Mutex
	state        ledgerState
	prices       map[string]decimal.Decimal
	snapshots    map[string]map[string]domain.Snapshot
	transactions []domain.Transaction
}

// ledgerState is what an order may change, copied for every transaction.
type ledgerState struct {
	portfolios map[string]domain.Portfolio
	positions  map[string]map[string]domain.Position
	added      []domain.Transaction
}

var _ ledger.Store = (*Ledger)(nil)

func NewLedger() *Ledger {
	return &Ledger{
		state: ledgerState{
			portfolios: make(map[string]domain.Portfolio),
			positions:  make(map[string]map[string]domain.Position),
		},
		prices:    make(map[string]decimal.Decimal),
		snapshots: make(map[string]map[string]domain.Snapshot),
	}
}

// SetPrice records the latest price of a ticker.
func (s *Ledger) SetPrice(ticker string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prices[ticker] = price
}

// SetStatus changes the status of a portfolio, if it exists.
func (s *Ledger) SetStatus(portfolioID string, status domain.PortfolioStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.state.portfolios[portfolioID]; ok {
		p.Status = status
		s.state.portfolios[portfolioID] = p
	}
}

func (s *Ledger) CreatePortfolio(_ context.Context, p *domain.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.state.portfolios {
		if o.UserID == p.UserID && o.WalletType == p.WalletType {
			return errors.New(errors.CodeAlreadyExists,
				errors.WithMessagef("user %s already has a %s portfolio", p.UserID, p.WalletType),
			)
		}
	}

	v := *p
	v.Positions = nil
	s.state.portfolios[p.PortfolioID] = v
	return nil
}

func (s *Ledger) GetPortfolio(_ context.Context, portfolioID string) (*domain.Portfolio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.state.portfolios[portfolioID]
	if !ok {
		return nil, nil
	}

	p.Positions = s.positionsOf(portfolioID)
	return &p, nil
}

func (s *Ledger) positionsOf(portfolioID string) []domain.Position {
	ps := make([]domain.Position, 0, len(s.state.positions[portfolioID]))
	for _, p := range s.state.positions[portfolioID] {
		ps = append(ps, p)
	}

	slices.SortFunc(ps, func(a, b domain.Position) int {
		return cmp.Compare(a.Ticker, b.Ticker)
	})
	return ps
}

func (s *Ledger) ListPortfolios(_ context.Context, userID string) ([]domain.Portfolio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ps []domain.Portfolio
	for _, p := range s.state.portfolios {
		if p.UserID == userID {
			ps = append(ps, p)
		}
	}

	slices.SortFunc(ps, func(a, b domain.Portfolio) int {
		return a.CreateTime.Compare(b.CreateTime)
	})
	return ps, nil
}

func (s *Ledger) ListActivePortfolios(_ context.Context) ([]domain.Portfolio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ps []domain.Portfolio
	for _, p := range s.state.portfolios {
		if p.Status == domain.PortfolioActive {
			p.Positions = s.positionsOf(p.PortfolioID)
			ps = append(ps, p)
		}
	}

	slices.SortFunc(ps, func(a, b domain.Portfolio) int {
		return cmp.Compare(a.PortfolioID, b.PortfolioID)
	})
	return ps, nil
}

func (s *Ledger) ListTransactions(_ context.Context, portfolioID string, limit int) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ts []domain.Transaction
	for i := len(s.transactions) - 1; i >= 0 && len(ts) < limit; i-- {
		if t := s.transactions[i]; t.PortfolioID == portfolioID {
			ts = append(ts, t)
		}
	}
	return ts, nil
}

func (s *Ledger) LatestPrices(_ context.Context, tickers []string) (map[string]decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prices := make(map[string]decimal.Decimal, len(tickers))
	for _, t := range tickers {
		if p, ok := s.prices[t]; ok {
			prices[t] = p
		}
	}
	return prices, nil
}

func (s *Ledger) SaveSnapshot(_ context.Context, snap domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapshots[snap.PortfolioID] == nil {
		s.snapshots[snap.PortfolioID] = make(map[string]domain.Snapshot)
	}
	s.snapshots[snap.PortfolioID][snap.Date.Format(time.DateOnly)] = snap
	return nil
}

func (s *Ledger) ListSnapshots(_ context.Context, portfolioID string) ([]domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ss := slices.Collect(maps.Values(s.snapshots[portfolioID]))
	slices.SortFunc(ss, func(a, b domain.Snapshot) int {
		return a.Date.Compare(b.Date)
	})
	return ss, nil
}

func (s *Ledger) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &ledgerTx{
		state: ledgerState{
			portfolios: maps.Clone(s.state.portfolios),
			positions:  make(map[string]map[string]domain.Position, len(s.state.positions)),
		},
		userOf: func(portfolioID string) string {
			return s.state.portfolios[portfolioID].UserID
		},
		history: s.transactions,
	}
	for id, ps := range s.state.positions {
		tx.state.positions[id] = maps.Clone(ps)
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.transactions = append(s.transactions, tx.state.added...)
	tx.state.added = nil
	s.state = tx.state
	return nil
}

type ledgerTx struct {
	state   ledgerState
	userOf  func(portfolioID string) string
	history []domain.Transaction
}

func (t *ledgerTx) LockPortfolio(_ context.Context, portfolioID string) (*domain.Portfolio, error) {
	p, ok := t.state.portfolios[portfolioID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (t *ledgerTx) GetPosition(_ context.Context, portfolioID, ticker string) (*domain.Position, error) {
	p, ok := t.state.positions[portfolioID][ticker]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (t *ledgerTx) UserHasTransactions(_ context.Context, userID string) (bool, error) {
	for _, tr := range slices.Concat(t.history, t.state.added) {
		if t.userOf(tr.PortfolioID) == userID {
			return true, nil
		}
	}
	return false, nil
}

func (t *ledgerTx) UpdateCash(_ context.Context, portfolioID string, cash decimal.Decimal, now time.Time) error {
	p, ok := t.state.portfolios[portfolioID]
	if !ok {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("portfolio not found: %s", portfolioID))
	}

	p.CashBalance = cash
	p.UpdateTime = now
	t.state.portfolios[portfolioID] = p
	return nil
}

func (t *ledgerTx) SavePosition(_ context.Context, p *domain.Position) error {
	if t.state.positions[p.PortfolioID] == nil {
		t.state.positions[p.PortfolioID] = make(map[string]domain.Position)
	}
	t.state.positions[p.PortfolioID][p.Ticker] = *p
	return nil
}

func (t *ledgerTx) DeletePosition(_ context.Context, portfolioID, ticker string) error {
	delete(t.state.positions[portfolioID], ticker)
	return nil
}

func (t *ledgerTx) InsertTransaction(_ context.Context, tr *domain.Transaction) error {
	t.state.added = append(t.state.added, *tr)
	return nil
}
