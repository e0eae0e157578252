package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/victornm/afribourse/internal/domain"
	"github.com/victornm/afribourse/internal/errors"
	"github.com/victornm/afribourse/internal/event"
	"github.com/victornm/afribourse/internal/market"
	"github.com/victornm/afribourse/internal/telemetry"
)

const (
	// DefaultInitialBalance is the cash a new portfolio starts with, in FCFA.
	DefaultInitialBalance = 1_000_000

	defaultTransactionLimit = 50
	maxTransactionLimit     = 500
)

type Config struct {
	Store    Store
	EventBus *event.Bus
	Calendar *market.Calendar

	// InitialBalance defaults to DefaultInitialBalance.
	InitialBalance decimal.Decimal

	Now func() time.Time
}

type Service struct {
	store          Store
	eb             *event.Bus
	cal            *market.Calendar
	initialBalance decimal.Decimal
	now            func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		store:          c.Store,
		eb:             c.EventBus,
		cal:            c.Calendar,
		initialBalance: c.InitialBalance,
		now:            c.Now,
	}

	if !s.initialBalance.IsPositive() {
		s.initialBalance = decimal.NewFromInt(DefaultInitialBalance)
	}
	if s.now == nil {
		s.now = time.Now
	}

	return s
}

type OpenPortfolioRequest struct {
	UserID     string
	WalletType domain.WalletType
	// InitialBalance is optional.
	InitialBalance *decimal.Decimal
}

// OpenPortfolio creates the user's portfolio of the given wallet type.
func (s *Service) OpenPortfolio(ctx context.Context, req OpenPortfolioRequest) (*domain.Portfolio, error) {
	if req.UserID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("user is required"))
	}
	if !req.WalletType.Valid() {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid wallet type: %q", req.WalletType))
	}

	balance := s.initialBalance
	if req.InitialBalance != nil {
		if !req.InitialBalance.IsPositive() {
			return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("initial balance must be positive"))
		}
		if err := checkPrecision("initial balance", *req.InitialBalance); err != nil {
			return nil, err
		}
		balance = *req.InitialBalance
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate portfolio id: %w", err)
	}

	now := s.now()
	p := &domain.Portfolio{
		PortfolioID:    id.String(),
		UserID:         req.UserID,
		WalletType:     req.WalletType,
		Status:         domain.PortfolioActive,
		CashBalance:    balance,
		InitialBalance: balance,
		Positions:      []domain.Position{},
		CreateTime:     now,
		UpdateTime:     now,
	}

	if err := s.store.CreatePortfolio(ctx, p); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "ledger: opened portfolio", "user", p.UserID, "portfolio", p.PortfolioID, "wallet", p.WalletType)

	return p, nil
}

type OrderRequest struct {
	UserID      string
	PortfolioID string
	Side        domain.Side
	Ticker      string
	Quantity    int64
	Price       decimal.Decimal
	// AsOf is when the order is placed. Defaults to now, and is ignored for contest wallets.
	AsOf time.Time
}

type OrderResponse struct {
	CashBalance decimal.Decimal
	// Position is nil when the order sold the whole position.
	Position    *domain.Position
	Transaction domain.Transaction
}

// ExecuteBuy buys shares with the portfolio's cash.
func (s *Service) ExecuteBuy(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	req.Side = domain.SideBuy
	return s.ExecuteOrder(ctx, req)
}

// ExecuteSell sells held shares.
func (s *Service) ExecuteSell(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	req.Side = domain.SideSell
	return s.ExecuteOrder(ctx, req)
}

// ExecuteOrder applies the order to the portfolio atomically: either cash, position and
// transaction history all change, or nothing does. Orders placed while the exchange is
// closed are recorded and flagged for execution at the next session.
func (s *Service) ExecuteOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	resp, err := s.executeOrder(ctx, req)
	if err != nil {
		telemetry.Orders.WithLabelValues(string(req.Side), telemetry.Outcome(reasonOf(err))).Inc()
		return nil, err
	}

	telemetry.Orders.WithLabelValues(string(req.Side), telemetry.Outcome("")).Inc()
	return resp, nil
}

// orderTime is when the order counts as placed. Contest wallets are always timed by the
// server so entrants cannot pick their own session.
func orderTime(p *domain.Portfolio, asOf, now time.Time) time.Time {
	if asOf.IsZero() || p.WalletType == domain.WalletConcours {
		return now
	}
	return asOf
}

func (s *Service) executeOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	if !req.Side.Valid() {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid side: %q", req.Side))
	}

	ticker, err := NormalizeTicker(req.Ticker)
	if err != nil {
		return nil, err
	}

	if req.Quantity <= 0 {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("quantity must be positive"))
	}
	if !req.Price.IsPositive() {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("price must be positive"))
	}
	if err := checkPrecision("price", req.Price); err != nil {
		return nil, err
	}

	now := s.now()

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate transaction id: %w", err)
	}

	var (
		resp       OrderResponse
		sess       market.Session
		userID     string
		firstOrder bool
	)

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		p, err := s.lockPortfolio(ctx, tx, req.PortfolioID, req.UserID)
		if err != nil {
			return err
		}

		asOf := orderTime(p, req.AsOf, now)
		sess = s.cal.Session(asOf)

		pos, err := tx.GetPosition(ctx, p.PortfolioID, ticker)
		if err != nil {
			return fmt.Errorf("get position: %w", err)
		}

		b := book{cash: p.CashBalance, position: pos}
		switch req.Side {
		case domain.SideBuy:
			err = b.buy(p.PortfolioID, ticker, req.Quantity, req.Price, now)
		case domain.SideSell:
			err = b.sell(ticker, req.Quantity, req.Price, now)
		}
		if err != nil {
			return err
		}

		has, err := tx.UserHasTransactions(ctx, p.UserID)
		if err != nil {
			return fmt.Errorf("check transactions: %w", err)
		}

		t := domain.Transaction{
			TransactionID: id.String(),
			PortfolioID:   p.PortfolioID,
			Ticker:        ticker,
			Side:          req.Side,
			Quantity:      req.Quantity,
			PricePerShare: req.Price,
			Amount:        req.Price.Mul(decimal.NewFromInt(req.Quantity)),
			CashBefore:    p.CashBalance,
			CashAfter:     b.cash,
			OutOfHours:    sess.OutOfHours,
			WasWeekend:    sess.Weekend,
			ExecutableAt:  s.cal.NextOpen(asOf),
			ExecuteTime:   now,
		}

		if err := tx.UpdateCash(ctx, p.PortfolioID, b.cash, now); err != nil {
			return fmt.Errorf("update cash: %w", err)
		}

		if b.position.Quantity > 0 {
			err = tx.SavePosition(ctx, b.position)
		} else {
			err = tx.DeletePosition(ctx, p.PortfolioID, ticker)
		}
		if err != nil {
			return fmt.Errorf("write position: %w", err)
		}

		if err := tx.InsertTransaction(ctx, &t); err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}

		resp.CashBalance = b.cash
		resp.Transaction = t
		if b.position.Quantity > 0 {
			resp.Position = b.position
		}
		userID = p.UserID
		firstOrder = !has
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "ledger: executed order",
		"portfolio", req.PortfolioID,
		"side", req.Side,
		"ticker", ticker,
		"quantity", req.Quantity,
		"price", req.Price.String(),
		"out_of_hours", sess.OutOfHours,
	)

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventOrderExecuted{
			UserID:      userID,
			Transaction: resp.Transaction,
			FirstOrder:  firstOrder,
		})
	}

	return &resp, nil
}

func (s *Service) lockPortfolio(ctx context.Context, tx Tx, portfolioID, userID string) (*domain.Portfolio, error) {
	p, err := tx.LockPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("lock portfolio: %w", err)
	}

	if p == nil || p.UserID != userID {
		return nil, portfolioNotFound(portfolioID)
	}

	if p.Status != domain.PortfolioActive {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonPortfolioInactive),
			errors.WithMessagef("portfolio %s is %s", portfolioID, p.Status),
		)
	}

	return p, nil
}

type GetPortfolioRequest struct {
	UserID      string
	PortfolioID string
}

// GetPortfolio returns one of the user's portfolios with its positions.
func (s *Service) GetPortfolio(ctx context.Context, req GetPortfolioRequest) (*domain.Portfolio, error) {
	p, err := s.store.GetPortfolio(ctx, req.PortfolioID)
	if err != nil {
		return nil, fmt.Errorf("get portfolio: %w", err)
	}

	if p == nil || p.UserID != req.UserID {
		return nil, portfolioNotFound(req.PortfolioID)
	}

	return p, nil
}

type ListPortfoliosRequest struct {
	UserID string
}

func (s *Service) ListPortfolios(ctx context.Context, req ListPortfoliosRequest) ([]domain.Portfolio, error) {
	ps, err := s.store.ListPortfolios(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("list portfolios: %w", err)
	}

	return ps, nil
}

type ListTransactionsRequest struct {
	UserID      string
	PortfolioID string
	// Limit defaults to 50, at most 500.
	Limit int
}

// ListTransactions returns the portfolio's most recent transactions, newest first.
func (s *Service) ListTransactions(ctx context.Context, req ListTransactionsRequest) ([]domain.Transaction, error) {
	if _, err := s.GetPortfolio(ctx, GetPortfolioRequest{UserID: req.UserID, PortfolioID: req.PortfolioID}); err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultTransactionLimit
	}
	limit = min(limit, maxTransactionLimit)

	ts, err := s.store.ListTransactions(ctx, req.PortfolioID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	return ts, nil
}

type HistoryRequest struct {
	UserID      string
	PortfolioID string
}

// History returns the daily valuations of the portfolio, oldest first.
func (s *Service) History(ctx context.Context, req HistoryRequest) ([]domain.Snapshot, error) {
	if _, err := s.GetPortfolio(ctx, GetPortfolioRequest{UserID: req.UserID, PortfolioID: req.PortfolioID}); err != nil {
		return nil, err
	}

	ss, err := s.store.ListSnapshots(ctx, req.PortfolioID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	return ss, nil
}

type SnapshotPortfoliosRequest struct {
	// AsOf selects the exchange-local day of the snapshots. Defaults to now.
	AsOf time.Time
}

type SnapshotPortfoliosResponse struct {
	Date      time.Time
	Snapshots int
}

// SnapshotPortfolios records the value of every active portfolio for the day. Running it
// again for the same day overwrites that day's snapshots.
func (s *Service) SnapshotPortfolios(ctx context.Context, req SnapshotPortfoliosRequest) (*SnapshotPortfoliosResponse, error) {
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = s.now()
	}
	day := s.cal.Day(asOf)

	ps, err := s.store.ListActivePortfolios(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active portfolios: %w", err)
	}

	seen := make(map[string]struct{})
	var tickers []string
	for _, p := range ps {
		for _, pos := range p.Positions {
			if _, ok := seen[pos.Ticker]; !ok {
				seen[pos.Ticker] = struct{}{}
				tickers = append(tickers, pos.Ticker)
			}
		}
	}

	prices, err := s.store.LatestPrices(ctx, tickers)
	if err != nil {
		return nil, fmt.Errorf("latest prices: %w", err)
	}

	for _, p := range ps {
		holdings := valuation(p.Positions, prices)
		snap := domain.Snapshot{
			PortfolioID:   p.PortfolioID,
			Date:          day,
			Cash:          p.CashBalance,
			HoldingsValue: holdings,
			TotalValue:    p.CashBalance.Add(holdings),
		}

		if err := s.store.SaveSnapshot(ctx, snap); err != nil {
			return nil, fmt.Errorf("save snapshot %s: %w", p.PortfolioID, err)
		}
	}

	slog.InfoContext(ctx, "ledger: snapshotted portfolios", "date", day.Format(time.DateOnly), "count", len(ps))

	return &SnapshotPortfoliosResponse{Date: day, Snapshots: len(ps)}, nil
}

func portfolioNotFound(id string) error {
	return errors.New(errors.CodeNotFound,
		errors.WithReason(errors.ReasonPortfolioNotFound),
		errors.WithMessagef("portfolio not found: %s", id),
	)
}

func reasonOf(err error) string {
	e := errors.Convert(err)
	if e.Reason != "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("code_%d", e.Code)
}
