package xp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/victornm/afribourse/internal/domain"
	"github.com/victornm/afribourse/internal/errors"
	"github.com/victornm/afribourse/internal/event"
	"github.com/victornm/afribourse/internal/telemetry"
)

const (
	// firstTradeSource makes FIRST_TRADE a once-per-user award.
	firstTradeSource = "first_trade"

	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

type Config struct {
	Store    Store
	EventBus *event.Bus
	Now      func() time.Time
}

type Service struct {
	store Store
	eb    *event.Bus
	now   func() time.Time
}

// NewService creates the XP service. With an event bus, it awards XP for graded quizzes
// and executed orders.
func NewService(c Config) *Service {
	s := &Service{
		store: c.Store,
		eb:    c.EventBus,
		now:   c.Now,
	}

	if s.now == nil {
		s.now = time.Now
	}

	if s.eb != nil {
		s.eb.Subscribe(domain.EventNameQuizGraded, func(ctx context.Context, e event.Event) error {
			return s.OnQuizGraded(ctx, e.(domain.EventQuizGraded))
		})
		s.eb.Subscribe(domain.EventNameOrderExecuted, func(ctx context.Context, e event.Event) error {
			return s.OnOrderExecuted(ctx, e.(domain.EventOrderExecuted))
		})
	}

	return s
}

type AwardRequest struct {
	UserID    string
	Reason    domain.XPReason
	SourceRef string
}

type AwardResponse struct {
	// Awarded is false when the same reason was already awarded for the source.
	Awarded   bool
	Event     domain.XPEvent
	Balance   domain.UserXP
	LeveledUp bool
}

// Award grants the XP of the reason once per user, reason and source.
func (s *Service) Award(ctx context.Context, req AwardRequest) (*AwardResponse, error) {
	if req.UserID == "" || req.SourceRef == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("user and source are required"))
	}
	if !req.Reason.Valid() {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("unknown xp reason: %q", req.Reason))
	}

	now := s.now()
	resp := &AwardResponse{
		Event: domain.XPEvent{
			UserID:     req.UserID,
			Reason:     req.Reason,
			Amount:     req.Reason.Amount(),
			SourceRef:  req.SourceRef,
			CreateTime: now,
		},
	}

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		inserted, err := tx.InsertEvent(ctx, &resp.Event)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}

		u, err := tx.LockUserXP(ctx, req.UserID, now)
		if err != nil {
			return fmt.Errorf("lock balance: %w", err)
		}

		if inserted {
			prev := u.Level
			u.TotalXP += resp.Event.Amount
			u.Level = Level(u.TotalXP)
			u.UpdateTime = now
			if err := tx.SaveUserXP(ctx, u); err != nil {
				return fmt.Errorf("save balance: %w", err)
			}
			resp.LeveledUp = u.Level > prev
		}

		resp.Awarded = inserted
		resp.Balance = *u
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !resp.Awarded {
		return resp, nil
	}

	telemetry.XPAwarded.WithLabelValues(string(req.Reason)).Inc()

	slog.InfoContext(ctx, "xp: awarded",
		"user", req.UserID,
		"reason", req.Reason,
		"amount", resp.Event.Amount,
		"total", resp.Balance.TotalXP,
		"level", resp.Balance.Level,
	)

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventXPAwarded{
			Event:     resp.Event,
			Balance:   resp.Balance,
			LeveledUp: resp.LeveledUp,
		})
	}

	return resp, nil
}

// OnQuizGraded rewards the attempt that completed a module for the first time.
func (s *Service) OnQuizGraded(ctx context.Context, e domain.EventQuizGraded) error {
	if !e.FirstCompletion {
		return nil
	}

	a := e.Attempt
	awards := []AwardRequest{
		{UserID: a.LearnerID, Reason: domain.XPModuleComplete, SourceRef: a.ModuleID},
		{UserID: a.LearnerID, Reason: domain.XPQuizPass, SourceRef: a.AttemptID},
	}
	if a.Score == 100 {
		awards = append(awards, AwardRequest{UserID: a.LearnerID, Reason: domain.XPQuizPerfect, SourceRef: a.AttemptID})
	}

	return s.awardAll(ctx, awards)
}

// OnOrderExecuted rewards every order, and the user's first one once more.
func (s *Service) OnOrderExecuted(ctx context.Context, e domain.EventOrderExecuted) error {
	awards := []AwardRequest{
		{UserID: e.UserID, Reason: domain.XPTransaction, SourceRef: e.Transaction.TransactionID},
	}
	if e.FirstOrder {
		awards = append(awards, AwardRequest{UserID: e.UserID, Reason: domain.XPFirstTrade, SourceRef: firstTradeSource})
	}

	return s.awardAll(ctx, awards)
}

func (s *Service) awardAll(ctx context.Context, awards []AwardRequest) error {
	for _, a := range awards {
		if _, err := s.Award(ctx, a); err != nil {
			return fmt.Errorf("award %s to %s: %w", a.Reason, a.UserID, err)
		}
	}
	return nil
}

type StatsRequest struct {
	UserID string
}

type Stats struct {
	UserID  string
	TotalXP int64
	Level   int
	Title   string
	// XPIntoLevel is the XP earned since the current level was reached.
	XPIntoLevel     int64
	XPForNextLevel  int64
	ProgressPercent int
}

// Stats returns the user's XP standing. Users without XP are level 1.
func (s *Service) Stats(ctx context.Context, req StatsRequest) (*Stats, error) {
	if req.UserID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("user is required"))
	}

	u, err := s.store.GetUserXP(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}

	var total int64
	if u != nil {
		total = u.TotalXP
	}

	level := Level(total)
	start, next := levelStart(level), Threshold(level+1)

	return &Stats{
		UserID:          req.UserID,
		TotalXP:         total,
		Level:           level,
		Title:           Title(level),
		XPIntoLevel:     total - start,
		XPForNextLevel:  next - start,
		ProgressPercent: int((total - start) * 100 / (next - start)),
	}, nil
}

type HistoryRequest struct {
	UserID string
	Limit  int
}

// History returns the user's latest XP events, newest first.
func (s *Service) History(ctx context.Context, req HistoryRequest) ([]domain.XPEvent, error) {
	if req.UserID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("user is required"))
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)

	es, err := s.store.ListEvents(ctx, req.UserID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	return es, nil
}
