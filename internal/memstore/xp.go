package memstore

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/victornm/afribourse/internal/domain"
	"github.com/victornm/afribourse/internal/xp"
)

type awardKey struct {
	user   string
	reason domain.XPReason
	source string
}

// XP implements xp.Store.
type XP struct {
	mu       sync.Mutex
	events   []domain.XPEvent
	awarded  map[awardKey]struct{}
	balances map[string]domain.UserXP
}

var _ xp.Store = (*XP)(nil)

func NewXP() *XP {
	return &XP{
		awarded:  make(map[awardKey]struct{}),
		balances: make(map[string]domain.UserXP),
	}
}

func (s *XP) GetUserXP(_ context.Context, userID string) (*domain.UserXP, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.balances[userID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *XP) ListEvents(_ context.Context, userID string, limit int) ([]domain.XPEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var es []domain.XPEvent
	for i := len(s.events) - 1; i >= 0 && len(es) < limit; i-- {
		if e := s.events[i]; e.UserID == userID {
			es = append(es, e)
		}
	}
	return es, nil
}

func (s *XP) WithinTx(ctx context.Context, fn func(ctx context.Context, tx xp.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &xpTx{
		awarded:  maps.Clone(s.awarded),
		balances: maps.Clone(s.balances),
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.events = slices.Concat(s.events, tx.added)
	s.awarded, s.balances = tx.awarded, tx.balances
	return nil
}

type xpTx struct {
	added    []domain.XPEvent
	awarded  map[awardKey]struct{}
	balances map[string]domain.UserXP
}

func (t *xpTx) InsertEvent(_ context.Context, e *domain.XPEvent) (bool, error) {
	k := awardKey{e.UserID, e.Reason, e.SourceRef}
	if _, ok := t.awarded[k]; ok {
		return false, nil
	}

	t.awarded[k] = struct{}{}
	t.added = append(t.added, *e)
	return true, nil
}

func (t *xpTx) LockUserXP(_ context.Context, userID string, now time.Time) (*domain.UserXP, error) {
	u, ok := t.balances[userID]
	if !ok {
		u = domain.UserXP{UserID: userID, Level: 1, UpdateTime: now}
		t.balances[userID] = u
	}
	return &u, nil
}

func (t *xpTx) SaveUserXP(_ context.Context, u *domain.UserXP) error {
	t.balances[u.UserID] = *u
	return nil
}
