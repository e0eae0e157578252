package leaderboard

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/afribourse/internal/domain"
	"github.com/victornm/afribourse/internal/errors"
	"github.com/victornm/afribourse/internal/event"
)

const (
	publishInterval = 200 * time.Millisecond

	defaultLimit = 10
	maxLimit     = 100
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameXPAwarded, func(ctx context.Context, e event.Event) error {
		return s.UpdateLeaderboard(ctx, e.(domain.EventXPAwarded))
	})

	return s
}

type GetLeaderboardRequest struct {
	// Limit defaults to 10, at most 100.
	Limit int
}

// GetLeaderboard returns the users with the most XP, highest first.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	limit = min(limit, maxLimit)

	res, err := s.redis.ZRevRangeWithScores(ctx, s.getLeaderboardKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	if len(res) == 0 {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("leaderboard is empty"))
	}

	entries := make([]domain.LeaderboardEntry, 0, len(res))
	for _, z := range res {
		entries = append(entries, domain.LeaderboardEntry{
			UserID: z.Member.(string),
			XP:     z.Score,
		})
	}

	return &domain.Leaderboard{
		Entries: entries,
	}, nil
}

type RankRequest struct {
	UserID string
}

type RankResponse struct {
	// Rank is 1 for the user with the most XP.
	Rank int64
	XP   float64
}

// Rank returns the user's position in the leaderboard.
func (s *Service) Rank(ctx context.Context, req RankRequest) (*RankResponse, error) {
	key := s.getLeaderboardKey()

	rank, err := s.redis.ZRevRank(ctx, key, req.UserID).Result()
	if stderrors.Is(err, redis.Nil) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("user not ranked: %s", req.UserID))
	}
	if err != nil {
		return nil, fmt.Errorf("get rank: %w", err)
	}

	xp, err := s.redis.ZScore(ctx, key, req.UserID).Result()
	if err != nil {
		return nil, fmt.Errorf("get score: %w", err)
	}

	return &RankResponse{Rank: rank + 1, XP: xp}, nil
}

// UpdateLeaderboard overwrites the user's XP in the leaderboard.
func (s *Service) UpdateLeaderboard(ctx context.Context, e domain.EventXPAwarded) error {
	b := e.Balance

	if err := s.redis.ZAdd(ctx, s.getLeaderboardKey(), redis.Z{
		Score:  float64(b.TotalXP),
		Member: b.UserID,
	}).Err(); err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}

	return s.schedulePublishLeaderboard(ctx, b.UpdateTime)
}

// schedulePublishLeaderboard publishes the leaderboard at most once per interval. Awards
// come in bursts, an order or a completed module grants several at once.
func (s *Service) schedulePublishLeaderboard(ctx context.Context, at time.Time) error {
	// SETNX keeps instances sharing the Redis from publishing the same change twice.
	ok, err := s.redis.SetNX(ctx, s.getLeaderboardTimeKey(), at.UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	return s.publishLeaderboard(ctx)
}

func (s *Service) publishLeaderboard(ctx context.Context) error {
	l, err := s.GetLeaderboard(ctx, GetLeaderboardRequest{})
	if err != nil {
		return fmt.Errorf("get leaderboard failed: %w", err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
	})

	return nil
}

func (s *Service) getLeaderboardKey() string {
	return fmt.Sprintf("%s:xp:leaderboard", s.prefix)
}

func (s *Service) getLeaderboardTimeKey() string {
	return fmt.Sprintf("%s:xp:leaderboard:time", s.prefix)
}
