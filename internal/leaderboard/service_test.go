package leaderboard_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/victornm/afribourse/internal/domain"
	"github.com/victornm/afribourse/internal/errors"
	"github.com/victornm/afribourse/internal/event"
	"github.com/victornm/afribourse/internal/leaderboard"
)

func TestService_UpdateLeaderboard(t *testing.T) {
	s, _ := makeService(t)

	err := s.UpdateLeaderboard(context.Background(), awarded("u1", 250))
	require.NoError(t, err)
	err = s.UpdateLeaderboard(context.Background(), awarded("u2", 400))
	require.NoError(t, err)
	err = s.UpdateLeaderboard(context.Background(), awarded("u1", 460))
	require.NoError(t, err)

	resp, err := s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{})
	require.NoError(t, err)

	want := &domain.Leaderboard{
		Entries: []domain.LeaderboardEntry{
			{UserID: "u1", XP: 460},
			{UserID: "u2", XP: 400},
		},
	}
	require.Equal(t, want, resp)
}

func TestService_GetLeaderboard(t *testing.T) {
	tests := map[string]struct {
		arrange func(t *testing.T, s *leaderboard.Service)
		limit   int
		assert  func(t *testing.T, l *domain.Leaderboard, err error)
	}{
		"should return not found when nobody earned xp": {
			arrange: func(t *testing.T, s *leaderboard.Service) {},
			assert: func(t *testing.T, l *domain.Leaderboard, err error) {
				require.ErrorIs(t, err, errors.New(errors.CodeNotFound))
			},
		},

		"should return only the top entries when limited": {
			arrange: func(t *testing.T, s *leaderboard.Service) {
				for i, u := range []string{"u1", "u2", "u3"} {
					require.NoError(t, s.UpdateLeaderboard(context.Background(), awarded(u, int64(100*(i+1)))))
				}
			},
			limit: 2,
			assert: func(t *testing.T, l *domain.Leaderboard, err error) {
				require.NoError(t, err)
				require.Equal(t, []domain.LeaderboardEntry{
					{UserID: "u3", XP: 300},
					{UserID: "u2", XP: 200},
				}, l.Entries)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			s, _ := makeService(t)
			tt.arrange(t, s)

			l, err := s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{Limit: tt.limit})
			tt.assert(t, l, err)
		})
	}
}

func TestService_Rank(t *testing.T) {
	s, _ := makeService(t)

	require.NoError(t, s.UpdateLeaderboard(context.Background(), awarded("u1", 100)))
	require.NoError(t, s.UpdateLeaderboard(context.Background(), awarded("u2", 300)))

	resp, err := s.Rank(context.Background(), leaderboard.RankRequest{UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, &leaderboard.RankResponse{Rank: 2, XP: 100}, resp)

	_, err = s.Rank(context.Background(), leaderboard.RankRequest{UserID: "nobody"})
	require.ErrorIs(t, err, errors.New(errors.CodeNotFound))
}

func TestServer_PublishLeaderboardUpdated(t *testing.T) {
	type (
		inputs struct {
			// batches of awards, the publish interval elapses between batches
			batches [][]domain.EventXPAwarded
		}

		outputs struct {
			publishedEvents []domain.EventLeaderboardUpdated
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"should publish correct event leaderboard.updated after receiving xp.awarded": {
			arrange: func() inputs {
				return inputs{
					batches: [][]domain.EventXPAwarded{
						{awarded("u1", 250)},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should receive 1 leaderboard updated event")
				require.Equal(t, domain.Leaderboard{
					Entries: []domain.LeaderboardEntry{
						{UserID: "u1", XP: 250},
					},
				}, out.publishedEvents[0].Leaderboard)
			},
		},

		"should publish 1 event leaderboard.updated after receiving several xp.awarded within the publish interval": {
			arrange: func() inputs {
				return inputs{
					batches: [][]domain.EventXPAwarded{
						{awarded("u1", 10), awarded("u2", 210), awarded("u1", 260)},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should receive 1 leaderboard updated event")
			},
		},

		"should publish again once the publish interval elapsed": {
			arrange: func() inputs {
				return inputs{
					batches: [][]domain.EventXPAwarded{
						{awarded("u1", 10)},
						{awarded("u2", 210)},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 2, "should receive 2 leaderboard updated events")
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in, out := tt.arrange(), outputs{}

			eb := event.NewBus()

			var mu sync.Mutex
			eb.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
				mu.Lock()
				out.publishedEvents = append(out.publishedEvents, e.(domain.EventLeaderboardUpdated))
				mu.Unlock()
				return nil
			})

			s, rs := makeService(t,
				withEventBus(eb),
			)

			for _, batch := range in.batches {
				for _, e := range batch {
					err := s.UpdateLeaderboard(context.Background(), e)
					require.NoError(t, err)
				}
				rs.FastForward(time.Second)
			}

			eb.Stop()

			tt.assert(t, out)
		})
	}
}

func awarded(user string, total int64) domain.EventXPAwarded {
	return domain.EventXPAwarded{
		Event: domain.XPEvent{UserID: user, Reason: domain.XPTransaction, Amount: 10},
		Balance: domain.UserXP{
			UserID:     user,
			TotalXP:    total,
			Level:      1,
			UpdateTime: time.Now(),
		},
	}
}

func makeService(t *testing.T, opts ...options) (*leaderboard.Service, *miniredis.Miniredis) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	c := leaderboard.Config{
		EventBus: event.NewBus(),
		Redis:    rc,
		Prefix:   "test",
	}

	for _, opt := range opts {
		opt(&c)
	}

	return leaderboard.NewService(c), rs
}

type options func(c *leaderboard.Config)

func withEventBus(eb *event.Bus) options {
	return func(c *leaderboard.Config) {
		c.EventBus = eb
	}
}
