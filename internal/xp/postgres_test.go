//go:build integration_test

package xp_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/afribourse/internal/domain"
	"github.com/victornm/afribourse/internal/pgtest"
	"github.com/victornm/afribourse/internal/xp"
)

func TestPostgresStore_Award(t *testing.T) {
	ctx := context.Background()

	t.Run("should award once per reason and source", func(t *testing.T) {
		s := makePostgresService(t)

		resp, err := s.Award(ctx, xp.AwardRequest{UserID: "u1", Reason: domain.XPModuleComplete, SourceRef: "m1"})
		require.NoError(t, err)
		assert.True(t, resp.Awarded)
		assert.Equal(t, int64(200), resp.Balance.TotalXP)

		resp, err = s.Award(ctx, xp.AwardRequest{UserID: "u1", Reason: domain.XPModuleComplete, SourceRef: "m1"})
		require.NoError(t, err)
		assert.False(t, resp.Awarded)
		assert.Equal(t, int64(200), resp.Balance.TotalXP)

		resp, err = s.Award(ctx, xp.AwardRequest{UserID: "u1", Reason: domain.XPModuleComplete, SourceRef: "m2"})
		require.NoError(t, err)
		assert.Equal(t, 2, resp.Balance.Level)
		assert.True(t, resp.LeveledUp)

		es, err := s.History(ctx, xp.HistoryRequest{UserID: "u1"})
		require.NoError(t, err)
		require.Len(t, es, 2)
	})

	tests := map[string]struct {
		source func(i int) string
		want   int64
	}{
		"should award concurrent duplicates only once": {
			source: func(int) string { return "t1" },
			want:   10,
		},
		"should not lose concurrent awards": {
			source: func(i int) string { return fmt.Sprintf("t%d", i) },
			want:   100,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			s := makePostgresService(t)

			var wg sync.WaitGroup
			for i := range 10 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.Award(ctx, xp.AwardRequest{UserID: "u1", Reason: domain.XPTransaction, SourceRef: tt.source(i)})
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			st, err := s.Stats(ctx, xp.StatsRequest{UserID: "u1"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, st.TotalXP)
		})
	}
}

func makePostgresService(t *testing.T) *xp.Service {
	return xp.NewService(xp.Config{
		Store: xp.NewPostgresStore(pgtest.New(t)),
		Now:   func() time.Time { return now },
	})
}
