package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/victornm/afribourse/internal/domain"
	"github.com/victornm/afribourse/internal/jobs"
	"github.com/victornm/afribourse/internal/ledger"
	"github.com/victornm/afribourse/internal/market"
	"github.com/victornm/afribourse/internal/memstore"
)

func TestScheduler_NextSnapshot(t *testing.T) {
	abidjan, err := time.LoadLocation("Africa/Abidjan")
	require.NoError(t, err)

	tests := map[string]struct {
		from time.Time
		want time.Time
	}{
		"later the same day": {
			from: time.Date(2026, 10, 14, 10, 0, 0, 0, abidjan),
			want: time.Date(2026, 10, 14, 18, 0, 0, 0, abidjan),
		},
		"after the run on friday": {
			from: time.Date(2026, 10, 16, 19, 0, 0, 0, abidjan),
			want: time.Date(2026, 10, 19, 18, 0, 0, 0, abidjan),
		},
		"on sunday": {
			from: time.Date(2026, 10, 18, 12, 0, 0, 0, abidjan),
			want: time.Date(2026, 10, 19, 18, 0, 0, 0, abidjan),
		},
	}

	s, err := jobs.New(jobs.Config{Location: abidjan})
	require.NoError(t, err)

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got := s.NextSnapshot(tt.from)
			require.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	_, err := jobs.New(jobs.Config{SnapshotSchedule: "every evening"})
	require.Error(t, err)
}

func TestScheduler_RunSnapshot(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 14, 18, 0, 0, 0, time.UTC)

	cal, err := market.NewCalendar(market.Config{})
	require.NoError(t, err)

	st := memstore.NewLedger()
	ls := ledger.NewService(ledger.Config{
		Store:    st,
		Calendar: cal,
		Now:      func() time.Time { return now },
	})

	p, err := ls.OpenPortfolio(ctx, ledger.OpenPortfolioRequest{UserID: "u1", WalletType: domain.WalletSandbox})
	require.NoError(t, err)
	_, err = ls.ExecuteBuy(ctx, ledger.OrderRequest{
		UserID:      "u1",
		PortfolioID: p.PortfolioID,
		Ticker:      "SNTS",
		Quantity:    10,
		Price:       decimal.NewFromInt(25000),
	})
	require.NoError(t, err)
	st.SetPrice("SNTS", decimal.NewFromInt(30000))

	s, err := jobs.New(jobs.Config{Ledger: ls})
	require.NoError(t, err)
	require.NoError(t, s.RunSnapshot(ctx))

	ss, err := ls.History(ctx, ledger.HistoryRequest{UserID: "u1", PortfolioID: p.PortfolioID})
	require.NoError(t, err)
	require.Len(t, ss, 1)
	require.True(t, decimal.NewFromInt(1_050_000).Equal(ss[0].TotalValue), "total %s", ss[0].TotalValue)
}
