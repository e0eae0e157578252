// Package jobs runs the periodic work of the service on a cron schedule.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/victornm/afribourse/internal/ledger"
)

const (
	// DefaultSnapshotSchedule runs after the BRVM close on trading days.
	DefaultSnapshotSchedule = "0 18 * * 1-5"

	defaultTimeout = 5 * time.Minute
)

type Snapshotter interface {
	SnapshotPortfolios(ctx context.Context, req ledger.SnapshotPortfoliosRequest) (*ledger.SnapshotPortfoliosResponse, error)
}

type Config struct {
	Ledger Snapshotter
	// SnapshotSchedule is a standard five field cron spec.
	SnapshotSchedule string
	// Location is the zone the schedule is read in.
	Location *time.Location
	Timeout  time.Duration
}

type Scheduler struct {
	cron     *cron.Cron
	loc      *time.Location
	ledger   Snapshotter
	timeout  time.Duration
	snapshot cron.EntryID
}

func New(c Config) (*Scheduler, error) {
	if c.SnapshotSchedule == "" {
		c.SnapshotSchedule = DefaultSnapshotSchedule
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}

	logger := cronLogger{}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(c.Location),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		loc:     c.Location,
		ledger:  c.Ledger,
		timeout: c.Timeout,
	}

	id, err := s.cron.AddFunc(c.SnapshotSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		if err := s.RunSnapshot(ctx); err != nil {
			slog.ErrorContext(ctx, "jobs: snapshot failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("jobs: snapshot schedule %q: %w", c.SnapshotSchedule, err)
	}
	s.snapshot = id

	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("jobs: scheduler started", "next_snapshot", s.NextSnapshot(time.Now()))
}

// Stop stops scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		slog.WarnContext(ctx, "jobs: stop timed out with jobs running")
	}
}

// NextSnapshot returns when the snapshot job runs next after t.
func (s *Scheduler) NextSnapshot(t time.Time) time.Time {
	return s.cron.Entry(s.snapshot).Schedule.Next(t.In(s.loc))
}

// RunSnapshot values every active portfolio for today.
func (s *Scheduler) RunSnapshot(ctx context.Context) error {
	start := time.Now()

	resp, err := s.ledger.SnapshotPortfolios(ctx, ledger.SnapshotPortfoliosRequest{})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "jobs: snapshot done",
		"date", resp.Date.Format(time.DateOnly),
		"portfolios", resp.Snapshots,
		"took", time.Since(start),
	)
	return nil
}

// cronLogger sends cron's own logs to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("jobs: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("jobs: "+msg, append(keysAndValues, "error", err)...)
}
