package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/afribourse/internal/domain"
	"github.com/victornm/afribourse/internal/xp"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	XPAwarded struct {
		Reason    string `json:"reason"`
		Amount    int64  `json:"amount"`
		TotalXP   int64  `json:"total_xp"`
		Level     int    `json:"level"`
		Title     string `json:"title"`
		LeveledUp bool   `json:"leveled_up"`
	}
)

// PublishXPAwarded notifies the user of the XP they just earned.
func (a *API) PublishXPAwarded(ctx context.Context, e domain.EventXPAwarded) error {
	data := XPAwarded{
		Reason:    string(e.Event.Reason),
		Amount:    e.Event.Amount,
		TotalXP:   e.Balance.TotalXP,
		Level:     e.Balance.Level,
		Title:     xp.Title(e.Balance.Level),
		LeveledUp: e.LeveledUp,
	}

	return a.publishNotification(ctx, e.Event.UserID, e.Name(), data)
}

// PublishLeaderboardUpdated sends the new leaderboard to every user on it.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	var data Leaderboard
	if err := copyInto(&data, e.Leaderboard); err != nil {
		return err
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, entry := range data.Entries {
		eg.Go(func() error {
			return a.publishNotification(ctx, entry.UserID, e.Name(), data)
		})
	}

	return eg.Wait()
}

func (a *API) publishNotification(ctx context.Context, user, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, fmt.Sprintf("%s:user:%s", a.prefix, user), b).Err()
}
