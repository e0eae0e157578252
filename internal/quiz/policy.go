package quiz

import (
	"time"

	"github.com/victornm/afribourse/internal/domain"
	"github.com/victornm/afribourse/internal/errors"
)

// Policy holds the attempt rules of every module quiz.
//
// Failed attempts are counted per cycle. Once MaxAttempts failures have been recorded in a
// cycle, no new quiz is issued until Cooldown has elapsed since the last of them; the next
// graded attempt then opens a new cycle. A pass closes the cycle.
type Policy struct {
	SampleSize   int `mapstructure:"sample_size"`
	PassingScore int `mapstructure:"passing_score"`
	MaxAttempts  int `mapstructure:"max_attempts"`

	Cooldown time.Duration `mapstructure:"cooldown"`

	// MaxTotalAttempts caps graded attempts per learner and module; zero disables the cap.
	// Completed modules are never capped.
	MaxTotalAttempts int `mapstructure:"max_total_attempts"`

	AttemptTTL time.Duration `mapstructure:"attempt_ttl"`
}

func DefaultPolicy() Policy {
	return Policy{
		SampleSize:   10,
		PassingScore: 70,
		MaxAttempts:  2,
		Cooldown:     8 * time.Hour,
		AttemptTTL:   2 * time.Hour,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.SampleSize <= 0 {
		p.SampleSize = d.SampleSize
	}
	if p.PassingScore <= 0 {
		p.PassingScore = d.PassingScore
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.Cooldown <= 0 {
		p.Cooldown = d.Cooldown
	}
	if p.AttemptTTL <= 0 {
		p.AttemptTTL = d.AttemptTTL
	}
	return p
}

// Check returns the policy error preventing a new attempt at now, if any.
// The attempt cap is checked before the cooldown.
func (p Policy) Check(pr *domain.Progress, now time.Time) error {
	if pr == nil {
		return nil
	}

	if p.MaxTotalAttempts > 0 && !pr.IsCompleted && pr.QuizAttempts >= p.MaxTotalAttempts {
		return errors.New(errors.CodeResourceExhausted,
			errors.WithReason(errors.ReasonAttemptLimitExceeded),
			errors.WithMessagef("attempt limit of %d reached for module %s", p.MaxTotalAttempts, pr.ModuleID),
		)
	}

	if at, ok := p.RetryAt(pr); ok && now.Before(at) {
		return errors.New(errors.CodeResourceExhausted,
			errors.WithReason(errors.ReasonCooldownActive),
			errors.WithRetryAt(at),
			errors.WithMessagef("%d failed attempts, retry in %s", pr.FailedInCycle, at.Sub(now).Round(time.Minute)),
		)
	}

	return nil
}

// RetryAt returns the end of the cooldown when the current cycle is exhausted.
func (p Policy) RetryAt(pr *domain.Progress) (time.Time, bool) {
	if pr == nil || pr.LastAttemptAt == nil || pr.FailedInCycle < p.MaxAttempts {
		return time.Time{}, false
	}
	return pr.LastAttemptAt.Add(p.Cooldown), true
}

// Remaining returns how many failures the learner may still record before the cooldown.
func (p Policy) Remaining(pr *domain.Progress, now time.Time) int {
	if pr == nil {
		return p.MaxAttempts
	}
	if at, ok := p.RetryAt(pr); ok && !now.Before(at) {
		return p.MaxAttempts
	}
	return max(0, p.MaxAttempts-pr.FailedInCycle)
}

// Record applies a graded attempt to the progress row and reports whether it completed
// the module for the first time.
func (p Policy) Record(pr *domain.Progress, a domain.QuizAttempt, timeSpent time.Duration, now time.Time) bool {
	if at, ok := p.RetryAt(pr); ok && !now.Before(at) {
		pr.FailedInCycle = 0
	}

	pr.QuizAttempts++
	pr.LastAttemptAt = &now
	pr.UpdateTime = now
	if a.Score > pr.BestScore {
		pr.BestScore = a.Score
	}
	if timeSpent > 0 {
		pr.TimeSpent += timeSpent
	}

	if !a.Passed {
		pr.FailedInCycle++
		return false
	}

	pr.FailedInCycle = 0
	if pr.CompletedAt != nil {
		return false
	}

	pr.IsCompleted = true
	pr.CompletedAt = &now
	return true
}
