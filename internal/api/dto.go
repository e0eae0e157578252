package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/copier"
	"github.com/shopspring/decimal"

	"github.com/victornm/afribourse/internal/domain"
)

// Field names mirror the domain types so copier can map them.
type (
	QuestionView struct {
		QuestionID string   `json:"question_id"`
		Prompt     string   `json:"prompt"`
		Options    []string `json:"options"`
	}

	StartQuizResponse struct {
		AttemptRef string         `json:"attempt_ref"`
		ModuleID   string         `json:"module_id"`
		Questions  []QuestionView `json:"questions"`
		ExpiresAt  time.Time      `json:"expires_at"`
	}

	SubmitQuizRequest struct {
		AttemptRef       string         `json:"attempt_ref" binding:"required"`
		Answers          map[string]int `json:"answers" binding:"required"`
		TimeSpentSeconds int64          `json:"time_spent_seconds" binding:"min=0"`
	}

	QuizAttempt struct {
		AttemptID   string    `json:"attempt_id"`
		AttemptRef  string    `json:"attempt_ref"`
		ModuleID    string    `json:"module_id"`
		QuestionIDs []string  `json:"question_ids"`
		Correct     int       `json:"correct"`
		Total       int       `json:"total"`
		Score       int       `json:"score"`
		Passed      bool      `json:"passed"`
		Sequence    int       `json:"sequence"`
		SubmitTime  time.Time `json:"submit_time"`
	}

	QuestionResult struct {
		QuestionID   string `json:"question_id"`
		Selected     int    `json:"selected"`
		CorrectIndex int    `json:"correct_index"`
		IsCorrect    bool   `json:"is_correct"`
		Explanation  string `json:"explanation"`
	}

	Progress struct {
		ModuleID         string     `json:"module_id"`
		IsCompleted      bool       `json:"is_completed"`
		BestScore        int        `json:"best_score"`
		QuizAttempts     int        `json:"quiz_attempts"`
		FailedInCycle    int        `json:"failed_in_cycle"`
		LastAttemptAt    *time.Time `json:"last_attempt_at"`
		CompletedAt      *time.Time `json:"completed_at"`
		TimeSpentSeconds int64      `json:"time_spent_seconds"`
	}

	SubmitQuizResponse struct {
		Attempt           QuizAttempt      `json:"attempt"`
		Results           []QuestionResult `json:"results"`
		Progress          Progress         `json:"progress"`
		PassingScore      int              `json:"passing_score"`
		AttemptsRemaining int              `json:"attempts_remaining"`
		RetryAt           *time.Time       `json:"retry_at,omitempty"`
	}

	AttemptList struct {
		Attempts          []QuizAttempt `json:"attempts"`
		AttemptsRemaining int           `json:"attempts_remaining"`
		RetryAt           *time.Time    `json:"retry_at,omitempty"`
	}

	ProgressList struct {
		Progress []Progress `json:"progress"`
	}
)

type (
	// OpenPortfolioRequest has no balance: every wallet starts with the configured amount.
	OpenPortfolioRequest struct {
		WalletType string `json:"wallet_type" binding:"required,wallet"`
	}

	Position struct {
		Ticker          string          `json:"ticker"`
		Quantity        int64           `json:"quantity"`
		AverageBuyPrice decimal.Decimal `json:"average_buy_price"`
		UpdateTime      time.Time       `json:"update_time"`
	}

	Portfolio struct {
		PortfolioID    string          `json:"portfolio_id"`
		WalletType     string          `json:"wallet_type"`
		Status         string          `json:"status"`
		CashBalance    decimal.Decimal `json:"cash_balance"`
		InitialBalance decimal.Decimal `json:"initial_balance"`
		Positions      []Position      `json:"positions"`
		CreateTime     time.Time       `json:"create_time"`
	}

	PortfolioList struct {
		Portfolios []Portfolio `json:"portfolios"`
	}

	OrderRequest struct {
		Side     string          `json:"side" binding:"required,side"`
		Ticker   string          `json:"ticker" binding:"required,ticker"`
		Quantity int64           `json:"quantity" binding:"required,gt=0"`
		Price    decimal.Decimal `json:"price"`
		AsOf     *time.Time      `json:"as_of"`
	}

	Transaction struct {
		TransactionID string          `json:"transaction_id"`
		PortfolioID   string          `json:"portfolio_id"`
		Ticker        string          `json:"ticker"`
		Side          string          `json:"side"`
		Quantity      int64           `json:"quantity"`
		PricePerShare decimal.Decimal `json:"price_per_share"`
		Amount        decimal.Decimal `json:"amount"`
		CashBefore    decimal.Decimal `json:"cash_before"`
		CashAfter     decimal.Decimal `json:"cash_after"`
		OutOfHours    bool            `json:"out_of_hours"`
		WasWeekend    bool            `json:"was_weekend"`
		ExecutableAt  time.Time       `json:"executable_at"`
		ExecuteTime   time.Time       `json:"execute_time"`
	}

	OrderResponse struct {
		CashBalance decimal.Decimal `json:"cash_balance"`
		Position    *Position       `json:"position"`
		Transaction Transaction     `json:"transaction"`
	}

	TransactionList struct {
		Transactions []Transaction `json:"transactions"`
	}

	Snapshot struct {
		Date          string          `json:"date"`
		Cash          decimal.Decimal `json:"cash"`
		HoldingsValue decimal.Decimal `json:"holdings_value"`
		TotalValue    decimal.Decimal `json:"total_value"`
	}

	SnapshotList struct {
		Snapshots []Snapshot `json:"snapshots"`
	}
)

type (
	XPStats struct {
		UserID          string `json:"user_id"`
		TotalXP         int64  `json:"total_xp"`
		Level           int    `json:"level"`
		Title           string `json:"title"`
		XPIntoLevel     int64  `json:"xp_into_level"`
		XPForNextLevel  int64  `json:"xp_for_next_level"`
		ProgressPercent int    `json:"progress_percent"`
		Rank            *int64 `json:"rank,omitempty"`
	}

	XPEvent struct {
		Reason     string    `json:"reason"`
		Amount     int64     `json:"amount"`
		SourceRef  string    `json:"source_ref"`
		CreateTime time.Time `json:"create_time"`
	}

	XPEventList struct {
		Events []XPEvent `json:"events"`
	}

	LeaderboardEntry struct {
		UserID string  `json:"user_id"`
		XP     float64 `json:"xp"`
	}

	Leaderboard struct {
		Entries []LeaderboardEntry `json:"entries"`
	}
)

type PageQuery struct {
	Limit int `form:"limit" binding:"min=0"`
}

func progressOf(p domain.Progress) Progress {
	return Progress{
		ModuleID:         p.ModuleID,
		IsCompleted:      p.IsCompleted,
		BestScore:        p.BestScore,
		QuizAttempts:     p.QuizAttempts,
		FailedInCycle:    p.FailedInCycle,
		LastAttemptAt:    p.LastAttemptAt,
		CompletedAt:      p.CompletedAt,
		TimeSpentSeconds: int64(p.TimeSpent / time.Second),
	}
}

func copyInto(to, from any) error {
	if err := copier.Copy(to, from); err != nil {
		return fmt.Errorf("api: map %T: %w", from, err)
	}
	return nil
}

// copyList never returns nil so empty lists render as [].
func copyList[T any, S ~[]E, E any](from S) ([]T, error) {
	to := make([]T, 0, len(from))
	if len(from) == 0 {
		return to, nil
	}

	if err := copyInto(&to, from); err != nil {
		return nil, err
	}
	return to, nil
}

func render[T any](a *API, c *gin.Context, status int, from any) {
	var to T
	if err := copyInto(&to, from); err != nil {
		a.renderError(c, err)
		return
	}

	c.JSON(status, to)
}
