package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Module is a learning module whose question bank feeds its quiz.
type Module struct {
	ModuleID     string
	Slug         string
	Title        string
	PassingScore int
	Published    bool
}

// Question is one multiple choice question of a module's question bank.
type Question struct {
	QuestionID   string
	Prompt       string
	Options      []string
	CorrectIndex int
	Explanation  string
}

// Validate rejects question rows that cannot be graded.
func (q Question) Validate() error {
	if q.QuestionID == "" {
		return fmt.Errorf("question: empty id")
	}
	if len(q.Options) < 2 {
		return fmt.Errorf("question %s: %d options, want at least 2", q.QuestionID, len(q.Options))
	}
	if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
		return fmt.Errorf("question %s: correct index %d out of range", q.QuestionID, q.CorrectIndex)
	}
	return nil
}

// View strips the answer key from the question.
func (q Question) View() QuestionView {
	return QuestionView{
		QuestionID: q.QuestionID,
		Prompt:     q.Prompt,
		Options:    q.Options,
	}
}

// QuestionView is the part of a question a learner sees before grading.
type QuestionView struct {
	QuestionID string
	Prompt     string
	Options    []string
}

// IssuedQuiz binds an attempt reference to the exact questions sampled for it.
type IssuedQuiz struct {
	AttemptRef  string
	LearnerID   string
	ModuleID    string
	QuestionIDs []string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// QuizAttempt is the immutable record of one graded quiz.
type QuizAttempt struct {
	AttemptID   string
	AttemptRef  string
	LearnerID   string
	ModuleID    string
	QuestionIDs []string
	Correct     int
	Total       int
	Score       int
	Passed      bool
	Sequence    int
	SubmitTime  time.Time
}

// Progress is a learner's standing on one module.
type Progress struct {
	LearnerID     string
	ModuleID      string
	IsCompleted   bool
	BestScore     int
	QuizAttempts  int
	FailedInCycle int
	LastAttemptAt *time.Time
	CompletedAt   *time.Time
	TimeSpent     time.Duration
	CreateTime    time.Time
	UpdateTime    time.Time
}

// QuestionResult is the per question outcome revealed after grading.
type QuestionResult struct {
	QuestionID   string
	Selected     int
	CorrectIndex int
	IsCorrect    bool
	Explanation  string
}

type WalletType string

const (
	WalletSandbox  WalletType = "SANDBOX"
	WalletConcours WalletType = "CONCOURS"
)

func (w WalletType) Valid() bool {
	return w == WalletSandbox || w == WalletConcours
}

type PortfolioStatus string

const (
	PortfolioActive    PortfolioStatus = "ACTIVE"
	PortfolioSuspended PortfolioStatus = "SUSPENDED"
)

// Portfolio is a virtual wallet: cash plus positions.
type Portfolio struct {
	PortfolioID    string
	UserID         string
	WalletType     WalletType
	Status         PortfolioStatus
	CashBalance    decimal.Decimal
	InitialBalance decimal.Decimal
	Positions      []Position
	CreateTime     time.Time
	UpdateTime     time.Time
}

// Position is a holding of one ticker inside a portfolio. Quantity is always positive;
// a position that is sold out no longer exists.
type Position struct {
	PortfolioID     string
	Ticker          string
	Quantity        int64
	AverageBuyPrice decimal.Decimal
	UpdateTime      time.Time
}

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Transaction is the append-only record of one executed order.
type Transaction struct {
	TransactionID string
	PortfolioID   string
	Ticker        string
	Side          Side
	Quantity      int64
	PricePerShare decimal.Decimal
	Amount        decimal.Decimal
	CashBefore    decimal.Decimal
	CashAfter     decimal.Decimal
	OutOfHours    bool
	WasWeekend    bool
	ExecutableAt  time.Time
	ExecuteTime   time.Time
}

// Snapshot is the valuation of a portfolio at the end of a trading day.
type Snapshot struct {
	PortfolioID   string
	Date          time.Time
	Cash          decimal.Decimal
	HoldingsValue decimal.Decimal
	TotalValue    decimal.Decimal
}

// XPReason is the closed set of reasons a user can earn experience points for.
type XPReason string

const (
	XPQuizPass       XPReason = "QUIZ_PASS"
	XPQuizPerfect    XPReason = "QUIZ_PERFECT"
	XPModuleComplete XPReason = "MODULE_COMPLETE"
	XPFirstTrade     XPReason = "FIRST_TRADE"
	XPTransaction    XPReason = "TRANSACTION"
)

var xpAmounts = map[XPReason]int64{
	XPQuizPass:       50,
	XPQuizPerfect:    50,
	XPModuleComplete: 200,
	XPFirstTrade:     200,
	XPTransaction:    10,
}

// Amount returns the XP granted for the reason, zero for unknown reasons.
func (r XPReason) Amount() int64 {
	return xpAmounts[r]
}

func (r XPReason) Valid() bool {
	_, ok := xpAmounts[r]
	return ok
}

// XPEvent is one entry of a user's XP history.
type XPEvent struct {
	UserID     string
	Reason     XPReason
	Amount     int64
	SourceRef  string
	CreateTime time.Time
}

// UserXP is a user's XP total and the level derived from it.
type UserXP struct {
	UserID     string
	TotalXP    int64
	Level      int
	UpdateTime time.Time
}

// Leaderboard is the list of users ordered by total XP, highest first.
type Leaderboard struct {
	Entries []LeaderboardEntry
}

type LeaderboardEntry struct {
	UserID string
	XP     float64
}
