package domain

const (
	EventNameQuizGraded         = "quiz.graded"
	EventNameOrderExecuted      = "order.executed"
	EventNameXPAwarded          = "xp.awarded"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventQuizGraded struct {
	Attempt  QuizAttempt
	Progress Progress
	// FirstCompletion is set only on the attempt that completed the module.
	FirstCompletion bool
}

func (EventQuizGraded) Name() string { return EventNameQuizGraded }

type EventOrderExecuted struct {
	UserID      string
	Transaction Transaction
	FirstOrder  bool
}

func (EventOrderExecuted) Name() string { return EventNameOrderExecuted }

type EventXPAwarded struct {
	Event   XPEvent
	Balance UserXP
	// LeveledUp reports whether this award moved the user to a new level.
	LeveledUp bool
}

func (EventXPAwarded) Name() string { return EventNameXPAwarded }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
