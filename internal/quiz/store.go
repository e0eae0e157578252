package quiz

import (
	"context"
	"time"

	"github.com/victornm/afribourse/internal/domain"
)

// Store is the persistent state of the quiz engine. Lookups of a single row return
// nil without error when the row does not exist.
type Store interface {
	// GetModule returns the module only if it is published.
	GetModule(ctx context.Context, moduleID string) (*domain.Module, error)
	// ListQuestions returns the valid questions of the module's bank in bank order.
	ListQuestions(ctx context.Context, moduleID string) ([]domain.Question, error)

	GetProgress(ctx context.Context, learnerID, moduleID string) (*domain.Progress, error)
	ListProgress(ctx context.Context, learnerID string) ([]domain.Progress, error)
	// EnsureProgress creates an empty progress row if the learner has none for the module.
	EnsureProgress(ctx context.Context, learnerID, moduleID string, now time.Time) error

	GetAttemptByRef(ctx context.Context, ref string) (*domain.QuizAttempt, error)
	// ListAttempts returns attempts newest first.
	ListAttempts(ctx context.Context, learnerID, moduleID string) ([]domain.QuizAttempt, error)

	// WithinTx runs fn in a transaction, committed only if fn returns nil.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of writes grading performs atomically.
type Tx interface {
	// LockProgress returns the progress row locked until the end of the transaction,
	// creating it if needed.
	LockProgress(ctx context.Context, learnerID, moduleID string, now time.Time) (*domain.Progress, error)
	// InsertAttempt fails with CodeAlreadyExists / ReasonAlreadyGraded when the
	// attempt reference was already graded.
	InsertAttempt(ctx context.Context, a *domain.QuizAttempt) error
	SaveProgress(ctx context.Context, p *domain.Progress) error
}

// RefStore keeps issued quizzes until they are graded or expire.
type RefStore interface {
	Save(ctx context.Context, q domain.IssuedQuiz, ttl time.Duration) error
	// Get returns nil without error for unknown or expired references.
	Get(ctx context.Context, ref string) (*domain.IssuedQuiz, error)
	Delete(ctx context.Context, ref string) error
}
