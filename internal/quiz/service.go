package quiz

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/afribourse/internal/domain"
	"github.com/victornm/afribourse/internal/errors"
	"github.com/victornm/afribourse/internal/event"
	"github.com/victornm/afribourse/internal/telemetry"
)

type Config struct {
	Store    Store
	Refs     RefStore
	EventBus *event.Bus
	Policy   Policy

	// IntN returns a uniform integer in [0, n). Defaults to math/rand/v2.
	IntN func(n int) int
	Now  func() time.Time
}

type Service struct {
	store  Store
	refs   RefStore
	eb     *event.Bus
	policy Policy
	intN   func(int) int
	now    func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		store:  c.Store,
		refs:   c.Refs,
		eb:     c.EventBus,
		policy: c.Policy.withDefaults(),
		intN:   c.IntN,
		now:    c.Now,
	}

	if s.intN == nil {
		s.intN = defaultIntN
	}
	if s.now == nil {
		s.now = time.Now
	}

	return s
}

// Policy returns the effective attempt policy.
func (s *Service) Policy() Policy {
	return s.policy
}

type StartQuizRequest struct {
	LearnerID string
	ModuleID  string
}

type StartQuizResponse struct {
	// AttemptRef must be sent back with the answers.
	AttemptRef string
	ModuleID   string
	Questions  []domain.QuestionView
	ExpiresAt  time.Time
}

// StartQuiz samples a quiz from the module's question bank, provided the learner is
// allowed a new attempt.
func (s *Service) StartQuiz(ctx context.Context, req StartQuizRequest) (*StartQuizResponse, error) {
	if req.LearnerID == "" || req.ModuleID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("learner and module are required"))
	}

	m, err := s.getModule(ctx, req.ModuleID)
	if err != nil {
		return nil, err
	}

	bank, err := s.store.ListQuestions(ctx, m.ModuleID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	if len(bank) < s.policy.SampleSize {
		return nil, s.reject(errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonQuestionBankTooSmall),
			errors.WithMessagef("module %s has %d questions, %d needed", m.ModuleID, len(bank), s.policy.SampleSize),
		))
	}

	now := s.now()
	if err := s.store.EnsureProgress(ctx, req.LearnerID, m.ModuleID, now); err != nil {
		return nil, fmt.Errorf("ensure progress: %w", err)
	}

	pr, err := s.store.GetProgress(ctx, req.LearnerID, m.ModuleID)
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}

	if err := s.policy.Check(pr, now); err != nil {
		return nil, s.reject(err)
	}

	ids := make([]string, 0, len(bank))
	byID := make(map[string]domain.Question, len(bank))
	for _, q := range bank {
		ids = append(ids, q.QuestionID)
		byID[q.QuestionID] = q
	}

	ref, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate attempt ref: %w", err)
	}

	issued := domain.IssuedQuiz{
		AttemptRef:  ref.String(),
		LearnerID:   req.LearnerID,
		ModuleID:    m.ModuleID,
		QuestionIDs: sample(s.intN, ids, s.policy.SampleSize),
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.policy.AttemptTTL),
	}

	if err := s.refs.Save(ctx, issued, s.policy.AttemptTTL); err != nil {
		return nil, fmt.Errorf("save attempt ref: %w", err)
	}

	resp := &StartQuizResponse{
		AttemptRef: issued.AttemptRef,
		ModuleID:   m.ModuleID,
		Questions:  make([]domain.QuestionView, 0, len(issued.QuestionIDs)),
		ExpiresAt:  issued.ExpiresAt,
	}
	for _, id := range issued.QuestionIDs {
		resp.Questions = append(resp.Questions, byID[id].View())
	}

	slog.InfoContext(ctx, "quiz: issued quiz",
		"learner", req.LearnerID,
		"module", m.ModuleID,
		"attempt_ref", issued.AttemptRef,
	)

	return resp, nil
}

type SubmitQuizRequest struct {
	LearnerID  string
	ModuleID   string
	AttemptRef string
	// Answers maps each sampled question id to the selected option index.
	Answers   map[string]int
	TimeSpent time.Duration
}

type SubmitQuizResponse struct {
	Attempt           domain.QuizAttempt
	Results           []domain.QuestionResult
	Progress          domain.Progress
	PassingScore      int
	AttemptsRemaining int
	// RetryAt is set when this attempt started a cooldown.
	RetryAt *time.Time
}

// SubmitQuiz grades the answers of an issued quiz and records the outcome. Each attempt
// reference is graded at most once.
func (s *Service) SubmitQuiz(ctx context.Context, req SubmitQuizRequest) (*SubmitQuizResponse, error) {
	if req.LearnerID == "" || req.ModuleID == "" || req.AttemptRef == "" || req.Answers == nil {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("learner, module, attempt ref and answers are required"))
	}

	graded, err := s.store.GetAttemptByRef(ctx, req.AttemptRef)
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if graded != nil {
		return nil, s.reject(alreadyGraded(req.AttemptRef, nil))
	}

	issued, err := s.refs.Get(ctx, req.AttemptRef)
	if err != nil {
		return nil, fmt.Errorf("get attempt ref: %w", err)
	}
	if issued == nil || issued.LearnerID != req.LearnerID || issued.ModuleID != req.ModuleID {
		return nil, s.reject(errors.New(errors.CodeInvalidArgument,
			errors.WithReason(errors.ReasonInvalidAttemptRef),
			errors.WithMessagef("attempt ref %s is unknown or expired", req.AttemptRef),
		))
	}

	if err := checkAnswers(issued.QuestionIDs, req.Answers); err != nil {
		return nil, s.reject(err)
	}

	m, err := s.getModule(ctx, issued.ModuleID)
	if err != nil {
		return nil, err
	}

	bank, err := s.store.ListQuestions(ctx, m.ModuleID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	byID := make(map[string]domain.Question, len(bank))
	for _, q := range bank {
		byID[q.QuestionID] = q
	}

	correct, results, err := grade(issued.QuestionIDs, byID, req.Answers)
	if err != nil {
		return nil, s.reject(err)
	}

	passing := m.PassingScore
	if passing <= 0 {
		passing = s.policy.PassingScore
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate attempt id: %w", err)
	}

	now := s.now()
	attempt := domain.QuizAttempt{
		AttemptID:   id.String(),
		AttemptRef:  issued.AttemptRef,
		LearnerID:   issued.LearnerID,
		ModuleID:    issued.ModuleID,
		QuestionIDs: issued.QuestionIDs,
		Correct:     correct,
		Total:       len(issued.QuestionIDs),
		Score:       score(correct, len(issued.QuestionIDs)),
		SubmitTime:  now,
	}
	attempt.Passed = attempt.Score >= passing

	var (
		progress        domain.Progress
		firstCompletion bool
	)

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		pr, err := tx.LockProgress(ctx, attempt.LearnerID, attempt.ModuleID, now)
		if err != nil {
			return fmt.Errorf("lock progress: %w", err)
		}

		// A quiz issued before the cooldown started must not slip through.
		if err := s.policy.Check(pr, now); err != nil {
			return err
		}

		attempt.Sequence = pr.QuizAttempts + 1
		if err := tx.InsertAttempt(ctx, &attempt); err != nil {
			return err
		}

		firstCompletion = s.policy.Record(pr, attempt, req.TimeSpent, now)
		if err := tx.SaveProgress(ctx, pr); err != nil {
			return fmt.Errorf("save progress: %w", err)
		}

		progress = *pr
		return nil
	})
	if errors.HasReason(err, errors.ReasonAlreadyGraded) {
		return nil, s.reject(alreadyGraded(req.AttemptRef, err))
	}
	if err != nil {
		if e := errors.Convert(err); e.Code != errors.CodeInternal {
			return nil, s.reject(e)
		}
		return nil, fmt.Errorf("record attempt: %w", err)
	}

	if err := s.refs.Delete(ctx, attempt.AttemptRef); err != nil {
		slog.WarnContext(ctx, "quiz: delete attempt ref failed", "attempt_ref", attempt.AttemptRef, "error", err)
	}

	telemetry.QuizAttempts.WithLabelValues(outcome(attempt.Passed)).Inc()

	slog.InfoContext(ctx, "quiz: graded attempt",
		"learner", attempt.LearnerID,
		"module", attempt.ModuleID,
		"score", attempt.Score,
		"passed", attempt.Passed,
		"sequence", attempt.Sequence,
	)

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventQuizGraded{
			Attempt:         attempt,
			Progress:        progress,
			FirstCompletion: firstCompletion,
		})
	}

	resp := &SubmitQuizResponse{
		Attempt:           attempt,
		Results:           results,
		Progress:          progress,
		PassingScore:      passing,
		AttemptsRemaining: s.policy.Remaining(&progress, now),
	}
	if at, ok := s.policy.RetryAt(&progress); ok && now.Before(at) {
		resp.RetryAt = &at
	}

	return resp, nil
}

type GetProgressRequest struct {
	LearnerID string
}

// GetProgress returns the learner's progress on every module they interacted with.
func (s *Service) GetProgress(ctx context.Context, req GetProgressRequest) ([]domain.Progress, error) {
	if req.LearnerID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("learner is required"))
	}

	ps, err := s.store.ListProgress(ctx, req.LearnerID)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}

	return ps, nil
}

type ListAttemptsRequest struct {
	LearnerID string
	ModuleID  string
}

type ListAttemptsResponse struct {
	Attempts          []domain.QuizAttempt
	AttemptsRemaining int
	RetryAt           *time.Time
}

// ListAttempts returns the learner's graded attempts on a module, newest first, with the
// current standing against the attempt policy.
func (s *Service) ListAttempts(ctx context.Context, req ListAttemptsRequest) (*ListAttemptsResponse, error) {
	if req.LearnerID == "" || req.ModuleID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("learner and module are required"))
	}

	if _, err := s.getModule(ctx, req.ModuleID); err != nil {
		return nil, err
	}

	as, err := s.store.ListAttempts(ctx, req.LearnerID, req.ModuleID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}

	pr, err := s.store.GetProgress(ctx, req.LearnerID, req.ModuleID)
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}

	now := s.now()
	resp := &ListAttemptsResponse{
		Attempts:          as,
		AttemptsRemaining: s.policy.Remaining(pr, now),
	}
	if at, ok := s.policy.RetryAt(pr); ok && now.Before(at) {
		resp.RetryAt = &at
	}

	return resp, nil
}

func (s *Service) getModule(ctx context.Context, moduleID string) (*domain.Module, error) {
	m, err := s.store.GetModule(ctx, moduleID)
	if err != nil {
		return nil, fmt.Errorf("get module: %w", err)
	}

	if m == nil {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithReason(errors.ReasonModuleNotFound),
			errors.WithMessagef("module not found: %s", moduleID),
		)
	}

	return m, nil
}

func (s *Service) reject(err error) error {
	telemetry.QuizRejected.WithLabelValues(string(errors.Convert(err).Reason)).Inc()
	return err
}

func alreadyGraded(ref string, cause error) error {
	return errors.New(errors.CodeAlreadyExists,
		errors.WithReason(errors.ReasonAlreadyGraded),
		errors.WithMessagef("attempt %s is already graded", ref),
		errors.WithCause(cause),
	)
}

func outcome(passed bool) string {
	if passed {
		return "passed"
	}
	return "failed"
}
