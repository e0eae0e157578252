package quiz_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/afribourse/internal/domain"
	"github.com/victornm/afribourse/internal/errors"
	"github.com/victornm/afribourse/internal/event"
	"github.com/victornm/afribourse/internal/memstore"
	"github.com/victornm/afribourse/internal/quiz"
)

func TestService_StartQuiz(t *testing.T) {
	tests := map[string]struct {
		module string
		assert func(t *testing.T, f *fixture, resp *quiz.StartQuizResponse, err error)
	}{
		"should return 10 distinct questions from the bank": {
			module: "m1",
			assert: func(t *testing.T, f *fixture, resp *quiz.StartQuizResponse, err error) {
				require.NoError(t, err)
				require.NotEmpty(t, resp.AttemptRef)
				require.Equal(t, "m1", resp.ModuleID)
				require.Len(t, resp.Questions, 10)
				require.True(t, t0.Add(2*time.Hour).Equal(resp.ExpiresAt))

				seen := make(map[string]bool)
				for _, q := range resp.Questions {
					_, inBank := f.key[q.QuestionID]
					require.True(t, inBank, "question %s is not in the bank", q.QuestionID)
					require.False(t, seen[q.QuestionID], "duplicate question %s", q.QuestionID)
					require.Len(t, q.Options, 4)
					seen[q.QuestionID] = true
				}
			},
		},

		"should create the progress row": {
			module: "m1",
			assert: func(t *testing.T, f *fixture, resp *quiz.StartQuizResponse, err error) {
				require.NoError(t, err)
				pr, err := f.store.GetProgress(context.Background(), "u1", "m1")
				require.NoError(t, err)
				require.NotNil(t, pr)
				require.Equal(t, 0, pr.QuizAttempts)
				require.False(t, pr.IsCompleted)
			},
		},

		"should return not found for an unknown module": {
			module: "nope",
			assert: func(t *testing.T, f *fixture, resp *quiz.StartQuizResponse, err error) {
				require.ErrorIs(t, err, errors.New(errors.CodeNotFound, errors.WithReason(errors.ReasonModuleNotFound)))
			},
		},

		"should return not found for an unpublished module": {
			module: "m-draft",
			assert: func(t *testing.T, f *fixture, resp *quiz.StartQuizResponse, err error) {
				require.ErrorIs(t, err, errors.New(errors.CodeNotFound, errors.WithReason(errors.ReasonModuleNotFound)))
			},
		},

		"should refuse a bank smaller than the sample": {
			module: "m-small",
			assert: func(t *testing.T, f *fixture, resp *quiz.StartQuizResponse, err error) {
				require.ErrorIs(t, err, errors.New(errors.CodeFailedPrecondition, errors.WithReason(errors.ReasonQuestionBankTooSmall)))
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			f := makeService(t)

			resp, err := f.svc.StartQuiz(context.Background(), quiz.StartQuizRequest{LearnerID: "u1", ModuleID: tt.module})
			tt.assert(t, f, resp, err)
		})
	}
}

func TestService_SubmitQuiz(t *testing.T) {
	tests := map[string]struct {
		correct int
		assert  func(t *testing.T, resp *quiz.SubmitQuizResponse)
	}{
		"should pass with 8 of 10 on an 80% module": {
			correct: 8,
			assert: func(t *testing.T, resp *quiz.SubmitQuizResponse) {
				assert.Equal(t, 80, resp.Attempt.Score)
				assert.Equal(t, 8, resp.Attempt.Correct)
				assert.Equal(t, 10, resp.Attempt.Total)
				assert.True(t, resp.Attempt.Passed)
				assert.Equal(t, 80, resp.PassingScore)
				assert.True(t, resp.Progress.IsCompleted)
				require.NotNil(t, resp.Progress.CompletedAt)
				assert.True(t, t0.Equal(*resp.Progress.CompletedAt))
				assert.Equal(t, 2, resp.AttemptsRemaining)
				assert.Nil(t, resp.RetryAt)
			},
		},

		"should fail with 7 of 10 on an 80% module": {
			correct: 7,
			assert: func(t *testing.T, resp *quiz.SubmitQuizResponse) {
				assert.Equal(t, 70, resp.Attempt.Score)
				assert.False(t, resp.Attempt.Passed)
				assert.False(t, resp.Progress.IsCompleted)
				assert.Nil(t, resp.Progress.CompletedAt)
				assert.Equal(t, 1, resp.Progress.FailedInCycle)
				assert.Equal(t, 1, resp.AttemptsRemaining)
			},
		},

		"should reveal the answer key in presentation order": {
			correct: 10,
			assert: func(t *testing.T, resp *quiz.SubmitQuizResponse) {
				require.Len(t, resp.Results, 10)
				for i, r := range resp.Results {
					assert.Equal(t, resp.Attempt.QuestionIDs[i], r.QuestionID)
					assert.True(t, r.IsCorrect)
					assert.Equal(t, "because "+r.QuestionID, r.Explanation)
				}
				assert.Equal(t, 100, resp.Attempt.Score)
				assert.Equal(t, 100, resp.Progress.BestScore)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			f := makeService(t)

			resp, err := f.attempt("u1", "m1", tt.correct)
			require.NoError(t, err)
			assert.Equal(t, 1, resp.Attempt.Sequence)
			assert.Equal(t, 1, resp.Progress.QuizAttempts)
			assert.Equal(t, 5*time.Minute, resp.Progress.TimeSpent)

			tt.assert(t, resp)
		})
	}
}

func TestService_SubmitQuiz_Rejected(t *testing.T) {
	tests := map[string]struct {
		mutate func(f *fixture, req *quiz.SubmitQuizRequest)
		want   *errors.Error
	}{
		"should reject an unknown reference": {
			mutate: func(f *fixture, req *quiz.SubmitQuizRequest) {
				req.AttemptRef = "unknown"
			},
			want: errors.New(errors.CodeInvalidArgument, errors.WithReason(errors.ReasonInvalidAttemptRef)),
		},

		"should reject a reference issued to another learner": {
			mutate: func(f *fixture, req *quiz.SubmitQuizRequest) {
				req.LearnerID = "u2"
			},
			want: errors.New(errors.CodeInvalidArgument, errors.WithReason(errors.ReasonInvalidAttemptRef)),
		},

		"should reject answers to other questions": {
			mutate: func(f *fixture, req *quiz.SubmitQuizRequest) {
				for id := range req.Answers {
					delete(req.Answers, id)
					break
				}
				for id := range f.key {
					if _, ok := req.Answers[id]; !ok {
						req.Answers[id] = 0
						break
					}
				}
			},
			want: errors.New(errors.CodeInvalidArgument, errors.WithReason(errors.ReasonInvalidAttemptRef)),
		},

		"should reject a missing answer": {
			mutate: func(f *fixture, req *quiz.SubmitQuizRequest) {
				for id := range req.Answers {
					delete(req.Answers, id)
					break
				}
			},
			want: errors.New(errors.CodeInvalidArgument, errors.WithReason(errors.ReasonInvalidAttemptRef)),
		},

		"should reject an option out of range": {
			mutate: func(f *fixture, req *quiz.SubmitQuizRequest) {
				for id := range req.Answers {
					req.Answers[id] = 4
					break
				}
			},
			want: errors.New(errors.CodeInvalidArgument, errors.WithReason(errors.ReasonInvalidAnswer)),
		},

		"should reject nil answers": {
			mutate: func(f *fixture, req *quiz.SubmitQuizRequest) {
				req.Answers = nil
			},
			want: errors.New(errors.CodeInvalidArgument),
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			f := makeService(t)

			start, err := f.svc.StartQuiz(context.Background(), quiz.StartQuizRequest{LearnerID: "u1", ModuleID: "m1"})
			require.NoError(t, err)

			req := f.submitRequest("u1", start, 10)
			tt.mutate(f, &req)

			_, err = f.svc.SubmitQuiz(context.Background(), req)
			require.ErrorIs(t, err, tt.want)

			pr, err := f.store.GetProgress(context.Background(), "u1", "m1")
			require.NoError(t, err)
			require.Equal(t, 0, pr.QuizAttempts, "a rejected submission should not count")
		})
	}
}

func TestService_SubmitQuiz_Idempotent(t *testing.T) {
	f := makeService(t)
	ctx := context.Background()

	start, err := f.svc.StartQuiz(ctx, quiz.StartQuizRequest{LearnerID: "u1", ModuleID: "m1"})
	require.NoError(t, err)

	req := f.submitRequest("u1", start, 9)
	_, err = f.svc.SubmitQuiz(ctx, req)
	require.NoError(t, err)

	before, err := f.store.GetProgress(ctx, "u1", "m1")
	require.NoError(t, err)

	f.clock.advance(time.Minute)
	_, err = f.svc.SubmitQuiz(ctx, req)
	require.ErrorIs(t, err, errors.New(errors.CodeAlreadyExists, errors.WithReason(errors.ReasonAlreadyGraded)))

	after, err := f.store.GetProgress(ctx, "u1", "m1")
	require.NoError(t, err)
	require.Equal(t, before, after)

	as, err := f.store.ListAttempts(ctx, "u1", "m1")
	require.NoError(t, err)
	require.Len(t, as, 1)
}

func TestService_SubmitQuiz_ConcurrentDoubleSubmit(t *testing.T) {
	f := makeService(t)
	ctx := context.Background()

	start, err := f.svc.StartQuiz(ctx, quiz.StartQuizRequest{LearnerID: "u1", ModuleID: "m1"})
	require.NoError(t, err)
	req := f.submitRequest("u1", start, 9)

	const n = 8
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.SubmitQuiz(ctx, req)
		}()
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.True(t,
			errors.HasReason(err, errors.ReasonAlreadyGraded) || errors.HasReason(err, errors.ReasonInvalidAttemptRef),
			"unexpected error: %v", err)
	}
	require.Equal(t, 1, ok, "exactly one submission should be graded")

	pr, err := f.store.GetProgress(ctx, "u1", "m1")
	require.NoError(t, err)
	require.Equal(t, 1, pr.QuizAttempts)
}

func TestService_Cooldown(t *testing.T) {
	f := makeService(t, withPolicy(quiz.Policy{SampleSize: 4}))
	ctx := context.Background()

	// 3 of 4 scores 75 on an 80% module
	resp, err := f.attempt("u1", "m1", 3)
	require.NoError(t, err)
	require.Equal(t, 75, resp.Attempt.Score)
	require.False(t, resp.Attempt.Passed)
	require.Nil(t, resp.RetryAt)

	f.clock.advance(time.Hour)
	resp, err = f.attempt("u1", "m1", 3)
	require.NoError(t, err)
	require.Equal(t, 0, resp.AttemptsRemaining)
	require.NotNil(t, resp.RetryAt)
	secondFail := f.clock.Now()
	require.True(t, secondFail.Add(8*time.Hour).Equal(*resp.RetryAt))

	f.clock.advance(7 * time.Hour)
	_, err = f.svc.StartQuiz(ctx, quiz.StartQuizRequest{LearnerID: "u1", ModuleID: "m1"})
	require.ErrorIs(t, err, errors.New(errors.CodeResourceExhausted, errors.WithReason(errors.ReasonCooldownActive)))
	require.True(t, secondFail.Add(8*time.Hour).Equal(*errors.Convert(err).RetryAt))

	list, err := f.svc.ListAttempts(ctx, quiz.ListAttemptsRequest{LearnerID: "u1", ModuleID: "m1"})
	require.NoError(t, err)
	require.Len(t, list.Attempts, 2)
	require.Equal(t, 2, list.Attempts[0].Sequence, "newest first")
	require.Equal(t, 0, list.AttemptsRemaining)
	require.NotNil(t, list.RetryAt)

	f.clock.advance(time.Hour)
	resp, err = f.attempt("u1", "m1", 3)
	require.NoError(t, err, "the cooldown should be over")
	require.Equal(t, 1, resp.Progress.FailedInCycle)
	require.Equal(t, 3, resp.Progress.QuizAttempts)
}

func TestService_Cooldown_QuizIssuedBeforeLimit(t *testing.T) {
	f := makeService(t)
	ctx := context.Background()

	var starts []*quiz.StartQuizResponse
	for range 3 {
		s, err := f.svc.StartQuiz(ctx, quiz.StartQuizRequest{LearnerID: "u1", ModuleID: "m1"})
		require.NoError(t, err)
		starts = append(starts, s)
	}

	for _, s := range starts[:2] {
		_, err := f.svc.SubmitQuiz(ctx, f.submitRequest("u1", s, 0))
		require.NoError(t, err)
	}

	_, err := f.svc.SubmitQuiz(ctx, f.submitRequest("u1", starts[2], 10))
	require.ErrorIs(t, err, errors.New(errors.CodeResourceExhausted, errors.WithReason(errors.ReasonCooldownActive)))

	pr, err := f.store.GetProgress(ctx, "u1", "m1")
	require.NoError(t, err)
	require.Equal(t, 2, pr.QuizAttempts)
	require.False(t, pr.IsCompleted)
}

func TestService_CompletedOnce(t *testing.T) {
	f := makeService(t)

	_, err := f.attempt("u1", "m1", 7)
	require.NoError(t, err)

	f.clock.advance(time.Minute)
	passedAt := f.clock.Now()
	resp, err := f.attempt("u1", "m1", 8)
	require.NoError(t, err)
	require.True(t, passedAt.Equal(*resp.Progress.CompletedAt))

	f.clock.advance(time.Minute)
	resp, err = f.attempt("u1", "m1", 10)
	require.NoError(t, err)
	require.True(t, passedAt.Equal(*resp.Progress.CompletedAt), "completion time should not move")
	require.Equal(t, 100, resp.Progress.BestScore)
	require.Equal(t, 3, resp.Progress.QuizAttempts)
	require.Equal(t, 0, resp.Progress.FailedInCycle)
}

func TestService_PublishQuizGraded(t *testing.T) {
	eb := event.NewBus()

	var (
		mu     sync.Mutex
		events []domain.EventQuizGraded
	)
	eb.Subscribe(domain.EventNameQuizGraded, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		events = append(events, e.(domain.EventQuizGraded))
		mu.Unlock()
		return nil
	})

	f := makeService(t, withEventBus(eb))

	_, err := f.attempt("u1", "m1", 5)
	require.NoError(t, err)
	_, err = f.attempt("u1", "m1", 10)
	require.NoError(t, err)
	_, err = f.attempt("u1", "m1", 9)
	require.NoError(t, err)

	eb.Stop()

	require.Len(t, events, 3)
	byScore := make(map[int]domain.EventQuizGraded)
	for _, e := range events {
		byScore[e.Attempt.Score] = e
	}
	assert.False(t, byScore[50].FirstCompletion)
	assert.True(t, byScore[100].FirstCompletion)
	assert.False(t, byScore[90].FirstCompletion)
}

func TestService_GetProgress(t *testing.T) {
	f := makeService(t)
	ctx := context.Background()

	_, err := f.attempt("u1", "m1", 10)
	require.NoError(t, err)
	f.clock.advance(time.Minute)
	_, err = f.attempt("u1", "m2", 2)
	require.NoError(t, err)

	ps, err := f.svc.GetProgress(ctx, quiz.GetProgressRequest{LearnerID: "u1"})
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, "m1", ps[0].ModuleID)
	assert.True(t, ps[0].IsCompleted)
	assert.Equal(t, "m2", ps[1].ModuleID)
	assert.Equal(t, 20, ps[1].BestScore)

	ps, err = f.svc.GetProgress(ctx, quiz.GetProgressRequest{LearnerID: "u2"})
	require.NoError(t, err)
	require.Empty(t, ps)
}

func TestService_PassingScoreFallback(t *testing.T) {
	f := makeService(t)

	// m2 has no threshold of its own: the 70% default applies
	resp, err := f.attempt("u1", "m2", 7)
	require.NoError(t, err)
	require.Equal(t, 70, resp.PassingScore)
	require.True(t, resp.Attempt.Passed)
}

type fixture struct {
	svc   *quiz.Service
	store *memstore.Quiz
	clock *clock
	// key maps every question of the banks to its correct option
	key map[string]int
}

// attempt starts a quiz and answers correct questions right.
func (f *fixture) attempt(learner, module string, correct int) (*quiz.SubmitQuizResponse, error) {
	ctx := context.Background()

	start, err := f.svc.StartQuiz(ctx, quiz.StartQuizRequest{LearnerID: learner, ModuleID: module})
	if err != nil {
		return nil, err
	}

	return f.svc.SubmitQuiz(ctx, f.submitRequest(learner, start, correct))
}

func (f *fixture) submitRequest(learner string, start *quiz.StartQuizResponse, correct int) quiz.SubmitQuizRequest {
	answers := make(map[string]int, len(start.Questions))
	for i, q := range start.Questions {
		k := f.key[q.QuestionID]
		if i < correct {
			answers[q.QuestionID] = k
		} else {
			answers[q.QuestionID] = (k + 1) % 4
		}
	}

	return quiz.SubmitQuizRequest{
		LearnerID:  learner,
		ModuleID:   start.ModuleID,
		AttemptRef: start.AttemptRef,
		Answers:    answers,
		TimeSpent:  5 * time.Minute,
	}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func makeService(t *testing.T, opts ...options) *fixture {
	refs, _ := makeRefs(t)

	f := &fixture{
		store: memstore.NewQuiz(),
		clock: &clock{now: t0},
		key:   make(map[string]int),
	}

	addModule := func(m domain.Module, n int) {
		qs := make([]domain.Question, 0, n)
		for i := range n {
			id := fmt.Sprintf("%s-q%02d", m.ModuleID, i)
			qs = append(qs, domain.Question{
				QuestionID:   id,
				Prompt:       "prompt " + id,
				Options:      []string{"a", "b", "c", "d"},
				CorrectIndex: i % 4,
				Explanation:  "because " + id,
			})
			f.key[id] = i % 4
		}
		f.store.AddModule(m, qs)
	}

	addModule(domain.Module{ModuleID: "m1", Title: "Basics", PassingScore: 80, Published: true}, 15)
	addModule(domain.Module{ModuleID: "m2", Title: "Orders", Published: true}, 12)
	addModule(domain.Module{ModuleID: "m-small", Title: "Small", PassingScore: 80, Published: true}, 9)
	addModule(domain.Module{ModuleID: "m-draft", Title: "Draft", PassingScore: 80}, 15)

	c := quiz.Config{
		Store: f.store,
		Refs:  refs,
		Now:   f.clock.Now,
	}

	for _, opt := range opts {
		opt(&c)
	}

	f.svc = quiz.NewService(c)
	return f
}

type options func(c *quiz.Config)

func withEventBus(eb *event.Bus) options {
	return func(c *quiz.Config) {
		c.EventBus = eb
	}
}

func withPolicy(p quiz.Policy) options {
	return func(c *quiz.Config) {
		c.Policy = p
	}
}
