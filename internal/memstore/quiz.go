// Package memstore keeps the quiz, ledger and XP stores in memory. A transaction holds the
// store lock and works on a copy of the state that replaces it on commit, so a failed
// transaction leaves nothing behind.
package memstore

import (
	"cmp"
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/victornm/afribourse/internal/domain"
	"github.com/victornm/afribourse/internal/errors"
	"github.com/victornm/afribourse/internal/quiz"
)

type progressKey struct {
	learner string
	module  string
}

// Quiz implements quiz.Store.
type Quiz struct {
	mu        sync.Mutex
	modules   map[string]domain.Module
	questions map[string][]domain.Question
	progress  map[progressKey]domain.Progress
	attempts  map[string]domain.QuizAttempt
}

var _ quiz.Store = (*Quiz)(nil)

func NewQuiz() *Quiz {
	return &Quiz{
		modules:   make(map[string]domain.Module),
		questions: make(map[string][]domain.Question),
		progress:  make(map[progressKey]domain.Progress),
		attempts:  make(map[string]domain.QuizAttempt),
	}
}

// AddModule loads a module with its question bank, dropping invalid questions.
func (s *Quiz) AddModule(m domain.Module, qs []domain.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()

	valid := make([]domain.Question, 0, len(qs))
	for _, q := range qs {
		if err := q.Validate(); err != nil {
			slog.Warn("memstore: skipping invalid question", "module", m.ModuleID, "error", err)
			continue
		}
		valid = append(valid, q)
	}

	s.modules[m.ModuleID] = m
	s.questions[m.ModuleID] = valid
}

func (s *Quiz) GetModule(_ context.Context, moduleID string) (*domain.Module, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.modules[moduleID]
	if !ok || !m.Published {
		return nil, nil
	}
	return &m, nil
}

func (s *Quiz) ListQuestions(_ context.Context, moduleID string) ([]domain.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.questions[moduleID]), nil
}

func (s *Quiz) GetProgress(_ context.Context, learnerID, moduleID string) (*domain.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.progress[progressKey{learnerID, moduleID}]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *Quiz) ListProgress(_ context.Context, learnerID string) ([]domain.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ps []domain.Progress
	for k, p := range s.progress {
		if k.learner == learnerID {
			ps = append(ps, p)
		}
	}

	slices.SortFunc(ps, func(a, b domain.Progress) int {
		if c := a.CreateTime.Compare(b.CreateTime); c != 0 {
			return c
		}
		return cmp.Compare(a.ModuleID, b.ModuleID)
	})
	return ps, nil
}

func (s *Quiz) EnsureProgress(_ context.Context, learnerID, moduleID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ensureProgress(s.progress, learnerID, moduleID, now)
	return nil
}

func ensureProgress(m map[progressKey]domain.Progress, learnerID, moduleID string, now time.Time) domain.Progress {
	k := progressKey{learnerID, moduleID}
	p, ok := m[k]
	if !ok {
		p = domain.Progress{
			LearnerID:  learnerID,
			ModuleID:   moduleID,
			CreateTime: now,
			UpdateTime: now,
		}
		m[k] = p
	}
	return p
}

func (s *Quiz) GetAttemptByRef(_ context.Context, ref string) (*domain.QuizAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[ref]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *Quiz) ListAttempts(_ context.Context, learnerID, moduleID string) ([]domain.QuizAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var as []domain.QuizAttempt
	for _, a := range s.attempts {
		if a.LearnerID == learnerID && a.ModuleID == moduleID {
			as = append(as, a)
		}
	}

	slices.SortFunc(as, func(a, b domain.QuizAttempt) int {
		return cmp.Compare(b.Sequence, a.Sequence)
	})
	return as, nil
}

func (s *Quiz) WithinTx(ctx context.Context, fn func(ctx context.Context, tx quiz.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &quizTx{
		progress: maps.Clone(s.progress),
		attempts: maps.Clone(s.attempts),
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.progress, s.attempts = tx.progress, tx.attempts
	return nil
}

type quizTx struct {
	progress map[progressKey]domain.Progress
	attempts map[string]domain.QuizAttempt
}

func (t *quizTx) LockProgress(_ context.Context, learnerID, moduleID string, now time.Time) (*domain.Progress, error) {
	p := ensureProgress(t.progress, learnerID, moduleID, now)
	return &p, nil
}

func (t *quizTx) InsertAttempt(_ context.Context, a *domain.QuizAttempt) error {
	if _, ok := t.attempts[a.AttemptRef]; ok {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithReason(errors.ReasonAlreadyGraded),
			errors.WithMessagef("attempt %s is already graded", a.AttemptRef),
		)
	}

	t.attempts[a.AttemptRef] = *a
	return nil
}

func (t *quizTx) SaveProgress(_ context.Context, p *domain.Progress) error {
	k, v := progressKey{p.LearnerID, p.ModuleID}, *p
	if prev, ok := t.progress[k]; ok && prev.CompletedAt != nil {
		v.CompletedAt = prev.CompletedAt
	}

	t.progress[k] = v
	return nil
}
