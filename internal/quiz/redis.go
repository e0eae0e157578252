package quiz

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/afribourse/internal/domain"
)

// RedisRefs stores issued quizzes in Redis, expiring with the attempt TTL.
type RedisRefs struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRedisRefs(r redis.UniversalClient, prefix string) *RedisRefs {
	return &RedisRefs{redis: r, prefix: prefix}
}

type issuedQuiz struct {
	AttemptRef  string    `json:"attempt_ref"`
	LearnerID   string    `json:"learner_id"`
	ModuleID    string    `json:"module_id"`
	QuestionIDs []string  `json:"question_ids"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (r *RedisRefs) Save(ctx context.Context, q domain.IssuedQuiz, ttl time.Duration) error {
	b, err := json.Marshal(issuedQuiz(q))
	if err != nil {
		return fmt.Errorf("marshal issued quiz: %w", err)
	}

	if err := r.redis.Set(ctx, r.key(q.AttemptRef), b, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", q.AttemptRef, err)
	}

	return nil
}

func (r *RedisRefs) Get(ctx context.Context, ref string) (*domain.IssuedQuiz, error) {
	b, err := r.redis.Get(ctx, r.key(ref)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", ref, err)
	}

	var q issuedQuiz
	if err := json.Unmarshal(b, &q); err != nil {
		return nil, fmt.Errorf("unmarshal issued quiz %s: %w", ref, err)
	}

	d := domain.IssuedQuiz(q)
	return &d, nil
}

func (r *RedisRefs) Delete(ctx context.Context, ref string) error {
	return r.redis.Del(ctx, r.key(ref)).Err()
}

func (r *RedisRefs) key(ref string) string {
	return fmt.Sprintf("%s:quiz:attempt:%s", r.prefix, ref)
}
