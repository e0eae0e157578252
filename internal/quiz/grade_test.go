package quiz

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/afribourse/internal/domain"
	"github.com/victornm/afribourse/internal/errors"
)

func TestSample(t *testing.T) {
	ids := make([]string, 20)
	for i := range ids {
		ids[i] = fmt.Sprintf("q%02d", i)
	}

	t.Run("should pick distinct ids from the bank without touching it", func(t *testing.T) {
		orig := append([]string(nil), ids...)

		got := sample(defaultIntN, ids, 10)

		require.Len(t, got, 10)
		seen := make(map[string]bool)
		for _, id := range got {
			require.Contains(t, ids, id)
			require.False(t, seen[id], "duplicate id %s", id)
			seen[id] = true
		}
		require.Equal(t, orig, ids)
	})

	t.Run("should cap the sample at the bank size", func(t *testing.T) {
		require.Len(t, sample(defaultIntN, ids[:3], 10), 3)
	})

	t.Run("should not exclude any question systematically", func(t *testing.T) {
		const trials = 2000

		hits := make(map[string]int)
		for range trials {
			for _, id := range sample(defaultIntN, ids, 10) {
				hits[id]++
			}
		}

		// each id is expected trials*10/20 = 1000 times
		for _, id := range ids {
			assert.InDelta(t, 1000, hits[id], 150, "id %s", id)
		}
	})
}

func TestScore(t *testing.T) {
	tests := map[string]struct {
		correct, total, want int
	}{
		"all correct":     {10, 10, 100},
		"eight of ten":    {8, 10, 80},
		"seven of ten":    {7, 10, 70},
		"rounds half up":  {1, 8, 13},
		"rounds down":     {1, 3, 33},
		"rounds up":       {2, 3, 67},
		"no question":     {0, 0, 0},
		"three of four":   {3, 4, 75},
		"nothing correct": {0, 10, 0},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tt.want, score(tt.correct, tt.total))
		})
	}
}

func TestCheckAnswers(t *testing.T) {
	sampled := []string{"q1", "q2"}

	require.NoError(t, checkAnswers(sampled, map[string]int{"q1": 0, "q2": 1}))

	err := checkAnswers(sampled, map[string]int{"q1": 0})
	require.True(t, errors.HasReason(err, errors.ReasonInvalidAttemptRef))

	err = checkAnswers(sampled, map[string]int{"q1": 0, "q3": 1})
	require.True(t, errors.HasReason(err, errors.ReasonInvalidAttemptRef))
}

func TestGrade(t *testing.T) {
	bank := map[string]domain.Question{
		"q1": {QuestionID: "q1", Options: []string{"a", "b"}, CorrectIndex: 1, Explanation: "b"},
		"q2": {QuestionID: "q2", Options: []string{"a", "b", "c"}, CorrectIndex: 2, Explanation: "c"},
	}

	t.Run("should grade in presentation order", func(t *testing.T) {
		correct, results, err := grade([]string{"q2", "q1"}, bank, map[string]int{"q1": 1, "q2": 0})
		require.NoError(t, err)
		require.Equal(t, 1, correct)
		require.Equal(t, []domain.QuestionResult{
			{QuestionID: "q2", Selected: 0, CorrectIndex: 2, IsCorrect: false, Explanation: "c"},
			{QuestionID: "q1", Selected: 1, CorrectIndex: 1, IsCorrect: true, Explanation: "b"},
		}, results)
	})

	t.Run("should reject an option out of range", func(t *testing.T) {
		_, _, err := grade([]string{"q1"}, bank, map[string]int{"q1": 2})
		require.ErrorIs(t, err, errors.New(errors.CodeInvalidArgument, errors.WithReason(errors.ReasonInvalidAnswer)))

		_, _, err = grade([]string{"q1"}, bank, map[string]int{"q1": -1})
		require.ErrorIs(t, err, errors.New(errors.CodeInvalidArgument, errors.WithReason(errors.ReasonInvalidAnswer)))
	})

	t.Run("should reject a question removed from the bank", func(t *testing.T) {
		_, _, err := grade([]string{"q9"}, bank, map[string]int{"q9": 0})
		require.True(t, errors.HasReason(err, errors.ReasonInvalidAttemptRef))
	})
}
