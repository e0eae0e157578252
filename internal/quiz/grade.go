package quiz

import (
	"math"
	"math/rand/v2"

	"github.com/victornm/afribourse/internal/domain"
	"github.com/victornm/afribourse/internal/errors"
)

// sample picks n distinct ids uniformly at random, using a partial Fisher-Yates shuffle
// over a copy of ids.
func sample(intN func(int) int, ids []string, n int) []string {
	pool := make([]string, len(ids))
	copy(pool, ids)

	n = min(n, len(pool))
	for i := 0; i < n; i++ {
		j := i + intN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}

	return pool[:n]
}

func defaultIntN(n int) int {
	return rand.IntN(n)
}

// score is the percentage of correct answers, rounded half away from zero.
func score(correct, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(correct) * 100 / float64(total)))
}

// checkAnswers ensures answers cover exactly the sampled question set.
func checkAnswers(sampled []string, answers map[string]int) error {
	if len(answers) != len(sampled) {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithReason(errors.ReasonInvalidAttemptRef),
			errors.WithMessagef("got %d answers for %d questions", len(answers), len(sampled)),
		)
	}

	for _, id := range sampled {
		if _, ok := answers[id]; !ok {
			return errors.New(errors.CodeInvalidArgument,
				errors.WithReason(errors.ReasonInvalidAttemptRef),
				errors.WithMessagef("missing answer for question %s", id),
			)
		}
	}

	return nil
}

// grade compares answers with the answer key, in the order the questions were presented.
func grade(sampled []string, bank map[string]domain.Question, answers map[string]int) (int, []domain.QuestionResult, error) {
	var (
		correct int
		results = make([]domain.QuestionResult, 0, len(sampled))
	)

	for _, id := range sampled {
		q, ok := bank[id]
		if !ok {
			return 0, nil, errors.New(errors.CodeInvalidArgument,
				errors.WithReason(errors.ReasonInvalidAttemptRef),
				errors.WithMessagef("question %s is no longer in the module", id),
			)
		}

		selected := answers[id]
		if selected < 0 || selected >= len(q.Options) {
			return 0, nil, errors.New(errors.CodeInvalidArgument,
				errors.WithReason(errors.ReasonInvalidAnswer),
				errors.WithMessagef("option %d out of range for question %s", selected, id),
			)
		}

		ok = selected == q.CorrectIndex
		if ok {
			correct++
		}

		results = append(results, domain.QuestionResult{
			QuestionID:   id,
			Selected:     selected,
			CorrectIndex: q.CorrectIndex,
			IsCorrect:    ok,
			Explanation:  q.Explanation,
		})
	}

	return correct, results, nil
}
