package engine

import (
	"strings"

	"github.com/prepdesk/prepdesk-backend/internal/model"
)

// Score grades a finished attempt. It is a pure function: same inputs,
// same output, callable any number of times without side effects.
//
// Matching is exact and case-sensitive after trimming surrounding
// whitespace. Unanswered questions count as incorrect but still
// contribute to their topic's total, so every assigned topic appears in
// the breakdown. A zero-question set (or topic) reports accuracy 0.
func Score(questions []model.Question, answers map[int]string, timeSpentSeconds int) *model.Result {
	res := &model.Result{
		TotalCount:       len(questions),
		TimeSpentSeconds: timeSpentSeconds,
		TopicBreakdown:   make(map[string]model.TopicScore, 8),
	}

	for i, q := range questions {
		ts := res.TopicBreakdown[q.Topic]
		ts.Total++

		if ans, ok := answers[i]; ok && answerMatches(ans, q.CorrectAnswer) {
			res.CorrectCount++
			ts.Correct++
		}

		res.TopicBreakdown[q.Topic] = ts
	}

	res.Accuracy = ratio(res.CorrectCount, res.TotalCount)
	for topic, ts := range res.TopicBreakdown {
		ts.Accuracy = ratio(ts.Correct, ts.Total)
		res.TopicBreakdown[topic] = ts
	}

	return res
}

func answerMatches(given, correct string) bool {
	return strings.TrimSpace(given) == strings.TrimSpace(correct)
}

func ratio(correct, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(correct) / float64(total)
}
