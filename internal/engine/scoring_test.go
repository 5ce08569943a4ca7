package engine_test

import (
	"fmt"
	"math"
	"reflect"
	"testing"

	"github.com/prepdesk/prepdesk-backend/internal/engine"
	"github.com/prepdesk/prepdesk-backend/internal/model"
)

func TestScoreCountsAndAccuracy(t *testing.T) {
	questions := makeQuestions(50)
	answers := make(map[int]string)
	for i := 0; i < 10; i++ {
		answers[i] = fmt.Sprintf("answer-%d", i)
	}
	for i := 10; i < 20; i++ {
		answers[i] = "wrong"
	}
	// 30 left unanswered.

	res := engine.Score(questions, answers, 1800)

	if res.TotalCount != 50 || res.CorrectCount != 10 {
		t.Fatalf("expected 10/50, got %d/%d", res.CorrectCount, res.TotalCount)
	}
	if math.Abs(res.Accuracy-0.2) > 1e-9 {
		t.Fatalf("expected accuracy 0.2, got %f", res.Accuracy)
	}
	if res.TimeSpentSeconds != 1800 {
		t.Fatalf("expected time spent 1800, got %d", res.TimeSpentSeconds)
	}
}

func TestScoreUnansweredCountInTopicTotals(t *testing.T) {
	questions := []model.Question{
		{CorrectAnswer: "a", Topic: "algebra"},
		{CorrectAnswer: "b", Topic: "algebra"},
		{CorrectAnswer: "c", Topic: "geometry"},
	}
	answers := map[int]string{0: "a"}

	res := engine.Score(questions, answers, 60)

	alg := res.TopicBreakdown["algebra"]
	if alg.Total != 2 || alg.Correct != 1 {
		t.Fatalf("expected algebra 1/2, got %d/%d", alg.Correct, alg.Total)
	}
	geo, ok := res.TopicBreakdown["geometry"]
	if !ok {
		t.Fatal("fully unanswered topics must still appear in the breakdown")
	}
	if geo.Total != 1 || geo.Correct != 0 || geo.Accuracy != 0 {
		t.Fatalf("expected geometry 0/1, got %+v", geo)
	}

	var topicTotal int
	for _, ts := range res.TopicBreakdown {
		topicTotal += ts.Total
	}
	if topicTotal != res.TotalCount {
		t.Fatalf("topic totals must sum to the question count: %d != %d", topicTotal, res.TotalCount)
	}
}

func TestScoreMatchingTrimsButKeepsCase(t *testing.T) {
	questions := []model.Question{
		{QuestionType: model.QuestionTypeFreeForm, CorrectAnswer: "Paris", Topic: "geography"},
		{QuestionType: model.QuestionTypeFreeForm, CorrectAnswer: "Paris", Topic: "geography"},
		{QuestionType: model.QuestionTypeFreeForm, CorrectAnswer: " 42 ", Topic: "math"},
	}
	answers := map[int]string{
		0: "  Paris  ", // trimmed match
		1: "paris",     // case mismatch
		2: "42",        // correct side trimmed too
	}

	res := engine.Score(questions, answers, 10)
	if res.CorrectCount != 2 {
		t.Fatalf("expected 2 correct, got %d", res.CorrectCount)
	}
}

func TestScoreEmptySetReportsZero(t *testing.T) {
	res := engine.Score(nil, nil, 0)
	if res.Accuracy != 0 || res.TotalCount != 0 || res.CorrectCount != 0 {
		t.Fatalf("expected zero result, got %+v", res)
	}
}

func TestScoreIsPure(t *testing.T) {
	questions := makeQuestions(12)
	answers := map[int]string{0: "answer-0", 3: "nope", 7: "answer-7"}

	first := engine.Score(questions, answers, 300)
	second := engine.Score(questions, answers, 300)

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("scoring must be deterministic:\n%+v\n%+v", first, second)
	}
	if len(answers) != 3 {
		t.Fatalf("scoring must not mutate the answer map, got %d entries", len(answers))
	}
}
