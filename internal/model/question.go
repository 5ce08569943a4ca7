package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// QuestionType distinguishes option-based questions from free-form ones.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTypeFreeForm       QuestionType = "FREE_FORM"
)

// Question is a single assigned question. Supplied by the Question Source
// at session creation and never mutated by the engine.
type Question struct {
	ID            uuid.UUID       `json:"id"`
	QuestionText  string          `json:"question_text"`
	QuestionType  QuestionType    `json:"question_type"`
	Options       json.RawMessage `json:"options,omitempty"`
	CorrectAnswer string          `json:"correct_answer"`
	Topic         string          `json:"topic"`
	Difficulty    string          `json:"difficulty"`
}
