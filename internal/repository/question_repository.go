package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prepdesk/prepdesk-backend/internal/model"
)

// QuestionRepository reads the local question bank. It doubles as the
// default engine.QuestionSource when no external ranking service is
// configured.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// FetchQuestions draws count random questions from the bank. May return
// fewer when the bank is undersized; the engine rejects short sets.
func (r *QuestionRepository) FetchQuestions(ctx context.Context, count int) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, question_text, question_type, options, correct_answer, topic, difficulty
		 FROM questions
		 ORDER BY random()
		 LIMIT $1`, count,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.QuestionText, &q.QuestionType, &q.Options, &q.CorrectAnswer, &q.Topic, &q.Difficulty); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// Create inserts a question into the bank.
func (r *QuestionRepository) Create(ctx context.Context, q *model.Question) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO questions (id, question_text, question_type, options, correct_answer, topic, difficulty)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		q.ID, q.QuestionText, q.QuestionType, q.Options, q.CorrectAnswer, q.Topic, q.Difficulty,
	)
	return err
}
