package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prepdesk/prepdesk-backend/internal/engine"
	"github.com/prepdesk/prepdesk-backend/internal/model"
)

// SessionRepository is the durable Session Store: one session row per
// attempt plus one assignment row per question. Implements
// engine.SessionStore.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// CreateSession inserts the session row, upserts the assigned questions
// into the bank (ranking-service questions may be unseen locally) and
// writes one assignment row per question, all in one transaction.
func (r *SessionRepository) CreateSession(ctx context.Context, sess *model.Session, questions []model.Question) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO sessions (id, student_id, status, total_questions, time_limit_seconds, started_at, session_data)
		 VALUES ($1, $2, $3, $4, $5, $6, '{}')`,
		sess.ID, sess.StudentID, sess.Status, sess.TotalQuestions, sess.TimeLimitSeconds, sess.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	for i, q := range questions {
		_, err = tx.Exec(ctx,
			`INSERT INTO questions (id, question_text, question_type, options, correct_answer, topic, difficulty)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (id) DO NOTHING`,
			q.ID, q.QuestionText, q.QuestionType, q.Options, q.CorrectAnswer, q.Topic, q.Difficulty,
		)
		if err != nil {
			return fmt.Errorf("upsert question: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO session_questions (session_id, question_id, question_order)
			 VALUES ($1, $2, $3)`,
			sess.ID, q.ID, i,
		)
		if err != nil {
			return fmt.Errorf("insert assignment: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// SaveProgress writes the full snapshot — session_data on the session row
// plus in-place answer updates on the assignment rows. Writes with a
// sequence number at or below the stored one are ignored, so reordered
// autosaves cannot regress the record.
func (r *SessionRepository) SaveProgress(ctx context.Context, sessionID uuid.UUID, snap model.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE sessions
		 SET session_data = $2
		 WHERE id = $1
		   AND status = 'in_progress'
		   AND COALESCE((session_data->>'seq')::bigint, 0) < $3`,
		sessionID, data, snap.Seq,
	)
	if err != nil {
		return fmt.Errorf("update session_data: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Stale or already-completed — ignore, the stored record is newer.
		return nil
	}

	for idx, answer := range snap.Answers {
		_, err = tx.Exec(ctx,
			`UPDATE session_questions
			 SET student_answer = $3,
			     answered_at = COALESCE(answered_at, NOW())
			 WHERE session_id = $1 AND question_order = $2`,
			sessionID, idx, answer,
		)
		if err != nil {
			return fmt.Errorf("update assignment answer: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// CompleteSession performs the terminal write, guarded on the stored
// status still being in_progress. Zero rows affected means another writer
// got there first: reported as engine.ErrInvalidTransition, never as a
// silent overwrite.
func (r *SessionRepository) CompleteSession(ctx context.Context, sessionID uuid.UUID, completedAt time.Time, timeSpentSeconds int, res *model.Result) error {
	resJSON, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions
		 SET status = $2, completed_at = $3, time_spent_seconds = $4, result = $5
		 WHERE id = $1 AND status = 'in_progress'`,
		sessionID, model.SessionStatusCompleted, completedAt, timeSpentSeconds, resJSON,
	)
	if err != nil {
		return fmt.Errorf("terminal update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrInvalidTransition
	}
	return nil
}

// FindActive returns the student's in-progress session, if any.
func (r *SessionRepository) FindActive(ctx context.Context, studentID int) (*model.Session, error) {
	sess, err := r.scanSession(r.pool.QueryRow(ctx,
		`SELECT id, student_id, status, total_questions, time_limit_seconds, started_at, completed_at, time_spent_seconds, result
		 FROM sessions
		 WHERE student_id = $1 AND status = 'in_progress'
		 ORDER BY started_at DESC
		 LIMIT 1`, studentID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, engine.ErrNoActiveSession
		}
		return nil, fmt.Errorf("find active session: %w", err)
	}
	return sess, nil
}

// GetByID retrieves one session record.
func (r *SessionRepository) GetByID(ctx context.Context, sessionID uuid.UUID) (*model.Session, error) {
	sess, err := r.scanSession(r.pool.QueryRow(ctx,
		`SELECT id, student_id, status, total_questions, time_limit_seconds, started_at, completed_at, time_spent_seconds, result
		 FROM sessions
		 WHERE id = $1`, sessionID,
	))
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ListByStudent returns a student's attempt history, newest first.
func (r *SessionRepository) ListByStudent(ctx context.Context, studentID int) ([]model.Session, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, student_id, status, total_questions, time_limit_seconds, started_at, completed_at, time_spent_seconds, result
		 FROM sessions
		 WHERE student_id = $1
		 ORDER BY started_at DESC`, studentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		sess, err := r.scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// LoadQuestions returns the assigned questions in question order.
func (r *SessionRepository) LoadQuestions(ctx context.Context, sessionID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT q.id, q.question_text, q.question_type, q.options, q.correct_answer, q.topic, q.difficulty
		 FROM session_questions sq
		 JOIN questions q ON q.id = sq.question_id
		 WHERE sq.session_id = $1
		 ORDER BY sq.question_order ASC`, sessionID,
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

// ListAssignments returns the per-question assignment rows in question
// order, answers and timestamps included.
func (r *SessionRepository) ListAssignments(ctx context.Context, sessionID uuid.UUID) ([]model.SessionQuestion, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT session_id, question_id, question_order, student_answer, answered_at
		 FROM session_questions
		 WHERE session_id = $1
		 ORDER BY question_order ASC`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []model.SessionQuestion
	for rows.Next() {
		var sq model.SessionQuestion
		if err := rows.Scan(&sq.SessionID, &sq.QuestionID, &sq.QuestionOrder, &sq.StudentAnswer, &sq.AnsweredAt); err != nil {
			return nil, err
		}
		assignments = append(assignments, sq)
	}
	return assignments, rows.Err()
}

// LoadProgress returns the last durably saved snapshot. A never-autosaved
// session yields a zero snapshot.
func (r *SessionRepository) LoadProgress(ctx context.Context, sessionID uuid.UUID) (model.Snapshot, error) {
	var data []byte
	err := r.pool.QueryRow(ctx,
		`SELECT session_data FROM sessions WHERE id = $1`, sessionID,
	).Scan(&data)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("load session_data: %w", err)
	}

	var snap model.Snapshot
	if len(data) > 0 {
		if err := json.Unmarshal(data, &snap); err != nil {
			return model.Snapshot{}, fmt.Errorf("decode session_data: %w", err)
		}
	}
	return snap, nil
}

func (r *SessionRepository) scanSession(row pgx.Row) (*model.Session, error) {
	var (
		sess    model.Session
		resJSON []byte
	)
	err := row.Scan(
		&sess.ID, &sess.StudentID, &sess.Status, &sess.TotalQuestions, &sess.TimeLimitSeconds,
		&sess.StartedAt, &sess.CompletedAt, &sess.TimeSpentSeconds, &resJSON,
	)
	if err != nil {
		return nil, err
	}
	if len(resJSON) > 0 {
		var res model.Result
		if err := json.Unmarshal(resJSON, &res); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		sess.Result = &res
	}
	return &sess, nil
}
