package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/mocktest-backend/internal/model"
)

// EvaluationRepository stores AI writing evaluations, one per (user, test, question).
type EvaluationRepository struct {
	pool *pgxpool.Pool
}

// NewEvaluationRepository creates a new EvaluationRepository.
func NewEvaluationRepository(pool *pgxpool.Pool) *EvaluationRepository {
	return &EvaluationRepository{pool: pool}
}

// Upsert stores an evaluation, replacing an earlier one for the same answer.
func (r *EvaluationRepository) Upsert(ctx context.Context, ev *model.WritingEvaluation) error {
	scores, err := json.Marshal(ev.Scores)
	if err != nil {
		return err
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO writing_evaluations (user_id, test_id, question_id, scores, overall, feedback, evaluated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id, test_id, question_id) DO UPDATE SET
		     scores = EXCLUDED.scores,
		     overall = EXCLUDED.overall,
		     feedback = EXCLUDED.feedback,
		     evaluated_at = EXCLUDED.evaluated_at
		 RETURNING id`,
		ev.UserID, ev.TestID, ev.QuestionID, scores, ev.Overall, ev.Feedback, ev.EvaluatedAt,
	).Scan(&ev.ID)
}

// ListByAttempt returns the evaluations of one attempt.
func (r *EvaluationRepository) ListByAttempt(ctx context.Context, userID, testID uuid.UUID) ([]model.WritingEvaluation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, test_id, question_id, scores, overall, feedback, evaluated_at
		 FROM writing_evaluations
		 WHERE user_id = $1 AND test_id = $2
		 ORDER BY evaluated_at`, userID, testID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.WritingEvaluation
	for rows.Next() {
		var (
			ev     model.WritingEvaluation
			scores []byte
		)
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.TestID, &ev.QuestionID, &scores, &ev.Overall, &ev.Feedback, &ev.EvaluatedAt); err != nil {
			return nil, err
		}
		if len(scores) > 0 {
			if err := json.Unmarshal(scores, &ev.Scores); err != nil {
				return nil, err
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
