package model

import (
	"time"

	"github.com/google/uuid"
)

// EvaluationTask is queued once per qualifying writing answer.
type EvaluationTask struct {
	UserID       string    `json:"user_id"`
	TestID       string    `json:"test_id"`
	QuestionID   string    `json:"question_id"`
	QuestionText string    `json:"question_text"`
	TaskType     string    `json:"task_type"`
	AnswerText   string    `json:"answer_text"`
	ImageURL     string    `json:"image_url,omitempty"`
	QueuedAt     time.Time `json:"queued_at"`
	Attempts     int       `json:"attempts,omitempty"`
}

// EvaluationRequest is the body sent to the AI writing-evaluation endpoint.
type EvaluationRequest struct {
	QuestionText string `json:"question_text"`
	TaskType     string `json:"task_type"`
	AnswerText   string `json:"answer_text"`
	ImageURL     string `json:"image_url,omitempty"`
}

// EvaluationResponse is the endpoint's reply.
type EvaluationResponse struct {
	Scores   map[string]float64 `json:"scores"`
	Overall  float64            `json:"overall"`
	Feedback string             `json:"feedback"`
}

// CompletionNotice is published once an attempt has been finalized.
type CompletionNotice struct {
	UserID      string                       `json:"user_id"`
	TestID      string                       `json:"test_id"`
	Scores      map[SectionType]SectionScore `json:"scores"`
	CompletedAt time.Time                    `json:"completed_at"`
}

// WritingEvaluation is the stored outcome of one AI evaluation.
type WritingEvaluation struct {
	ID          uuid.UUID          `json:"id"`
	UserID      uuid.UUID          `json:"user_id"`
	TestID      uuid.UUID          `json:"test_id"`
	QuestionID  uuid.UUID          `json:"question_id"`
	Scores      map[string]float64 `json:"scores"`
	Overall     float64            `json:"overall"`
	Feedback    string             `json:"feedback"`
	EvaluatedAt time.Time          `json:"evaluated_at"`
}
