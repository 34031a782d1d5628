package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SectionType enumerates the timed modules of a mock test.
type SectionType string

const (
	SectionListening SectionType = "listening"
	SectionReading   SectionType = "reading"
	SectionWriting   SectionType = "writing"
)

// MockTest is the immutable definition of a scheduled mock exam.
type MockTest struct {
	ID          uuid.UUID `json:"id"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	ScheduledAt time.Time `json:"scheduled_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Section is one timed module of a test.
type Section struct {
	ID         uuid.UUID   `json:"id"`
	TestID     uuid.UUID   `json:"test_id"`
	Type       SectionType `json:"type"`
	TimeLimit  int         `json:"time_limit"` // minutes
	OrderIndex int         `json:"order_index"`
}

// Duration returns the section's time limit.
func (s Section) Duration() time.Duration {
	return time.Duration(s.TimeLimit) * time.Minute
}

// Part groups the questions of a section under one passage or recording.
type Part struct {
	ID           uuid.UUID `json:"id"`
	SectionID    uuid.UUID `json:"section_id"`
	Title        string    `json:"title"`
	Instructions string    `json:"instructions"`
	Passage      string    `json:"passage,omitempty"`
	AudioURL     string    `json:"audio_url,omitempty"`
	OrderIndex   int       `json:"order_index"`

	// RawGroups is the stored grouping metadata: an object, a list, or null.
	RawGroups      json.RawMessage   `json:"-"`
	QuestionGroups []json.RawMessage `json:"question_groups"`
}

type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTypeGapFill        QuestionType = "GAP_FILL"
	QuestionTypeTrueFalse      QuestionType = "TRUE_FALSE_NOT_GIVEN"
	QuestionTypeEssay          QuestionType = "ESSAY"
)

// Question is a single gradable item. CorrectAnswer holds comma-separated
// accepted alternatives and is never sent to participants.
type Question struct {
	ID            uuid.UUID       `json:"id"`
	SectionID     uuid.UUID       `json:"section_id"`
	PartID        *uuid.UUID      `json:"part_id,omitempty"`
	QuestionType  QuestionType    `json:"question_type"`
	QuestionText  string          `json:"question_text"`
	Options       json.RawMessage `json:"options,omitempty"`
	CorrectAnswer string          `json:"-"`
	TaskType      string          `json:"task_type,omitempty"`
	ImageURL      string          `json:"image_url,omitempty"`
	OrderIndex    int             `json:"order_index"`
}

// Module is the loaded content of one section.
type Module struct {
	SectionID uuid.UUID  `json:"section_id"`
	Parts     []Part     `json:"parts"`
	Questions []Question `json:"questions"`
}
