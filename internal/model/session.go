package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Phase enumerates the participant-visible states of a live session.
type Phase string

const (
	PhaseJoining          Phase = "joining"
	PhaseExam             Phase = "exam"
	PhaseWaiting          Phase = "waiting"
	PhaseSubmittedWaiting Phase = "submitted_waiting"
	PhaseFinished         Phase = "finished"
)

// ModuleProgress maps a section type to whether the participant submitted it.
type ModuleProgress map[SectionType]bool

// Clone returns an independent copy.
func (p ModuleProgress) Clone() ModuleProgress {
	out := make(ModuleProgress, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// SessionState is what the participant currently sees.
type SessionState struct {
	Phase          Phase          `json:"phase"`
	ActiveIndex    int            `json:"active_index"`
	TimeLeft       int            `json:"time_left"` // seconds
	ModuleProgress ModuleProgress `json:"module_progress"`
}

// Snapshot is the serializable session payload shared by the remote record
// and the local cache.
type Snapshot struct {
	Answers        map[string]string          `json:"answers"`
	ModuleProgress ModuleProgress             `json:"module_progress"`
	Highlights     map[string]json.RawMessage `json:"highlights"`
	Notes          map[string]string          `json:"notes"`
	PassageEdits   map[string]string          `json:"passage_edits"`
	TimeLeft       int                        `json:"time_left"`
	ActiveSection  int                        `json:"active_section"`
	JoinedAt       *time.Time                 `json:"joined_at,omitempty"`
}

// NewSnapshot returns an empty snapshot with every map allocated.
func NewSnapshot() Snapshot {
	return Snapshot{
		Answers:        map[string]string{},
		ModuleProgress: ModuleProgress{},
		Highlights:     map[string]json.RawMessage{},
		Notes:          map[string]string{},
		PassageEdits:   map[string]string{},
	}
}

// Clone deep-copies the snapshot so it can leave the engine goroutine.
func (s Snapshot) Clone() Snapshot {
	out := NewSnapshot()
	for k, v := range s.Answers {
		out.Answers[k] = v
	}
	for k, v := range s.ModuleProgress {
		out.ModuleProgress[k] = v
	}
	for k, v := range s.Highlights {
		out.Highlights[k] = append(json.RawMessage(nil), v...)
	}
	for k, v := range s.Notes {
		out.Notes[k] = v
	}
	for k, v := range s.PassageEdits {
		out.PassageEdits[k] = v
	}
	out.TimeLeft = s.TimeLeft
	out.ActiveSection = s.ActiveSection
	if s.JoinedAt != nil {
		t := *s.JoinedAt
		out.JoinedAt = &t
	}
	return out
}

// SectionScore is the objective score of one section. Band stays nil for
// sections graded out-of-band (writing).
type SectionScore struct {
	Correct int      `json:"correct"`
	Total   int      `json:"total"`
	Band    *float64 `json:"band"`
}

// Result is the single remote record per (user, test).
type Result struct {
	ID          uuid.UUID                    `json:"id"`
	UserID      uuid.UUID                    `json:"user_id"`
	TestID      uuid.UUID                    `json:"test_id"`
	Snapshot    Snapshot                     `json:"snapshot"`
	Scores      map[SectionType]SectionScore `json:"scores,omitempty"`
	CompletedAt *time.Time                   `json:"completed_at,omitempty"`
	Metadata    map[string]any               `json:"metadata,omitempty"`
	UpdatedAt   time.Time                    `json:"updated_at"`
}

// FinalResult is the terminal payload written by the finalizer.
type FinalResult struct {
	Snapshot    Snapshot                     `json:"snapshot"`
	Scores      map[SectionType]SectionScore `json:"scores"`
	CompletedAt time.Time                    `json:"completed_at"`
	Metadata    map[string]any               `json:"metadata"`
}
