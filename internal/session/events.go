package session

import (
	"time"

	"github.com/stemsi/mocktest-backend/internal/model"
)

// EventType names a server → participant event.
type EventType string

const (
	EventState          EventType = "state"
	EventModule         EventType = "module"
	EventModuleFailed   EventType = "module_failed"
	EventStrict         EventType = "strict"
	EventFullscreen     EventType = "fullscreen"
	EventWarning        EventType = "warning"
	EventWarningCleared EventType = "warning_cleared"
	EventSubmitting     EventType = "submitting"
	EventSubmitFailed   EventType = "submit_failed"
	EventFinished       EventType = "finished"
	EventForcedExit     EventType = "forced_exit"
	EventBlocked        EventType = "blocked"
	EventAuthExpired    EventType = "auth_expired"
	EventError          EventType = "error"
	EventPresence       EventType = "presence"
)

// Event is one message to the participant.
type Event struct {
	Type EventType `json:"event"`
	Data any       `json:"data,omitempty"`
}

// StateView is the payload of EventState.
type StateView struct {
	Phase          model.Phase          `json:"phase"`
	ActiveIndex    int                  `json:"active_index"`
	SectionType    model.SectionType    `json:"section_type,omitempty"`
	TimeLeft       int                  `json:"time_left"`
	ModuleProgress model.ModuleProgress `json:"module_progress"`
	Strict         bool                 `json:"strict"`
}

// QuestionView is a question without its answer key.
type QuestionView struct {
	ID           string             `json:"id"`
	PartID       string             `json:"part_id,omitempty"`
	QuestionType model.QuestionType `json:"question_type"`
	QuestionText string             `json:"question_text"`
	Options      any                `json:"options,omitempty"`
	ImageURL     string             `json:"image_url,omitempty"`
	OrderIndex   int                `json:"order_index"`
}

// ModuleView is the payload of EventModule.
type ModuleView struct {
	SectionIndex int               `json:"section_index"`
	SectionType  model.SectionType `json:"section_type"`
	Parts        []model.Part      `json:"parts"`
	Questions    []QuestionView    `json:"questions"`
}

// Notice carries a human-readable message, optionally retryable.
type Notice struct {
	Scope     string `json:"scope,omitempty"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	ClearInMS int64  `json:"clear_in_ms,omitempty"`
}

// FinishedView is the payload of EventFinished.
type FinishedView struct {
	Scores      map[model.SectionType]model.SectionScore `json:"scores,omitempty"`
	CompletedAt *time.Time                               `json:"completed_at,omitempty"`
}

func newModuleView(index int, t model.SectionType, m *model.Module) ModuleView {
	qs := make([]QuestionView, 0, len(m.Questions))
	for _, q := range m.Questions {
		v := QuestionView{
			ID:           q.ID.String(),
			QuestionType: q.QuestionType,
			QuestionText: q.QuestionText,
			ImageURL:     q.ImageURL,
			OrderIndex:   q.OrderIndex,
		}
		if q.PartID != nil {
			v.PartID = q.PartID.String()
		}
		if len(q.Options) > 0 {
			v.Options = q.Options
		}
		qs = append(qs, v)
	}
	return ModuleView{SectionIndex: index, SectionType: t, Parts: m.Parts, Questions: qs}
}
