package websocket

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stemsi/mocktest-backend/internal/session"
	"github.com/stemsi/mocktest-backend/internal/validator"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer       Action = "answer"
	ActionHighlight    Action = "highlight"
	ActionNote         Action = "note"
	ActionPassageEdit  Action = "passage_edit"
	ActionFinishModule Action = "finish_module"
	ActionRetryLoad    Action = "retry_load"
	ActionRetrySubmit  Action = "retry_submit"
	ActionProctor      Action = "proctor"
	ActionPing         Action = "ping"
)

// ErrUnknownAction is returned by Decode for an unrecognised action.
var ErrUnknownAction = errors.New("unknown action")

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AnswerRequest records one answer.
type AnswerRequest struct {
	QuestionID string `json:"question_id" binding:"required,uuid"`
	Value      string `json:"value" binding:"max=20000"`
}

// HighlightRequest replaces the highlight ranges of one passage. A null
// ranges value removes them.
type HighlightRequest struct {
	Key    string          `json:"key" binding:"required,max=128"`
	Ranges json.RawMessage `json:"ranges"`
}

// TextRequest carries a note or a passage edit.
type TextRequest struct {
	Key   string `json:"key" binding:"required,max=128"`
	Value string `json:"value" binding:"max=20000"`
}

// ProctorRequest is one browser observation.
type ProctorRequest struct {
	Signal      session.SignalKind `json:"signal" binding:"required,oneof=visibility shortcut context_menu drag dimensions"`
	Hidden      bool               `json:"hidden"`
	Combo       string             `json:"combo" binding:"max=64"`
	OuterWidth  int                `json:"outer_width" binding:"min=0"`
	InnerWidth  int                `json:"inner_width" binding:"min=0"`
	OuterHeight int                `json:"outer_height" binding:"min=0"`
	InnerHeight int                `json:"inner_height" binding:"min=0"`
}

// ValidationError reports field-level problems of a frame.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid frame: %v", e.Fields)
}

// Decode parses a client frame into an engine command. ping reports a
// keepalive frame, which carries no command.
func Decode(data []byte) (cmd session.Command, ping bool, err error) {
	var env RequestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return cmd, false, &ValidationError{Fields: map[string]string{"detail": err.Error()}}
	}

	switch env.Action {
	case ActionPing:
		return cmd, true, nil

	case ActionAnswer:
		var req AnswerRequest
		if err := decodeInto(data, &req); err != nil {
			return cmd, false, err
		}
		return session.Command{Kind: session.CmdAnswer, Key: req.QuestionID, Value: req.Value}, false, nil

	case ActionHighlight:
		var req HighlightRequest
		if err := decodeInto(data, &req); err != nil {
			return cmd, false, err
		}
		return session.Command{Kind: session.CmdHighlight, Key: req.Key, Raw: req.Ranges}, false, nil

	case ActionNote, ActionPassageEdit:
		var req TextRequest
		if err := decodeInto(data, &req); err != nil {
			return cmd, false, err
		}
		kind := session.CmdNote
		if env.Action == ActionPassageEdit {
			kind = session.CmdPassageEdit
		}
		return session.Command{Kind: kind, Key: req.Key, Value: req.Value}, false, nil

	case ActionFinishModule:
		return session.Command{Kind: session.CmdFinishModule}, false, nil
	case ActionRetryLoad:
		return session.Command{Kind: session.CmdRetryLoad}, false, nil
	case ActionRetrySubmit:
		return session.Command{Kind: session.CmdRetrySubmit}, false, nil

	case ActionProctor:
		var req ProctorRequest
		if err := decodeInto(data, &req); err != nil {
			return cmd, false, err
		}
		return session.Command{Kind: session.CmdProctor, Signal: session.Signal{
			Kind:        req.Signal,
			Hidden:      req.Hidden,
			Combo:       req.Combo,
			OuterWidth:  req.OuterWidth,
			InnerWidth:  req.InnerWidth,
			OuterHeight: req.OuterHeight,
			InnerHeight: req.InnerHeight,
		}}, false, nil

	default:
		return cmd, false, fmt.Errorf("%w: %q", ErrUnknownAction, env.Action)
	}
}

func decodeInto(data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return &ValidationError{Fields: map[string]string{"detail": err.Error()}}
	}
	if fields := validator.Struct(dst); fields != nil {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// ─── Events (Server → Client) ───────────────────────────────────────

// ErrorResponse reports a rejected frame.
type ErrorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// PresenceResponse carries the live participant count.
type PresenceResponse struct {
	Participants int64 `json:"participants"`
}

// PongEvent answers a ping.
var PongEvent = session.Event{Type: "pong"}
