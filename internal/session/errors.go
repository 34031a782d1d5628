package session

import "errors"

// Error taxonomy of a live session. Callers match with errors.Is.
var (
	// ErrTransient marks a failed network call that the participant may retry.
	ErrTransient = errors.New("transient network error")
	// ErrAuthExpired means there is no current user; fatal to the attempt.
	ErrAuthExpired = errors.New("authentication expired")
	// ErrDataIntegrity means the test or its sections are missing or malformed.
	ErrDataIntegrity = errors.New("test data is missing or malformed")
	// ErrProctoringViolation ends a session after sustained devtools detection.
	ErrProctoringViolation = errors.New("proctoring violation threshold exceeded")
	// ErrEvaluationSkipped is returned for writing answers too short to evaluate.
	ErrEvaluationSkipped = errors.New("answer too short for evaluation")
	// ErrJoinWindowClosed rejects a first join after the waiting hall closed.
	ErrJoinWindowClosed = errors.New("join window has closed")
)
