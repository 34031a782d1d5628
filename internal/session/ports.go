package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/stemsi/mocktest-backend/internal/model"
)

// Catalog is the read-only content source used while a session runs.
type Catalog interface {
	ListPartsBySection(ctx context.Context, sectionID uuid.UUID) ([]model.Part, error)
	ListQuestionsBySection(ctx context.Context, sectionID uuid.UUID) ([]model.Question, error)
}

// ResultStore persists the single remote record per (user, test).
// Get returns (nil, nil) when no record exists.
type ResultStore interface {
	Get(ctx context.Context, userID, testID uuid.UUID) (*model.Result, error)
	Upsert(ctx context.Context, userID, testID uuid.UUID, snap model.Snapshot) error
	Complete(ctx context.Context, userID, testID uuid.UUID, final model.FinalResult) error
}

// LocalCache mirrors the session on the engine host. Load returns (nil, nil)
// when nothing is cached.
type LocalCache interface {
	Save(ctx context.Context, userID, testID uuid.UUID, snap model.Snapshot) error
	Load(ctx context.Context, userID, testID uuid.UUID) (*model.Snapshot, error)
	Clear(ctx context.Context, userID, testID uuid.UUID) error
}

// ActivityLog receives audit events.
type ActivityLog interface {
	RecordActivity(ctx context.Context, ev model.ActivityEvent) error
}

// Outbox accepts outbound writing evaluation tasks for an independent worker.
type Outbox interface {
	EnqueueEvaluation(ctx context.Context, task model.EvaluationTask) error
}

// Notifier announces finalized attempts to out-of-band consumers.
type Notifier interface {
	PublishCompleted(ctx context.Context, notice model.CompletionNotice) error
}

// Identity resolves the current user. It returns ErrAuthExpired when there is none.
type Identity interface {
	CurrentUser(ctx context.Context) (uuid.UUID, error)
}

// Emitter delivers events to the participant.
type Emitter interface {
	Emit(ev Event) error
}

// Clock returns the current wall-clock time.
type Clock func() time.Time
