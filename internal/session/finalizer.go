package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/mocktest-backend/internal/model"
)

// Trigger names what started finalization.
type Trigger string

const (
	// TriggerManual follows the participant submitting the last module.
	TriggerManual Trigger = "manual"
	// TriggerTimeline follows the global timeline reaching its end.
	TriggerTimeline Trigger = "timeline"
	// TriggerForcedExit follows a proctoring forced exit.
	TriggerForcedExit Trigger = "forced_exit"
)

// ForcedOut reports whether res was closed by a proctoring forced exit.
func ForcedOut(res *model.Result) bool {
	if res == nil || res.CompletedAt == nil {
		return false
	}
	trigger, _ := res.Metadata["trigger"].(string)
	return trigger == string(TriggerForcedExit)
}

// FinalizerDeps bundles the collaborators of a Finalizer.
type FinalizerDeps struct {
	Catalog  Catalog
	Store    ResultStore
	Local    LocalCache
	Activity ActivityLog
	Notifier Notifier
	Identity Identity
	Clock    Clock
	Log      zerolog.Logger
}

// Finalizer scores an attempt and performs the terminal write exactly once.
type Finalizer struct {
	deps     FinalizerDeps
	userID   uuid.UUID
	testID   uuid.UUID
	sections []model.Section

	mu     sync.Mutex
	result *model.FinalResult
}

// NewFinalizer creates a Finalizer for one attempt. Sections must be in canonical order.
func NewFinalizer(deps FinalizerDeps, userID, testID uuid.UUID, sections []model.Section) *Finalizer {
	return &Finalizer{
		deps:     deps,
		userID:   userID,
		testID:   testID,
		sections: sections,
	}
}

// Done reports whether the terminal write has succeeded.
func (f *Finalizer) Done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result != nil
}

// Finalize scores snap and writes the final record. Once a call succeeds,
// later calls return the same result without writing again. A failed write
// leaves the local cache intact so the participant can retry.
func (f *Finalizer) Finalize(ctx context.Context, snap model.Snapshot, trigger Trigger, stats ProctorStats) (model.FinalResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.result != nil {
		return *f.result, nil
	}

	uid, err := f.deps.Identity.CurrentUser(ctx)
	if err != nil {
		return model.FinalResult{}, err
	}
	if uid != f.userID {
		return model.FinalResult{}, ErrAuthExpired
	}

	scores := make(map[model.SectionType]model.SectionScore, len(f.sections))
	for _, sec := range f.sections {
		if sec.Type == model.SectionWriting {
			// Backfilled by the evaluation worker.
			scores[sec.Type] = model.SectionScore{}
			continue
		}
		questions, err := f.deps.Catalog.ListQuestionsBySection(ctx, sec.ID)
		if err != nil {
			return model.FinalResult{}, fmt.Errorf("%w: score %s: %w", ErrTransient, sec.Type, err)
		}
		scores[sec.Type] = Score(questions, snap.Answers)
	}

	meta := map[string]any{
		"trigger":      string(trigger),
		"violations":   stats.Violations,
		"tab_switches": stats.TabSwitches,
	}
	rawMeta, _ := json.Marshal(meta)

	final := model.FinalResult{
		Snapshot:    snap.Clone(),
		Scores:      scores,
		CompletedAt: f.deps.Clock().UTC(),
		Metadata:    meta,
	}

	if err := f.deps.Store.Complete(ctx, f.userID, f.testID, final); err != nil {
		return model.FinalResult{}, fmt.Errorf("%w: final submit: %w", ErrTransient, err)
	}
	f.result = &final

	log := f.deps.Log.With().Str("trigger", string(trigger)).Logger()
	log.Info().Msg("Attempt finalized")

	if err := f.deps.Local.Clear(ctx, f.userID, f.testID); err != nil {
		log.Warn().Err(err).Msg("Clear local cache failed")
	}
	if err := f.deps.Activity.RecordActivity(ctx, model.ActivityEvent{
		UserID:    f.userID.String(),
		TestID:    f.testID.String(),
		Kind:      model.ActivityCompleted,
		Detail:    rawMeta,
		Timestamp: final.CompletedAt.Unix(),
	}); err != nil {
		log.Warn().Err(err).Msg("Record completion activity failed")
	}
	if err := f.deps.Notifier.PublishCompleted(ctx, model.CompletionNotice{
		UserID:      f.userID.String(),
		TestID:      f.testID.String(),
		Scores:      scores,
		CompletedAt: final.CompletedAt,
	}); err != nil {
		log.Warn().Err(err).Msg("Publish completion notice failed")
	}

	return final, nil
}
