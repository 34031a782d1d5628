package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/mocktest-backend/internal/model"
)

// MinEvaluationChars is the answer length a writing response must exceed
// before it is sent for AI evaluation.
const MinEvaluationChars = 50

// Synchronizer dual-writes session state to the remote record and the local mirror.
type Synchronizer struct {
	store    ResultStore
	local    LocalCache
	outbox   Outbox
	identity Identity
	userID   uuid.UUID
	testID   uuid.UUID
	clock    Clock
	log      zerolog.Logger
}

// NewSynchronizer creates a Synchronizer bound to one (user, test).
func NewSynchronizer(store ResultStore, local LocalCache, outbox Outbox, identity Identity, userID, testID uuid.UUID, clock Clock, log zerolog.Logger) *Synchronizer {
	return &Synchronizer{
		store:    store,
		local:    local,
		outbox:   outbox,
		identity: identity,
		userID:   userID,
		testID:   testID,
		clock:    clock,
		log:      log,
	}
}

// Mirror writes the snapshot to the local cache. Failures are logged only;
// the remote record stays authoritative.
func (s *Synchronizer) Mirror(ctx context.Context, snap model.Snapshot) {
	if err := s.local.Save(ctx, s.userID, s.testID, snap); err != nil {
		s.log.Warn().Err(err).Msg("Local mirror failed")
	}
}

// Push is the periodic remote write. The caller ignores failures other than
// ErrAuthExpired; the next interval retries with fresher state.
func (s *Synchronizer) Push(ctx context.Context, snap model.Snapshot) error {
	if err := s.checkIdentity(ctx); err != nil {
		return err
	}
	if err := s.store.Upsert(ctx, s.userID, s.testID, snap); err != nil {
		s.log.Warn().Err(err).Msg("Periodic sync failed, retrying next interval")
		return fmt.Errorf("%w: periodic sync: %w", ErrTransient, err)
	}
	return nil
}

// CompleteModule persists a finished module before the phase may change.
// For writing sections it then queues one evaluation task per qualifying
// answer; queueing failures never fail the completion.
func (s *Synchronizer) CompleteModule(ctx context.Context, snap model.Snapshot, section model.Section, questions []model.Question) error {
	if err := s.checkIdentity(ctx); err != nil {
		return err
	}
	if err := s.store.Upsert(ctx, s.userID, s.testID, snap); err != nil {
		return fmt.Errorf("%w: complete %s module: %w", ErrTransient, section.Type, err)
	}

	if section.Type == model.SectionWriting {
		s.emitEvaluations(ctx, snap.Answers, questions)
	}
	return nil
}

func (s *Synchronizer) emitEvaluations(ctx context.Context, answers map[string]string, questions []model.Question) {
	queued := 0
	for _, q := range questions {
		task, err := s.evaluationTask(q, answers[q.ID.String()])
		if errors.Is(err, ErrEvaluationSkipped) {
			continue
		}
		if err := s.outbox.EnqueueEvaluation(ctx, task); err != nil {
			s.log.Error().Err(err).Str("question_id", task.QuestionID).Msg("Queue writing evaluation failed")
			continue
		}
		queued++
	}
	s.log.Info().Int("queued", queued).Msg("Writing evaluations queued")
}

func (s *Synchronizer) evaluationTask(q model.Question, answer string) (model.EvaluationTask, error) {
	text := strings.TrimSpace(answer)
	if utf8.RuneCountInString(text) <= MinEvaluationChars {
		return model.EvaluationTask{}, ErrEvaluationSkipped
	}
	return model.EvaluationTask{
		UserID:       s.userID.String(),
		TestID:       s.testID.String(),
		QuestionID:   q.ID.String(),
		QuestionText: q.QuestionText,
		TaskType:     q.TaskType,
		AnswerText:   text,
		ImageURL:     q.ImageURL,
		QueuedAt:     s.clock().UTC(),
	}, nil
}

func (s *Synchronizer) checkIdentity(ctx context.Context) error {
	uid, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return err
	}
	if uid != s.userID {
		return ErrAuthExpired
	}
	return nil
}
