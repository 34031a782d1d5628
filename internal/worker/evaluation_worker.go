package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stemsi/mocktest-backend/internal/client"
	"github.com/stemsi/mocktest-backend/internal/config"
	"github.com/stemsi/mocktest-backend/internal/model"
)

const (
	// EvaluationConcurrency caps in-flight evaluator calls.
	EvaluationConcurrency = 4
	// MaxEvaluationAttempts bounds requeues of a failing task.
	MaxEvaluationAttempts = 3
)

// WritingEvaluator scores one writing answer.
type WritingEvaluator interface {
	Evaluate(ctx context.Context, req model.EvaluationRequest) (*model.EvaluationResponse, error)
}

// EvaluationStore persists evaluation outcomes.
type EvaluationStore interface {
	Upsert(ctx context.Context, ev *model.WritingEvaluation) error
}

// EvaluationWorker consumes evaluation_queue and stores AI evaluations.
// Failures are logged and retried a bounded number of times; nothing here
// feeds back into a live session.
type EvaluationWorker struct {
	rdb       *redis.Client
	evaluator WritingEvaluator
	store     EvaluationStore
	now       func() time.Time
	log       zerolog.Logger
}

// NewEvaluationWorker creates a new EvaluationWorker.
func NewEvaluationWorker(rdb *redis.Client, evaluator WritingEvaluator, store EvaluationStore, log zerolog.Logger) *EvaluationWorker {
	return &EvaluationWorker{
		rdb:       rdb,
		evaluator: evaluator,
		store:     store,
		now:       time.Now,
		log:       log.With().Str("component", "evaluation_worker").Logger(),
	}
}

// Start runs until ctx is cancelled and waits for in-flight evaluations. Call in a goroutine.
func (w *EvaluationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	var g errgroup.Group
	g.SetLimit(EvaluationConcurrency)

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping, waiting for in-flight evaluations...")
			_ = g.Wait()
			w.log.Info().Msg("Worker stopped")
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.EvaluationQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		raw := result[1]
		g.Go(func() error {
			// In-flight work outlives ctx so shutdown does not drop paid calls.
			w.process(context.WithoutCancel(ctx), raw)
			return nil
		})
	}
}

func (w *EvaluationWorker) process(ctx context.Context, raw string) {
	var task model.EvaluationTask
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		w.log.Error().Err(err).Str("data", raw).Msg("Discarding malformed evaluation task")
		return
	}
	log := w.log.With().Str("user_id", task.UserID).Str("question_id", task.QuestionID).Logger()

	ev, err := w.evaluate(ctx, task)
	if err != nil {
		if !retryable(err) || task.Attempts+1 >= MaxEvaluationAttempts {
			log.Error().Err(err).Int("attempts", task.Attempts+1).Msg("Evaluation failed, giving up")
			return
		}
		task.Attempts++
		log.Warn().Err(err).Int("attempts", task.Attempts).Msg("Evaluation failed, requeueing")
		w.requeue(ctx, task)
		return
	}

	if err := w.store.Upsert(ctx, ev); err != nil {
		log.Error().Err(err).Msg("Store evaluation failed, requeueing")
		task.Attempts++
		if task.Attempts < MaxEvaluationAttempts {
			w.requeue(ctx, task)
		}
		return
	}
	log.Info().Float64("overall", ev.Overall).Msg("Writing evaluated")
}

func (w *EvaluationWorker) evaluate(ctx context.Context, task model.EvaluationTask) (*model.WritingEvaluation, error) {
	userID, err := uuid.Parse(task.UserID)
	if err != nil {
		return nil, permanent(err)
	}
	testID, err := uuid.Parse(task.TestID)
	if err != nil {
		return nil, permanent(err)
	}
	questionID, err := uuid.Parse(task.QuestionID)
	if err != nil {
		return nil, permanent(err)
	}

	resp, err := w.evaluator.Evaluate(ctx, model.EvaluationRequest{
		QuestionText: task.QuestionText,
		TaskType:     task.TaskType,
		AnswerText:   task.AnswerText,
		ImageURL:     task.ImageURL,
	})
	if err != nil {
		return nil, err
	}

	return &model.WritingEvaluation{
		UserID:      userID,
		TestID:      testID,
		QuestionID:  questionID,
		Scores:      resp.Scores,
		Overall:     resp.Overall,
		Feedback:    resp.Feedback,
		EvaluatedAt: w.now().UTC(),
	}, nil
}

func (w *EvaluationWorker) requeue(ctx context.Context, task model.EvaluationTask) {
	data, _ := json.Marshal(task)
	if err := w.rdb.RPush(ctx, config.WorkerKey.EvaluationQueue, data).Err(); err != nil {
		w.log.Error().Err(err).Str("question_id", task.QuestionID).Msg("CRITICAL: Failed to requeue evaluation task")
	}
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func permanent(err error) error { return permanentError{err} }

func retryable(err error) bool {
	var perm permanentError
	if errors.As(err, &perm) || errors.Is(err, client.ErrNotConfigured) {
		return false
	}
	var httpErr *client.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable()
	}
	return true
}
