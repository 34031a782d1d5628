package repository

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/stemsi/mocktest-backend/internal/config"
	"github.com/stemsi/mocktest-backend/internal/model"
)

// QueueRepository pushes work onto the Redis lists drained by the workers.
type QueueRepository struct {
	rdb *redis.Client
}

// NewQueueRepository creates a new QueueRepository.
func NewQueueRepository(rdb *redis.Client) *QueueRepository {
	return &QueueRepository{rdb: rdb}
}

// RecordActivity queues an audit event for batched persistence.
func (r *QueueRepository) RecordActivity(ctx context.Context, ev model.ActivityEvent) error {
	return r.push(ctx, config.WorkerKey.ActivityQueue, ev)
}

// EnqueueEvaluation queues a writing answer for AI evaluation.
func (r *QueueRepository) EnqueueEvaluation(ctx context.Context, task model.EvaluationTask) error {
	return r.push(ctx, config.WorkerKey.EvaluationQueue, task)
}

func (r *QueueRepository) push(ctx context.Context, queue string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.rdb.RPush(ctx, queue, data).Err()
}
