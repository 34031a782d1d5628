package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/mocktest-backend/internal/config"
	"github.com/stemsi/mocktest-backend/internal/model"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Redis rejects BLPOP timeouts below 1s
)

// ActivityWorker drains the activity queue into activity_logs in batches.
type ActivityWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewActivityWorker creates a new ActivityWorker.
func NewActivityWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ActivityWorker {
	return &ActivityWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "activity_worker").Logger(),
	}
}

// activityRow is a decoded queue item ready for insertion.
type activityRow struct {
	raw    string
	userID uuid.UUID
	testID uuid.UUID
	ev     model.ActivityEvent
}

// Start runs until ctx is cancelled, then flushes what it buffered. Call in a goroutine.
func (w *ActivityWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	buffer := make([]activityRow, 0, BatchSize)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= BatchSize || time.Since(lastFlush) >= BatchTimeout) {
			w.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.ActivityQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		row, err := decodeActivity(result[1])
		if err != nil {
			// Malformed items can never succeed.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed activity")
			continue
		}
		buffer = append(buffer, row)
	}
}

func decodeActivity(raw string) (activityRow, error) {
	var ev model.ActivityEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return activityRow{}, err
	}
	userID, err := uuid.Parse(ev.UserID)
	if err != nil {
		return activityRow{}, err
	}
	testID, err := uuid.Parse(ev.TestID)
	if err != nil {
		return activityRow{}, err
	}
	if len(ev.Detail) == 0 {
		ev.Detail = json.RawMessage(`{}`)
	}
	return activityRow{raw: raw, userID: userID, testID: testID, ev: ev}, nil
}

// flushSafe tries a bulk COPY, then row-by-row inserts, then requeues.
func (w *ActivityWorker) flushSafe(ctx context.Context, batch []activityRow) {
	if err := w.bulkInsert(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
	}
}

func (w *ActivityWorker) bulkInsert(ctx context.Context, batch []activityRow) error {
	rows := make([][]any, 0, len(batch))
	for _, r := range batch {
		rows = append(rows, []any{
			r.userID, r.testID, string(r.ev.Kind), string(r.ev.Detail), time.Unix(r.ev.Timestamp, 0),
		})
	}

	_, err := w.pool.CopyFrom(
		ctx,
		pgx.Identifier{"activity_logs"},
		[]string{"user_id", "test_id", "kind", "detail", "recorded_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

func (w *ActivityWorker) fallbackInsert(ctx context.Context, batch []activityRow) {
	var requeue []string

	for _, r := range batch {
		_, err := w.pool.Exec(ctx,
			`INSERT INTO activity_logs (user_id, test_id, kind, detail, recorded_at)
			 VALUES ($1, $2, $3, $4::jsonb, $5)`,
			r.userID, r.testID, string(r.ev.Kind), string(r.ev.Detail), time.Unix(r.ev.Timestamp, 0),
		)
		if err != nil {
			w.log.Error().Err(err).Str("user_id", r.ev.UserID).Str("kind", string(r.ev.Kind)).Msg("Insert failed, requeueing")
			requeue = append(requeue, r.raw)
		}
	}

	if len(requeue) > 0 {
		w.requeue(ctx, requeue)
	}
}

func (w *ActivityWorker) requeue(ctx context.Context, items []string) {
	pipe := w.rdb.Pipeline()
	for _, raw := range items {
		pipe.RPush(ctx, config.WorkerKey.ActivityQueue, raw)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue activity. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
	// Back off while the database recovers.
	time.Sleep(2 * time.Second)
}

func (w *ActivityWorker) shutdown(buffer []activityRow) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(ctx, buffer)
	}
	w.log.Info().Msg("Worker stopped")
}
