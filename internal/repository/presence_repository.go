package repository

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/stemsi/mocktest-backend/internal/config"
)

// PresenceRepository tracks connected participants per test. Counts are
// display-only and never feed the timeline.
type PresenceRepository struct {
	rdb *redis.Client
}

// NewPresenceRepository creates a new PresenceRepository.
func NewPresenceRepository(rdb *redis.Client) *PresenceRepository {
	return &PresenceRepository{rdb: rdb}
}

// Join adds a participant and broadcasts the new count.
func (r *PresenceRepository) Join(ctx context.Context, testID, userID string) (int64, error) {
	return r.update(ctx, testID, func(pipe redis.Pipeliner, key string) {
		pipe.SAdd(ctx, key, userID)
	})
}

// Leave removes a participant and broadcasts the new count.
func (r *PresenceRepository) Leave(ctx context.Context, testID, userID string) (int64, error) {
	return r.update(ctx, testID, func(pipe redis.Pipeliner, key string) {
		pipe.SRem(ctx, key, userID)
	})
}

// Count returns the number of connected participants.
func (r *PresenceRepository) Count(ctx context.Context, testID string) (int64, error) {
	return r.rdb.SCard(ctx, config.CacheKey.TestPresenceKey(testID)).Result()
}

// Subscribe listens for count broadcasts of a test. The caller closes the PubSub.
func (r *PresenceRepository) Subscribe(ctx context.Context, testID string) *redis.PubSub {
	return r.rdb.Subscribe(ctx, config.CacheKey.TestPresenceChannel(testID))
}

func (r *PresenceRepository) update(ctx context.Context, testID string, mutate func(redis.Pipeliner, string)) (int64, error) {
	key := config.CacheKey.TestPresenceKey(testID)

	var card *redis.IntCmd
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		mutate(pipe, key)
		card = pipe.SCard(ctx, key)
		return nil
	})
	if err != nil {
		return 0, err
	}

	n := card.Val()
	if err := r.rdb.Publish(ctx, config.CacheKey.TestPresenceChannel(testID), strconv.FormatInt(n, 10)).Err(); err != nil {
		return n, err
	}
	return n, nil
}
