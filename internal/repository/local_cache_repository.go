package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/stemsi/mocktest-backend/internal/config"
	"github.com/stemsi/mocktest-backend/internal/model"
)

// Hash fields of the session mirror.
const (
	fieldAnswers       = "answers"
	fieldProgress      = "module_progress"
	fieldHighlights    = "highlights"
	fieldNotes         = "notes"
	fieldPassageEdits  = "passage_edits"
	fieldTimeLeft      = "time_left"
	fieldActiveSection = "active_section"
	fieldJoinedAt      = "joined_at"
)

// LocalCacheRepository mirrors a participant's session in a Redis hash on
// the engine host, keyed by (user, test).
type LocalCacheRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewLocalCacheRepository creates a new LocalCacheRepository.
func NewLocalCacheRepository(rdb *redis.Client, ttl time.Duration) *LocalCacheRepository {
	return &LocalCacheRepository{rdb: rdb, ttl: ttl}
}

// Save overwrites the mirror and refreshes its TTL.
func (r *LocalCacheRepository) Save(ctx context.Context, userID, testID uuid.UUID, snap model.Snapshot) error {
	snap = normalizeSnapshot(snap)
	fields := map[string]any{
		fieldTimeLeft:      snap.TimeLeft,
		fieldActiveSection: snap.ActiveSection,
	}
	for name, v := range map[string]any{
		fieldAnswers:      snap.Answers,
		fieldProgress:     snap.ModuleProgress,
		fieldHighlights:   snap.Highlights,
		fieldNotes:        snap.Notes,
		fieldPassageEdits: snap.PassageEdits,
	} {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		fields[name] = b
	}
	if snap.JoinedAt != nil {
		fields[fieldJoinedAt] = snap.JoinedAt.UTC().Format(time.RFC3339Nano)
	}

	key := config.CacheKey.LocalSessionKey(testID.String(), userID.String())
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	return err
}

// Load returns the mirror, or (nil, nil) when nothing is cached.
func (r *LocalCacheRepository) Load(ctx context.Context, userID, testID uuid.UUID) (*model.Snapshot, error) {
	key := config.CacheKey.LocalSessionKey(testID.String(), userID.String())
	raw, err := r.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	snap := model.NewSnapshot()
	for name, dst := range map[string]any{
		fieldAnswers:      &snap.Answers,
		fieldProgress:     &snap.ModuleProgress,
		fieldHighlights:   &snap.Highlights,
		fieldNotes:        &snap.Notes,
		fieldPassageEdits: &snap.PassageEdits,
	} {
		v, ok := raw[name]
		if !ok {
			continue
		}
		if err := json.Unmarshal([]byte(v), dst); err != nil {
			return nil, fmt.Errorf("decode %s of %s: %w", name, key, err)
		}
	}
	snap.TimeLeft, _ = strconv.Atoi(raw[fieldTimeLeft])
	snap.ActiveSection, _ = strconv.Atoi(raw[fieldActiveSection])
	if v, ok := raw[fieldJoinedAt]; ok {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("decode %s of %s: %w", fieldJoinedAt, key, err)
		}
		snap.JoinedAt = &t
	}

	snap = normalizeSnapshot(snap)
	return &snap, nil
}

// Clear removes the mirror.
func (r *LocalCacheRepository) Clear(ctx context.Context, userID, testID uuid.UUID) error {
	return r.rdb.Del(ctx, config.CacheKey.LocalSessionKey(testID.String(), userID.String())).Err()
}
