package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/mocktest-backend/internal/model"
)

// ResultRepository owns the results table: one row per (user, test),
// written with optimistic last-writer-wins upserts.
type ResultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

// Get retrieves the record of a user for a test. It returns (nil, nil) when
// the user has never joined.
func (r *ResultRepository) Get(ctx context.Context, userID, testID uuid.UUID) (*model.Result, error) {
	var (
		res           model.Result
		timeLeft      int
		activeSection int
		joinedAt      *time.Time
		answers       []byte
		progress      []byte
		highlights    []byte
		notes         []byte
		edits         []byte
		scores        []byte
		metadata      []byte
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, test_id, answers, module_progress, highlights, notes, passage_edits,
		        time_left, active_section, joined_at, scores, completed_at, metadata, updated_at
		 FROM results
		 WHERE user_id = $1 AND test_id = $2`, userID, testID,
	).Scan(&res.ID, &res.UserID, &res.TestID, &answers, &progress, &highlights, &notes, &edits,
		&timeLeft, &activeSection, &joinedAt, &scores, &res.CompletedAt, &metadata, &res.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	snap := model.NewSnapshot()
	snap.TimeLeft = timeLeft
	snap.ActiveSection = activeSection
	snap.JoinedAt = joinedAt
	for _, f := range []struct {
		raw []byte
		dst any
	}{
		{answers, &snap.Answers},
		{progress, &snap.ModuleProgress},
		{highlights, &snap.Highlights},
		{notes, &snap.Notes},
		{edits, &snap.PassageEdits},
		{scores, &res.Scores},
		{metadata, &res.Metadata},
	} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("decode result %s: %w", res.ID, err)
		}
	}
	res.Snapshot = normalizeSnapshot(snap)
	return &res, nil
}

// Upsert writes the in-progress payload. A completed record is never
// reopened: the conflict branch skips rows that already have completed_at.
func (r *ResultRepository) Upsert(ctx context.Context, userID, testID uuid.UUID, snap model.Snapshot) error {
	args, err := snapshotArgs(snap)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO results (user_id, test_id, answers, module_progress, highlights, notes, passage_edits,
		                      time_left, active_section, joined_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (user_id, test_id) DO UPDATE SET
		     answers = EXCLUDED.answers,
		     module_progress = EXCLUDED.module_progress,
		     highlights = EXCLUDED.highlights,
		     notes = EXCLUDED.notes,
		     passage_edits = EXCLUDED.passage_edits,
		     time_left = EXCLUDED.time_left,
		     active_section = EXCLUDED.active_section,
		     joined_at = COALESCE(results.joined_at, EXCLUDED.joined_at),
		     updated_at = NOW()
		 WHERE results.completed_at IS NULL`,
		append([]any{userID, testID}, args...)...,
	)
	return err
}

// Complete writes the final payload. Repeating it with the same payload is harmless.
func (r *ResultRepository) Complete(ctx context.Context, userID, testID uuid.UUID, final model.FinalResult) error {
	args, err := snapshotArgs(final.Snapshot)
	if err != nil {
		return err
	}
	scores, err := json.Marshal(final.Scores)
	if err != nil {
		return err
	}
	metadata, err := json.Marshal(final.Metadata)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO results (user_id, test_id, answers, module_progress, highlights, notes, passage_edits,
		                      time_left, active_section, joined_at, scores, completed_at, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (user_id, test_id) DO UPDATE SET
		     answers = EXCLUDED.answers,
		     module_progress = EXCLUDED.module_progress,
		     highlights = EXCLUDED.highlights,
		     notes = EXCLUDED.notes,
		     passage_edits = EXCLUDED.passage_edits,
		     time_left = 0,
		     scores = EXCLUDED.scores,
		     completed_at = EXCLUDED.completed_at,
		     metadata = EXCLUDED.metadata,
		     updated_at = NOW()`,
		append(append([]any{userID, testID}, args...), scores, final.CompletedAt, metadata)...,
	)
	return err
}

func snapshotArgs(snap model.Snapshot) ([]any, error) {
	snap = normalizeSnapshot(snap)
	out := make([]any, 0, 8)
	for _, v := range []any{snap.Answers, snap.ModuleProgress, snap.Highlights, snap.Notes, snap.PassageEdits} {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return append(out, snap.TimeLeft, snap.ActiveSection, snap.JoinedAt), nil
}

// normalizeSnapshot replaces nil maps so stored JSON is never null.
func normalizeSnapshot(s model.Snapshot) model.Snapshot {
	if s.Answers == nil {
		s.Answers = map[string]string{}
	}
	if s.ModuleProgress == nil {
		s.ModuleProgress = model.ModuleProgress{}
	}
	if s.Highlights == nil {
		s.Highlights = map[string]json.RawMessage{}
	}
	if s.Notes == nil {
		s.Notes = map[string]string{}
	}
	if s.PassageEdits == nil {
		s.PassageEdits = map[string]string{}
	}
	return s
}
