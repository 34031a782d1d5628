package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/stemsi/mocktest-backend/internal/config"
	"github.com/stemsi/mocktest-backend/internal/logger"
	"github.com/stemsi/mocktest-backend/internal/model"
	"github.com/stemsi/mocktest-backend/internal/session"
	"github.com/stemsi/mocktest-backend/internal/timeline"
)

// ErrTestNotFound is wrapped together with session.ErrDataIntegrity when a
// slug resolves to nothing.
var ErrTestNotFound = errors.New("test not found")

// TestCatalog is the catalog surface used by the services.
type TestCatalog interface {
	session.Catalog
	GetTestBySlug(ctx context.Context, slug string) (*model.MockTest, error)
	ListSectionsByTest(ctx context.Context, testID uuid.UUID) ([]model.Section, error)
}

// SessionDeps bundles the collaborators of a SessionService.
type SessionDeps struct {
	Config   *config.Config
	Catalog  TestCatalog
	Results  session.ResultStore
	Local    session.LocalCache
	Activity session.ActivityLog
	Outbox   session.Outbox
	Notifier session.Notifier
	Log      zerolog.Logger
}

// SessionService assembles live sessions at mount time.
type SessionService struct {
	deps  SessionDeps
	clock session.Clock
	log   zerolog.Logger
}

// NewSessionService creates a new SessionService.
func NewSessionService(deps SessionDeps) *SessionService {
	return &SessionService{
		deps:  deps,
		clock: time.Now,
		log:   deps.Log,
	}
}

// LoadTest resolves a test and its sections in canonical order. Missing or
// malformed content is a data integrity failure.
func LoadTest(ctx context.Context, catalog TestCatalog, slug string) (*model.MockTest, []model.Section, error) {
	test, err := catalog.GetTestBySlug(ctx, slug)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, fmt.Errorf("%w: %w: %q", session.ErrDataIntegrity, ErrTestNotFound, slug)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: get test %q: %w", session.ErrTransient, slug, err)
	}

	sections, err := catalog.ListSectionsByTest(ctx, test.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: list sections of %q: %w", session.ErrTransient, slug, err)
	}
	if len(sections) == 0 {
		return nil, nil, fmt.Errorf("%w: test %q has no sections", session.ErrDataIntegrity, slug)
	}
	for _, sec := range sections {
		if sec.TimeLimit <= 0 {
			return nil, nil, fmt.Errorf("%w: section %s has time limit %d", session.ErrDataIntegrity, sec.ID, sec.TimeLimit)
		}
	}
	return test, timeline.OrderSections(sections), nil
}

// Open mounts a participant's session: it reconciles the stored snapshots,
// enforces the join window on first entry and returns an engine ready to Run.
func (s *SessionService) Open(ctx context.Context, slug string, identity session.Identity, emitter session.Emitter) (*session.Engine, error) {
	userID, err := identity.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}

	test, sections, err := LoadTest(ctx, s.deps.Catalog, slug)
	if err != nil {
		return nil, err
	}
	log := logger.ForSession(s.log, userID.String(), test.ID.String())

	remote, err := s.deps.Results.Get(ctx, userID, test.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: get result: %w", session.ErrTransient, err)
	}
	local, err := s.deps.Local.Load(ctx, userID, test.ID)
	if err != nil {
		log.Warn().Err(err).Msg("Local mirror unreadable, ignoring")
		local = nil
	}
	if session.ForcedOut(remote) {
		log.Info().Msg("Join rejected, attempt ended by forced exit")
		return nil, session.ErrProctoringViolation
	}
	snap, source := session.Reconcile(remote, local)
	completed := remote != nil && remote.CompletedAt != nil

	if !completed && snap.JoinedAt == nil {
		now := s.clock()
		if !timeline.CanJoin(now, test.ScheduledAt) {
			log.Info().Time("scheduled_at", test.ScheduledAt).Msg("Join rejected, window closed")
			return nil, session.ErrJoinWindowClosed
		}
		if err := s.markJoined(ctx, userID, test.ID, &snap, now); err != nil {
			return nil, err
		}
	}

	log.Info().Str("source", string(source)).Bool("completed", completed).Msg("Session opened")

	loader := session.NewLoader(s.deps.Catalog, s.deps.Config.ModuleLoadTimeout)
	sync := session.NewSynchronizer(s.deps.Results, s.deps.Local, s.deps.Outbox, identity, userID, test.ID, s.clock, log)
	finalizer := session.NewFinalizer(session.FinalizerDeps{
		Catalog:  s.deps.Catalog,
		Store:    s.deps.Results,
		Local:    s.deps.Local,
		Activity: s.deps.Activity,
		Notifier: s.deps.Notifier,
		Identity: identity,
		Clock:    s.clock,
		Log:      log,
	}, userID, test.ID, sections)

	return session.NewEngine(session.EngineConfig{
		Test:         *test,
		Sections:     sections,
		UserID:       userID,
		Initial:      snap,
		Completed:    completed,
		Loader:       loader,
		Sync:         sync,
		Finalizer:    finalizer,
		Monitor:      session.NewMonitor(),
		Activity:     s.deps.Activity,
		Emitter:      emitter,
		Clock:        s.clock,
		Log:          log,
		SyncInterval: s.deps.Config.SyncInterval,
	}), nil
}

// markJoined writes the join marker locally, then remotely so another engine
// host honours it too.
func (s *SessionService) markJoined(ctx context.Context, userID, testID uuid.UUID, snap *model.Snapshot, now time.Time) error {
	joinedAt := now.UTC()
	snap.JoinedAt = &joinedAt

	if err := s.deps.Local.Save(ctx, userID, testID, *snap); err != nil {
		s.log.Warn().Err(err).Msg("Local join marker failed")
	}
	if err := s.deps.Results.Upsert(ctx, userID, testID, *snap); err != nil {
		return fmt.Errorf("%w: record join: %w", session.ErrTransient, err)
	}

	detail, _ := json.Marshal(map[string]any{"joined_at": joinedAt})
	if err := s.deps.Activity.RecordActivity(ctx, model.ActivityEvent{
		UserID:    userID.String(),
		TestID:    testID.String(),
		Kind:      model.ActivityJoined,
		Detail:    detail,
		Timestamp: joinedAt.Unix(),
	}); err != nil {
		s.log.Warn().Err(err).Msg("Record join activity failed")
	}
	return nil
}
