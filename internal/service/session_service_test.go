package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/mocktest-backend/internal/config"
	"github.com/stemsi/mocktest-backend/internal/model"
	"github.com/stemsi/mocktest-backend/internal/session"
)

var scheduledAt = time.Date(2026, 6, 6, 9, 0, 0, 0, time.UTC)

type sessionFixture struct {
	catalog *memCatalog
	results *memResults
	local   *memLocal
	queue   *memQueue
	svc     *SessionService
	test    *model.MockTest
	user    uuid.UUID
}

func newSessionFixture(t *testing.T, now time.Time) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		catalog: newMemCatalog(),
		results: newMemResults(),
		local:   newMemLocal(),
		queue:   &memQueue{},
		user:    uuid.New(),
	}
	f.test = &model.MockTest{ID: uuid.New(), Slug: "june-mock", Title: "June Mock", ScheduledAt: scheduledAt}
	f.catalog.tests[f.test.Slug] = f.test
	f.catalog.sections[f.test.ID] = []model.Section{
		{ID: uuid.New(), TestID: f.test.ID, Type: model.SectionWriting, TimeLimit: 60, OrderIndex: 0},
		{ID: uuid.New(), TestID: f.test.ID, Type: model.SectionListening, TimeLimit: 30, OrderIndex: 1},
		{ID: uuid.New(), TestID: f.test.ID, Type: model.SectionReading, TimeLimit: 60, OrderIndex: 2},
	}

	f.svc = NewSessionService(SessionDeps{
		Config:   &config.Config{ModuleLoadTimeout: time.Second, SyncInterval: 5 * time.Second},
		Catalog:  f.catalog,
		Results:  f.results,
		Local:    f.local,
		Activity: f.queue,
		Outbox:   f.queue,
		Notifier: nopNotifier{},
		Log:      zerolog.Nop(),
	})
	f.svc.clock = func() time.Time { return now }
	return f
}

func (f *sessionFixture) open(t *testing.T) (*session.Engine, error) {
	t.Helper()
	return f.svc.Open(t.Context(), f.test.Slug, fixedIdentity(f.user), discardEmitter{})
}

func TestSessionService_FirstJoinWritesMarker(t *testing.T) {
	now := scheduledAt.Add(179*time.Second + 999*time.Millisecond)
	f := newSessionFixture(t, now)

	e, err := f.open(t)
	require.NoError(t, err)
	require.NotNil(t, e)

	rec, err := f.results.Get(t.Context(), f.user, f.test.ID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.NotNil(t, rec.Snapshot.JoinedAt)
	assert.True(t, now.Equal(*rec.Snapshot.JoinedAt))

	local, err := f.local.Load(t.Context(), f.user, f.test.ID)
	require.NoError(t, err)
	require.NotNil(t, local)
	assert.NotNil(t, local.JoinedAt)

	require.Len(t, f.queue.activities, 1)
	assert.Equal(t, model.ActivityJoined, f.queue.activities[0].Kind)
}

func TestSessionService_LateFirstJoinRejected(t *testing.T) {
	f := newSessionFixture(t, scheduledAt.Add(3*time.Minute))

	_, err := f.open(t)
	assert.ErrorIs(t, err, session.ErrJoinWindowClosed)
	assert.Zero(t, f.results.upserts)
}

func TestSessionService_RejoinAfterWindowAllowed(t *testing.T) {
	f := newSessionFixture(t, scheduledAt.Add(40*time.Minute))
	joined := scheduledAt.Add(time.Minute)
	snap := model.NewSnapshot()
	snap.JoinedAt = &joined
	require.NoError(t, f.results.Upsert(t.Context(), f.user, f.test.ID, snap))

	_, err := f.open(t)
	require.NoError(t, err)
	assert.Equal(t, 1, f.results.upserts, "no second join marker")
	assert.Empty(t, f.queue.activities)
}

func TestSessionService_LocalMarkerHonouredWithoutRemote(t *testing.T) {
	f := newSessionFixture(t, scheduledAt.Add(40*time.Minute))
	joined := scheduledAt.Add(time.Minute)
	snap := model.NewSnapshot()
	snap.JoinedAt = &joined
	require.NoError(t, f.local.Save(t.Context(), f.user, f.test.ID, snap))

	_, err := f.open(t)
	assert.NoError(t, err)
}

func TestSessionService_ForcedExitIsNotResumed(t *testing.T) {
	f := newSessionFixture(t, scheduledAt.Add(40*time.Minute))
	joined := scheduledAt.Add(time.Minute)
	snap := model.NewSnapshot()
	snap.JoinedAt = &joined
	require.NoError(t, f.results.Complete(t.Context(), f.user, f.test.ID, model.FinalResult{
		Snapshot:    snap,
		CompletedAt: scheduledAt.Add(30 * time.Minute),
		Metadata:    map[string]any{"trigger": string(session.TriggerForcedExit), "violations": 11},
	}))

	e, err := f.open(t)
	assert.ErrorIs(t, err, session.ErrProctoringViolation)
	assert.Nil(t, e)
}

func TestSessionService_CompletedAttemptOpensFinished(t *testing.T) {
	f := newSessionFixture(t, scheduledAt.Add(40*time.Minute))
	require.NoError(t, f.results.Complete(t.Context(), f.user, f.test.ID, model.FinalResult{
		Snapshot:    model.NewSnapshot(),
		CompletedAt: scheduledAt.Add(30 * time.Minute),
		Metadata:    map[string]any{"trigger": string(session.TriggerManual)},
	}))

	e, err := f.open(t)
	require.NoError(t, err)
	require.NotNil(t, e)
	require.NoError(t, e.Run(t.Context()))
	assert.Equal(t, model.PhaseFinished, e.State().Phase)
}

func TestSessionService_MissingTestIsDataIntegrity(t *testing.T) {
	f := newSessionFixture(t, scheduledAt)

	_, err := f.svc.Open(t.Context(), "nope", fixedIdentity(f.user), discardEmitter{})
	assert.ErrorIs(t, err, session.ErrDataIntegrity)
}

func TestSessionService_MalformedSectionsAreDataIntegrity(t *testing.T) {
	f := newSessionFixture(t, scheduledAt)

	f.catalog.sections[f.test.ID] = nil
	_, err := f.open(t)
	assert.ErrorIs(t, err, session.ErrDataIntegrity)

	f.catalog.sections[f.test.ID] = []model.Section{{ID: uuid.New(), Type: model.SectionReading, TimeLimit: 0}}
	_, err = f.open(t)
	assert.ErrorIs(t, err, session.ErrDataIntegrity)
}

func TestSessionService_NoIdentity(t *testing.T) {
	f := newSessionFixture(t, scheduledAt)

	_, err := f.svc.Open(t.Context(), f.test.Slug, fixedIdentity(uuid.Nil), discardEmitter{})
	assert.ErrorIs(t, err, session.ErrAuthExpired)
}

func TestLoadTest_CanonicalOrder(t *testing.T) {
	f := newSessionFixture(t, scheduledAt)

	_, sections, err := LoadTest(t.Context(), f.catalog, f.test.Slug)
	require.NoError(t, err)
	require.Len(t, sections, 3)
	assert.Equal(t, model.SectionListening, sections[0].Type)
	assert.Equal(t, model.SectionReading, sections[1].Type)
	assert.Equal(t, model.SectionWriting, sections[2].Type)
}

func TestLoadTest_UnknownSlugIsNotFound(t *testing.T) {
	f := newSessionFixture(t, scheduledAt)

	_, _, err := LoadTest(t.Context(), f.catalog, "missing")
	assert.ErrorIs(t, err, ErrTestNotFound)
	assert.ErrorIs(t, err, session.ErrDataIntegrity)
}
