package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/mocktest-backend/internal/model"
	"github.com/stemsi/mocktest-backend/internal/timeline"
)

var (
	scheduledAt = time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
	hallEnd     = scheduledAt.Add(timeline.WaitingHall)
)

type harness struct {
	t        *testing.T
	ctx      context.Context
	clock    *fakeClock
	catalog  *fakeCatalog
	store    *fakeStore
	local    *fakeLocal
	activity *fakeActivity
	outbox   *fakeOutbox
	notifier *fakeNotifier
	identity *fakeIdentity
	emitter  *recordingEmitter

	user     uuid.UUID
	test     model.MockTest
	sections []model.Section
	engine   *Engine
}

func newHarness(t *testing.T, now time.Time) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		ctx:      context.Background(),
		clock:    &fakeClock{now: now},
		catalog:  newFakeCatalog(),
		store:    &fakeStore{},
		local:    &fakeLocal{},
		activity: &fakeActivity{},
		outbox:   &fakeOutbox{},
		notifier: &fakeNotifier{},
		emitter:  &recordingEmitter{},
		user:     uuid.New(),
	}
	h.identity = &fakeIdentity{userID: h.user}
	h.test = model.MockTest{ID: uuid.New(), Slug: "ielts-may", ScheduledAt: scheduledAt}
	h.sections = []model.Section{
		{ID: uuid.New(), TestID: h.test.ID, Type: model.SectionListening, TimeLimit: 30},
		{ID: uuid.New(), TestID: h.test.ID, Type: model.SectionReading, TimeLimit: 60, OrderIndex: 1},
		{ID: uuid.New(), TestID: h.test.ID, Type: model.SectionWriting, TimeLimit: 60, OrderIndex: 2},
	}

	h.catalog.questions[h.sections[0].ID] = []model.Question{
		{ID: uuid.New(), SectionID: h.sections[0].ID, QuestionType: model.QuestionTypeGapFill, CorrectAnswer: "paris, Paris , PARIS"},
		{ID: uuid.New(), SectionID: h.sections[0].ID, QuestionType: model.QuestionTypeGapFill, CorrectAnswer: "42"},
	}
	h.catalog.questions[h.sections[1].ID] = []model.Question{
		{ID: uuid.New(), SectionID: h.sections[1].ID, QuestionType: model.QuestionTypeTrueFalse, CorrectAnswer: "true"},
	}
	h.catalog.questions[h.sections[2].ID] = []model.Question{
		{ID: uuid.New(), SectionID: h.sections[2].ID, QuestionType: model.QuestionTypeEssay, QuestionText: "Describe the chart.", TaskType: "task1"},
	}
	return h
}

func (h *harness) build(initial model.Snapshot, completed bool) *Engine {
	clock := Clock(h.clock.Now)
	sync := NewSynchronizer(h.store, h.local, h.outbox, h.identity, h.user, h.test.ID, clock, nopLog)
	fin := NewFinalizer(FinalizerDeps{
		Catalog:  h.catalog,
		Store:    h.store,
		Local:    h.local,
		Activity: h.activity,
		Notifier: h.notifier,
		Identity: h.identity,
		Clock:    clock,
		Log:      nopLog,
	}, h.user, h.test.ID, h.sections)

	h.engine = NewEngine(EngineConfig{
		Test:      h.test,
		Sections:  h.sections,
		UserID:    h.user,
		Initial:   initial,
		Completed: completed,
		Loader:    NewLoader(h.catalog, time.Second),
		Sync:      sync,
		Finalizer: fin,
		Activity:  h.activity,
		Emitter:   h.emitter,
		Clock:     clock,
		Log:       nopLog,
	})
	return h.engine
}

func (h *harness) start() *Engine {
	e := h.build(model.NewSnapshot(), false)
	e.start(h.ctx)
	return e
}

// await runs the next async result on the calling goroutine.
func (h *harness) await() {
	h.t.Helper()
	select {
	case fn := <-h.engine.inbox:
		fn()
	case <-time.After(2 * time.Second):
		h.t.Fatal("timed out waiting for async result")
	}
}

func (h *harness) questionID(section, i int) string {
	return h.catalog.questions[h.sections[section].ID][i].ID.String()
}

func TestEngine_MountInWaitingHall(t *testing.T) {
	h := newHarness(t, scheduledAt.Add(time.Minute))
	e := h.start()

	assert.Equal(t, model.PhaseJoining, e.State().Phase)
	assert.Equal(t, 120, e.State().TimeLeft)
	assert.False(t, e.monitor.Strict())

	ev, ok := h.emitter.last(EventState)
	require.True(t, ok)
	assert.Equal(t, model.PhaseJoining, ev.Data.(StateView).Phase)
}

func TestEngine_TickIntoExamLoadsModuleAndEnablesStrict(t *testing.T) {
	h := newHarness(t, hallEnd.Add(-time.Second))
	e := h.start()
	require.Equal(t, model.PhaseJoining, e.State().Phase)

	h.clock.Set(hallEnd)
	e.tick(h.ctx)
	h.await()

	assert.Equal(t, model.PhaseExam, e.State().Phase)
	assert.True(t, e.monitor.Strict())
	assert.Contains(t, h.emitter.types(), EventStrict)
	assert.Contains(t, h.emitter.types(), EventFullscreen)
	assert.Contains(t, h.activity.kinds(), model.ActivityModuleStarted)

	ev, ok := h.emitter.last(EventModule)
	require.True(t, ok)
	view := ev.Data.(ModuleView)
	assert.Equal(t, model.SectionListening, view.SectionType)
	assert.Len(t, view.Questions, 2)
}

func TestEngine_AnswerMirroredLocally(t *testing.T) {
	h := newHarness(t, hallEnd.Add(time.Minute))
	e := h.start()
	h.await()

	qid := h.questionID(0, 0)
	e.handle(h.ctx, Command{Kind: CmdAnswer, Key: qid, Value: "Paris"})

	local, err := h.local.Load(h.ctx, h.user, h.test.ID)
	require.NoError(t, err)
	require.NotNil(t, local)
	assert.Equal(t, "Paris", local.Answers[qid])
}

func TestEngine_AnswerRejectedOutsideActiveModule(t *testing.T) {
	h := newHarness(t, hallEnd.Add(time.Minute))
	e := h.start()

	// Module not loaded yet.
	e.handle(h.ctx, Command{Kind: CmdAnswer, Key: h.questionID(0, 0), Value: "Paris"})
	h.await()
	// Question of another section.
	e.handle(h.ctx, Command{Kind: CmdAnswer, Key: h.questionID(1, 0), Value: "true"})

	assert.Empty(t, e.snap.Answers)
	assert.Equal(t, 2, h.emitter.count(EventError))
}

func TestEngine_StaleModuleLoadDiscarded(t *testing.T) {
	h := newHarness(t, hallEnd.Add(30*time.Minute-time.Second))
	e := h.start()
	require.Equal(t, model.PhaseExam, e.State().Phase)

	h.clock.Advance(time.Minute)
	e.tick(h.ctx)
	require.Equal(t, model.PhaseWaiting, e.State().Phase)

	h.await()
	assert.Nil(t, e.module)
	assert.Zero(t, h.emitter.count(EventModule))
}

func TestEngine_ModuleLoadFailureIsRetryable(t *testing.T) {
	h := newHarness(t, hallEnd.Add(time.Minute))
	h.catalog.setFail(errNetwork)
	e := h.start()
	h.await()

	ev, ok := h.emitter.last(EventModuleFailed)
	require.True(t, ok)
	assert.True(t, ev.Data.(Notice).Retryable)
	assert.Equal(t, model.PhaseExam, e.State().Phase)

	h.catalog.setFail(nil)
	e.handle(h.ctx, Command{Kind: CmdRetryLoad})
	h.await()

	assert.NotNil(t, e.module)
	assert.Equal(t, 1, h.emitter.count(EventModule))
}

func TestEngine_FinishModulePersistsBeforeOverlay(t *testing.T) {
	h := newHarness(t, hallEnd.Add(25*time.Minute))
	e := h.start()
	h.await()

	e.handle(h.ctx, Command{Kind: CmdAnswer, Key: h.questionID(0, 0), Value: "paris"})
	e.handle(h.ctx, Command{Kind: CmdFinishModule})
	assert.Equal(t, model.PhaseExam, e.State().Phase, "phase must wait for the write")

	h.await()

	assert.Equal(t, model.PhaseSubmittedWaiting, e.State().Phase)
	assert.Equal(t, 420, e.State().TimeLeft)
	assert.True(t, h.store.snapshot().ModuleProgress[model.SectionListening])
	assert.Equal(t, "paris", h.store.snapshot().Answers[h.questionID(0, 0)])
	assert.Contains(t, h.activity.kinds(), model.ActivityModuleSubmitted)
}

func TestEngine_FinishModuleFailureBlocksTransition(t *testing.T) {
	h := newHarness(t, hallEnd.Add(25*time.Minute))
	e := h.start()
	h.await()

	h.store.setFail(errNetwork)
	e.handle(h.ctx, Command{Kind: CmdFinishModule})
	h.await()

	assert.Equal(t, model.PhaseExam, e.State().Phase)
	assert.False(t, e.snap.ModuleProgress[model.SectionListening])
	ev, ok := h.emitter.last(EventSubmitFailed)
	require.True(t, ok)
	assert.Equal(t, "module", ev.Data.(Notice).Scope)

	h.store.setFail(nil)
	e.handle(h.ctx, Command{Kind: CmdFinishModule})
	h.await()
	assert.Equal(t, model.PhaseSubmittedWaiting, e.State().Phase)
}

func TestEngine_WritingModuleQueuesEvaluations(t *testing.T) {
	// Writing starts after 30+2+60+2 minutes.
	h := newHarness(t, hallEnd.Add(95*time.Minute))
	e := h.start()
	h.await()
	require.Equal(t, 2, e.State().ActiveIndex)

	essay := strings.Repeat("The chart shows a steady rise. ", 4)
	e.handle(h.ctx, Command{Kind: CmdAnswer, Key: h.questionID(2, 0), Value: essay})
	e.handle(h.ctx, Command{Kind: CmdFinishModule})
	h.await() // module write, then finalize starts
	h.await() // final write

	require.Len(t, h.outbox.tasks, 1)
	assert.Equal(t, "task1", h.outbox.tasks[0].TaskType)
	assert.Equal(t, strings.TrimSpace(essay), h.outbox.tasks[0].AnswerText)
	assert.Equal(t, model.PhaseFinished, e.State().Phase)
	assert.Equal(t, TriggerManual, e.trigger)
}

func TestEngine_TimelineEndFinalizesBeforeShowingFinished(t *testing.T) {
	end := timeline.End(scheduledAt, []model.Section{
		{Type: model.SectionListening, TimeLimit: 30},
		{Type: model.SectionReading, TimeLimit: 60},
		{Type: model.SectionWriting, TimeLimit: 60},
	})
	h := newHarness(t, end.Add(-time.Second))
	e := h.start()
	h.await() // writing module load

	h.clock.Set(end)
	e.tick(h.ctx)
	assert.NotEqual(t, model.PhaseFinished, e.State().Phase)
	assert.Contains(t, h.emitter.types(), EventSubmitting)

	// Redundant ticks while the write is in flight are ignored.
	e.tick(h.ctx)
	h.await()

	assert.Equal(t, model.PhaseFinished, e.State().Phase)
	assert.True(t, e.stopped)
	assert.NoError(t, e.err)
	assert.Equal(t, 1, h.store.completes)
	assert.True(t, h.local.cleared)
	assert.Contains(t, h.activity.kinds(), model.ActivityCompleted)
	require.Len(t, h.notifier.notices, 1)

	ev, ok := h.emitter.last(EventFinished)
	require.True(t, ok)
	scores := ev.Data.(FinishedView).Scores
	assert.Nil(t, scores[model.SectionWriting].Band)
	require.NotNil(t, scores[model.SectionListening].Band)
}

func TestEngine_FinalSubmitFailureWaitsForRetry(t *testing.T) {
	h := newHarness(t, hallEnd.Add(6*time.Hour))
	h.store.setFail(errNetwork)
	e := h.start()
	h.await()

	require.True(t, e.submitFailed)
	assert.NotEqual(t, model.PhaseFinished, e.State().Phase)
	assert.False(t, h.local.cleared)

	e.tick(h.ctx)
	assert.False(t, e.finalizing, "ticks must not resubmit on their own")

	h.store.setFail(nil)
	e.handle(h.ctx, Command{Kind: CmdRetrySubmit})
	h.await()

	assert.Equal(t, model.PhaseFinished, e.State().Phase)
	assert.Equal(t, 1, h.store.completes)
}

func TestEngine_AnswersFrozenAfterFinish(t *testing.T) {
	h := newHarness(t, hallEnd.Add(6*time.Hour))
	e := h.start()
	h.await()
	require.True(t, e.finished)

	e.handle(h.ctx, Command{Kind: CmdAnswer, Key: h.questionID(0, 0), Value: "late"})
	assert.Empty(t, e.snap.Answers)
}

func TestEngine_ReloadAfterSubmitDoesNotReplayModule(t *testing.T) {
	h := newHarness(t, hallEnd.Add(10*time.Minute))
	initial := model.NewSnapshot()
	initial.ModuleProgress[model.SectionListening] = true

	e := h.build(initial, false)
	e.start(h.ctx)

	assert.Equal(t, model.PhaseSubmittedWaiting, e.State().Phase)
	assert.Zero(t, h.emitter.count(EventFullscreen))
	assert.NotContains(t, h.activity.kinds(), model.ActivityModuleStarted)
}

func TestEngine_CompletedAttemptStopsImmediately(t *testing.T) {
	h := newHarness(t, hallEnd.Add(10*time.Minute))
	e := h.build(model.NewSnapshot(), true)
	e.start(h.ctx)

	assert.True(t, e.stopped)
	assert.Equal(t, model.PhaseFinished, e.State().Phase)
	assert.Equal(t, []EventType{EventFinished}, h.emitter.types())
}

func TestEngine_PeriodicSyncOnlyDuringExam(t *testing.T) {
	h := newHarness(t, scheduledAt)
	e := h.start()

	e.periodicSync(h.ctx)
	assert.False(t, e.pushing)

	h.clock.Set(hallEnd.Add(time.Minute))
	e.tick(h.ctx)
	h.await()

	e.periodicSync(h.ctx)
	require.True(t, e.pushing)
	e.periodicSync(h.ctx) // overlapping interval is skipped
	h.await()

	assert.False(t, e.pushing)
	assert.Equal(t, 1, h.store.upserts)
}

func TestEngine_AuthExpiryIsFatal(t *testing.T) {
	h := newHarness(t, hallEnd.Add(time.Minute))
	e := h.start()
	h.await()

	h.identity.expire()
	e.periodicSync(h.ctx)
	h.await()

	assert.True(t, e.stopped)
	assert.ErrorIs(t, e.err, ErrAuthExpired)
	assert.Contains(t, h.emitter.types(), EventAuthExpired)
}

func TestEngine_SustainedDevtoolsForcesExit(t *testing.T) {
	h := newHarness(t, hallEnd.Add(time.Minute))
	e := h.start()
	h.await()

	sig := Signal{Kind: SignalDimensions, OuterWidth: 1600, InnerWidth: 1200, OuterHeight: 900, InnerHeight: 820}
	for i := 0; i < DevtoolsThreshold; i++ {
		e.handle(h.ctx, Command{Kind: CmdProctor, Signal: sig})
		h.clock.Advance(time.Second)
	}
	require.False(t, e.exiting)

	e.handle(h.ctx, Command{Kind: CmdProctor, Signal: sig})

	ev, ok := h.emitter.last(EventForcedExit)
	require.True(t, ok)
	assert.NotEmpty(t, ev.Data.(Notice).Message)
	assert.Contains(t, h.activity.kinds(), model.ActivityForcedExit)
	assert.False(t, e.stopped, "the engine stops once the final write lands")
	assert.Zero(t, h.store.upserts, "no write on the engine goroutine")

	// Input after the exit is ignored.
	e.handle(h.ctx, Command{Kind: CmdAnswer, Key: h.questionID(0, 0), Value: "late"})
	assert.Empty(t, e.snap.Answers)

	h.await()

	assert.True(t, e.stopped)
	assert.ErrorIs(t, e.err, ErrProctoringViolation)
	assert.Equal(t, model.PhaseFinished, e.State().Phase)
	assert.Equal(t, 1, h.store.completes)
	assert.True(t, h.local.isCleared())

	rec, err := h.store.Get(h.ctx, h.user, h.test.ID)
	require.NoError(t, err)
	assert.True(t, ForcedOut(rec))
	assert.Equal(t, DevtoolsThreshold+1, rec.Metadata["violations"])
}

func TestEngine_ForcedExitSubmitFailureWaitsForRetry(t *testing.T) {
	h := newHarness(t, hallEnd.Add(time.Minute))
	e := h.start()
	h.await()

	sig := Signal{Kind: SignalDimensions, OuterWidth: 1600, InnerWidth: 1200, OuterHeight: 900, InnerHeight: 820}
	h.store.setFail(errNetwork)
	for i := 0; i <= DevtoolsThreshold; i++ {
		e.handle(h.ctx, Command{Kind: CmdProctor, Signal: sig})
		h.clock.Advance(time.Second)
	}
	h.await()
	require.True(t, e.submitFailed)
	require.False(t, e.stopped)

	e.tick(h.ctx)
	assert.False(t, e.finalizing)

	h.store.setFail(nil)
	e.handle(h.ctx, Command{Kind: CmdRetrySubmit})
	h.await()

	assert.ErrorIs(t, e.err, ErrProctoringViolation)
	rec, err := h.store.Get(h.ctx, h.user, h.test.ID)
	require.NoError(t, err)
	assert.True(t, ForcedOut(rec))
}

func TestEngine_EditsIgnoredWhileFinalizing(t *testing.T) {
	h := newHarness(t, hallEnd.Add(6*time.Hour))
	e := h.start()
	require.True(t, e.finalizing)

	// The finalizer has cleared the mirror but its result is not back yet.
	require.Eventually(t, h.local.isCleared, 2*time.Second, 5*time.Millisecond)

	e.handle(h.ctx, Command{Kind: CmdNote, Key: "p1", Value: "late note"})
	e.handle(h.ctx, Command{Kind: CmdHighlight, Key: "p1", Raw: []byte(`[{"start":1,"end":4}]`)})
	e.handle(h.ctx, Command{Kind: CmdPassageEdit, Key: "p1", Value: "edited"})
	assert.Equal(t, 3, h.emitter.count(EventError))

	h.await()

	assert.Equal(t, model.PhaseFinished, e.State().Phase)
	local, err := h.local.Load(h.ctx, h.user, h.test.ID)
	require.NoError(t, err)
	assert.Nil(t, local)
	assert.Empty(t, e.snap.Notes)
}

func TestEngine_TabSwitchWarningClears(t *testing.T) {
	h := newHarness(t, hallEnd.Add(time.Minute))
	e := h.start()
	h.await()

	e.handle(h.ctx, Command{Kind: CmdProctor, Signal: Signal{Kind: SignalVisibility, Hidden: true}})
	ev, ok := h.emitter.last(EventWarning)
	require.True(t, ok)
	assert.Equal(t, int64(3000), ev.Data.(Notice).ClearInMS)

	h.clock.Advance(WarningTTL)
	e.tick(h.ctx)
	assert.Equal(t, 1, h.emitter.count(EventWarningCleared))
}

func TestEngine_RunStopsWhenContextEnds(t *testing.T) {
	h := newHarness(t, scheduledAt)
	e := h.build(model.NewSnapshot(), false)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(ctx) }()

	require.NoError(t, e.Submit(ctx, Command{Kind: CmdNote, Key: "listening", Value: "check spelling"}))
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
	assert.ErrorIs(t, e.Submit(context.Background(), Command{Kind: CmdNote}), ErrClosed)
}
