package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/mocktest-backend/internal/model"
)

var errNetwork = errors.New("connection reset by peer")

type fakeCatalog struct {
	mu        sync.Mutex
	parts     map[uuid.UUID][]model.Part
	questions map[uuid.UUID][]model.Question
	fail      error
	block     bool
	calls     int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		parts:     map[uuid.UUID][]model.Part{},
		questions: map[uuid.UUID][]model.Question{},
	}
}

func (c *fakeCatalog) ListPartsBySection(ctx context.Context, sectionID uuid.UUID) ([]model.Part, error) {
	c.mu.Lock()
	block, fail := c.block, c.fail
	c.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if fail != nil {
		return nil, fail
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Part(nil), c.parts[sectionID]...), nil
}

func (c *fakeCatalog) ListQuestionsBySection(ctx context.Context, sectionID uuid.UUID) ([]model.Question, error) {
	c.mu.Lock()
	c.calls++
	block, fail := c.block, c.fail
	c.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if fail != nil {
		return nil, fail
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Question(nil), c.questions[sectionID]...), nil
}

func (c *fakeCatalog) setFail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = err
}

type fakeStore struct {
	mu        sync.Mutex
	record    *model.Result
	upserts   int
	completes int
	fail      error
}

func (s *fakeStore) Get(_ context.Context, _, _ uuid.UUID) (*model.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record == nil {
		return nil, nil
	}
	r := *s.record
	r.Snapshot = s.record.Snapshot.Clone()
	return &r, nil
}

func (s *fakeStore) Upsert(_ context.Context, userID, testID uuid.UUID, snap model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.upserts++
	if s.record == nil {
		s.record = &model.Result{ID: uuid.New(), UserID: userID, TestID: testID}
	}
	s.record.Snapshot = snap.Clone()
	return nil
}

func (s *fakeStore) Complete(_ context.Context, userID, testID uuid.UUID, final model.FinalResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.completes++
	if s.record == nil {
		s.record = &model.Result{ID: uuid.New(), UserID: userID, TestID: testID}
	}
	completedAt := final.CompletedAt
	s.record.Snapshot = final.Snapshot.Clone()
	s.record.Scores = final.Scores
	s.record.CompletedAt = &completedAt
	s.record.Metadata = final.Metadata
	return nil
}

func (s *fakeStore) setFail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *fakeStore) snapshot() model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record == nil {
		return model.Snapshot{}
	}
	return s.record.Snapshot.Clone()
}

type fakeLocal struct {
	mu      sync.Mutex
	snap    *model.Snapshot
	saves   int
	cleared bool
}

func (l *fakeLocal) Save(_ context.Context, _, _ uuid.UUID, snap model.Snapshot) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := snap.Clone()
	l.snap = &c
	l.saves++
	return nil
}

func (l *fakeLocal) Load(_ context.Context, _, _ uuid.UUID) (*model.Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.snap == nil {
		return nil, nil
	}
	c := l.snap.Clone()
	return &c, nil
}

func (l *fakeLocal) Clear(_ context.Context, _, _ uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snap = nil
	l.cleared = true
	return nil
}

func (l *fakeLocal) isCleared() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cleared
}

type fakeActivity struct {
	mu     sync.Mutex
	events []model.ActivityEvent
}

func (a *fakeActivity) RecordActivity(_ context.Context, ev model.ActivityEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	return nil
}

func (a *fakeActivity) kinds() []model.ActivityKind {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.ActivityKind, 0, len(a.events))
	for _, ev := range a.events {
		out = append(out, ev.Kind)
	}
	return out
}

type fakeOutbox struct {
	mu    sync.Mutex
	tasks []model.EvaluationTask
	fail  error
}

func (o *fakeOutbox) EnqueueEvaluation(_ context.Context, task model.EvaluationTask) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail != nil {
		return o.fail
	}
	o.tasks = append(o.tasks, task)
	return nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []model.CompletionNotice
}

func (n *fakeNotifier) PublishCompleted(_ context.Context, notice model.CompletionNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return nil
}

type fakeIdentity struct {
	mu     sync.Mutex
	userID uuid.UUID
}

func (i *fakeIdentity) CurrentUser(context.Context) (uuid.UUID, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.userID == uuid.Nil {
		return uuid.Nil, ErrAuthExpired
	}
	return i.userID, nil
}

func (i *fakeIdentity) expire() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.userID = uuid.Nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingEmitter) Emit(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingEmitter) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recordingEmitter) last(t EventType) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == t {
			return r.events[i], true
		}
	}
	return Event{}, false
}

func (r *recordingEmitter) count(t EventType) int {
	n := 0
	for _, et := range r.types() {
		if et == t {
			n++
		}
	}
	return n
}

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var nopLog = zerolog.Nop()
