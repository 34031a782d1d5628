package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stemsi/mocktest-backend/internal/model"
	"github.com/stemsi/mocktest-backend/internal/session"
)

type memCatalog struct {
	tests     map[string]*model.MockTest
	sections  map[uuid.UUID][]model.Section
	questions map[uuid.UUID][]model.Question
}

func newMemCatalog() *memCatalog {
	return &memCatalog{
		tests:     map[string]*model.MockTest{},
		sections:  map[uuid.UUID][]model.Section{},
		questions: map[uuid.UUID][]model.Question{},
	}
}

func (c *memCatalog) GetTestBySlug(_ context.Context, slug string) (*model.MockTest, error) {
	t, ok := c.tests[slug]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

func (c *memCatalog) ListSectionsByTest(_ context.Context, testID uuid.UUID) ([]model.Section, error) {
	return append([]model.Section(nil), c.sections[testID]...), nil
}

func (c *memCatalog) ListPartsBySection(context.Context, uuid.UUID) ([]model.Part, error) {
	return nil, nil
}

func (c *memCatalog) ListQuestionsBySection(_ context.Context, sectionID uuid.UUID) ([]model.Question, error) {
	return c.questions[sectionID], nil
}

type resultKey struct{ user, test uuid.UUID }

type memResults struct {
	mu      sync.Mutex
	records map[resultKey]*model.Result
	upserts int
}

func newMemResults() *memResults {
	return &memResults{records: map[resultKey]*model.Result{}}
}

func (r *memResults) Get(_ context.Context, userID, testID uuid.UUID) (*model.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[resultKey{userID, testID}]
	if !ok {
		return nil, nil
	}
	cp := *rec
	cp.Snapshot = rec.Snapshot.Clone()
	return &cp, nil
}

func (r *memResults) Upsert(_ context.Context, userID, testID uuid.UUID, snap model.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts++
	k := resultKey{userID, testID}
	rec, ok := r.records[k]
	if !ok {
		rec = &model.Result{ID: uuid.New(), UserID: userID, TestID: testID}
		r.records[k] = rec
	}
	rec.Snapshot = snap.Clone()
	return nil
}

func (r *memResults) Complete(_ context.Context, userID, testID uuid.UUID, final model.FinalResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := resultKey{userID, testID}
	rec, ok := r.records[k]
	if !ok {
		rec = &model.Result{ID: uuid.New(), UserID: userID, TestID: testID}
		r.records[k] = rec
	}
	at := final.CompletedAt
	rec.Snapshot = final.Snapshot.Clone()
	rec.Scores = final.Scores
	rec.CompletedAt = &at
	rec.Metadata = final.Metadata
	return nil
}

type memLocal struct {
	mu    sync.Mutex
	snaps map[resultKey]model.Snapshot
}

func newMemLocal() *memLocal {
	return &memLocal{snaps: map[resultKey]model.Snapshot{}}
}

func (l *memLocal) Save(_ context.Context, userID, testID uuid.UUID, snap model.Snapshot) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snaps[resultKey{userID, testID}] = snap.Clone()
	return nil
}

func (l *memLocal) Load(_ context.Context, userID, testID uuid.UUID) (*model.Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.snaps[resultKey{userID, testID}]
	if !ok {
		return nil, nil
	}
	c := s.Clone()
	return &c, nil
}

func (l *memLocal) Clear(_ context.Context, userID, testID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.snaps, resultKey{userID, testID})
	return nil
}

type memQueue struct {
	mu         sync.Mutex
	activities []model.ActivityEvent
	tasks      []model.EvaluationTask
}

func (q *memQueue) RecordActivity(_ context.Context, ev model.ActivityEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.activities = append(q.activities, ev)
	return nil
}

func (q *memQueue) EnqueueEvaluation(_ context.Context, task model.EvaluationTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return nil
}

type fixedIdentity uuid.UUID

func (i fixedIdentity) CurrentUser(context.Context) (uuid.UUID, error) {
	if uuid.UUID(i) == uuid.Nil {
		return uuid.Nil, session.ErrAuthExpired
	}
	return uuid.UUID(i), nil
}

type discardEmitter struct{}

func (discardEmitter) Emit(session.Event) error { return nil }

type nopNotifier struct{}

func (nopNotifier) PublishCompleted(context.Context, model.CompletionNotice) error { return nil }
