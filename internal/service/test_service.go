package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/mocktest-backend/internal/model"
	"github.com/stemsi/mocktest-backend/internal/session"
	"github.com/stemsi/mocktest-backend/internal/timeline"
)

// EvaluationLister reads stored writing evaluations.
type EvaluationLister interface {
	ListByAttempt(ctx context.Context, userID, testID uuid.UUID) ([]model.WritingEvaluation, error)
}

// PresenceCounter reports live participant counts.
type PresenceCounter interface {
	Count(ctx context.Context, testID string) (int64, error)
}

// TestOverview is the public view of a scheduled test.
type TestOverview struct {
	Test         model.MockTest  `json:"test"`
	Sections     []model.Section `json:"sections"`
	Schedule     []timeline.Slot `json:"schedule"`
	EndsAt       time.Time       `json:"ends_at"`
	JoinOpen     bool            `json:"join_open"`
	JoinClosesAt time.Time       `json:"join_closes_at"`
	Phase        model.Phase     `json:"phase"`
	TimeLeft     int             `json:"time_left"`
	Participants int64           `json:"participants"`
}

// ResultSummary is a participant's stored attempt.
type ResultSummary struct {
	TestID         uuid.UUID                                `json:"test_id"`
	Completed      bool                                     `json:"completed"`
	CompletedAt    *time.Time                               `json:"completed_at,omitempty"`
	ModuleProgress model.ModuleProgress                     `json:"module_progress"`
	Scores         map[model.SectionType]model.SectionScore `json:"scores,omitempty"`
	Evaluations    []model.WritingEvaluation                `json:"writing_evaluations"`
}

// TestService serves read-only views of tests and results.
type TestService struct {
	catalog     TestCatalog
	results     session.ResultStore
	evaluations EvaluationLister
	presence    PresenceCounter
	clock       session.Clock
	log         zerolog.Logger
}

// NewTestService creates a new TestService.
func NewTestService(catalog TestCatalog, results session.ResultStore, evaluations EvaluationLister, presence PresenceCounter, log zerolog.Logger) *TestService {
	return &TestService{
		catalog:     catalog,
		results:     results,
		evaluations: evaluations,
		presence:    presence,
		clock:       time.Now,
		log:         log.With().Str("component", "test_service").Logger(),
	}
}

// Overview returns the global schedule of a test and where it currently stands
// for a participant who has submitted nothing.
func (s *TestService) Overview(ctx context.Context, slug string) (*TestOverview, error) {
	test, sections, err := LoadTest(ctx, s.catalog, slug)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	preview := timeline.Calculate(now, test.ScheduledAt, sections, nil)

	var participants int64
	if s.presence != nil {
		n, err := s.presence.Count(ctx, test.ID.String())
		if err != nil {
			s.log.Warn().Err(err).Str("test_id", test.ID.String()).Msg("Presence count failed")
		}
		participants = n
	}

	return &TestOverview{
		Test:         *test,
		Sections:     sections,
		Schedule:     timeline.Schedule(test.ScheduledAt, sections),
		EndsAt:       timeline.End(test.ScheduledAt, sections),
		JoinOpen:     timeline.CanJoin(now, test.ScheduledAt),
		JoinClosesAt: test.ScheduledAt.Add(timeline.WaitingHall),
		Phase:        preview.Phase,
		TimeLeft:     preview.Seconds(),
		Participants: participants,
	}, nil
}

// MyResult returns the caller's stored attempt with bands rounded for display.
func (s *TestService) MyResult(ctx context.Context, slug string, userID uuid.UUID) (*ResultSummary, error) {
	test, _, err := LoadTest(ctx, s.catalog, slug)
	if err != nil {
		return nil, err
	}

	res, err := s.results.Get(ctx, userID, test.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: get result: %w", session.ErrTransient, err)
	}
	if res == nil {
		return nil, nil
	}

	summary := &ResultSummary{
		TestID:         test.ID,
		Completed:      res.CompletedAt != nil,
		CompletedAt:    res.CompletedAt,
		ModuleProgress: res.Snapshot.ModuleProgress,
		Scores:         session.PresentScores(res.Scores),
		Evaluations:    []model.WritingEvaluation{},
	}
	if summary.Completed && s.evaluations != nil {
		evs, err := s.evaluations.ListByAttempt(ctx, userID, test.ID)
		if err != nil {
			s.log.Warn().Err(err).Msg("List writing evaluations failed")
		} else if evs != nil {
			summary.Evaluations = evs
		}
	}
	return summary, nil
}
