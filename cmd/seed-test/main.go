package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stemsi/mocktest-backend/internal/config"
	"github.com/stemsi/mocktest-backend/internal/database"
	"github.com/stemsi/mocktest-backend/internal/logger"
	"github.com/stemsi/mocktest-backend/internal/model"
	"github.com/stemsi/mocktest-backend/internal/service"
)

type seedQuestion struct {
	qtype   model.QuestionType
	text    string
	options any
	answer  string
	task    string
}

type seedSection struct {
	stype     model.SectionType
	minutes   int
	title     string
	passage   string
	groups    any
	questions []seedQuestion
}

var sections = []seedSection{
	{
		stype:   model.SectionListening,
		minutes: 30,
		title:   "Part 1: Booking a community hall",
		groups:  map[string]any{"title": "Questions 1-4", "instructions": "Write NO MORE THAN TWO WORDS."},
		questions: []seedQuestion{
			{qtype: model.QuestionTypeGapFill, text: "The hall is available on ____.", answer: "Saturday,Sat"},
			{qtype: model.QuestionTypeGapFill, text: "The deposit is ____ pounds.", answer: "50,fifty"},
			{qtype: model.QuestionTypeMultipleChoice, text: "Which room is booked?", options: []string{"A Main hall", "B Studio", "C Kitchen"}, answer: "B"},
			{qtype: model.QuestionTypeGapFill, text: "Contact name: ____ Harper.", answer: "Lucy"},
		},
	},
	{
		stype:   model.SectionReading,
		minutes: 60,
		title:   "Passage 1: The history of glass",
		passage: "Glass has been made for thousands of years. Early glassmakers worked with sand, soda and lime...",
		groups: []any{
			map[string]any{"title": "Questions 1-2", "instructions": "TRUE, FALSE or NOT GIVEN"},
			map[string]any{"title": "Questions 3", "instructions": "Choose the correct letter."},
		},
		questions: []seedQuestion{
			{qtype: model.QuestionTypeTrueFalse, text: "Glass was first made in Europe.", answer: "NOT GIVEN"},
			{qtype: model.QuestionTypeTrueFalse, text: "Sand is an ingredient of glass.", answer: "TRUE"},
			{qtype: model.QuestionTypeMultipleChoice, text: "The passage is mainly about", options: []string{"A trade", "B history", "C chemistry"}, answer: "B"},
		},
	},
	{
		stype:   model.SectionWriting,
		minutes: 60,
		title:   "Writing tasks",
		questions: []seedQuestion{
			{qtype: model.QuestionTypeEssay, text: "Summarise the chart of household energy use.", task: "task1"},
			{qtype: model.QuestionTypeEssay, text: "Some people think homework should be banned. Discuss both views.", task: "task2"},
		},
	},
}

func main() {
	slug := flag.String("slug", "", "Test slug (default: generated)")
	startIn := flag.Duration("start-in", 2*time.Minute, "Delay until scheduled_at")
	tokenTTL := flag.Duration("token-ttl", 4*time.Hour, "Lifetime of the printed participant token")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	if *slug == "" {
		*slug = "mock-" + time.Now().UTC().Format("20060102-1504")
	}
	scheduledAt := time.Now().UTC().Add(*startIn).Truncate(time.Second)

	var testID uuid.UUID
	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx,
			`INSERT INTO tests (slug, title, scheduled_at) VALUES ($1, $2, $3) RETURNING id`,
			*slug, "Mock Test "+*slug, scheduledAt,
		).Scan(&testID); err != nil {
			return fmt.Errorf("insert test: %w", err)
		}

		for i, s := range sections {
			if err := seedSectionTx(ctx, tx, testID, i, s); err != nil {
				return fmt.Errorf("seed %s: %w", s.stype, err)
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Seed failed")
	}

	participant := uuid.New()
	token, err := service.NewAuthService(cfg).IssueToken(participant, "Seed Participant", *tokenTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("Issue token failed")
	}

	log.Info().
		Str("slug", *slug).
		Str("test_id", testID.String()).
		Time("scheduled_at", scheduledAt).
		Msg("Test seeded")
	fmt.Printf("participant: %s\ntoken: %s\nws: /ws/v1/tests/%s/session?token=%s\n", participant, token, *slug, token)
}

func seedSectionTx(ctx context.Context, tx pgx.Tx, testID uuid.UUID, index int, s seedSection) error {
	var sectionID, partID uuid.UUID
	if err := tx.QueryRow(ctx,
		`INSERT INTO sections (test_id, section_type, time_limit, order_index) VALUES ($1, $2, $3, $4) RETURNING id`,
		testID, s.stype, s.minutes, index,
	).Scan(&sectionID); err != nil {
		return err
	}

	groups, err := marshalOrNil(s.groups)
	if err != nil {
		return err
	}
	if err := tx.QueryRow(ctx,
		`INSERT INTO parts (section_id, title, passage, order_index, question_groups) VALUES ($1, $2, NULLIF($3, ''), 0, $4) RETURNING id`,
		sectionID, s.title, s.passage, groups,
	).Scan(&partID); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for i, q := range s.questions {
		options, err := marshalOrNil(q.options)
		if err != nil {
			return err
		}
		batch.Queue(
			`INSERT INTO questions (section_id, part_id, question_type, question_text, options, correct_answer, task_type, order_index)
			 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)`,
			sectionID, partID, q.qtype, q.text, options, q.answer, q.task, i+1,
		)
	}
	return tx.SendBatch(ctx, batch).Close()
}

func marshalOrNil(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
