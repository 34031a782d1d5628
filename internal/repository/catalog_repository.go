package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/mocktest-backend/internal/model"
)

// CatalogRepository reads test content. Nothing here writes during an attempt.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository creates a new CatalogRepository.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetTestBySlug retrieves a mock test by its public slug.
func (r *CatalogRepository) GetTestBySlug(ctx context.Context, slug string) (*model.MockTest, error) {
	t := &model.MockTest{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, slug, title, scheduled_at, created_at
		 FROM tests WHERE slug = $1`, slug,
	).Scan(&t.ID, &t.Slug, &t.Title, &t.ScheduledAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListSectionsByTest returns the sections of a test by stored index.
// Callers reorder canonically before building a timeline.
func (r *CatalogRepository) ListSectionsByTest(ctx context.Context, testID uuid.UUID) ([]model.Section, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, test_id, section_type, time_limit, order_index
		 FROM sections WHERE test_id = $1
		 ORDER BY order_index`, testID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sections []model.Section
	for rows.Next() {
		var s model.Section
		if err := rows.Scan(&s.ID, &s.TestID, &s.Type, &s.TimeLimit, &s.OrderIndex); err != nil {
			return nil, err
		}
		sections = append(sections, s)
	}
	return sections, rows.Err()
}

// ListPartsBySection returns the parts of a section by index.
func (r *CatalogRepository) ListPartsBySection(ctx context.Context, sectionID uuid.UUID) ([]model.Part, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, section_id, title, COALESCE(instructions, ''), COALESCE(passage, ''),
		        COALESCE(audio_url, ''), order_index, question_groups
		 FROM parts WHERE section_id = $1
		 ORDER BY order_index`, sectionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parts []model.Part
	for rows.Next() {
		var p model.Part
		if err := rows.Scan(&p.ID, &p.SectionID, &p.Title, &p.Instructions, &p.Passage,
			&p.AudioURL, &p.OrderIndex, &p.RawGroups); err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

const questionColumns = `id, section_id, part_id, question_type, question_text, options,
		        correct_answer, COALESCE(task_type, ''), COALESCE(image_url, ''), order_index`

// ListQuestionsBySection returns every question of a section, answer keys included.
func (r *CatalogRepository) ListQuestionsBySection(ctx context.Context, sectionID uuid.UUID) ([]model.Question, error) {
	return r.listQuestions(ctx,
		`SELECT `+questionColumns+`
		 FROM questions WHERE section_id = $1
		 ORDER BY order_index`, sectionID)
}

// ListQuestionsByPart returns the questions of one part.
func (r *CatalogRepository) ListQuestionsByPart(ctx context.Context, partID uuid.UUID) ([]model.Question, error) {
	return r.listQuestions(ctx,
		`SELECT `+questionColumns+`
		 FROM questions WHERE part_id = $1
		 ORDER BY order_index`, partID)
}

// GetQuestion retrieves a single question.
func (r *CatalogRepository) GetQuestion(ctx context.Context, id uuid.UUID) (*model.Question, error) {
	q := &model.Question{}
	err := r.pool.QueryRow(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE id = $1`, id,
	).Scan(&q.ID, &q.SectionID, &q.PartID, &q.QuestionType, &q.QuestionText, &q.Options,
		&q.CorrectAnswer, &q.TaskType, &q.ImageURL, &q.OrderIndex)
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (r *CatalogRepository) listQuestions(ctx context.Context, query string, arg uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.SectionID, &q.PartID, &q.QuestionType, &q.QuestionText, &q.Options,
			&q.CorrectAnswer, &q.TaskType, &q.ImageURL, &q.OrderIndex); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// CountParticipants returns how many users hold a record for the test.
func (r *CatalogRepository) CountParticipants(ctx context.Context, testID uuid.UUID) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM results WHERE test_id = $1`, testID,
	).Scan(&n)
	return n, err
}
