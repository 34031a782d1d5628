package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/stemsi/mocktest-backend/internal/model"
)

// DefaultLoadTimeout bounds a module load.
const DefaultLoadTimeout = 60 * time.Second

// Loader fetches a section's parts and questions on demand.
type Loader struct {
	catalog Catalog
	timeout time.Duration
}

// NewLoader creates a Loader. A non-positive timeout uses DefaultLoadTimeout.
func NewLoader(catalog Catalog, timeout time.Duration) *Loader {
	if timeout <= 0 {
		timeout = DefaultLoadTimeout
	}
	return &Loader{catalog: catalog, timeout: timeout}
}

// Load returns the module content of a section. Failures and timeouts are
// wrapped in ErrTransient; the caller decides when to retry.
func (l *Loader) Load(ctx context.Context, sectionID uuid.UUID) (*model.Module, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	var (
		parts     []model.Part
		questions []model.Question
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		parts, err = l.catalog.ListPartsBySection(gctx, sectionID)
		return err
	})
	g.Go(func() error {
		var err error
		questions, err = l.catalog.ListQuestionsBySection(gctx, sectionID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: load section %s: %w", ErrTransient, sectionID, err)
	}

	for i := range parts {
		parts[i].QuestionGroups = normalizeGroups(parts[i].RawGroups)
	}
	if parts == nil {
		parts = []model.Part{}
	}
	if questions == nil {
		questions = []model.Question{}
	}

	return &model.Module{SectionID: sectionID, Parts: parts, Questions: questions}, nil
}

// normalizeGroups always yields a list: a stored object becomes a one-element
// list, null or garbage becomes an empty list.
func normalizeGroups(raw json.RawMessage) []json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return []json.RawMessage{}
	}

	switch trimmed[0] {
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil || list == nil {
			return []json.RawMessage{}
		}
		return list
	case '{':
		if !json.Valid(trimmed) {
			return []json.RawMessage{}
		}
		return []json.RawMessage{append(json.RawMessage(nil), trimmed...)}
	default:
		return []json.RawMessage{}
	}
}
