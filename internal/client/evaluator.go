package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/mocktest-backend/internal/model"
)

// ErrNotConfigured is returned when no evaluation endpoint is set.
var ErrNotConfigured = errors.New("writing evaluator not configured")

// HTTPError is a non-2xx reply from the evaluation endpoint.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("evaluator http %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed if repeated.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Evaluator calls the AI writing-evaluation endpoint.
type Evaluator struct {
	url        string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	log        zerolog.Logger
}

// NewEvaluator creates an Evaluator posting to url.
func NewEvaluator(url, apiKey string, timeout time.Duration, log zerolog.Logger) *Evaluator {
	return &Evaluator{
		url:        strings.TrimRight(strings.TrimSpace(url), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: 2,
		backoff:    time.Second,
		log:        log.With().Str("component", "evaluator").Logger(),
	}
}

// Evaluate scores one writing answer.
func (c *Evaluator) Evaluate(ctx context.Context, req model.EvaluationRequest) (*model.EvaluationResponse, error) {
	if c.url == "" {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	backoff := c.backoff
	for attempt := 0; ; attempt++ {
		raw, err := c.doOnce(ctx, body)
		if err == nil {
			var out model.EvaluationResponse
			if err := json.Unmarshal(raw, &out); err != nil {
				return nil, fmt.Errorf("decode evaluation: %w", err)
			}
			return &out, nil
		}

		var httpErr *HTTPError
		if errors.As(err, &httpErr) && !httpErr.Retryable() {
			return nil, err
		}
		if attempt == c.maxRetries || ctx.Err() != nil {
			return nil, err
		}

		c.log.Warn().Err(err).Int("attempt", attempt+1).Dur("backoff", backoff).Msg("Evaluation request retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
}

func (c *Evaluator) doOnce(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}
