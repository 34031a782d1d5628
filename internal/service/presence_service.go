package service

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/stemsi/mocktest-backend/internal/repository"
)

// PresenceService maintains the participant count of live tests.
type PresenceService struct {
	repo *repository.PresenceRepository
	log  zerolog.Logger
}

// NewPresenceService creates a new PresenceService.
func NewPresenceService(repo *repository.PresenceRepository, log zerolog.Logger) *PresenceService {
	return &PresenceService{
		repo: repo,
		log:  log.With().Str("component", "presence").Logger(),
	}
}

// Join registers a connected participant.
func (s *PresenceService) Join(ctx context.Context, testID, userID string) {
	if _, err := s.repo.Join(ctx, testID, userID); err != nil {
		s.log.Warn().Err(err).Str("test_id", testID).Msg("Presence join failed")
	}
}

// Leave unregisters a participant.
func (s *PresenceService) Leave(ctx context.Context, testID, userID string) {
	if _, err := s.repo.Leave(ctx, testID, userID); err != nil {
		s.log.Warn().Err(err).Str("test_id", testID).Msg("Presence leave failed")
	}
}

// Count returns the number of connected participants.
func (s *PresenceService) Count(ctx context.Context, testID string) (int64, error) {
	return s.repo.Count(ctx, testID)
}

// Watch calls fn with every count broadcast for testID until ctx ends.
func (s *PresenceService) Watch(ctx context.Context, testID string, fn func(count int64)) {
	pubsub := s.repo.Subscribe(ctx, testID)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			n, err := strconv.ParseInt(msg.Payload, 10, 64)
			if err != nil {
				s.log.Debug().Str("payload", msg.Payload).Msg("Ignoring malformed presence message")
				continue
			}
			fn(n)
		}
	}
}
