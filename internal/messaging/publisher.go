package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/stemsi/mocktest-backend/internal/model"
)

// Publisher announces finalized attempts on a durable RabbitMQ queue.
type Publisher struct {
	mu      sync.Mutex
	channel *amqp.Channel
	queue   string
	log     zerolog.Logger
}

// NewPublisher opens a channel on conn and declares queue.
func NewPublisher(conn *amqp.Connection, queue string, log zerolog.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}

	return &Publisher{
		channel: ch,
		queue:   queue,
		log:     log.With().Str("component", "publisher").Logger(),
	}, nil
}

// PublishCompleted publishes a persistent completion notice.
func (p *Publisher) PublishCompleted(ctx context.Context, notice model.CompletionNotice) error {
	body, err := json.Marshal(notice)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish completion: %w", err)
	}
	p.log.Debug().Str("user_id", notice.UserID).Str("test_id", notice.TestID).Msg("Completion published")
	return nil
}

// Close closes the channel.
func (p *Publisher) Close() error {
	return p.channel.Close()
}

// NoopPublisher drops notices when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishCompleted(context.Context, model.CompletionNotice) error { return nil }
