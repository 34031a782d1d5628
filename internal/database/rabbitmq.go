package database

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stemsi/mocktest-backend/internal/config"
)

// NewRabbitMQConnection dials the broker configured in RABBITMQ_URL.
// It returns (nil, nil) when the broker is not configured.
func NewRabbitMQConnection(cfg *config.Config, log zerolog.Logger) (*amqp.Connection, error) {
	if cfg.RabbitMQURL == "" {
		log.Info().Msg("RabbitMQ not configured, completion notifications disabled")
		return nil, nil
	}

	conn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	log.Info().Msg("RabbitMQ connected")
	return conn, nil
}
