package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/not-nullexception/image-orchestrator/config"
	"github.com/not-nullexception/image-orchestrator/internal/events"
	"github.com/not-nullexception/image-orchestrator/internal/logger"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const maxConnectRetries = 5

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type dialFunc func(url string) (*amqp.Connection, error)

// Publisher sends task events to a topic exchange.
type Publisher struct {
	conn       *amqp.Connection
	channel    channel
	exchange   string
	routingKey string
	logger     zerolog.Logger
}

var _ events.Publisher = (*Publisher)(nil)

func NewPublisher(ctx context.Context, cfg *config.RabbitMQConfig) (*Publisher, error) {
	log := logger.GetLogger("rabbitmq-publisher")

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	conn, err := connect(ctx, cfg, amqp.Dial, backoff.WithMaxRetries(bo, maxConnectRetries-1), log)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("error creating channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		cfg.Exchange, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("error declaring exchange: %w", err)
	}

	log.Info().
		Str("exchange", cfg.Exchange).
		Str("routing_key", cfg.RoutingKey).
		Msg("RabbitMQ publisher initialized")

	return &Publisher{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     log,
	}, nil
}

func connect(ctx context.Context, cfg *config.RabbitMQConfig, dial dialFunc, b backoff.BackOff, log zerolog.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	attempt := 0

	operation := func() error {
		attempt++
		log.Info().
			Str("host", cfg.Host).
			Int("port", cfg.Port).
			Int("attempt", attempt).
			Msg("Connecting to RabbitMQ")

		c, err := dial(cfg.RabbitMQURL())
		if err != nil {
			return err
		}
		conn = c
		return nil
	}

	notify := func(err error, delay time.Duration) {
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("retry_delay", delay).
			Msg("Failed to connect to RabbitMQ, retrying...")
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempt, err)
	}

	log.Info().Msg("Connected to RabbitMQ")
	return conn, nil
}

// Publish sends event as a persistent JSON message
func (p *Publisher) Publish(ctx context.Context, event events.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("error marshaling event: %w", err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,   // exchange
		p.routingKey, // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID,
			Type:         event.Type,
			Timestamp:    event.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("error publishing event: %w", err)
	}

	p.logger.Debug().
		Str("event_id", event.ID).
		Str("event_type", event.Type).
		Str("task_id", event.TaskID.String()).
		Msg("Event published")

	return nil
}

// Close closes the channel and the connection
func (p *Publisher) Close() error {
	var err error

	if p.channel != nil {
		if channelErr := p.channel.Close(); channelErr != nil {
			err = errors.Join(err, fmt.Errorf("error closing channel: %w", channelErr))
		}
	}
	if p.conn != nil {
		if connErr := p.conn.Close(); connErr != nil {
			err = errors.Join(err, fmt.Errorf("error closing connection: %w", connErr))
		}
	}

	if err != nil {
		return err
	}

	p.logger.Info().Msg("RabbitMQ publisher closed")
	return nil
}
