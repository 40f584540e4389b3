package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"

	"github.com/socialmesh/edge/internal/config"
	"github.com/socialmesh/edge/internal/observability"
)

// ConnectAMQP opens one AMQP connection for the process and builds a bus
// on it. group names the durable consumer queue per topic, so each
// consuming service gets its own copy of the stream. Connection attempts
// retry with backoff; when they are exhausted the error is returned and
// the caller is expected to exit.
func ConnectAMQP(ctx context.Context, cfg config.Broker, group string, logger observability.Logger) (*Bus, error) {
	wmLogger := newLoggerAdapter(logger)

	amqpConfig := amqp.NewDurablePubSubConfig(
		cfg.URL,
		amqp.GenerateQueueNameTopicNameWithSuffix("."+group),
	)
	if cfg.Exchange != "" {
		// Publish every topic through one shared topic exchange with the
		// topic as routing key, instead of one fanout exchange per topic.
		exchange := cfg.Exchange
		amqpConfig.Exchange.GenerateName = func(topic string) string { return exchange }
		amqpConfig.Exchange.Type = "topic"
		amqpConfig.Publish.GenerateRoutingKey = func(topic string) string { return topic }
		amqpConfig.QueueBind.GenerateRoutingKey = func(topic string) string { return topic }
	}

	reconnect := amqp.DefaultReconnectConfig()
	if cfg.ReconnectInitial > 0 {
		reconnect.BackoffInitialInterval = time.Duration(cfg.ReconnectInitial)
	}
	if cfg.ReconnectMax > 0 {
		reconnect.BackoffMaxInterval = time.Duration(cfg.ReconnectMax)
	}

	conn, err := connectWithRetries(ctx, cfg, reconnect, logger)
	if err != nil {
		return nil, err
	}

	publisher, err := amqp.NewPublisherWithConnection(amqpConfig, wmLogger, conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("bus: create publisher: %w", err)
	}

	subscriber, err := amqp.NewSubscriberWithConnection(amqpConfig, wmLogger, conn)
	if err != nil {
		_ = publisher.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("bus: create subscriber: %w", err)
	}

	b, err := New(publisher, subscriber, cfg, logger)
	if err != nil {
		_ = subscriber.Close()
		_ = publisher.Close()
		_ = conn.Close()
		return nil, err
	}

	b.closers = append(b.closers, publisher.Close, subscriber.Close, conn.Close)
	return b, nil
}

// connectWithRetries dials the broker up to cfg.ConnectRetries times with
// backoff between attempts.
func connectWithRetries(
	ctx context.Context,
	cfg config.Broker,
	reconnect *amqp.ReconnectConfig,
	logger observability.Logger,
) (*amqp.ConnectionWrapper, error) {
	attempts := cfg.ConnectRetries
	if attempts < 1 {
		attempts = 1
	}

	backoff := time.Duration(cfg.ReconnectInitial)
	if backoff <= 0 {
		backoff = time.Second
	}
	maxBackoff := time.Duration(cfg.ReconnectMax)
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, err := amqp.NewConnection(amqp.ConnectionConfig{
			AmqpURI:   cfg.URL,
			Reconnect: reconnect,
		}, newLoggerAdapter(logger))
		if err == nil {
			return conn, nil
		}
		lastErr = err

		logger.Warn("broker connection attempt failed",
			observability.Int("attempt", attempt),
			observability.Int("max_attempts", attempts),
			observability.Error(err),
		)

		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("bus: connect cancelled: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	return nil, fmt.Errorf("bus: connect to broker after %d attempts: %w", attempts, lastErr)
}
