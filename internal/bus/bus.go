// Package bus is the event bus client shared by the edge services. It
// wraps a watermill publisher/subscriber pair behind a small API: publish
// a lifecycle event, or subscribe a handler that gets bounded redelivery
// and a poison topic for events that keep failing. Delivery is
// at-least-once, so handlers must be idempotent.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	wmiddleware "github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/socialmesh/edge/internal/config"
	"github.com/socialmesh/edge/internal/event"
	"github.com/socialmesh/edge/internal/metrics"
	"github.com/socialmesh/edge/internal/observability"
)

// Handler processes one decoded lifecycle event. A returned error nacks
// the message; the bus redelivers it up to the configured retry cap and
// then routes it to the poison topic.
type Handler func(ctx context.Context, e *event.PostEvent) error

// Bus publishes and consumes lifecycle events over a watermill transport.
type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	router     *message.Router
	logger     observability.Logger
	closers    []func() error
}

// New assembles a bus from an already connected publisher/subscriber
// pair. Handler retries and the poison topic come from cfg.
func New(pub message.Publisher, sub message.Subscriber, cfg config.Broker, logger observability.Logger) (*Bus, error) {
	wmLogger := newLoggerAdapter(logger)

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("bus: create router: %w", err)
	}

	router.AddMiddleware(wmiddleware.Recoverer)

	if cfg.PoisonTopic != "" {
		poison, err := wmiddleware.PoisonQueue(&poisonCountingPublisher{Publisher: pub}, cfg.PoisonTopic)
		if err != nil {
			return nil, fmt.Errorf("bus: create poison queue: %w", err)
		}
		router.AddMiddleware(poison)
	}

	if cfg.HandlerRetries > 0 {
		router.AddMiddleware(wmiddleware.Retry{
			MaxRetries:      cfg.HandlerRetries,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Multiplier:      2,
			Logger:          wmLogger,
		}.Middleware)
	}

	return &Bus{
		publisher:  pub,
		subscriber: sub,
		router:     router,
		logger:     logger,
	}, nil
}

// Publish encodes the event and publishes it to its topic. Errors are
// returned immediately; the caller decides whether the mutation that
// produced the event should fail with it.
func (b *Bus) Publish(ctx context.Context, e *event.PostEvent) error {
	topic, err := e.Topic()
	if err != nil {
		return err
	}

	payload, err := event.Marshal(e)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)

	if err := b.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("bus: publish %s: %w", topic, err)
	}

	metrics.EventsPublished.WithLabelValues(topic).Inc()
	b.logger.WithContext(ctx).Debug("event published",
		observability.String("topic", topic),
		observability.String("post_id", e.PostID),
	)
	return nil
}

// Subscribe registers a handler for one topic. Must be called before Run.
func (b *Bus) Subscribe(topic string, h Handler) {
	b.router.AddNoPublisherHandler(
		"handle_"+topic,
		topic,
		b.subscriber,
		func(msg *message.Message) error {
			e, err := event.Unmarshal(topic, msg.Payload)
			if err != nil {
				// Undecodable payloads never succeed on retry; fail so the
				// poison queue takes them after the retry cap.
				metrics.EventsHandled.WithLabelValues(topic, "undecodable").Inc()
				return err
			}

			if err := h(msg.Context(), e); err != nil {
				metrics.EventsHandled.WithLabelValues(topic, "error").Inc()
				return err
			}

			metrics.EventsHandled.WithLabelValues(topic, "ok").Inc()
			return nil
		},
	)
}

// Run starts consuming subscribed topics and blocks until ctx is
// cancelled or the router fails.
func (b *Bus) Run(ctx context.Context) error {
	return b.router.Run(ctx)
}

// Running returns a channel closed once all handlers are consuming.
func (b *Bus) Running() <-chan struct{} {
	return b.router.Running()
}

// Close shuts down the router and the underlying transport.
func (b *Bus) Close() error {
	var firstErr error
	if err := b.router.Close(); err != nil {
		firstErr = err
	}
	for _, closeFn := range b.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// poisonCountingPublisher counts events dropped to the poison topic.
type poisonCountingPublisher struct {
	message.Publisher
}

func (p *poisonCountingPublisher) Publish(topic string, messages ...*message.Message) error {
	if err := p.Publisher.Publish(topic, messages...); err != nil {
		return err
	}
	metrics.EventsPoisoned.WithLabelValues(topic).Add(float64(len(messages)))
	return nil
}
