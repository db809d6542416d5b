package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/sakif/community-library/internal/metrics"
)

// HandlerFunc consumes one event. Returning an error makes the router retry.
type HandlerFunc func(ctx context.Context, e Event) error

// Bus is an in-process pub/sub backed by watermill's Go channel transport.
// Register handlers with Handle before Serve; Serve runs the router until the
// context is cancelled.
type Bus struct {
	pubsub *gochannel.GoChannel
	router *message.Router
	logger *slog.Logger

	// served is set once Serve has handed the router to Run.
	served atomic.Bool
}

var _ Publisher = (*Bus)(nil)

func NewBus(logger *slog.Logger) (*Bus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, wmLogger)

	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: 10 * time.Second,
	}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("events: creating router: %w", err)
	}

	retry := middleware.Retry{
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      2,
		Logger:          wmLogger,
	}
	router.AddMiddleware(middleware.Recoverer, retry.Middleware)

	return &Bus{pubsub: pubsub, router: router, logger: logger}, nil
}

// Publish sends e on its topic. The request context is deliberately not
// attached to the message: handlers outlive the HTTP request.
func (b *Bus) Publish(_ context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("events: encoding %s: %w", e.Topic, err)
	}

	msg := message.NewMessage(e.ID, payload)
	if err := b.pubsub.Publish(e.Topic, msg); err != nil {
		return fmt.Errorf("events: publishing %s: %w", e.Topic, err)
	}
	metrics.EventsPublished.WithLabelValues(e.Topic).Inc()
	return nil
}

// Handle subscribes fn to topic under a unique handler name.
func (b *Bus) Handle(name, topic string, fn HandlerFunc) {
	b.router.AddNoPublisherHandler(name, topic, b.pubsub, func(msg *message.Message) error {
		var e Event
		if err := json.Unmarshal(msg.Payload, &e); err != nil {
			// A payload we cannot decode will never succeed; drop it.
			b.logger.Error("dropping undecodable event",
				slog.String("topic", topic),
				slog.String("error", err.Error()),
			)
			return nil
		}
		return fn(msg.Context(), e)
	})
}

// Running is closed once the router has started its handlers.
func (b *Bus) Running() chan struct{} {
	return b.router.Running()
}

// Serve runs the router until ctx is cancelled. It implements suture.Service.
func (b *Bus) Serve(ctx context.Context) error {
	b.served.Store(true)
	if err := b.router.Run(ctx); err != nil {
		return fmt.Errorf("events: router stopped: %w", err)
	}
	return ctx.Err()
}

func (b *Bus) String() string { return "event-router" }

// Close stops the router and the transport. A router that never ran has no
// handlers to drain, so only the transport is closed.
func (b *Bus) Close() error {
	if b.served.Load() {
		if err := b.router.Close(); err != nil {
			return err
		}
	}
	return b.pubsub.Close()
}
