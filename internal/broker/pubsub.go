// Package broker moves frames and notifications through NATS JetStream so
// several gateway instances can serve the same users.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/johndosdos/courier/internal/model"
)

// Delivery is a frame addressed to every connection of a user.
type Delivery struct {
	UserID   uuid.UUID      `json:"userId"`
	Envelope model.Envelope `json:"envelope"`
}

// EnsureStreams creates or updates the streams this service uses.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) (delivery, notifications jetstream.Stream, err error) {
	delivery, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamDelivery,
		Subjects:  []string{SubjectDelivery},
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.MemoryStorage,
		MaxAge:    time.Minute,
		MaxBytes:  1 << 28,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create/update stream [%s]: %w", StreamDelivery, err)
	}

	notifications, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamNotifications,
		Subjects:  []string{SubjectNotifications},
		Retention: jetstream.WorkQueuePolicy,
		MaxAge:    24 * time.Hour,
		MaxBytes:  1 << 30, // 1GB max storage
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create/update stream [%s]: %w", StreamNotifications, err)
	}

	return delivery, notifications, nil
}

// Publisher encodes payload as JSON and publishes it on subject.
func Publisher(ctx context.Context, js jetstream.JetStream, subject string, payload any) (uint64, error) {
	if js == nil {
		return 0, fmt.Errorf("jetstream interface is nil")
	}

	p, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("could not encode payload to JSON: %w", err)
	}

	pubAck, err := js.Publish(ctx,
		subject,
		p,
		jetstream.WithMsgID(uuid.NewString()),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to publish to [%s]: %w", subject, err)
	}

	return pubAck.Sequence, nil
}

// Subscriber consumes stream with cfg and hands every decoded message to
// handle. Undecodable messages and validation failures are terminated, any
// other handler error asks for redelivery. Consumption stops when ctx ends.
func Subscriber[T any](ctx context.Context, stream jetstream.Stream, cfg jetstream.ConsumerConfig, handle func(context.Context, T) error, log *slog.Logger) error {
	consumer, err := stream.CreateOrUpdateConsumer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create or update consumer: %w", err)
	}

	consumeHandler := func(msg jetstream.Msg) {
		var payload T

		if err := json.Unmarshal(msg.Data(), &payload); err != nil {
			log.WarnContext(ctx, "could not decode payload",
				"error", err,
				"subject", msg.Subject())
			_ = msg.Term()
			return
		}

		if err := handle(ctx, payload); err != nil {
			log.WarnContext(ctx, "failed to handle message",
				"error", err,
				"subject", msg.Subject())
			if errors.Is(err, model.ErrValidation) {
				_ = msg.Term()
				return
			}
			_ = msg.Nak()
			return
		}

		_ = msg.Ack()
	}

	optErrHandler := jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
		log.WarnContext(ctx, "consumer error", "error", err)
	})

	consumeCtx, err := consumer.Consume(consumeHandler, optErrHandler)
	if err != nil {
		return fmt.Errorf("failed to start consuming messages: %w", err)
	}

	go func(ctx context.Context, consumeCtx jetstream.ConsumeContext) {
		<-ctx.Done()
		consumeCtx.Drain()
	}(ctx, consumeCtx)

	return nil
}

// DeliveryConsumer is the per-instance consumer of the DELIVERY stream. It
// starts at the tail and goes away with the instance.
func DeliveryConsumer() jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		AckPolicy:         jetstream.AckNonePolicy,
		FilterSubject:     SubjectDelivery,
		InactiveThreshold: 30 * time.Second,
	}
}

// NotificationConsumer is shared by every instance so each notification is
// handled once.
func NotificationConsumer() jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Durable:       "courier-notifications",
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: SubjectNotifications,
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
	}
}
