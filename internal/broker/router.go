package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/johndosdos/courier/internal/model"
)

// Router publishes frames to the DELIVERY stream. Every instance, this one
// included, hands them to its own connections.
type Router struct {
	js      jetstream.JetStream
	timeout time.Duration
	log     *slog.Logger
}

func NewRouter(js jetstream.JetStream, log *slog.Logger) *Router {
	return &Router{js: js, timeout: 5 * time.Second, log: log}
}

func (r *Router) Route(ctx context.Context, userID uuid.UUID, env model.Envelope) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	seq, err := Publisher(ctx, r.js, SubjectForUser(userID), Delivery{UserID: userID, Envelope: env})
	if err != nil {
		return err
	}

	r.log.DebugContext(ctx, "published frame",
		"type", env.Type,
		"user_id", userID.String(),
		"seq", seq)
	return nil
}
