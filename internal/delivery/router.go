package delivery

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/johndosdos/courier/internal/model"
	"github.com/johndosdos/courier/internal/registry"
)

// Router hands an envelope to every live connection of a user, wherever that
// connection is held.
type Router interface {
	Route(ctx context.Context, userID uuid.UUID, env model.Envelope) error
}

// LocalRouter delivers to the connections registered on this instance.
type LocalRouter struct {
	registry *registry.Registry
	log      *slog.Logger
}

func NewLocalRouter(reg *registry.Registry, log *slog.Logger) *LocalRouter {
	return &LocalRouter{registry: reg, log: log}
}

// Route never blocks on a slow connection. A full outbound queue drops the
// frame for that connection only.
func (r *LocalRouter) Route(ctx context.Context, userID uuid.UUID, env model.Envelope) error {
	for _, c := range r.registry.Connections(userID) {
		if !c.Send(env) {
			r.log.WarnContext(ctx, "skipping frame - queue full or connection closed",
				"type", env.Type,
				"user_id", userID.String(),
				"conn_id", c.ID())
		}
	}
	return nil
}
