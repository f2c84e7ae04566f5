// Package worker adapts broker consumers to the delivery side.
package worker

import (
	"context"

	"github.com/johndosdos/courier/internal/broker"
	"github.com/johndosdos/courier/internal/delivery"
	"github.com/johndosdos/courier/internal/model"
)

type notifier interface {
	Notify(ctx context.Context, n model.SystemNotification) (model.Message, error)
}

// Deliver hands frames from the DELIVERY stream to this instance's
// connections.
func Deliver(local delivery.Router) func(context.Context, broker.Delivery) error {
	return func(ctx context.Context, d broker.Delivery) error {
		return local.Route(ctx, d.UserID, d.Envelope)
	}
}

// Notify runs notifications published by the application through the
// pipeline.
func Notify(n notifier) func(context.Context, model.SystemNotification) error {
	return func(ctx context.Context, sn model.SystemNotification) error {
		_, err := n.Notify(ctx, sn)
		return err
	}
}
