package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/johndosdos/courier/internal/model"
)

type notifier interface {
	Notify(ctx context.Context, n model.SystemNotification) (model.Message, error)
}

type notificationAccepted struct {
	ID int64 `json:"id"`
}

// ServeNotifications lets the application push an achievement, purchase,
// follow or reward notification.
func ServeNotifications(n notifier, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req model.SystemNotification
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes)).Decode(&req); err != nil {
			http.Error(w, "malformed notification", http.StatusBadRequest)
			return
		}

		msg, err := n.Notify(ctx, req)
		switch {
		case errors.Is(err, model.ErrValidation):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		case err != nil:
			slog.ErrorContext(ctx, "failed to deliver notification",
				"error", err,
				"recipient_id", req.RecipientID.String())
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, notificationAccepted{ID: msg.ID})
	}
}
