package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/johndosdos/courier/internal/auth"
	ws "github.com/johndosdos/courier/internal/websocket"
)

const HeaderConnectionID = "X-Connection-ID"

// StreamSSE is the downstream half of the fallback transport.
func StreamSSE(h *ws.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		id, ok := auth.IdentityFromContext(ctx)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		w.Header().Set("X-Accel-Buffering", "no")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)

		rc := http.NewResponseController(w)
		if err := rc.Flush(); err != nil {
			slog.WarnContext(ctx, "streaming unsupported", "error", err)
			return
		}

		h.NewStreamClient(id).ServeStream(ctx, w, rc)
	}
}

// PostEvent is the upstream half of the fallback transport. The body is one
// envelope, the header names the stream it belongs to.
func PostEvent(h *ws.Hub, maxFrameBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := auth.GetUserFromContext(ctx)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		connID := r.Header.Get(HeaderConnectionID)
		if _, err := uuid.Parse(connID); err != nil {
			http.Error(w, "missing or invalid "+HeaderConnectionID, http.StatusBadRequest)
			return
		}

		p, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFrameBytes))
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				http.Error(w, "frame too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "could not read frame", http.StatusBadRequest)
			return
		}

		if err := h.Receive(ctx, userID, connID, p); err != nil {
			if errors.Is(err, ws.ErrUnknownConnection) {
				http.Error(w, "unknown connection", http.StatusNotFound)
				return
			}
			http.Error(w, "connection closed", http.StatusGone)
			return
		}

		w.WriteHeader(http.StatusAccepted)
	}
}
