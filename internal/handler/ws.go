package handler

import (
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/johndosdos/courier/internal/auth"
	ws "github.com/johndosdos/courier/internal/websocket"
)

// ServeWs upgrades an authenticated request to a websocket connection.
func ServeWs(h *ws.Hub, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		id, ok := auth.IdentityFromContext(ctx)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns:     originPatterns,
			InsecureSkipVerify: len(originPatterns) == 0,
		})
		if err != nil {
			slog.WarnContext(ctx, "failed to upgrade connection",
				"error", err,
				"user_id", id.UserID.String())
			return
		}

		c := h.NewClient(conn, id)
		h.Register(ctx, c)

		// We block on c.ReadMessage() because the request context will be
		// canceled as soon as we return from the handler.
		go c.WriteMessage(ctx)
		c.ReadMessage(ctx)
	}
}
