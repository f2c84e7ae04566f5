package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/johndosdos/courier/internal/registry"
)

type health struct {
	Status      string `json:"status"`
	Users       int    `json:"users"`
	Connections int    `json:"connections"`
}

// ServeHealth reports liveness and how many users are connected here. check
// may be nil.
func ServeHealth(reg *registry.Registry, check func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, conns := reg.Stats()
		h := health{Status: "ok", Users: users, Connections: conns}

		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				slog.WarnContext(ctx, "health check failed", "error", err)
				h.Status = "degraded"
				writeJSON(w, http.StatusServiceUnavailable, h)
				return
			}
		}

		writeJSON(w, http.StatusOK, h)
	}
}
