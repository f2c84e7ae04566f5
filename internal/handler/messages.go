package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/johndosdos/courier/internal/auth"
)

const maxReadStateIDs = 500

type readStater interface {
	ReadState(ctx context.Context, userID uuid.UUID, ids []int64) (map[int64]bool, error)
}

type readStateEntry struct {
	ID     int64 `json:"id"`
	IsRead bool  `json:"isRead"`
}

// ServeReadState reports the read flag of the caller's own messages. Reads
// observe every mark_read accepted before the request.
func ServeReadState(receipts readStater) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := auth.GetUserFromContext(ctx)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ids, err := parseIDs(r.URL.Query().Get("ids"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		state, err := receipts.ReadState(ctx, userID, ids)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.ErrorContext(ctx, "failed to load read state",
				"error", err,
				"user_id", userID.String())
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		out := make([]readStateEntry, 0, len(state))
		for _, id := range ids {
			if isRead, ok := state[id]; ok {
				out = append(out, readStateEntry{ID: id, IsRead: isRead})
			}
		}

		writeJSON(w, http.StatusOK, out)
	}
}

func parseIDs(raw string) ([]int64, error) {
	if raw == "" {
		return nil, errBadRequest("ids is required")
	}

	parts := strings.Split(raw, ",")
	if len(parts) > maxReadStateIDs {
		return nil, errBadRequest("too many ids")
	}

	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || id <= 0 {
			return nil, errBadRequest("ids must be positive integers")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

type errBadRequest string

func (e errBadRequest) Error() string { return string(e) }

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}
