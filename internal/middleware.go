package internal

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/johndosdos/courier/internal/auth"
	"github.com/johndosdos/courier/internal/model"
)

// Authenticate validates the session token and stores the caller's
// identity in the request context. Requests without a valid token never
// reach next.
func Authenticate(authn auth.Authenticator, timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			id, err := auth.AuthenticateWithin(ctx, authn, auth.TokenFromRequest(r), timeout)
			if err != nil {
				if errors.Is(err, model.ErrAuthentication) {
					slog.InfoContext(ctx, "rejected handshake",
						"error", err,
						"path", r.URL.Path)
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}

				slog.ErrorContext(ctx, "failed to authenticate",
					"error", err,
					"path", r.URL.Path)
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(ctx, id)))
		})
	}
}

// RequireNotifierKey guards the notification ingress with an API key whose
// argon2id hash is configured. An empty hash disables the route.
func RequireNotifierKey(hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hash == "" {
				http.NotFound(w, r)
				return
			}

			key := r.Header.Get("X-Api-Key")
			if key == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			if ok, err := auth.CheckKeyHash(key, hash); !ok {
				slog.WarnContext(r.Context(), "rejected notifier key", "error", err)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
