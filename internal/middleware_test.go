package internal

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/courier/internal/auth"
	"github.com/johndosdos/courier/internal/store"
)

type users map[uuid.UUID]string

func (u users) Username(_ context.Context, id uuid.UUID) (string, error) {
	name, ok := u[id]
	if !ok {
		return "", store.ErrUserNotFound
	}
	return name, nil
}

type failingUsers struct{}

func (failingUsers) Username(context.Context, uuid.UUID) (string, error) {
	return "", errors.New("connection refused")
}

type slowUsers struct{}

func (slowUsers) Username(ctx context.Context, _ uuid.UUID) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestAuthenticate(t *testing.T) {
	const secret = "validtokensecret"
	alice := uuid.New()

	valid, err := auth.MakeJWT(alice, secret, 5*time.Minute)
	require.NoError(t, err)
	expired, err := auth.MakeJWT(alice, secret, -1*time.Second)
	require.NoError(t, err)

	tests := []struct {
		Name              string
		token             string
		lookup            auth.UserLookup
		wantHandlerCalled bool
		wantCode          int
	}{
		{"valid_JWT", valid, users{alice: "alice"}, true, http.StatusOK},
		{"expired_JWT", expired, users{alice: "alice"}, false, http.StatusUnauthorized},
		{"empty_token", "", users{alice: "alice"}, false, http.StatusUnauthorized},
		{"unknown_user", valid, users{}, false, http.StatusUnauthorized},
		{"directory_down", valid, failingUsers{}, false, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.Name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.token != "" {
				req.AddCookie(&http.Cookie{Name: "jwt", Value: tt.token})
			}
			rec := httptest.NewRecorder()

			isHandlerCalled := false
			nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				isHandlerCalled = true
				id, ok := auth.IdentityFromContext(r.Context())
				assert.True(t, ok)
				assert.Equal(t, "alice", id.Username)
				w.WriteHeader(http.StatusOK)
			})

			authn := auth.NewJWTAuthenticator(secret, "", tt.lookup)
			Authenticate(authn, time.Second)(nextHandler).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantHandlerCalled, isHandlerCalled)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestAuthenticate_Timeout_Is_Retryable(t *testing.T) {
	const secret = "validtokensecret"
	token, err := auth.MakeJWT(uuid.New(), secret, 5*time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("handler must not run when the handshake times out")
	})
	authn := auth.NewJWTAuthenticator(secret, "", slowUsers{})
	Authenticate(authn, 20*time.Millisecond)(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequireNotifierKey(t *testing.T) {
	hash, err := auth.HashKey("s3cret")
	require.NoError(t, err)

	tests := []struct {
		name     string
		hash     string
		key      string
		wantCode int
	}{
		{"valid_key", hash, "s3cret", http.StatusNoContent},
		{"wrong_key", hash, "guess", http.StatusUnauthorized},
		{"missing_key", hash, "", http.StatusUnauthorized},
		{"disabled", "", "s3cret", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/internal/notifications", nil)
			if tt.key != "" {
				req.Header.Set("X-Api-Key", tt.key)
			}
			rec := httptest.NewRecorder()

			next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			})
			RequireNotifierKey(tt.hash)(next).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}
