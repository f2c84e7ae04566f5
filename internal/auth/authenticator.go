package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/johndosdos/courier/internal/model"
	"github.com/johndosdos/courier/internal/store"
)

// Identity is the user a connection acts for.
type Identity struct {
	UserID   uuid.UUID
	Username string
}

// Authenticator turns a session token into an Identity. Failures wrap
// model.ErrAuthentication.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

type UserLookup interface {
	Username(ctx context.Context, userID uuid.UUID) (string, error)
}

// JWTAuthenticator validates tokens issued by the surrounding application
// and resolves the username.
type JWTAuthenticator struct {
	secret string
	issuer string
	users  UserLookup
}

func NewJWTAuthenticator(secret, issuer string, users UserLookup) *JWTAuthenticator {
	return &JWTAuthenticator{secret: secret, issuer: issuer, users: users}
}

func (a *JWTAuthenticator) Authenticate(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, fmt.Errorf("%w: missing token", model.ErrAuthentication)
	}

	var opts []jwt.ParserOption
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	userID, err := ValidateJWT(token, a.secret, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", model.ErrAuthentication, err)
	}

	username, err := a.users.Username(ctx, userID)
	if errors.Is(err, store.ErrUserNotFound) {
		return Identity{}, fmt.Errorf("%w: unknown user %s", model.ErrAuthentication, userID)
	}
	if err != nil {
		return Identity{}, fmt.Errorf("internal/auth: failed to look up user: %w", err)
	}

	return Identity{UserID: userID, Username: username}, nil
}

// AuthenticateWithin gives up after timeout. A timeout is a transport
// error, not a verdict on the token, so callers may retry.
func AuthenticateWithin(ctx context.Context, a Authenticator, token string, timeout time.Duration) (Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		id  Identity
		err error
	}
	ch := make(chan result, 1)
	go func() {
		id, err := a.Authenticate(ctx, token)
		ch <- result{id: id, err: err}
	}()

	select {
	case res := <-ch:
		return res.id, res.err
	case <-ctx.Done():
		return Identity{}, fmt.Errorf("%w: handshake timed out", model.ErrTransport)
	}
}

// TokenFromRequest reads the session token from the "token" query parameter,
// a bearer Authorization header or the jwt cookie, in that order. Browsers
// cannot set headers on a websocket upgrade or an EventSource.
func TokenFromRequest(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}

	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}

	if c, err := r.Cookie("jwt"); err == nil {
		return c.Value
	}

	return ""
}
