package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type ContextKey string

const (
	UserIDKey   ContextKey = "userId"
	identityKey ContextKey = "identity"
)

// HashKey hashes an API key for storage in NOTIFY_KEY_HASH.
func HashKey(key string) (string, error) {
	hashed, err := argon2id.CreateHash(key, argon2id.DefaultParams)
	if err != nil {
		return "", fmt.Errorf("internal/auth: key hash failed: %w", err)
	}

	return hashed, nil
}

func CheckKeyHash(key, hash string) (bool, error) {
	isMatch, err := argon2id.ComparePasswordAndHash(key, hash)
	if err != nil {
		return false, fmt.Errorf("internal/auth: key and hash comparison failed: %w", err)
	}
	if !isMatch {
		return false, errors.New("internal/auth: key and hash do not match")
	}

	return isMatch, nil
}

// MakeJWT mints the session token the surrounding application hands to
// clients. The gateway only validates them; this is used by tests and tools.
func MakeJWT(userID uuid.UUID, tokenSecret string, expiresIn time.Duration) (string, error) {
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    os.Getenv("JWT_ISS"),
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
	})

	return token.SignedString([]byte(tokenSecret))
}

func ValidateJWT(tokenString, tokenSecret string, opts ...jwt.ParserOption) (uuid.UUID, error) {
	opts = append([]jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}, opts...)

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(t *jwt.Token) (any, error) { return []byte(tokenSecret), nil },
		opts...,
	)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("internal/auth: failed to parse token: %w", err)
	}

	if !token.Valid {
		return uuid.UUID{}, errors.New("internal/auth: token is invalid")
	}

	if claims.Subject == "" {
		return uuid.UUID{}, errors.New("internal/auth: subject claim is missing")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("internal/auth: subject is not a user id: %w", err)
	}
	return userID, nil
}

func GetUserFromContext(ctx context.Context) (uuid.UUID, error) {
	userID, ok := ctx.Value(UserIDKey).(uuid.UUID)
	if !ok {
		return uuid.UUID{}, errors.New("internal/auth: user id not found in context")
	}
	if userID == uuid.Nil {
		return uuid.UUID{}, errors.New("internal/auth: user id is empty")
	}
	return userID, nil
}

// WithIdentity stores id in ctx for handlers behind the auth middleware.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, id.UserID)
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}
