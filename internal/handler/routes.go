// Package handler exposes the gateway over HTTP.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/johndosdos/courier/internal"
	"github.com/johndosdos/courier/internal/auth"
	ratelimiter "github.com/johndosdos/courier/internal/rate_limiter"
	ws "github.com/johndosdos/courier/internal/websocket"
)

type Deps struct {
	Hub              *ws.Hub
	Notifier         notifier
	Receipts         readStater
	Authenticator    auth.Authenticator
	HandshakeTimeout time.Duration
	NotifyKeyHash    string
	MaxFrameBytes    int64
	OriginPatterns   []string
	// IPLimiter throttles handshakes. Optional.
	IPLimiter *ratelimiter.IPRateLimiter
	// Health is checked by /healthz. Optional.
	Health func(context.Context) error
}

func Routes(d Deps) http.Handler {
	if d.MaxFrameBytes <= 0 {
		d.MaxFrameBytes = 64 << 10
	}
	if d.HandshakeTimeout <= 0 {
		d.HandshakeTimeout = 5 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", ServeHealth(d.Hub.Registry(), d.Health))

	authenticate := internal.Authenticate(d.Authenticator, d.HandshakeTimeout)

	// Handshakes.
	r.Group(func(r chi.Router) {
		if d.IPLimiter != nil {
			r.Use(d.IPLimiter.Middleware)
		}
		r.Use(authenticate)
		r.Get("/ws", ServeWs(d.Hub, d.OriginPatterns))
		r.Get("/events", StreamSSE(d.Hub))
	})

	r.Group(func(r chi.Router) {
		r.Use(authenticate)
		r.Post("/events", PostEvent(d.Hub, d.MaxFrameBytes))
		r.Get("/messages/read-state", ServeReadState(d.Receipts))
	})

	r.With(internal.RequireNotifierKey(d.NotifyKeyHash)).
		Post("/internal/notifications", ServeNotifications(d.Notifier, d.MaxFrameBytes))

	return r
}
