// Package websocket is the connection gateway: it owns live connections,
// decodes inbound frames and routes them to the delivery side.
package websocket

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/johndosdos/courier/internal/model"
	"github.com/johndosdos/courier/internal/registry"
)

var ErrUnknownConnection = errors.New("internal/websocket: unknown connection")

type sender interface {
	Send(ctx context.Context, origin registry.Conn, req model.SendMessage) error
}

type receiptSubmitter interface {
	Submit(ctx context.Context, userID uuid.UUID, ids []int64) error
}

type presenceNotifier interface {
	Online(ctx context.Context, p model.Presence)
	Offline(ctx context.Context, p model.Presence)
}

// conn is what dispatch needs from either transport.
type conn interface {
	registry.Conn
	allow() bool
}

type Options struct {
	// SendRate and SendBurst limit send_message frames per connection.
	SendRate  rate.Limit
	SendBurst int
	// QueueSize bounds each connection's outbound queue.
	QueueSize     int
	MaxFrameBytes int64
	PingInterval  time.Duration
	WriteTimeout  time.Duration
	// HeartbeatInterval keeps idle SSE streams open through proxies.
	HeartbeatInterval time.Duration
}

// PerMinute converts a frames-per-minute budget into a rate.Limit.
func PerMinute(n int) rate.Limit {
	return rate.Every(time.Minute / time.Duration(n))
}

func (o Options) withDefaults() Options {
	if o.SendRate == 0 {
		o.SendRate = PerMinute(30)
	}
	if o.SendBurst <= 0 {
		o.SendBurst = 10
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = 64 << 10
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 10 * time.Second
	}
	return o
}

// Hub ties connections to the registry, the delivery pipeline, the read
// receipt processor and presence.
type Hub struct {
	registry *registry.Registry
	pipeline sender
	receipts receiptSubmitter
	presence presenceNotifier
	opts     Options
	log      *slog.Logger
}

func NewHub(reg *registry.Registry, pipeline sender, receipts receiptSubmitter, presence presenceNotifier, opts Options, log *slog.Logger) *Hub {
	return &Hub{
		registry: reg,
		pipeline: pipeline,
		receipts: receipts,
		presence: presence,
		opts:     opts.withDefaults(),
		log:      log,
	}
}

func (h *Hub) Registry() *registry.Registry {
	return h.registry
}

// Register adds c to the registry. Contacts are told only when this is the
// user's first connection.
func (h *Hub) Register(ctx context.Context, c registry.Conn) {
	first := h.registry.Add(c)
	h.log.InfoContext(ctx, "client connected",
		"user_id", c.UserID().String(),
		"username", c.Username(),
		"conn_id", c.ID())

	if first {
		h.presence.Online(ctx, model.Presence{UserID: c.UserID(), Username: c.Username()})
	}
}

// Unregister removes and closes c. Contacts are told only when it was the
// user's last connection. Calling it twice is harmless.
func (h *Hub) Unregister(ctx context.Context, c registry.Conn) {
	last := h.registry.Remove(c)
	_ = c.Close()

	h.log.InfoContext(ctx, "client disconnected",
		"user_id", c.UserID().String(),
		"username", c.Username(),
		"conn_id", c.ID())

	if last {
		h.presence.Offline(ctx, model.Presence{UserID: c.UserID(), Username: c.Username()})
	}
}

// Shutdown closes every live connection. Writers send a going-away close
// and readers unregister.
func (h *Hub) Shutdown(ctx context.Context) {
	conns := h.registry.All()
	for _, c := range conns {
		_ = c.Close()
	}
	h.log.InfoContext(ctx, "closed live connections", "count", len(conns))
}

// dispatch decodes one inbound frame and runs it to completion before the
// next frame of the same connection is read.
func (h *Hub) dispatch(ctx context.Context, c conn, p []byte) {
	env, err := model.ParseEnvelope(p)
	if err != nil {
		h.log.WarnContext(ctx, "dropping malformed frame",
			"error", err,
			"conn_id", c.ID())
		return
	}

	f, err := model.DecodeFrame(env)
	if err != nil {
		h.log.WarnContext(ctx, "dropping frame",
			"error", err,
			"type", env.Type,
			"conn_id", c.ID())
		return
	}

	switch f := f.(type) {
	case model.SendMessage:
		if !c.allow() {
			h.reply(ctx, c, model.MessageError{TempID: f.TempID, Error: "rate limited"})
			return
		}
		if err := h.pipeline.Send(ctx, c, f); err != nil {
			h.log.DebugContext(ctx, "send_message rejected",
				"error", err,
				"user_id", c.UserID().String())
		}

	case model.MarkRead:
		if err := h.receipts.Submit(ctx, c.UserID(), f.MessageIDs); err != nil {
			h.log.WarnContext(ctx, "failed to queue read receipts",
				"error", err,
				"user_id", c.UserID().String())
		}

	case model.Ping:
		h.reply(ctx, c, model.Pong{})

	default:
		h.log.WarnContext(ctx, "dropping server-only frame from client",
			"type", f.Type(),
			"conn_id", c.ID())
	}
}

func (h *Hub) reply(ctx context.Context, c registry.Conn, f model.Frame) {
	env, err := model.NewEnvelope(f)
	if err != nil {
		h.log.ErrorContext(ctx, "failed to encode reply", "error", err)
		return
	}
	if !c.Send(env) {
		// A lost ack or error leaves the client waiting; drop the
		// connection so it reconnects and settles its pending sends.
		h.log.WarnContext(ctx, "could not queue reply, closing connection",
			"type", env.Type,
			"conn_id", c.ID())
		_ = c.Close()
	}
}
