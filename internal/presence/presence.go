// Package presence tells a user's contacts when the user comes online or goes
// offline.
package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/johndosdos/courier/internal/delivery"
	"github.com/johndosdos/courier/internal/model"
)

// Directory answers who should see a user's presence.
type Directory interface {
	Contacts(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// Broadcaster fans presence frames out on registry edges only. Delivery is
// best effort: a failed lookup or a dropped frame is logged and forgotten.
//
// An offline edge is held back for the grace period. If the user reconnects
// before it elapses, both the offline and the following online event are
// swallowed, so a page refresh is invisible to contacts.
type Broadcaster struct {
	dir    Directory
	router delivery.Router
	grace  time.Duration
	log    *slog.Logger

	// mu also serializes broadcasts so contacts see a user's edges in the
	// order they happened.
	mu      sync.Mutex
	pending map[uuid.UUID]*time.Timer
	closed  bool
}

func NewBroadcaster(dir Directory, router delivery.Router, grace time.Duration, log *slog.Logger) *Broadcaster {
	return &Broadcaster{
		dir:     dir,
		router:  router,
		grace:   grace,
		log:     log,
		pending: make(map[uuid.UUID]*time.Timer),
	}
}

// Online handles the user's first live connection.
func (b *Broadcaster) Online(ctx context.Context, p model.Presence) {
	ctx = context.WithoutCancel(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	if t, ok := b.pending[p.UserID]; ok {
		delete(b.pending, p.UserID)
		if t.Stop() {
			b.log.DebugContext(ctx, "presence flap suppressed", "user_id", p.UserID.String())
			return
		}
		// The grace timer already fired and its callback is waiting for
		// the lock. It will find no entry, so the offline goes out here.
		b.broadcast(ctx, model.UserOffline{Presence: p})
	}
	b.broadcast(ctx, model.UserOnline{Presence: p})
}

// Offline handles the user's last connection going away.
func (b *Broadcaster) Offline(ctx context.Context, p model.Presence) {
	ctx = context.WithoutCancel(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	if b.grace <= 0 {
		b.broadcast(ctx, model.UserOffline{Presence: p})
		return
	}

	if t, ok := b.pending[p.UserID]; ok {
		t.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(b.grace, func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if b.pending[p.UserID] != t {
			return
		}
		delete(b.pending, p.UserID)
		b.broadcast(ctx, model.UserOffline{Presence: p})
	})
	b.pending[p.UserID] = t
}

// Close drops every deferred offline event.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for id, t := range b.pending {
		t.Stop()
		delete(b.pending, id)
	}
}

func (b *Broadcaster) broadcast(ctx context.Context, f model.Frame) {
	var userID uuid.UUID
	switch v := f.(type) {
	case model.UserOnline:
		userID = v.UserID
	case model.UserOffline:
		userID = v.UserID
	}

	contacts, err := b.dir.Contacts(ctx, userID)
	if err != nil {
		b.log.WarnContext(ctx, "failed to look up contacts",
			"error", err,
			"user_id", userID.String())
		return
	}
	if len(contacts) == 0 {
		return
	}

	env, err := model.NewEnvelope(f)
	if err != nil {
		b.log.ErrorContext(ctx, "failed to encode presence", "error", err)
		return
	}

	for _, contact := range contacts {
		if err := b.router.Route(ctx, contact, env); err != nil {
			b.log.WarnContext(ctx, "failed to route presence",
				"error", err,
				"type", env.Type,
				"user_id", userID.String(),
				"contact_id", contact.String())
		}
	}
}
