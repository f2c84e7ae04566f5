package websocket

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/courier/internal/auth"
	"github.com/johndosdos/courier/internal/model"
	"github.com/johndosdos/courier/internal/registry"
	"github.com/johndosdos/courier/internal/testutil"
)

type panickingSender struct{}

func (panickingSender) Send(context.Context, registry.Conn, model.SendMessage) error {
	panic("boom")
}

type recordingReceipts struct {
	mu  sync.Mutex
	ids map[uuid.UUID][]int64
}

func (r *recordingReceipts) Submit(_ context.Context, userID uuid.UUID, ids []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ids == nil {
		r.ids = make(map[uuid.UUID][]int64)
	}
	r.ids[userID] = append(r.ids[userID], ids...)
	return nil
}

type recordingPresence struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPresence) Online(_ context.Context, pr model.Presence) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, "online:"+pr.Username)
}

func (p *recordingPresence) Offline(_ context.Context, pr model.Presence) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, "offline:"+pr.Username)
}

func newTestHub() (*Hub, *recordingReceipts, *recordingPresence) {
	receipts := &recordingReceipts{}
	presence := &recordingPresence{}
	h := NewHub(registry.New(), panickingSender{}, receipts, presence, Options{QueueSize: 4}, testutil.Logger())
	return h, receipts, presence
}

func next(t *testing.T, c *StreamClient) model.Envelope {
	t.Helper()
	select {
	case env := <-c.out:
		return env
	default:
		t.Fatal("no frame queued")
		return model.Envelope{}
	}
}

func TestHub_Register_Edges(t *testing.T) {
	req := require.New(t)
	h, _, presence := newTestHub()
	id := auth.Identity{UserID: uuid.New(), Username: "alice"}
	ctx := context.Background()

	first := h.NewStreamClient(id)
	second := h.NewStreamClient(id)

	h.Register(ctx, first)
	h.Register(ctx, second)
	h.Unregister(ctx, first)
	h.Unregister(ctx, first)
	h.Unregister(ctx, second)

	req.Equal([]string{"online:alice", "offline:alice"}, presence.events)
	req.False(h.Registry().IsOnline(id.UserID))
	req.False(first.Send(model.Envelope{Type: model.TypePong}))
}

func TestHub_Receive(t *testing.T) {
	req := require.New(t)
	h, receipts, _ := newTestHub()
	id := auth.Identity{UserID: uuid.New(), Username: "alice"}
	ctx := context.Background()

	c := h.NewStreamClient(id)
	h.Register(ctx, c)

	req.ErrorIs(h.Receive(ctx, id.UserID, uuid.NewString(), []byte(`{"type":"ping"}`)), ErrUnknownConnection)
	req.ErrorIs(h.Receive(ctx, uuid.New(), c.ID(), []byte(`{"type":"ping"}`)), ErrUnknownConnection)

	req.NoError(h.Receive(ctx, id.UserID, c.ID(), []byte(`{"type":"ping"}`)))
	req.Equal(model.TypePong, next(t, c).Type)

	req.NoError(h.Receive(ctx, id.UserID, c.ID(), []byte(`{"type":"mark_read","payload":{"messageIds":[4,5]}}`)))
	req.Equal([]int64{4, 5}, receipts.ids[id.UserID])

	// Malformed and server-only frames are dropped.
	req.NoError(h.Receive(ctx, id.UserID, c.ID(), []byte(`{"type":"new_message","payload":{}}`)))
	req.NoError(h.Receive(ctx, id.UserID, c.ID(), []byte(`{`)))
	req.Empty(c.out)
}

func TestHub_Panic_Closes_Only_That_Connection(t *testing.T) {
	req := require.New(t)
	h, _, _ := newTestHub()
	ctx := context.Background()

	alice := h.NewStreamClient(auth.Identity{UserID: uuid.New(), Username: "alice"})
	bob := h.NewStreamClient(auth.Identity{UserID: uuid.New(), Username: "bob"})
	h.Register(ctx, alice)
	h.Register(ctx, bob)

	frame := []byte(`{"type":"send_message","payload":{"toUserId":"` + bob.UserID().String() + `","content":"hi"}}`)
	req.Error(h.Receive(ctx, alice.UserID(), alice.ID(), frame))

	select {
	case <-alice.Done():
	default:
		t.Fatal("alice's connection should be closed")
	}

	req.NoError(h.Receive(ctx, bob.UserID(), bob.ID(), []byte(`{"type":"ping"}`)))
	req.Equal(model.TypePong, next(t, bob).Type)
}

func TestSession_Send_Drops_When_Full(t *testing.T) {
	h, _, _ := newTestHub()
	c := h.NewStreamClient(auth.Identity{UserID: uuid.New(), Username: "alice"})

	for range 4 {
		require.True(t, c.Send(model.Envelope{Type: model.TypePong}))
	}
	require.False(t, c.Send(model.Envelope{Type: model.TypePong}))
}

func TestHub_Reply_Closes_Connection_When_Queue_Full(t *testing.T) {
	req := require.New(t)
	h, _, _ := newTestHub()
	ctx := context.Background()

	c := h.NewStreamClient(auth.Identity{UserID: uuid.New(), Username: "alice"})
	h.Register(ctx, c)
	for range 4 {
		req.True(c.Send(model.Envelope{Type: model.TypePong}))
	}

	req.NoError(h.Receive(ctx, c.UserID(), c.ID(), []byte(`{"type":"ping"}`)))

	select {
	case <-c.Done():
	default:
		t.Fatal("connection should be closed after a reply was dropped")
	}
}
