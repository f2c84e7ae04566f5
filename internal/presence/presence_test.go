package presence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/courier/internal/delivery"
	"github.com/johndosdos/courier/internal/model"
	"github.com/johndosdos/courier/internal/registry"
	"github.com/johndosdos/courier/internal/testutil"
)

type staticDirectory map[uuid.UUID][]uuid.UUID

func (d staticDirectory) Contacts(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return d[userID], nil
}

type world struct {
	reg   *registry.Registry
	alice uuid.UUID
	bob   *testutil.FakeConn
	carol *testutil.FakeConn
}

// alice and bob are contacts, carol is a stranger; bob and carol are online.
func newWorld(t *testing.T, grace time.Duration) (*world, *Broadcaster) {
	t.Helper()
	alice, bob, carol := uuid.New(), uuid.New(), uuid.New()
	dir := staticDirectory{
		alice: {bob},
		bob:   {alice},
	}

	reg := registry.New()
	w := &world{
		reg:   reg,
		alice: alice,
		bob:   testutil.NewFakeConn(bob, "bob"),
		carol: testutil.NewFakeConn(carol, "carol"),
	}
	reg.Add(w.bob)
	reg.Add(w.carol)

	log := testutil.Logger()
	b := NewBroadcaster(dir, delivery.NewLocalRouter(reg, log), grace, log)
	t.Cleanup(b.Close)
	return w, b
}

func TestBroadcaster_Online_Notifies_Contacts_Only(t *testing.T) {
	req := require.New(t)
	w, b := newWorld(t, 0)

	b.Online(context.Background(), model.Presence{UserID: w.alice, Username: "alice"})

	got := w.bob.FramesOf(model.TypeUserOnline)
	req.Len(got, 1)
	f, err := model.DecodeFrame(got[0])
	req.NoError(err)
	req.Equal(model.UserOnline{Presence: model.Presence{UserID: w.alice, Username: "alice"}}, f)

	req.Empty(w.carol.Frames())
}

func TestBroadcaster_Offline_Without_Grace(t *testing.T) {
	req := require.New(t)
	w, b := newWorld(t, 0)

	b.Offline(context.Background(), model.Presence{UserID: w.alice, Username: "alice"})

	req.Len(w.bob.FramesOf(model.TypeUserOffline), 1)
	req.Empty(w.carol.Frames())
}

func TestBroadcaster_Offline_After_Grace(t *testing.T) {
	req := require.New(t)
	w, b := newWorld(t, 20*time.Millisecond)

	b.Offline(context.Background(), model.Presence{UserID: w.alice, Username: "alice"})
	req.Empty(w.bob.Frames())

	got := w.bob.WaitFor(model.TypeUserOffline, 1, time.Second)
	req.Len(got, 1)
}

func TestBroadcaster_Reconnect_Within_Grace_Is_Silent(t *testing.T) {
	req := require.New(t)
	w, b := newWorld(t, 200*time.Millisecond)
	p := model.Presence{UserID: w.alice, Username: "alice"}

	// Given alice drops her only connection
	b.Offline(context.Background(), p)

	// When she reconnects before the grace period ends
	b.Online(context.Background(), p)

	// Then bob sees neither event
	time.Sleep(300 * time.Millisecond)
	req.Empty(w.bob.Frames())

	// And a later real disconnect is still reported
	b.Offline(context.Background(), p)
	req.Len(w.bob.WaitFor(model.TypeUserOffline, 1, time.Second), 1)
}

func TestBroadcaster_Close_Drops_Pending(t *testing.T) {
	w, b := newWorld(t, 20*time.Millisecond)

	b.Offline(context.Background(), model.Presence{UserID: w.alice, Username: "alice"})
	b.Close()

	time.Sleep(60 * time.Millisecond)
	require.Empty(t, w.bob.Frames())
}

func TestBroadcaster_Reconnect_After_Grace_Fired_Keeps_Order(t *testing.T) {
	req := require.New(t)
	w, b := newWorld(t, 10*time.Millisecond)
	p := model.Presence{UserID: w.alice, Username: "alice"}

	b.Offline(context.Background(), p)

	// Hold the lock past the grace period so the timer callback is parked
	// on it when alice reconnects.
	b.mu.Lock()
	time.Sleep(50 * time.Millisecond)
	b.mu.Unlock()
	b.Online(context.Background(), p)

	req.Eventually(func() bool { return len(w.bob.Frames()) >= 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	var types []model.FrameType
	for _, env := range w.bob.Frames() {
		types = append(types, env.Type)
	}
	req.Equal([]model.FrameType{model.TypeUserOffline, model.TypeUserOnline}, types)
}
