package registry

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/courier/internal/testutil"
)

func TestRegistry_Add_Reports_First_Connection(t *testing.T) {
	req := require.New(t)
	r := New()
	userID := uuid.New()
	c1 := testutil.NewFakeConn(userID, "alice")
	c2 := testutil.NewFakeConn(userID, "alice")

	// Given no connection for alice
	req.False(r.IsOnline(userID))

	// When the first tab connects, then it is the online edge
	req.True(r.Add(c1))
	// When a second tab connects, then it is not an edge
	req.False(r.Add(c2))

	req.True(r.IsOnline(userID))
	req.Len(r.Connections(userID), 2)
	users, conns := r.Stats()
	req.Equal(1, users)
	req.Equal(2, conns)
}

func TestRegistry_Remove_Reports_Last_Connection(t *testing.T) {
	req := require.New(t)
	r := New()
	userID := uuid.New()
	c1 := testutil.NewFakeConn(userID, "alice")
	c2 := testutil.NewFakeConn(userID, "alice")
	r.Add(c1)
	r.Add(c2)

	// When one of two tabs closes, then alice stays online
	req.False(r.Remove(c1))
	req.True(r.IsOnline(userID))

	// When the last tab closes, then it is the offline edge
	req.True(r.Remove(c2))
	req.False(r.IsOnline(userID))
	req.Nil(r.Connections(userID))

	// And removing again is a no-op
	req.False(r.Remove(c2))
}

func TestRegistry_Lookup(t *testing.T) {
	req := require.New(t)
	r := New()
	alice := testutil.NewFakeConn(uuid.New(), "alice")
	bob := testutil.NewFakeConn(uuid.New(), "bob")
	r.Add(alice)
	r.Add(bob)

	got, ok := r.Lookup(alice.UserID(), alice.ID())
	req.True(ok)
	req.Equal(alice, got)

	// A connection id is only found under its owner
	_, ok = r.Lookup(alice.UserID(), bob.ID())
	req.False(ok)

	req.Len(r.All(), 2)
}

func TestRegistry_Concurrent_Edges(t *testing.T) {
	req := require.New(t)
	r := New()
	userID := uuid.New()

	const n = 64
	conns := make([]*testutil.FakeConn, n)
	for i := range conns {
		conns[i] = testutil.NewFakeConn(userID, "alice")
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		first int
		last  int
	)
	for _, c := range conns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Add(c) {
				mu.Lock()
				first++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	for _, c := range conns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Remove(c) {
				mu.Lock()
				last++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Then exactly one online edge and one offline edge were observed
	req.Equal(1, first)
	req.Equal(1, last)
	req.False(r.IsOnline(userID))
}
