package testutil

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/johndosdos/courier/internal/model"
)

// FakeConn records every envelope sent to it. It satisfies registry.Conn.
type FakeConn struct {
	id       string
	userID   uuid.UUID
	username string

	mu     sync.Mutex
	frames []model.Envelope
	closed bool
	notify chan struct{}
}

func NewFakeConn(userID uuid.UUID, username string) *FakeConn {
	return &FakeConn{
		id:       uuid.NewString(),
		userID:   userID,
		username: username,
		notify:   make(chan struct{}, 1024),
	}
}

func (c *FakeConn) ID() string        { return c.id }
func (c *FakeConn) UserID() uuid.UUID { return c.userID }
func (c *FakeConn) Username() string  { return c.username }

func (c *FakeConn) Send(env model.Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.frames = append(c.frames, env)

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return true
}

func (c *FakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *FakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Frames returns a copy of everything sent so far.
func (c *FakeConn) Frames() []model.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Envelope(nil), c.frames...)
}

// FramesOf returns the sent envelopes of the given type.
func (c *FakeConn) FramesOf(typ model.FrameType) []model.Envelope {
	var out []model.Envelope
	for _, env := range c.Frames() {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

// WaitFor blocks until n envelopes of typ were sent or the timeout elapses,
// and returns whatever was observed.
func (c *FakeConn) WaitFor(typ model.FrameType, n int, timeout time.Duration) []model.Envelope {
	deadline := time.After(timeout)
	for {
		if got := c.FramesOf(typ); len(got) >= n {
			return got
		}
		select {
		case <-c.notify:
		case <-deadline:
			return c.FramesOf(typ)
		}
	}
}
