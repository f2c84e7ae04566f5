package websocket

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/johndosdos/courier/internal/auth"
	"github.com/johndosdos/courier/internal/model"
)

type Transport string

const (
	TransportWebSocket Transport = "websocket"
	TransportSSE       Transport = "sse"
)

// session is the transport independent half of a connection: identity,
// bounded outbound queue and the send_message limiter.
type session struct {
	id          string
	userID      uuid.UUID
	username    string
	transport   Transport
	connectedAt time.Time

	out       chan model.Envelope
	closed    chan struct{}
	closeOnce sync.Once

	messageLim *rate.Limiter
}

func newSession(id auth.Identity, transport Transport, opts Options) *session {
	return &session{
		id:          uuid.NewString(),
		userID:      id.UserID,
		username:    id.Username,
		transport:   transport,
		connectedAt: time.Now().UTC(),
		out:         make(chan model.Envelope, opts.QueueSize),
		closed:      make(chan struct{}),
		messageLim:  rate.NewLimiter(opts.SendRate, opts.SendBurst),
	}
}

func (s *session) ID() string           { return s.id }
func (s *session) UserID() uuid.UUID    { return s.userID }
func (s *session) Username() string     { return s.username }
func (s *session) Transport() Transport { return s.transport }

// Send never blocks. A full queue drops env.
func (s *session) Send(env model.Envelope) bool {
	select {
	case <-s.closed:
		return false
	default:
	}

	select {
	case s.out <- env:
		return true
	default:
		return false
	}
}

// Close marks the session closed. The writer notices and tears the
// transport down.
func (s *session) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// Done is closed once the session is closed.
func (s *session) Done() <-chan struct{} {
	return s.closed
}

func (s *session) allow() bool {
	return s.messageLim.Allow()
}
