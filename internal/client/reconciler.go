// Package client is the client side of the messaging protocol: an
// optimistic send list reconciled against server acknowledgements, and a
// driver that keeps a connection up.
package client

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/johndosdos/courier/internal/model"
)

var ErrNotFound = errors.New("internal/client: no such pending message")

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Status int

const (
	StatusPending Status = iota
	StatusConfirmed
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Pending is a send as the user sees it. ServerID is set once confirmed.
type Pending struct {
	TempID    string
	ToUserID  uuid.UUID
	Content   string
	Status    Status
	ServerID  int64
	CreatedAt time.Time
	Err       string
}

// Reconciler holds the client view of one session. It is safe for
// concurrent use. Events are sent on the owner's channel outside the lock,
// so the owner must keep draining it.
type Reconciler struct {
	events chan<- Event

	mu       sync.Mutex
	state    State
	pending  []*Pending
	byTempID map[string]*Pending
	presence map[uuid.UUID]bool
	// ids of inbound messages already reported
	seen map[int64]struct{}
}

func NewReconciler(events chan<- Event) *Reconciler {
	return &Reconciler{
		events:   events,
		byTempID: make(map[string]*Pending),
		presence: make(map[uuid.UUID]bool),
		seen:     make(map[int64]struct{}),
	}
}

func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SetState moves the connection state. Leaving connected forgets every
// peer's presence.
func (r *Reconciler) SetState(s State) {
	var out []Event

	r.mu.Lock()
	if r.state != s {
		r.state = s
		out = append(out, StateChanged{State: s})
		if s == Disconnected && len(r.presence) > 0 {
			clear(r.presence)
			out = append(out, PresenceUnknown{})
		}
	}
	r.mu.Unlock()

	r.emit(out...)
}

// Submit records an optimistic send and returns it with the frame to
// transmit.
func (r *Reconciler) Submit(to uuid.UUID, content string) (Pending, model.SendMessage) {
	p := &Pending{
		TempID:    uuid.NewString(),
		ToUserID:  to,
		Content:   content,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	r.pending = append(r.pending, p)
	r.byTempID[p.TempID] = p
	snapshot := *p
	r.mu.Unlock()

	return snapshot, model.SendMessage{
		ToUserID: to.String(),
		Content:  content,
		TempID:   model.NewTempID(p.TempID),
	}
}

// Fail marks a pending send failed, for example when it could not be
// written to the transport.
func (r *Reconciler) Fail(tempID, reason string) {
	r.mu.Lock()
	p, ok := r.byTempID[tempID]
	if !ok || p.Status != StatusPending {
		r.mu.Unlock()
		return
	}
	p.Status = StatusFailed
	p.Err = reason
	snapshot := *p
	r.mu.Unlock()

	r.emit(SendFailed{Pending: snapshot})
}

// FailPending fails every send still waiting for an ack. Used when the
// connection drops, since an ack can only arrive on the connection the send
// went out on.
func (r *Reconciler) FailPending(reason string) {
	var out []Event

	r.mu.Lock()
	for _, p := range r.pending {
		if p.Status == StatusPending {
			p.Status = StatusFailed
			p.Err = reason
			out = append(out, SendFailed{Pending: *p})
		}
	}
	r.mu.Unlock()

	r.emit(out...)
}

func (r *Reconciler) inFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, p := range r.pending {
		if p.Status == StatusPending {
			n++
		}
	}
	return n
}

// Retry puts a failed send back to pending and returns the frame to send
// again under the same temp id.
func (r *Reconciler) Retry(tempID string) (model.SendMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byTempID[tempID]
	if !ok {
		return model.SendMessage{}, ErrNotFound
	}
	if p.Status != StatusFailed {
		return model.SendMessage{}, fmt.Errorf("internal/client: message %s is %s, not failed", tempID, p.Status)
	}

	p.Status = StatusPending
	p.Err = ""
	return model.SendMessage{
		ToUserID: p.ToUserID.String(),
		Content:  p.Content,
		TempID:   model.NewTempID(p.TempID),
	}, nil
}

// Pending returns the sends in submission order.
func (r *Reconciler) Pending() []Pending {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Pending, 0, len(r.pending))
	for _, p := range r.pending {
		out = append(out, *p)
	}
	return out
}

// Online reports a peer's presence. known is false until the server told
// us since the last connect.
func (r *Reconciler) Online(userID uuid.UUID) (online, known bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	online, known = r.presence[userID]
	return online, known
}

// HandleEnvelope applies one server frame.
func (r *Reconciler) HandleEnvelope(env model.Envelope) error {
	f, err := model.DecodeFrame(env)
	if err != nil {
		return err
	}

	var out []Event

	r.mu.Lock()
	switch f := f.(type) {
	case model.MessageSent:
		p, ok := r.byTempID[f.TempID.String()]
		// A second ack, or an ack for a send that already failed, changes
		// nothing.
		if ok && p.Status == StatusPending {
			p.Status = StatusConfirmed
			p.ServerID = f.ServerID
			p.CreatedAt = f.CreatedAt
			out = append(out, SendConfirmed{Pending: *p})
		}

	case model.MessageError:
		p, ok := r.byTempID[f.TempID.String()]
		switch {
		case f.TempID.IsZero() || !ok:
			out = append(out, ErrorReceived{Error: f.Error})
		case p.Status == StatusPending:
			p.Status = StatusFailed
			p.Err = f.Error
			out = append(out, SendFailed{Pending: *p})
		}

	case model.NewMessage:
		if r.firstSeen(f.ID) {
			out = append(out, MessageReceived{Message: f.Message})
		}

	case model.SystemMessage:
		if r.firstSeen(f.ID) {
			out = append(out, MessageReceived{Message: f.Message, System: true, Notification: env.Notification})
		}

	case model.UserOnline:
		r.presence[f.UserID] = true
		out = append(out, PresenceChanged{UserID: f.UserID, Username: f.Username, Online: true})

	case model.UserOffline:
		r.presence[f.UserID] = false
		out = append(out, PresenceChanged{UserID: f.UserID, Username: f.Username, Online: false})

	case model.Pong:

	default:
		r.mu.Unlock()
		return fmt.Errorf("%w: %s is not a server frame", model.ErrUnknownFrame, f.Type())
	}
	r.mu.Unlock()

	r.emit(out...)
	return nil
}

// firstSeen reports whether id is new. During a transport swap both
// connections may carry the same message.
func (r *Reconciler) firstSeen(id int64) bool {
	if _, ok := r.seen[id]; ok {
		return false
	}
	r.seen[id] = struct{}{}
	return true
}

func (r *Reconciler) emit(events ...Event) {
	for _, e := range events {
		r.events <- e
	}
}
