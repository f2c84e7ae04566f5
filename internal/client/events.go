package client

import (
	"github.com/google/uuid"

	"github.com/johndosdos/courier/internal/model"
)

// Event is what a Driver reports to its owner. Switch on the concrete type.
type Event interface {
	event()
}

type StateChanged struct {
	State State
}

// MessageReceived carries a chat message or, when System is set, a system
// notification.
type MessageReceived struct {
	Message      model.Message
	System       bool
	Notification *model.Notification
}

type SendConfirmed struct {
	Pending Pending
}

// SendFailed is shown inline next to the pending message. Failed sends are
// only resent through Retry.
type SendFailed struct {
	Pending Pending
}

type PresenceChanged struct {
	UserID   uuid.UUID
	Username string
	Online   bool
}

// PresenceUnknown means every peer's presence is unknown until the server
// says otherwise.
type PresenceUnknown struct{}

// ErrorReceived is a message_error that matches no pending send.
type ErrorReceived struct {
	Error string
}

// Offline is persistent: the driver stopped trying to reconnect.
type Offline struct {
	Err error
}

func (StateChanged) event()    {}
func (MessageReceived) event() {}
func (SendConfirmed) event()   {}
func (SendFailed) event()      {}
func (PresenceChanged) event() {}
func (PresenceUnknown) event() {}
func (ErrorReceived) event()   {}
func (Offline) event()         {}
