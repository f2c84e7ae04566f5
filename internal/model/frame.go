package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FrameType is the "type" tag of an Envelope.
type FrameType string

const (
	// client -> server
	TypeSendMessage FrameType = "send_message"
	TypeMarkRead    FrameType = "mark_read"
	TypePing        FrameType = "ping"

	// server -> client
	TypeNewMessage    FrameType = "new_message"
	TypeSystemMessage FrameType = "system_message"
	TypeMessageSent   FrameType = "message_sent"
	TypeMessageError  FrameType = "message_error"
	TypeUserOnline    FrameType = "user_online"
	TypeUserOffline   FrameType = "user_offline"
	TypePong          FrameType = "pong"
)

// Envelope is the JSON object exchanged over every transport.
type Envelope struct {
	Type         FrameType       `json:"type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Notification *Notification   `json:"notification,omitempty"`
}

// Frame is the closed set of payloads an Envelope can carry. Only the types in
// this file implement it.
type Frame interface {
	Type() FrameType
	frame()
}

// TempID is a client generated id that the server echoes back verbatim.
// Clients may use JSON strings or numbers; the literal is preserved.
type TempID struct {
	raw string
}

func NewTempID(s string) TempID {
	b, _ := json.Marshal(s)
	return TempID{raw: string(b)}
}

func (t TempID) IsZero() bool { return t.raw == "" }

// String returns the id without JSON quoting.
func (t TempID) String() string {
	var s string
	if err := json.Unmarshal([]byte(t.raw), &s); err == nil {
		return s
	}
	return t.raw
}

func (t TempID) MarshalJSON() ([]byte, error) {
	if t.raw == "" {
		return []byte("null"), nil
	}
	return []byte(t.raw), nil
}

func (t *TempID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*t = TempID{}
		return nil
	}
	switch c := b[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	case c == '-' || (c >= '0' && c <= '9'):
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
	default:
		return fmt.Errorf("tempId must be a string or a number")
	}
	*t = TempID{raw: string(b)}
	return nil
}

type SendMessage struct {
	ToUserID string `json:"toUserId" validate:"required,uuid"`
	Content  string `json:"content"`
	TempID   TempID `json:"tempId,omitzero"`
}

type MarkRead struct {
	MessageIDs []int64 `json:"messageIds"`
}

type Ping struct{}

// NewMessage carries the full message record to the recipient.
type NewMessage struct {
	Message
}

type SystemMessage struct {
	Message
}

type MessageSent struct {
	TempID    TempID    `json:"tempId,omitzero"`
	ServerID  int64     `json:"serverId"`
	CreatedAt time.Time `json:"createdAt"`
}

type MessageError struct {
	TempID TempID `json:"tempId,omitzero"`
	Error  string `json:"error"`
}

type Presence struct {
	UserID   uuid.UUID `json:"userId"`
	Username string    `json:"username"`
}

type UserOnline struct {
	Presence
}

type UserOffline struct {
	Presence
}

type Pong struct{}

func (SendMessage) Type() FrameType   { return TypeSendMessage }
func (MarkRead) Type() FrameType      { return TypeMarkRead }
func (Ping) Type() FrameType          { return TypePing }
func (NewMessage) Type() FrameType    { return TypeNewMessage }
func (SystemMessage) Type() FrameType { return TypeSystemMessage }
func (MessageSent) Type() FrameType   { return TypeMessageSent }
func (MessageError) Type() FrameType  { return TypeMessageError }
func (UserOnline) Type() FrameType    { return TypeUserOnline }
func (UserOffline) Type() FrameType   { return TypeUserOffline }
func (Pong) Type() FrameType          { return TypePong }

func (SendMessage) frame()   {}
func (MarkRead) frame()      {}
func (Ping) frame()          {}
func (NewMessage) frame()    {}
func (SystemMessage) frame() {}
func (MessageSent) frame()   {}
func (MessageError) frame()  {}
func (UserOnline) frame()    {}
func (UserOffline) frame()   {}
func (Pong) frame()          {}

// NewEnvelope wraps f for the wire.
func NewEnvelope(f Frame) (Envelope, error) {
	p, err := json.Marshal(f)
	if err != nil {
		return Envelope{}, fmt.Errorf("could not encode %s frame: %w", f.Type(), err)
	}
	return Envelope{Type: f.Type(), Payload: p}, nil
}

// ParseEnvelope decodes the outer object of a frame read off a transport.
func ParseEnvelope(p []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(p, &env); err != nil {
		return Envelope{}, fmt.Errorf("malformed envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrUnknownFrame)
	}
	return env, nil
}

// DecodeFrame is the single decode-and-route step for inbound envelopes.
func DecodeFrame(env Envelope) (Frame, error) {
	var f Frame
	switch env.Type {
	case TypeSendMessage:
		f = &SendMessage{}
	case TypeMarkRead:
		f = &MarkRead{}
	case TypePing:
		f = &Ping{}
	case TypeNewMessage:
		f = &NewMessage{}
	case TypeSystemMessage:
		f = &SystemMessage{}
	case TypeMessageSent:
		f = &MessageSent{}
	case TypeMessageError:
		f = &MessageError{}
	case TypeUserOnline:
		f = &UserOnline{}
	case TypeUserOffline:
		f = &UserOffline{}
	case TypePong:
		f = &Pong{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrame, env.Type)
	}

	if len(env.Payload) > 0 && !bytes.Equal(env.Payload, []byte("null")) {
		if err := json.Unmarshal(env.Payload, f); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", env.Type, err)
		}
	}

	return deref(f), nil
}

// deref turns the pointer used for decoding back into the value type so
// callers can type-switch on values only.
func deref(f Frame) Frame {
	switch v := f.(type) {
	case *SendMessage:
		return *v
	case *MarkRead:
		return *v
	case *Ping:
		return *v
	case *NewMessage:
		return *v
	case *SystemMessage:
		return *v
	case *MessageSent:
		return *v
	case *MessageError:
		return *v
	case *UserOnline:
		return *v
	case *UserOffline:
		return *v
	case *Pong:
		return *v
	}
	panic(errors.New("model: frame type missing from deref"))
}
