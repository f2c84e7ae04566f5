// Package model defines the data structures shared by the server and the
// client side of the messaging protocol.
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind tells a direct chat message apart from the system notification kinds.
type Kind string

const (
	KindChat        Kind = "chat"
	KindAchievement Kind = "achievement"
	KindPurchase    Kind = "purchase"
	KindFollow      Kind = "follow"
	KindReward      Kind = "reward"
)

// IsSystem reports whether k is one of the server-originated notification kinds.
func (k Kind) IsSystem() bool {
	switch k {
	case KindAchievement, KindPurchase, KindFollow, KindReward:
		return true
	}
	return false
}

func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if k == KindChat || k.IsSystem() {
		return k, nil
	}
	return "", fmt.Errorf("unknown message kind %q", s)
}

// Message is a persisted message row. Once stored, only IsRead and Metadata
// may change.
type Message struct {
	ID          int64           `json:"id"`
	SenderID    uuid.UUID       `json:"senderId"`
	RecipientID uuid.UUID       `json:"recipientId"`
	Content     string          `json:"content"`
	Kind        Kind            `json:"kind"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	IsRead      bool            `json:"isRead"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// MessageDraft is what the delivery pipeline hands to the store. The store
// assigns ID and CreatedAt.
type MessageDraft struct {
	SenderID    uuid.UUID
	RecipientID uuid.UUID
	Content     string
	Kind        Kind
	Metadata    json.RawMessage
}

// SystemNotification is the payload the application emits for achievements,
// purchases, follows and rewards. SenderID is always uuid.Nil once stored.
type SystemNotification struct {
	RecipientID uuid.UUID       `json:"recipientId" validate:"required"`
	Kind        Kind            `json:"kind" validate:"required"`
	Content     string          `json:"content" validate:"required"`
	Title       string          `json:"title,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// Notification is the side-channel carried on any envelope. Clients look for
// it in exactly one place: Envelope.Notification.
type Notification struct {
	Kind     Kind            `json:"kind"`
	Title    string          `json:"title,omitempty"`
	Body     string          `json:"body"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}
