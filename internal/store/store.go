// Package store persists message rows and answers the relationship lookups
// the realtime layer needs from the surrounding application.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/johndosdos/courier/internal/model"
)

var ErrUserNotFound = errors.New("user not found")

// Store is the message table plus the user directory.
type Store interface {
	// CreateMessage assigns the id and the creation timestamp.
	CreateMessage(ctx context.Context, draft model.MessageDraft) (model.Message, error)
	// MarkRead flips the read flag of the ids that belong to recipient and
	// returns how many rows changed. Foreign ids are ignored.
	MarkRead(ctx context.Context, recipient uuid.UUID, ids []int64) (int64, error)
	// ReadState returns the read flag of the ids that belong to recipient.
	ReadState(ctx context.Context, recipient uuid.UUID, ids []int64) (map[int64]bool, error)

	Username(ctx context.Context, userID uuid.UUID) (string, error)
	// Contacts returns the users that see userID's presence.
	Contacts(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)

	Close() error
}
