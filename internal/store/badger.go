package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/johndosdos/courier/internal/model"
)

// Badger is an embedded Store for single-node deployments and tests.
//
// Keys:
//
//	msg:{id zero padded to 20 digits}  -> JSON message
//	user:{uuid}                        -> username
//	contact:{uuid}:{uuid}              -> empty
type Badger struct {
	db  *badger.DB
	seq *badger.Sequence
}

func OpenBadger(path string) (*Badger, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("internal/store: badger open failed: %w", err)
	}

	b, err := NewBadger(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func NewBadger(db *badger.DB) (*Badger, error) {
	seq, err := db.GetSequence([]byte("seq:msg"), 100)
	if err != nil {
		return nil, fmt.Errorf("internal/store: failed to get message sequence: %w", err)
	}
	return &Badger{db: db, seq: seq}, nil
}

func messageKey(id int64) []byte {
	return fmt.Appendf(nil, "msg:%020d", id)
}

func userKey(id uuid.UUID) []byte {
	return []byte("user:" + id.String())
}

func contactPrefix(id uuid.UUID) []byte {
	return []byte("contact:" + id.String() + ":")
}

func (b *Badger) CreateMessage(_ context.Context, draft model.MessageDraft) (model.Message, error) {
	n, err := b.seq.Next()
	if err != nil {
		return model.Message{}, fmt.Errorf("%w: %v", model.ErrPersistence, err)
	}

	msg := model.Message{
		// Sequences start at zero.
		ID:          int64(n) + 1,
		SenderID:    draft.SenderID,
		RecipientID: draft.RecipientID,
		Content:     draft.Content,
		Kind:        draft.Kind,
		Metadata:    draft.Metadata,
		CreatedAt:   time.Now().UTC(),
	}

	p, err := json.Marshal(msg)
	if err != nil {
		return model.Message{}, fmt.Errorf("%w: %v", model.ErrPersistence, err)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(msg.ID), p)
	})
	if err != nil {
		return model.Message{}, fmt.Errorf("%w: %v", model.ErrPersistence, err)
	}

	return msg, nil
}

func (b *Badger) MarkRead(_ context.Context, recipient uuid.UUID, ids []int64) (int64, error) {
	var changed int64
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			msg, err := getMessage(txn, id)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if msg.RecipientID != recipient || msg.IsRead {
				continue
			}

			msg.IsRead = true
			p, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			if err := txn.Set(messageKey(id), p); err != nil {
				return err
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", model.ErrPersistence, err)
	}
	return changed, nil
}

func (b *Badger) ReadState(_ context.Context, recipient uuid.UUID, ids []int64) (map[int64]bool, error) {
	state := make(map[int64]bool, len(ids))
	err := b.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			msg, err := getMessage(txn, id)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if msg.RecipientID == recipient {
				state[id] = msg.IsRead
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrPersistence, err)
	}
	return state, nil
}

// Message returns a stored message by id.
func (b *Badger) Message(_ context.Context, id int64) (model.Message, error) {
	var msg model.Message
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		msg, err = getMessage(txn, id)
		return err
	})
	return msg, err
}

func getMessage(txn *badger.Txn, id int64) (model.Message, error) {
	var msg model.Message

	item, err := txn.Get(messageKey(id))
	if err != nil {
		return msg, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &msg)
	})
	return msg, err
}

func (b *Badger) Username(_ context.Context, userID uuid.UUID) (string, error) {
	var name string
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(userID))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		name = string(val)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("internal/store: failed to get user: %w", err)
	}
	return name, nil
}

func (b *Badger) Contacts(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	prefix := contactPrefix(userID)

	var out []uuid.UUID
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id, err := uuid.ParseBytes(it.Item().Key()[len(prefix):])
			if err != nil {
				return err
			}
			out = append(out, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("internal/store: failed to list contacts: %w", err)
	}
	return out, nil
}

func (b *Badger) PutUser(_ context.Context, userID uuid.UUID, username string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(userKey(userID), []byte(username))
	})
}

// AddContact records a symmetric relationship.
func (b *Badger) AddContact(_ context.Context, a, c uuid.UUID) error {
	return b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(append(contactPrefix(a), c.String()...), []byte{}); err != nil {
			return err
		}
		return txn.Set(append(contactPrefix(c), a.String()...), []byte{})
	})
}

func (b *Badger) Close() error {
	if err := b.seq.Release(); err != nil {
		return err
	}
	return b.db.Close()
}
