package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/johndosdos/courier/internal/database"
	"github.com/johndosdos/courier/internal/model"
)

type Postgres struct {
	pool *pgxpool.Pool
	q    *database.Queries
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, q: database.New(pool)}
}

func (p *Postgres) CreateMessage(ctx context.Context, draft model.MessageDraft) (model.Message, error) {
	row, err := p.q.CreateMessage(ctx, database.CreateMessageParams{
		SenderID:    pgtype.UUID{Bytes: draft.SenderID, Valid: draft.SenderID != uuid.Nil},
		RecipientID: pgtype.UUID{Bytes: draft.RecipientID, Valid: true},
		Content:     draft.Content,
		Kind:        string(draft.Kind),
		Metadata:    draft.Metadata,
	})
	if err != nil {
		return model.Message{}, fmt.Errorf("%w: %v", model.ErrPersistence, err)
	}

	return fromRow(row), nil
}

func (p *Postgres) MarkRead(ctx context.Context, recipient uuid.UUID, ids []int64) (int64, error) {
	n, err := p.q.MarkMessagesRead(ctx, database.MarkMessagesReadParams{
		RecipientID: pgtype.UUID{Bytes: recipient, Valid: true},
		Column2:     ids,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", model.ErrPersistence, err)
	}
	return n, nil
}

func (p *Postgres) ReadState(ctx context.Context, recipient uuid.UUID, ids []int64) (map[int64]bool, error) {
	rows, err := p.q.ListReadState(ctx, database.ListReadStateParams{
		RecipientID: pgtype.UUID{Bytes: recipient, Valid: true},
		Column2:     ids,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrPersistence, err)
	}

	state := make(map[int64]bool, len(rows))
	for _, r := range rows {
		state[r.ID] = r.IsRead
	}
	return state, nil
}

func (p *Postgres) Username(ctx context.Context, userID uuid.UUID) (string, error) {
	user, err := p.q.GetUserById(ctx, pgtype.UUID{Bytes: userID, Valid: true})
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("internal/store: failed to get user by ID: %w", err)
	}
	return user.Username, nil
}

func (p *Postgres) Contacts(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := p.q.ListContacts(ctx, pgtype.UUID{Bytes: userID, Valid: true})
	if err != nil {
		return nil, fmt.Errorf("internal/store: failed to list contacts: %w", err)
	}

	out := make([]uuid.UUID, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Bytes)
	}
	return out, nil
}

// PutUser and AddContact exist for seeding and tests; the application owns
// these tables in production.
func (p *Postgres) PutUser(ctx context.Context, userID uuid.UUID, username string) error {
	_, err := p.q.CreateUser(ctx, database.CreateUserParams{
		UserID:   pgtype.UUID{Bytes: userID, Valid: true},
		Username: username,
	})
	return err
}

func (p *Postgres) AddContact(ctx context.Context, a, b uuid.UUID) error {
	return p.q.CreateContact(ctx, database.CreateContactParams{
		UserID:    pgtype.UUID{Bytes: a, Valid: true},
		ContactID: pgtype.UUID{Bytes: b, Valid: true},
	})
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func fromRow(row database.Message) model.Message {
	msg := model.Message{
		ID:          row.ID,
		RecipientID: row.RecipientID.Bytes,
		Content:     row.Content,
		Kind:        model.Kind(row.Kind),
		Metadata:    row.Metadata,
		IsRead:      row.IsRead,
		CreatedAt:   row.CreatedAt.Time.UTC(),
	}
	if row.SenderID.Valid {
		msg.SenderID = row.SenderID.Bytes
	}
	return msg
}
