// Package delivery validates, persists and routes chat messages and system
// notifications.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/johndosdos/courier/internal/model"
	"github.com/johndosdos/courier/internal/registry"
)

const (
	DefaultMaxContentLength = 4000

	reasonPersist = "failed to persist message"
)

// MessageStore is the part of store.Store the pipeline writes through.
type MessageStore interface {
	CreateMessage(ctx context.Context, draft model.MessageDraft) (model.Message, error)
}

type sanitizer interface {
	Sanitize(s string) string
}

type Options struct {
	// MaxContentLength is counted in runes.
	MaxContentLength int
	// PersistTimeout bounds a single store write. Zero means no bound.
	PersistTimeout time.Duration
}

type Pipeline struct {
	store      MessageStore
	router     Router
	sanitizer  sanitizer
	validate   *validator.Validate
	contentTag string
	opts       Options
	log        *slog.Logger
}

func NewPipeline(store MessageStore, router Router, opts Options, log *slog.Logger) *Pipeline {
	if opts.MaxContentLength <= 0 {
		opts.MaxContentLength = DefaultMaxContentLength
	}
	return &Pipeline{
		store:      store,
		router:     router,
		sanitizer:  bluemonday.StrictPolicy(),
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		contentTag: fmt.Sprintf("required,max=%d", opts.MaxContentLength),
		opts:       opts,
		log:        log,
	}
}

// Send runs a send_message frame from origin through validation,
// persistence, acknowledgement and routing. Exactly one of message_sent or
// message_error reaches origin. The returned error is for the caller's logs
// only; the connection stays open either way.
func (p *Pipeline) Send(ctx context.Context, origin registry.Conn, req model.SendMessage) error {
	recipient, content, err := p.check(origin.UserID(), req)
	if err != nil {
		p.reply(ctx, origin, model.MessageError{TempID: req.TempID, Error: err.Error()})
		return fmt.Errorf("%w: %v", model.ErrValidation, err)
	}

	// The write must finish even if the sender disconnects right now.
	msg, err := p.persist(ctx, model.MessageDraft{
		SenderID:    origin.UserID(),
		RecipientID: recipient,
		Content:     content,
		Kind:        model.KindChat,
	})
	if err != nil {
		p.log.ErrorContext(ctx, "failed to store message",
			"error", err,
			"sender_id", origin.UserID().String(),
			"recipient_id", recipient.String())
		p.reply(ctx, origin, model.MessageError{TempID: req.TempID, Error: reasonPersist})
		return err
	}

	p.reply(ctx, origin, model.MessageSent{
		TempID:    req.TempID,
		ServerID:  msg.ID,
		CreatedAt: msg.CreatedAt,
	})

	env, err := model.NewEnvelope(model.NewMessage{Message: msg})
	if err != nil {
		return err
	}
	if err := p.router.Route(context.WithoutCancel(ctx), recipient, env); err != nil {
		// Persisted and acknowledged: the recipient picks it up from history.
		p.log.WarnContext(ctx, "failed to route message",
			"error", err,
			"message_id", msg.ID,
			"recipient_id", recipient.String())
	}

	return nil
}

// Notify persists a system notification and pushes it to the recipient's
// live connections as system_message.
func (p *Pipeline) Notify(ctx context.Context, n model.SystemNotification) (model.Message, error) {
	if err := p.validate.Struct(n); err != nil {
		return model.Message{}, fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	if n.RecipientID == uuid.Nil {
		return model.Message{}, fmt.Errorf("%w: recipient is required", model.ErrValidation)
	}
	if !n.Kind.IsSystem() {
		return model.Message{}, fmt.Errorf("%w: %q is not a system notification kind", model.ErrValidation, n.Kind)
	}

	content, err := p.content(n.Content)
	if err != nil {
		return model.Message{}, fmt.Errorf("%w: %v", model.ErrValidation, err)
	}

	msg, err := p.persist(ctx, model.MessageDraft{
		SenderID:    uuid.Nil,
		RecipientID: n.RecipientID,
		Content:     content,
		Kind:        n.Kind,
		Metadata:    n.Metadata,
	})
	if err != nil {
		p.log.ErrorContext(ctx, "failed to store notification",
			"error", err,
			"kind", n.Kind,
			"recipient_id", n.RecipientID.String())
		return model.Message{}, err
	}

	env, err := model.NewEnvelope(model.SystemMessage{Message: msg})
	if err != nil {
		return msg, err
	}
	env.Notification = &model.Notification{
		Kind:     n.Kind,
		Title:    p.clean(n.Title),
		Body:     content,
		Metadata: n.Metadata,
	}

	if err := p.router.Route(context.WithoutCancel(ctx), n.RecipientID, env); err != nil {
		p.log.WarnContext(ctx, "failed to route notification",
			"error", err,
			"message_id", msg.ID,
			"recipient_id", n.RecipientID.String())
	}

	return msg, nil
}

// check returns a human readable reason on failure.
func (p *Pipeline) check(sender uuid.UUID, req model.SendMessage) (uuid.UUID, string, error) {
	if err := p.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Tag() == "required" {
			return uuid.Nil, "", errors.New("recipient is required")
		}
		return uuid.Nil, "", errors.New("invalid recipient")
	}

	recipient, err := uuid.Parse(req.ToUserID)
	if err != nil {
		return uuid.Nil, "", errors.New("invalid recipient")
	}
	if recipient == uuid.Nil {
		return uuid.Nil, "", errors.New("recipient is required")
	}
	if recipient == sender {
		return uuid.Nil, "", errors.New("cannot send a message to yourself")
	}

	content, err := p.content(req.Content)
	if err != nil {
		return uuid.Nil, "", err
	}

	return recipient, content, nil
}

// content cleans s and enforces the length limit on what will be stored.
func (p *Pipeline) content(s string) (string, error) {
	content := p.clean(s)
	if err := p.validate.Var(content, p.contentTag); err != nil {
		if content == "" {
			return "", errors.New("content is empty")
		}
		return "", fmt.Errorf("content exceeds %d characters", p.opts.MaxContentLength)
	}
	return content, nil
}

// clean strips markup. Frames are JSON, so the text is stored unescaped and
// clients escape it for whatever they render into.
func (p *Pipeline) clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(p.sanitizer.Sanitize(s)))
}

func (p *Pipeline) persist(ctx context.Context, draft model.MessageDraft) (model.Message, error) {
	ctx = context.WithoutCancel(ctx)
	if p.opts.PersistTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.PersistTimeout)
		defer cancel()
	}

	msg, err := p.store.CreateMessage(ctx, draft)
	if err != nil {
		if errors.Is(err, model.ErrPersistence) {
			return model.Message{}, err
		}
		return model.Message{}, fmt.Errorf("%w: %v", model.ErrPersistence, err)
	}
	return msg, nil
}

func (p *Pipeline) reply(ctx context.Context, origin registry.Conn, f model.Frame) {
	env, err := model.NewEnvelope(f)
	if err != nil {
		p.log.ErrorContext(ctx, "failed to encode reply", "error", err)
		return
	}
	if !origin.Send(env) {
		// The client would wait forever for this reply. Closing makes it
		// reconnect and fail the send instead.
		p.log.WarnContext(ctx, "could not deliver reply to origin, closing connection",
			"type", env.Type,
			"conn_id", origin.ID())
		_ = origin.Close()
	}
}
