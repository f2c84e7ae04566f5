// Package receipt batches read-flag updates coming from mark_read frames.
package receipt

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sethvargo/go-retry"
)

var ErrClosed = errors.New("internal/receipt: processor closed")

const (
	DefaultBatchSize     = 100
	DefaultFlushInterval = 250 * time.Millisecond
	DefaultAttempts      = 3
)

// Store is where read flags are kept. MarkRead must only touch rows whose
// recipient is the given user.
type Store interface {
	MarkRead(ctx context.Context, recipient uuid.UUID, ids []int64) (int64, error)
	ReadState(ctx context.Context, recipient uuid.UUID, ids []int64) (map[int64]bool, error)
}

type Options struct {
	BatchSize     int
	FlushInterval time.Duration
	Attempts      uint64
	RetryBase     time.Duration
}

type request struct {
	userID uuid.UUID
	ids    []int64
}

type Processor struct {
	store Store
	opts  Options
	log   *slog.Logger

	in    chan request
	flush chan chan struct{}
	quit  chan struct{}
	done  chan struct{}

	startOnce sync.Once
	closeOnce sync.Once
	started   chan struct{}
}

func NewProcessor(store Store, opts Options, log *slog.Logger) *Processor {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.Attempts == 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 50 * time.Millisecond
	}
	return &Processor{
		store:   store,
		opts:    opts,
		log:     log,
		in:      make(chan request, 1024),
		flush:   make(chan chan struct{}),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		started: make(chan struct{}),
	}
}

// Run writes batches until ctx is cancelled or Close is called. Pending ids
// are written before it returns.
func (p *Processor) Run(ctx context.Context) {
	p.startOnce.Do(func() { close(p.started) })
	defer close(p.done)

	ticker := time.NewTicker(p.opts.FlushInterval)
	defer ticker.Stop()

	// Writes outlive the caller's context so shutdown still drains.
	writeCtx := context.WithoutCancel(ctx)

	pending := make(map[uuid.UUID][]int64)
	count := 0
	add := func(r request) {
		pending[r.userID] = append(pending[r.userID], r.ids...)
		count += len(r.ids)
	}
	drain := func() {
		for {
			select {
			case r := <-p.in:
				add(r)
			default:
				return
			}
		}
	}
	write := func() {
		if count == 0 {
			return
		}
		p.write(writeCtx, pending)
		pending = make(map[uuid.UUID][]int64)
		count = 0
	}

	for {
		select {
		case r := <-p.in:
			add(r)
			if count >= p.opts.BatchSize {
				write()
			}

		case <-ticker.C:
			write()

		case ack := <-p.flush:
			drain()
			write()
			close(ack)

		case <-ctx.Done():
			drain()
			write()
			return

		case <-p.quit:
			drain()
			write()
			return
		}
	}
}

// Submit queues ids to be marked read for userID.
func (p *Processor) Submit(ctx context.Context, userID uuid.UUID, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	select {
	case <-p.done:
		return ErrClosed
	default:
	}

	select {
	case p.in <- request{userID: userID, ids: ids}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrClosed
	}
}

// Flush returns once everything submitted before the call was written.
func (p *Processor) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case p.flush <- ack:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrClosed
	}

	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReadState reports the read flag of the user's own messages among ids. Any
// earlier Submit is visible.
func (p *Processor) ReadState(ctx context.Context, userID uuid.UUID, ids []int64) (map[int64]bool, error) {
	if err := p.Flush(ctx); err != nil && !errors.Is(err, ErrClosed) {
		return nil, err
	}
	return p.store.ReadState(ctx, userID, ids)
}

// Close stops Run after writing what is pending.
func (p *Processor) Close() {
	p.closeOnce.Do(func() { close(p.quit) })

	select {
	case <-p.started:
		<-p.done
	default:
	}
}

func (p *Processor) write(ctx context.Context, pending map[uuid.UUID][]int64) {
	for userID, ids := range pending {
		ids = lo.Uniq(ids)

		b := retry.WithMaxRetries(p.opts.Attempts-1, retry.NewExponential(p.opts.RetryBase))
		var changed int64
		err := retry.Do(ctx, b, func(ctx context.Context) error {
			n, err := p.store.MarkRead(ctx, userID, ids)
			if err != nil {
				return retry.RetryableError(err)
			}
			changed = n
			return nil
		})
		if err != nil {
			p.log.ErrorContext(ctx, "failed to mark messages read",
				"error", err,
				"user_id", userID.String(),
				"count", len(ids))
			continue
		}

		p.log.DebugContext(ctx, "marked messages read",
			"user_id", userID.String(),
			"submitted", len(ids),
			"changed", changed)
	}
}
