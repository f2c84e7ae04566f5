package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/johndosdos/courier/internal/model"
)

var (
	ErrGaveUp       = errors.New("internal/client: gave up reconnecting")
	ErrNotConnected = fmt.Errorf("%w: not connected", model.ErrTransport)
)

type Config struct {
	// URL is the http(s) base of the server, e.g. http://localhost:8080.
	URL   string
	Token string

	HTTPClient   *http.Client
	DialTimeout  time.Duration
	WriteTimeout time.Duration

	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// MaxAttempts bounds reconnect attempts after a connection is lost.
	MaxAttempts uint64

	// UpgradeInterval is how often a client on the event stream retries
	// a websocket. Zero disables upgrades; the next reconnect still tries
	// the websocket first.
	UpgradeInterval time.Duration
	// DisableWebSocket forces the event stream transport.
	DisableWebSocket bool
	// MaxFrameBytes caps a single inbound websocket frame. Server frames
	// carry escaped JSON and can outgrow the server's own inbound limit.
	MaxFrameBytes int64

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 8
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = 1 << 20
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Driver keeps one session connected and feeds its frames to a Reconciler.
// The owner must drain the events channel until Run returns.
type Driver struct {
	cfg  Config
	base *url.URL
	rec  *Reconciler
	log  *slog.Logger

	// mu guards cur and closed, and serializes writes so frames leave in
	// submission order.
	mu     sync.Mutex
	cur    transport
	closed bool

	quit      chan struct{}
	closeOnce sync.Once
}

func NewDriver(cfg Config, events chan<- Event) (*Driver, error) {
	cfg = cfg.withDefaults()

	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url %q: scheme must be http or https", cfg.URL)
	}

	return &Driver{
		cfg:  cfg,
		base: base,
		rec:  NewReconciler(events),
		log:  cfg.Logger,
		quit: make(chan struct{}),
	}, nil
}

func (d *Driver) Reconciler() *Reconciler { return d.rec }

// Transport names the transport in use, or "" while disconnected.
func (d *Driver) Transport() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cur == nil {
		return ""
	}
	return d.cur.Kind()
}

// Run connects and reconnects until ctx ends, Close is called, the server
// rejects the credentials, or the reconnect budget runs out. The last two
// emit Offline and return the cause.
func (d *Driver) Run(ctx context.Context) error {
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-d.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	reconnect := false
	for {
		t, err := d.connect(ctx, reconnect)
		if err != nil {
			d.rec.SetState(Disconnected)
			if d.isClosed() {
				return nil
			}
			if parent.Err() != nil {
				return parent.Err()
			}
			d.log.WarnContext(ctx, "client offline", "error", err)
			d.rec.emit(Offline{Err: err})
			return err
		}

		err = d.serve(ctx, t)
		d.rec.SetState(Disconnected)
		d.rec.FailPending("connection lost")

		if d.isClosed() {
			return nil
		}
		if parent.Err() != nil {
			return parent.Err()
		}
		d.log.WarnContext(ctx, "connection lost", "error", err)
		reconnect = true
	}
}

// connect dials until it has a transport. A reconnect waits one backoff
// step before its first attempt.
func (d *Driver) connect(ctx context.Context, reconnect bool) (transport, error) {
	b := retry.NewExponential(d.cfg.BaseBackoff)
	b = retry.WithCappedDuration(d.cfg.MaxBackoff, b)
	b = retry.WithMaxRetries(d.cfg.MaxAttempts, b)

	wait := reconnect
	for {
		if wait {
			delay, stop := b.Next()
			if stop {
				return nil, ErrGaveUp
			}
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
		wait = true

		d.rec.SetState(Connecting)
		t, err := d.dial(ctx)
		if err == nil {
			return t, nil
		}
		if errors.Is(err, model.ErrAuthentication) || ctx.Err() != nil {
			return nil, err
		}
		d.rec.SetState(Disconnected)
		d.log.InfoContext(ctx, "connect attempt failed", "error", err)
	}
}

// dial prefers the websocket and falls back to the event stream when the
// websocket handshake fails for any reason other than credentials.
func (d *Driver) dial(ctx context.Context) (transport, error) {
	if !d.cfg.DisableWebSocket {
		t, err := d.dialWebSocket(ctx)
		if err == nil {
			return t, nil
		}
		if errors.Is(err, model.ErrAuthentication) || ctx.Err() != nil {
			return nil, err
		}
		d.log.InfoContext(ctx, "websocket unavailable, falling back to event stream", "error", err)
	}
	return dialSSE(ctx, d.cfg.HTTPClient, d.base, d.cfg.Token)
}

func (d *Driver) dialWebSocket(ctx context.Context) (transport, error) {
	dctx, cancel := context.WithTimeout(ctx, d.cfg.DialTimeout)
	defer cancel()
	return dialWebSocket(dctx, d.cfg.HTTPClient, d.base, d.cfg.Token, d.cfg.MaxFrameBytes)
}

// serve reads from t until it fails. A client on the event stream swaps to
// a websocket when an upgrade dial succeeds and nothing is awaiting an ack.
func (d *Driver) serve(ctx context.Context, t transport) error {
	for {
		d.setTransport(t)
		d.rec.SetState(Connected)
		d.log.InfoContext(ctx, "connected", "transport", t.Kind())

		readErr := make(chan error, 1)
		go func() { readErr <- d.readLoop(ctx, t) }()

		uctx, stopUpgrades := context.WithCancel(ctx)
		var upgrades <-chan transport
		if t.Kind() == kindSSE && d.cfg.UpgradeInterval > 0 && !d.cfg.DisableWebSocket {
			upgrades = d.dialUpgrades(uctx)
		}

		next, err := d.await(ctx, t, readErr, upgrades)
		stopUpgrades()
		if next == nil {
			d.setTransport(nil)
			_ = t.Close()
			return err
		}

		_ = t.Close()
		<-readErr
		t = next
	}
}

func (d *Driver) await(ctx context.Context, t transport, readErr <-chan error, upgrades <-chan transport) (transport, error) {
	for {
		select {
		case err := <-readErr:
			return nil, err

		case nt := <-upgrades:
			if d.swap(t, nt) {
				return nt, nil
			}
			_ = nt.Close()

		case <-ctx.Done():
			_ = t.Close()
			<-readErr
			return nil, ctx.Err()
		}
	}
}

// swap replaces old with nt for writes unless a send is still waiting for
// its ack on old.
func (d *Driver) swap(old, nt transport) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cur != old || d.rec.inFlight() > 0 {
		return false
	}
	d.cur = nt
	return true
}

func (d *Driver) dialUpgrades(ctx context.Context) <-chan transport {
	out := make(chan transport)
	go func() {
		ticker := time.NewTicker(d.cfg.UpgradeInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			t, err := d.dialWebSocket(ctx)
			if err != nil {
				continue
			}
			select {
			case out <- t:
			case <-ctx.Done():
				_ = t.Close()
				return
			}
		}
	}()
	return out
}

func (d *Driver) readLoop(ctx context.Context, t transport) error {
	for {
		env, err := t.Read(ctx)
		if err != nil {
			return err
		}
		if err := d.rec.HandleEnvelope(env); err != nil {
			d.log.WarnContext(ctx, "dropping frame", "type", env.Type, "error", err)
		}
	}
}

func (d *Driver) setTransport(t transport) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cur = t
}

func (d *Driver) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Driver) write(ctx context.Context, f model.Frame) error {
	env, err := model.NewEnvelope(f)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cur == nil {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.WriteTimeout)
	defer cancel()
	return d.cur.Write(ctx, env)
}

// Send shows the message as pending right away, then transmits it. A send
// that cannot be written is marked failed and kept for Retry.
func (d *Driver) Send(ctx context.Context, to uuid.UUID, content string) (Pending, error) {
	p, frame := d.rec.Submit(to, content)

	if err := d.write(ctx, frame); err != nil {
		d.rec.Fail(p.TempID, err.Error())
		p.Status = StatusFailed
		p.Err = err.Error()
		return p, err
	}
	return p, nil
}

// Retry resends a failed message under its original temp id.
func (d *Driver) Retry(ctx context.Context, tempID string) error {
	frame, err := d.rec.Retry(tempID)
	if err != nil {
		return err
	}
	if err := d.write(ctx, frame); err != nil {
		d.rec.Fail(tempID, err.Error())
		return err
	}
	return nil
}

// MarkRead reports messages as seen. The server applies it at most once
// per message, so callers may resend after an error.
func (d *Driver) MarkRead(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	return d.write(ctx, model.MarkRead{MessageIDs: ids})
}

// Ping asks the server for a pong.
func (d *Driver) Ping(ctx context.Context) error {
	return d.write(ctx, model.Ping{})
}

// Close disconnects and stops reconnecting. Run returns nil.
func (d *Driver) Close() error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		t := d.cur
		d.mu.Unlock()

		close(d.quit)
		if t != nil {
			_ = t.Close()
		}
	})
	return nil
}
