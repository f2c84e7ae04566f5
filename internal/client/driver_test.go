package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/courier/internal"
	"github.com/johndosdos/courier/internal/auth"
	"github.com/johndosdos/courier/internal/model"
	"github.com/johndosdos/courier/internal/testutil"
)

const goodToken = "good"

var peer = model.Presence{UserID: uuid.New(), Username: "bob"}

// fakeServer speaks just enough of the gateway protocol to drive a client:
// it acks sends, answers pings and announces one peer online.
type fakeServer struct {
	srv *httptest.Server

	wsDown atomic.Bool
	down   atomic.Bool

	wsDials  atomic.Int32
	sseDials atomic.Int32
	nextID   atomic.Int64

	mu      sync.Mutex
	conns   []*websocket.Conn
	streams map[string]*fakeStream
}

type fakeStream struct {
	out    chan model.Envelope
	cancel context.CancelFunc
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	return newFakeServerWith(t, nil)
}

// newFakeServerWith puts mw in front of every route when it is not nil.
func newFakeServerWith(t *testing.T, mw func(http.Handler) http.Handler) *fakeServer {
	t.Helper()

	fs := &fakeServer{streams: make(map[string]*fakeStream)}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", fs.serveWs)
	mux.HandleFunc("GET /events", fs.serveStream)
	mux.HandleFunc("POST /events", fs.servePost)

	var h http.Handler = mux
	if mw != nil {
		h = mw(h)
	}
	fs.srv = httptest.NewServer(h)

	t.Cleanup(func() {
		fs.kick()
		fs.srv.Close()
	})
	return fs
}

func (fs *fakeServer) authorized(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("Authorization") != "Bearer "+goodToken {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	if fs.down.Load() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func (fs *fakeServer) reply(env model.Envelope) []model.Envelope {
	f, err := model.DecodeFrame(env)
	if err != nil {
		return nil
	}

	var out []model.Frame
	switch f := f.(type) {
	case model.SendMessage:
		if f.Content == "reject" {
			out = append(out, model.MessageError{TempID: f.TempID, Error: "content is empty"})
			break
		}
		now := time.Now().UTC()
		out = append(out, model.MessageSent{TempID: f.TempID, ServerID: fs.nextID.Add(1), CreatedAt: now})
		if f.Content == "echo big" {
			// Every '<' is escaped to six bytes on the wire.
			out = append(out, model.NewMessage{Message: model.Message{
				ID:          fs.nextID.Add(1),
				SenderID:    peer.UserID,
				RecipientID: uuid.MustParse(f.ToUserID),
				Content:     strings.Repeat("<", 8000),
				Kind:        model.KindChat,
				CreatedAt:   now,
			}})
		}
	case model.Ping:
		out = append(out, model.Pong{})
	default:
		return nil
	}

	envs := make([]model.Envelope, 0, len(out))
	for _, f := range out {
		e, _ := model.NewEnvelope(f)
		envs = append(envs, e)
	}
	return envs
}

func (fs *fakeServer) hello() model.Envelope {
	e, _ := model.NewEnvelope(model.UserOnline{Presence: peer})
	return e
}

func (fs *fakeServer) serveWs(w http.ResponseWriter, r *http.Request) {
	if !fs.authorized(w, r) {
		return
	}
	if fs.wsDown.Load() {
		http.Error(w, "websocket disabled", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	fs.wsDials.Add(1)

	fs.mu.Lock()
	fs.conns = append(fs.conns, conn)
	fs.mu.Unlock()

	ctx := r.Context()
	if err := wsjson.Write(ctx, conn, fs.hello()); err != nil {
		return
	}
	for {
		var env model.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return
		}
		for _, e := range fs.reply(env) {
			if err := wsjson.Write(ctx, conn, e); err != nil {
				return
			}
		}
	}
}

func (fs *fakeServer) serveStream(w http.ResponseWriter, r *http.Request) {
	if !fs.authorized(w, r) {
		return
	}
	fs.sseDials.Add(1)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	id := uuid.NewString()
	st := &fakeStream{out: make(chan model.Envelope, 16), cancel: cancel}
	fs.mu.Lock()
	fs.streams[id] = st
	fs.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)

	fmt.Fprintf(w, "event: connected\ndata: {\"connectionId\":%q}\n\n", id)
	fmt.Fprint(w, ": \n\n")
	_ = rc.Flush()
	st.out <- fs.hello()

	for {
		select {
		case <-ctx.Done():
			return
		case env := <-st.out:
			p, _ := json.Marshal(env)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", env.Type, p)
			_ = rc.Flush()
		}
	}
}

func (fs *fakeServer) servePost(w http.ResponseWriter, r *http.Request) {
	if !fs.authorized(w, r) {
		return
	}

	fs.mu.Lock()
	st, ok := fs.streams[r.Header.Get(headerConnectionID)]
	fs.mu.Unlock()
	if !ok {
		http.Error(w, "unknown connection", http.StatusNotFound)
		return
	}

	p, _ := io.ReadAll(r.Body)
	env, err := model.ParseEnvelope(p)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	for _, e := range fs.reply(env) {
		st.out <- e
	}
	w.WriteHeader(http.StatusAccepted)
}

// kick drops every open connection.
func (fs *fakeServer) kick() {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for _, c := range fs.conns {
		_ = c.CloseNow()
	}
	fs.conns = nil
	for id, st := range fs.streams {
		st.cancel()
		delete(fs.streams, id)
	}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) count(match func(Event) bool) int {
	n := 0
	for _, e := range r.all() {
		if match(e) {
			n++
		}
	}
	return n
}

func (r *recorder) waitFor(t *testing.T, n int, match func(Event) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return r.count(match) >= n }, 5*time.Second, 5*time.Millisecond)
}

func isState(s State) func(Event) bool {
	return func(e Event) bool {
		sc, ok := e.(StateChanged)
		return ok && sc.State == s
	}
}

func isType[T Event]() func(Event) bool {
	return func(e Event) bool {
		_, ok := e.(T)
		return ok
	}
}

// start runs a driver against fs. Cleanup closes it and waits for Run.
func start(t *testing.T, fs *fakeServer, cfg Config) (*Driver, *recorder, <-chan error) {
	t.Helper()

	cfg.URL = fs.srv.URL
	if cfg.Token == "" {
		cfg.Token = goodToken
	}
	if cfg.BaseBackoff == 0 {
		cfg.BaseBackoff = 5 * time.Millisecond
	}
	cfg.DialTimeout = 2 * time.Second
	cfg.Logger = testutil.Logger()

	events := make(chan Event)
	rec := &recorder{}
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for e := range events {
			rec.mu.Lock()
			rec.events = append(rec.events, e)
			rec.mu.Unlock()
		}
	}()

	d, err := NewDriver(cfg, events)
	require.NoError(t, err)

	runErr := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		runErr <- d.Run(context.Background())
	}()

	t.Cleanup(func() {
		_ = d.Close()
		<-done
		close(events)
		<-drained
	})
	return d, rec, runErr
}

func TestDriver_SendsOverWebSocket(t *testing.T) {
	fs := newFakeServer(t)
	d, rec, runErr := start(t, fs, Config{})

	rec.waitFor(t, 1, isState(Connected))
	assert.Equal(t, kindWebSocket, d.Transport())

	p, err := d.Send(context.Background(), uuid.New(), "hello")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, p.Status)

	rec.waitFor(t, 1, isType[SendConfirmed]())
	got := d.Reconciler().Pending()
	require.Len(t, got, 1)
	assert.Equal(t, StatusConfirmed, got[0].Status)
	assert.NotZero(t, got[0].ServerID)

	rec.waitFor(t, 1, isType[PresenceChanged]())
	online, known := d.Reconciler().Online(peer.UserID)
	assert.True(t, known)
	assert.True(t, online)

	require.NoError(t, d.Close())
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	assert.Equal(t, int32(1), fs.wsDials.Load(), "closing must not reconnect")
}

func TestDriver_RejectedSendFails(t *testing.T) {
	fs := newFakeServer(t)
	d, rec, _ := start(t, fs, Config{})
	rec.waitFor(t, 1, isState(Connected))

	_, err := d.Send(context.Background(), uuid.New(), "reject")
	require.NoError(t, err)

	rec.waitFor(t, 1, isType[SendFailed]())
	got := d.Reconciler().Pending()
	require.Len(t, got, 1)
	assert.Equal(t, StatusFailed, got[0].Status)
	assert.Equal(t, "content is empty", got[0].Err)
}

func TestDriver_SendWhileDisconnected(t *testing.T) {
	events := make(chan Event, 4)
	d, err := NewDriver(Config{URL: "http://127.0.0.1:1", Token: goodToken, Logger: testutil.Logger()}, events)
	require.NoError(t, err)

	p, err := d.Send(context.Background(), uuid.New(), "hello")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, StatusFailed, p.Status)
	assert.IsType(t, SendFailed{}, <-events)

	assert.Error(t, d.Retry(context.Background(), p.TempID))
	assert.Equal(t, StatusFailed, d.Reconciler().Pending()[0].Status)
}

func TestDriver_AuthFailureIsTerminal(t *testing.T) {
	fs := newFakeServer(t)
	_, rec, runErr := start(t, fs, Config{Token: "bad"})

	select {
	case err := <-runErr:
		assert.ErrorIs(t, err, model.ErrAuthentication)
	case <-time.After(5 * time.Second):
		t.Fatal("Run kept retrying a rejected token")
	}

	assert.Equal(t, 1, rec.count(isType[Offline]()))
	assert.Equal(t, int32(0), fs.sseDials.Load(), "no fallback after an auth failure")
}

// stallingAuthenticator never answers its first stall calls.
type stallingAuthenticator struct {
	stall int32
	calls atomic.Int32
}

func (a *stallingAuthenticator) Authenticate(ctx context.Context, _ string) (auth.Identity, error) {
	if a.calls.Add(1) <= a.stall {
		<-ctx.Done()
		return auth.Identity{}, ctx.Err()
	}
	return auth.Identity{UserID: uuid.New(), Username: "alice"}, nil
}

func TestDriver_HandshakeTimeoutIsRetried(t *testing.T) {
	authn := &stallingAuthenticator{stall: 2}
	fs := newFakeServerWith(t, internal.Authenticate(authn, 30*time.Millisecond))

	d, rec, _ := start(t, fs, Config{})
	rec.waitFor(t, 1, isState(Connected))

	assert.Equal(t, kindWebSocket, d.Transport())
	assert.GreaterOrEqual(t, authn.calls.Load(), int32(3))
	assert.Equal(t, 0, rec.count(isType[Offline]()), "a slow handshake is not a rejected token")
}

func TestDriver_ReadsFramesLargerThanDefaultLimit(t *testing.T) {
	fs := newFakeServer(t)
	d, rec, _ := start(t, fs, Config{})
	rec.waitFor(t, 1, isState(Connected))

	_, err := d.Send(context.Background(), peer.UserID, "echo big")
	require.NoError(t, err)

	rec.waitFor(t, 1, func(e Event) bool {
		m, ok := e.(MessageReceived)
		return ok && len(m.Message.Content) == 8000
	})
	assert.Equal(t, 0, rec.count(isState(Disconnected)))
	assert.Equal(t, int32(1), fs.wsDials.Load())
}

func TestDriver_FallsBackToEventStream(t *testing.T) {
	fs := newFakeServer(t)
	fs.wsDown.Store(true)

	d, rec, _ := start(t, fs, Config{})
	rec.waitFor(t, 1, isState(Connected))
	assert.Equal(t, kindSSE, d.Transport())

	_, err := d.Send(context.Background(), uuid.New(), "hello")
	require.NoError(t, err)
	rec.waitFor(t, 1, isType[SendConfirmed]())
	rec.waitFor(t, 1, isType[PresenceChanged]())
}

func TestDriver_UpgradesToWebSocket(t *testing.T) {
	fs := newFakeServer(t)
	fs.wsDown.Store(true)

	d, rec, _ := start(t, fs, Config{UpgradeInterval: 20 * time.Millisecond})
	rec.waitFor(t, 1, isState(Connected))
	assert.Equal(t, kindSSE, d.Transport())

	fs.wsDown.Store(false)
	require.Eventually(t, func() bool { return d.Transport() == kindWebSocket }, 5*time.Second, 10*time.Millisecond)

	_, err := d.Send(context.Background(), uuid.New(), "hello")
	require.NoError(t, err)
	rec.waitFor(t, 1, isType[SendConfirmed]())

	assert.Equal(t, 0, rec.count(isState(Disconnected)), "an upgrade is not a disconnect")
}

func TestDriver_ReconnectsAfterDrop(t *testing.T) {
	fs := newFakeServer(t)
	d, rec, _ := start(t, fs, Config{})
	rec.waitFor(t, 1, isType[PresenceChanged]())

	fs.kick()

	rec.waitFor(t, 1, isState(Disconnected))
	rec.waitFor(t, 1, isType[PresenceUnknown]())
	rec.waitFor(t, 2, isState(Connected))
	assert.Equal(t, int32(2), fs.wsDials.Load())

	_, err := d.Send(context.Background(), uuid.New(), "after reconnect")
	require.NoError(t, err)
	rec.waitFor(t, 1, isType[SendConfirmed]())
}

func TestDriver_GivesUpAfterMaxAttempts(t *testing.T) {
	fs := newFakeServer(t)
	_, rec, runErr := start(t, fs, Config{MaxAttempts: 3, MaxBackoff: 20 * time.Millisecond})
	rec.waitFor(t, 1, isState(Connected))

	fs.down.Store(true)
	fs.kick()

	select {
	case err := <-runErr:
		assert.ErrorIs(t, err, ErrGaveUp)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not give up")
	}

	var offline Offline
	for _, e := range rec.all() {
		if o, ok := e.(Offline); ok {
			offline = o
		}
	}
	assert.ErrorIs(t, offline.Err, ErrGaveUp)
	assert.Equal(t, 3, rec.count(isState(Connecting))-1, "one connect plus three reconnect attempts")
}

func TestNewDriver_RejectsBadURL(t *testing.T) {
	_, err := NewDriver(Config{URL: "ftp://example.com"}, make(chan Event))
	assert.Error(t, err)
}
