package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/johndosdos/courier/internal/model"
)

const (
	kindWebSocket = "websocket"
	kindSSE       = "sse"

	headerConnectionID = "X-Connection-ID"
)

type transport interface {
	Read(ctx context.Context) (model.Envelope, error)
	Write(ctx context.Context, env model.Envelope) error
	Close() error
	Kind() string
}

type wsTransport struct {
	conn *websocket.Conn
}

func dialWebSocket(ctx context.Context, hc *http.Client, base *url.URL, token string, readLimit int64) (*wsTransport, error) {
	u := *base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPClient: hc,
		HTTPHeader: http.Header{"Authorization": {"Bearer " + token}},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: websocket handshake rejected", model.ErrAuthentication)
		}
		return nil, fmt.Errorf("%w: %v", model.ErrTransport, err)
	}
	conn.SetReadLimit(readLimit)

	return &wsTransport{conn: conn}, nil
}

func (t *wsTransport) Read(ctx context.Context) (model.Envelope, error) {
	var env model.Envelope
	if err := wsjson.Read(ctx, t.conn, &env); err != nil {
		return model.Envelope{}, fmt.Errorf("%w: %v", model.ErrTransport, err)
	}
	return env, nil
}

func (t *wsTransport) Write(ctx context.Context, env model.Envelope) error {
	if err := wsjson.Write(ctx, t.conn, env); err != nil {
		return fmt.Errorf("%w: %v", model.ErrTransport, err)
	}
	return nil
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "")
}

func (t *wsTransport) Kind() string { return kindWebSocket }

// sseTransport reads frames from GET /events and posts them to POST /events.
type sseTransport struct {
	hc       *http.Client
	endpoint string
	token    string
	connID   string

	body   io.ReadCloser
	reader *bufio.Reader
	cancel context.CancelFunc

	closeOnce sync.Once
}

type sseEvent struct {
	name string
	data []byte
}

// dialSSE opens the stream and waits for its connected event. The stream
// outlives the handshake, so it is bound to ctx rather than to a dial
// timeout.
func dialSSE(ctx context.Context, hc *http.Client, base *url.URL, token string) (*sseTransport, error) {
	u := *base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/events"

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := hc.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", model.ErrTransport, err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		resp.Body.Close() //nolint:errcheck
		cancel()
		return nil, fmt.Errorf("%w: event stream rejected", model.ErrAuthentication)
	default:
		resp.Body.Close() //nolint:errcheck
		cancel()
		return nil, fmt.Errorf("%w: event stream returned %s", model.ErrTransport, resp.Status)
	}

	t := &sseTransport{
		hc:       hc,
		endpoint: u.String(),
		token:    token,
		body:     resp.Body,
		reader:   bufio.NewReader(resp.Body),
		cancel:   cancel,
	}

	ev, err := t.next()
	if err != nil {
		t.Close() //nolint:errcheck
		return nil, err
	}
	var hello struct {
		ConnectionID string `json:"connectionId"`
	}
	if ev.name != "connected" || json.Unmarshal(ev.data, &hello) != nil || hello.ConnectionID == "" {
		t.Close() //nolint:errcheck
		return nil, fmt.Errorf("%w: event stream did not start with a connection id", model.ErrTransport)
	}
	t.connID = hello.ConnectionID

	return t, nil
}

// next reads one event, skipping comments used as heartbeats.
func (t *sseTransport) next() (sseEvent, error) {
	var ev sseEvent
	for {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			return sseEvent{}, fmt.Errorf("%w: %v", model.ErrTransport, err)
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if ev.name != "" || len(ev.data) > 0 {
				return ev, nil
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			ev.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if len(ev.data) > 0 {
				ev.data = append(ev.data, '\n')
			}
			ev.data = append(ev.data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")...)
		}
	}
}

func (t *sseTransport) Read(ctx context.Context) (model.Envelope, error) {
	for {
		if err := ctx.Err(); err != nil {
			return model.Envelope{}, err
		}
		ev, err := t.next()
		if err != nil {
			return model.Envelope{}, err
		}
		if len(ev.data) == 0 {
			continue
		}
		return model.ParseEnvelope(ev.data)
	}
}

func (t *sseTransport) Write(ctx context.Context, env model.Envelope) error {
	p, err := json.Marshal(env)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(p))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+t.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerConnectionID, t.connID)

	resp, err := t.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrTransport, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: post rejected", model.ErrAuthentication)
	case resp.StatusCode >= 300:
		return fmt.Errorf("%w: post returned %s", model.ErrTransport, resp.Status)
	}
	return nil
}

func (t *sseTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.cancel()
		err = t.body.Close()
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (t *sseTransport) Kind() string { return kindSSE }
