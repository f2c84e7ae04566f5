package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/johndosdos/courier/internal/auth"
)

// StreamClient is the fallback transport: frames go down a server-sent
// event stream and come back up as POST requests naming the connection.
type StreamClient struct {
	*session
	hub *Hub

	// serializes posted frames so they are handled in arrival order
	mu sync.Mutex
}

func (h *Hub) NewStreamClient(id auth.Identity) *StreamClient {
	return &StreamClient{
		session: newSession(id, TransportSSE, h.opts),
		hub:     h,
	}
}

// Connected is the first event of every stream.
type Connected struct {
	ConnectionID string `json:"connectionId"`
}

// ServeStream registers c and writes its frames to w until the session is
// closed or ctx ends. w must already carry the event-stream headers.
func (c *StreamClient) ServeStream(ctx context.Context, w io.Writer, rc *http.ResponseController) {
	c.hub.Register(ctx, c)
	defer c.hub.Unregister(context.WithoutCancel(ctx), c)

	if err := writeEvent(w, "connected", Connected{ConnectionID: c.ID()}); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		c.hub.log.WarnContext(ctx, "could not flush buffer to writer", "error", err)
		return
	}

	ticker := time.NewTicker(c.hub.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case env := <-c.out:
			if err := writeEvent(w, string(env.Type), env); err != nil {
				c.hub.log.WarnContext(ctx, "failed to write event",
					"error", err,
					"type", env.Type,
					"conn_id", c.ID())
				return
			}
			if err := rc.Flush(); err != nil {
				c.hub.log.WarnContext(ctx, "could not flush buffer to writer", "error", err)
				return
			}

		case <-ticker.C:
			fmt.Fprint(w, ": \n\n") //nolint:errcheck
			if err := rc.Flush(); err != nil {
				c.hub.log.WarnContext(ctx, "could not flush buffer to writer", "error", err)
				return
			}

		case <-c.closed:
			return

		case <-ctx.Done():
			return
		}
	}
}

// Receive dispatches a frame posted for the stream connID of userID.
func (h *Hub) Receive(ctx context.Context, userID uuid.UUID, connID string, p []byte) (err error) {
	rc, ok := h.registry.Lookup(userID, connID)
	if !ok {
		return ErrUnknownConnection
	}
	c, ok := rc.(*StreamClient)
	if !ok {
		return ErrUnknownConnection
	}

	defer func() {
		if r := recover(); r != nil {
			h.log.ErrorContext(ctx, "recovered from panic in connection",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
				"conn_id", c.ID())
			_ = c.Close()
			err = fmt.Errorf("internal/websocket: connection %s closed after panic", c.ID())
		}
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	h.dispatch(ctx, c, p)
	return nil
}

func writeEvent(w io.Writer, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
