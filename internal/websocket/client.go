package websocket

import (
	"context"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/johndosdos/courier/internal/auth"
)

// Client is a websocket connection.
type Client struct {
	*session
	conn *websocket.Conn
	hub  *Hub
}

func (h *Hub) NewClient(conn *websocket.Conn, id auth.Identity) *Client {
	conn.SetReadLimit(h.opts.MaxFrameBytes)
	return &Client{
		session: newSession(id, TransportWebSocket, h.opts),
		conn:    conn,
		hub:     h,
	}
}

// WriteMessage drains the outbound queue onto the socket and keeps the
// connection alive with pings. It returns when the session is closed, the
// socket fails or ctx ends.
func (c *Client) WriteMessage(ctx context.Context) {
	ticker := time.NewTicker(c.hub.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case env := <-c.out:
			writeCtx, cancel := context.WithTimeout(ctx, c.hub.opts.WriteTimeout)
			err := wsjson.Write(writeCtx, c.conn, env)
			cancel()
			if err != nil {
				c.hub.log.WarnContext(ctx, "failed to write frame",
					"error", err,
					"type", env.Type,
					"user_id", c.UserID().String(),
					"conn_id", c.ID())
				c.conn.CloseNow()
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, c.hub.opts.WriteTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				c.hub.log.InfoContext(ctx, "keepalive failed",
					"error", err,
					"conn_id", c.ID())
				c.conn.CloseNow()
				return
			}

		case <-c.closed:
			c.conn.Close(websocket.StatusGoingAway, "connection closed")
			return

		case <-ctx.Done():
			c.conn.Close(websocket.StatusGoingAway, "context cancelled")
			return
		}
	}
}
