package websocket

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/coder/websocket"
)

// ReadMessage reads frames until the connection ends and dispatches each one
// in order. On return the client is deregistered.
func (c *Client) ReadMessage(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.hub.log.ErrorContext(ctx, "recovered from panic in connection",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
				"conn_id", c.ID())
			c.conn.Close(websocket.StatusInternalError, "internal error")
		}
		c.hub.Unregister(context.WithoutCancel(ctx), c)
		c.conn.CloseNow()
	}()

	for {
		msgType, p, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			switch {
			case status == websocket.StatusMessageTooBig:
				c.hub.log.WarnContext(ctx, "closing connection: frame too large",
					"conn_id", c.ID(),
					"user_id", c.UserID().String())
			case status != websocket.StatusNormalClosure &&
				status != websocket.StatusGoingAway &&
				status != -1:
				c.hub.log.InfoContext(ctx, "connection closed", "error", err, "conn_id", c.ID())
			case status == -1 && !errors.Is(err, context.Canceled):
				c.hub.log.DebugContext(ctx, "connection dropped", "error", err, "conn_id", c.ID())
			}
			return
		}

		// Only text frames carry the JSON protocol.
		if msgType != websocket.MessageText {
			c.hub.log.WarnContext(ctx, "dropping binary frame", "conn_id", c.ID())
			continue
		}

		c.hub.dispatch(ctx, c, p)
	}
}
