// Package dialer provides the production websocket implementation of
// types.Dialer and types.Conn. The protocol is text frames only, one JSON
// message per frame.
package dialer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fasthttp/websocket"

	"github.com/framenote/notify/src/types"
)

// closeWriteWait bounds how long Close waits to flush the close frame.
const closeWriteWait = time.Second

// New returns the production websocket dialer.
func New() types.Dialer { return wsDialer{} }

type wsDialer struct{}

func (wsDialer) Dial(ctx context.Context, addr string) (types.Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("websocket handshake with %s: %w (status %d)", addr, err, resp.StatusCode)
		}
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

// wsConn adapts *websocket.Conn to types.Conn.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes and close
}

func (c *wsConn) ReadText() ([]byte, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt != websocket.TextMessage {
			// Binary frames are not part of the protocol.
			continue
		}
		return data, nil
	}
}

func (c *wsConn) WriteText(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Best-effort close handshake; the deadline keeps a dead peer from
	// stalling teardown.
	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeWriteWait),
	)
	return c.conn.Close()
}
