package relay

import (
	"sync"

	"github.com/framenote/notify/src/types"
)

// Client wraps one websocket connection and manages message flow.
type Client struct {
	ID     string
	conn   types.Conn
	relay  *Relay
	Send   chan []byte
	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

// NewClient creates a new relay client wrapper.
func NewClient(id string, conn types.Conn, r *Relay) *Client {
	return &Client{
		ID:    id,
		conn:  conn,
		relay: r,
		Send:  make(chan []byte, 256),
		done:  make(chan struct{}),
	}
}

// ReadPump reads frames from the websocket and routes them to the relay.
func (c *Client) ReadPump() {
	defer func() {
		c.relay.unregister <- c
		c.conn.Close()
	}()

	for {
		data, err := c.conn.ReadText()
		if err != nil {
			return
		}
		c.relay.inbound <- inboundFrame{clientID: c.ID, data: data}
	}
}

// WritePump writes frames from the send channel to the websocket.
func (c *Client) WritePump() {
	defer c.conn.Close()

	for {
		select {
		case data, ok := <-c.Send:
			if !ok {
				return
			}
			if err := c.conn.WriteText(data); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close signals the client to stop its pumps.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
		close(c.Send)
	}
}
