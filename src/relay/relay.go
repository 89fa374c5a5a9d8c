// Package relay implements the development relay server: the server half of
// the notification wire protocol, used to exercise the client channel
// locally. It answers pings with pongs, pushes feed notifications to every
// connected client, and fans other client commands out to the user's
// remaining connections (so a read receipt from one tab reaches the others).
package relay

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/framenote/notify/src/types"
)

var pongFrame = []byte(`{"type":"pong"}`)

// notificationEnvelope is the outbound wire shape for pushed notifications.
type notificationEnvelope struct {
	Type    string             `json:"type"`
	Payload types.Notification `json:"payload"`
}

type inboundFrame struct {
	clientID string
	data     []byte
}

// Relay manages all connected websocket clients.
type Relay struct {
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundFrame
	push       chan types.Notification

	mu     sync.RWMutex
	logger zerolog.Logger
	done   chan struct{}
}

// New creates a new Relay instance.
func New(logger zerolog.Logger) *Relay {
	return &Relay{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundFrame, 256),
		push:       make(chan types.Notification, 256),
		logger:     logger.With().Str("component", "relay").Logger(),
		done:       make(chan struct{}),
	}
}

// Run starts the relay event loop. Call in a goroutine.
func (r *Relay) Run() {
	for {
		select {
		case client := <-r.register:
			r.addClient(client)
		case client := <-r.unregister:
			r.removeClient(client)
		case fr := <-r.inbound:
			r.handleInbound(fr)
		case n := <-r.push:
			r.broadcastNotification(n)
		case <-r.done:
			return
		}
	}
}

// Stop halts the relay event loop.
func (r *Relay) Stop() {
	close(r.done)
}

// Register queues a client for registration.
func (r *Relay) Register(c *Client) {
	r.register <- c
}

// Unregister queues a client for removal.
func (r *Relay) Unregister(c *Client) {
	r.unregister <- c
}

// PushNotification queues a notification for delivery to every client.
// It implements feed.PushTarget.
func (r *Relay) PushNotification(n types.Notification) {
	select {
	case r.push <- n:
	case <-r.done:
	}
}

// ClientCount returns the number of connected clients.
func (r *Relay) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

func (r *Relay) addClient(c *Client) {
	r.mu.Lock()
	r.clients[c.ID] = c
	r.mu.Unlock()

	connectedClients.Inc()
	r.logger.Info().Str("client_id", c.ID).Msg("client connected")
}

func (r *Relay) removeClient(c *Client) {
	r.mu.Lock()
	if _, ok := r.clients[c.ID]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.clients, c.ID)
	r.mu.Unlock()

	c.Close()
	connectedClients.Dec()
	r.logger.Info().Str("client_id", c.ID).Msg("client disconnected")
}

// handleInbound answers pings directly and fans any other client command
// out to the sender's other connections.
func (r *Relay) handleInbound(fr inboundFrame) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(fr.data, &env); err != nil {
		r.logger.Debug().Err(err).Str("client_id", fr.clientID).Msg("dropping malformed frame")
		return
	}

	if env.Type == "ping" {
		r.sendTo(fr.clientID, pongFrame)
		return
	}

	r.mu.RLock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		if id != fr.clientID {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.sendTo(id, fr.data)
	}
}

func (r *Relay) broadcastNotification(n types.Notification) {
	data, err := json.Marshal(notificationEnvelope{Type: "notification", Payload: n})
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to encode notification")
		return
	}

	r.mu.RLock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.sendTo(id, data)
	}
}

func (r *Relay) sendTo(clientID string, data []byte) {
	r.mu.RLock()
	client, ok := r.clients[clientID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case client.Send <- data:
		framesPushed.Inc()
	default:
		framesDropped.Inc()
		r.logger.Warn().Str("client_id", clientID).Msg("send buffer full, dropping")
	}
}
