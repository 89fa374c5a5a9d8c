package channel

import (
	"time"

	"github.com/framenote/notify/src/types"
)

// Defaults applied by Config.withDefaults for zero-valued tuning fields.
const (
	DefaultReconnectInterval    = 5 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultHeartbeatTimeout     = 10 * time.Second
)

// Config holds construction-time settings for a Channel. It is copied at
// construction and never read again from the caller's value.
type Config struct {
	// Addr is the websocket endpoint, e.g. "wss://app.example.com/ws".
	Addr string

	// OnMessage receives decoded inbound events in wire order. Optional.
	OnMessage types.MessageHandler

	// OnStatus receives status transitions in order, deduplicated. Optional.
	OnStatus func(Status)

	// ReconnectInterval is the fixed delay between reconnect attempts.
	ReconnectInterval time.Duration

	// MaxReconnectAttempts bounds consecutive failed reconnect attempts
	// before the channel settles in StatusFailed.
	MaxReconnectAttempts int

	// HeartbeatInterval is the ping period while connected.
	HeartbeatInterval time.Duration

	// HeartbeatTimeout is how long to wait for a pong before forcing
	// the connection closed.
	HeartbeatTimeout time.Duration

	// Dialer overrides the websocket dialer. Tests inject fakes here.
	Dialer types.Dialer

	// Clock overrides the timer source. Tests inject fakes here.
	Clock Clock
}

func (cfg Config) withDefaults() Config {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	return cfg
}
