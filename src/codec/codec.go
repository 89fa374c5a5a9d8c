// Package codec translates between raw text frames and typed events.
// Inbound frames are JSON envelopes of the form {"type": ..., "payload": ...};
// anything that fails to parse or match a known schema is reported as an
// error for the caller to drop, never as a panic.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/framenote/notify/src/types"
)

var (
	// ErrMalformedFrame marks frames that are not valid JSON or whose
	// payload does not match the schema for their type tag.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnknownType marks syntactically valid frames with an
	// unrecognized type tag.
	ErrUnknownType = errors.New("unknown message type")
)

// envelope is the outer shape of every inbound frame.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeInbound parses one inbound frame into a typed event.
func DecodeInbound(data []byte) (types.Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch env.Type {
	case "notification":
		var n types.Notification
		if err := json.Unmarshal(env.Payload, &n); err != nil {
			return nil, fmt.Errorf("%w: notification payload: %v", ErrMalformedFrame, err)
		}
		if n.ID == "" {
			return nil, fmt.Errorf("%w: notification without id", ErrMalformedFrame)
		}
		if !n.Type.Known() {
			return nil, fmt.Errorf("%w: notification type %q", ErrMalformedFrame, n.Type)
		}
		return types.NotificationEvent{Notification: n}, nil

	case "notification_read":
		var r types.ReadReceipt
		if err := json.Unmarshal(env.Payload, &r); err != nil {
			return nil, fmt.Errorf("%w: read receipt payload: %v", ErrMalformedFrame, err)
		}
		if r.NotificationID == "" {
			return nil, fmt.Errorf("%w: read receipt without notificationId", ErrMalformedFrame)
		}
		return types.ReadReceiptEvent{Receipt: r}, nil

	case "connection_status":
		var s types.ConnStatus
		if err := json.Unmarshal(env.Payload, &s); err != nil {
			return nil, fmt.Errorf("%w: connection status payload: %v", ErrMalformedFrame, err)
		}
		if s.Status == "" {
			return nil, fmt.Errorf("%w: connection status without status", ErrMalformedFrame)
		}
		return types.StatusEvent{Status: s}, nil

	case "pong":
		return types.PongEvent{}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// EncodeOutbound serializes a caller-supplied command to one text frame.
// No validation beyond JSON marshaling is applied.
func EncodeOutbound(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode outbound: %w", err)
	}
	return data, nil
}

// Ping returns the heartbeat probe frame.
func Ping() []byte {
	return []byte(`{"type":"ping"}`)
}
