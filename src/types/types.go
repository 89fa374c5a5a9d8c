package types

import (
	"context"
	"time"
)

// NotificationType is the closed set of notification categories the
// video-review product emits.
type NotificationType string

const (
	NotificationComment        NotificationType = "comment"
	NotificationMention        NotificationType = "mention"
	NotificationProjectUpdate  NotificationType = "project_update"
	NotificationUploadComplete NotificationType = "upload_complete"
	NotificationSystem         NotificationType = "system"
)

// Known reports whether t is one of the defined notification types.
func (t NotificationType) Known() bool {
	switch t {
	case NotificationComment, NotificationMention, NotificationProjectUpdate,
		NotificationUploadComplete, NotificationSystem:
		return true
	}
	return false
}

// Notification is a single notification record as delivered on the wire.
type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Timestamp time.Time        `json:"timestamp"`
	Read      bool             `json:"read"`
	Priority  string           `json:"priority,omitempty"`
	ActionURL string           `json:"actionUrl,omitempty"`
	Metadata  map[string]any   `json:"metadata,omitempty"`
	ExpiresAt *time.Time       `json:"expiresAt,omitempty"`
}

// ReadReceipt records that a user marked a notification as read,
// broadcast to the user's other open tabs.
type ReadReceipt struct {
	NotificationID string `json:"notificationId"`
	UserID         string `json:"userId"`
}

// ConnStatus is a server-side connection status announcement.
type ConnStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is a decoded inbound frame. The set of implementations is closed:
// NotificationEvent, ReadReceiptEvent, StatusEvent, and PongEvent. A switch
// over these plus a default covers every frame the codec produces.
type Event interface {
	eventTag() string
}

// NotificationEvent carries a new notification.
type NotificationEvent struct {
	Notification Notification
}

// ReadReceiptEvent carries a read receipt.
type ReadReceiptEvent struct {
	Receipt ReadReceipt
}

// StatusEvent carries a server connection-status announcement.
type StatusEvent struct {
	Status ConnStatus
}

// PongEvent is the liveness reply to an outbound ping. It is consumed by
// the channel's heartbeat monitor and never handed to a MessageHandler.
type PongEvent struct{}

func (NotificationEvent) eventTag() string { return "notification" }
func (ReadReceiptEvent) eventTag() string  { return "notification_read" }
func (StatusEvent) eventTag() string       { return "connection_status" }
func (PongEvent) eventTag() string         { return "pong" }

// MessageHandler receives decoded inbound events in wire order.
type MessageHandler func(Event)

// Conn abstracts a single text-frame WebSocket connection for testability.
type Conn interface {
	// ReadText blocks until the next text frame arrives or the connection fails.
	ReadText() ([]byte, error)
	// WriteText writes one text frame.
	WriteText(data []byte) error
	Close() error
}

// Dialer opens a fresh physical connection to addr.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}
