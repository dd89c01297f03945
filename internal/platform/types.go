package platform

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ID is a server-assigned identifier. The backend is inconsistent about
// whether ids are JSON strings or numbers, so both decode to the string form.
type ID string

// UnmarshalJSON accepts either a JSON string or a JSON number.
func (id *ID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id is neither string nor number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// NumericID formats an integer id.
func NumericID(n int64) ID {
	return ID(strconv.FormatInt(n, 10))
}

// Message content types.
const (
	ContentText     = "text"
	ContentImage    = "image"
	ContentDocument = "document"
)

// Message is a chat message as returned by the platform API.
type Message struct {
	ID          ID         `json:"id"`
	ChatID      ID         `json:"chat_id"`
	SenderID    ID         `json:"sender_id"`
	SenderName  string     `json:"sender_name"`
	Content     string     `json:"content"`
	ContentType string     `json:"content_type"`
	CreatedAt   time.Time  `json:"created_at"`
	ReadAt      *time.Time `json:"read_at"`
}

// Notification types.
const (
	NotifChatMessage         = "chat_message"
	NotifBookingUpdate       = "booking_update"
	NotifPaymentConfirmation = "payment_confirmation"
	NotifSystemAnnouncement  = "system_announcement"
)

// Notification priorities.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Notification is a notification center entry.
type Notification struct {
	ID        ID                   `json:"id"`
	Title     string               `json:"title"`
	Body      string               `json:"body"`
	Type      string               `json:"type"`
	Priority  string               `json:"priority"`
	ReadAt    *time.Time           `json:"read_at"`
	CreatedAt time.Time            `json:"created_at"`
	Actions   []NotificationAction `json:"actions,omitempty"`
}

// Unread reports whether the notification has not been read.
func (n *Notification) Unread() bool {
	return n.ReadAt == nil
}

// Action kinds attached to notifications.
const (
	ActionNavigate = "navigate"
	ActionAPICall  = "api_call"
	ActionDismiss  = "dismiss"
	ActionCustom   = "custom"
)

// NotificationAction is one action button attached to a notification.
type NotificationAction struct {
	Kind     string          `json:"kind"`
	Label    string          `json:"label"`
	URL      string          `json:"url,omitempty"`
	Endpoint string          `json:"endpoint,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}
