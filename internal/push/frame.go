// Package push maintains the websocket connection to the platform's realtime
// gateway and translates its wire frames into typed bus events.
package push

import (
	"encoding/json"
	"fmt"

	"github.com/mutamirhq/mutamir/internal/platform"
)

// Wire event names used by the realtime gateway.
const (
	evtSubscribe    = "subscribe"
	evtUnsubscribe  = "unsubscribe"
	evtMessage      = "message.created"
	evtTyping       = "typing.changed"
	evtNotification = "notification.created"
	evtTypingSignal = "typing.signal"
)

// frame is the gateway's envelope. Data carries the event-specific payload;
// ID, when present, identifies the delivery for duplicate suppression.
type frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	ID      string          `json:"id,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Inbound is a decoded gateway event.
type Inbound interface {
	isInbound()
}

// MessageCreated is a chat message delivered over push.
type MessageCreated struct {
	Message platform.Message
}

// TypingChanged reports a participant starting or stopping typing.
type TypingChanged struct {
	ChatID   string `json:"chat_id"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Typing   bool   `json:"typing"`
}

// NotificationCreated is a notification delivered over push.
type NotificationCreated struct {
	Notification platform.Notification
}

func (MessageCreated) isInbound()      {}
func (TypingChanged) isInbound()       {}
func (NotificationCreated) isInbound() {}

// decodeFrame parses one websocket text frame into its typed event. The
// returned id is the delivery id for duplicate suppression, empty when the
// gateway sent none. Unknown event names return a nil event and no error so
// newer gateway versions do not break older clients.
func decodeFrame(raw []byte) (Inbound, string, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, "", fmt.Errorf("malformed frame: %w", err)
	}
	switch f.Event {
	case evtMessage:
		var ev MessageCreated
		if err := json.Unmarshal(f.Data, &ev.Message); err != nil {
			return nil, "", fmt.Errorf("malformed %s data: %w", f.Event, err)
		}
		return ev, f.ID, nil
	case evtTyping:
		var ev TypingChanged
		if err := json.Unmarshal(f.Data, &ev); err != nil {
			return nil, "", fmt.Errorf("malformed %s data: %w", f.Event, err)
		}
		return ev, f.ID, nil
	case evtNotification:
		var ev NotificationCreated
		if err := json.Unmarshal(f.Data, &ev.Notification); err != nil {
			return nil, "", fmt.Errorf("malformed %s data: %w", f.Event, err)
		}
		return ev, f.ID, nil
	default:
		return nil, "", nil
	}
}
