package bus

import "time"

// Event kinds published on the bus. Subscribers filter by dotted-prefix
// namespace, e.g. "transport." receives every transport event.
const (
	KindChatMessage    = "chat.message"     // payload: *platform.Message
	KindChatTyping     = "chat.typing"      // payload: TypingChange
	KindChatSendFailed = "chat.send_failed" // payload: SendFailure
	KindChatDegraded   = "chat.degraded"    // payload: chat id (string)
	KindChatAutoScroll = "chat.auto_scroll" // payload: chat id (string)
	KindChatSound      = "chat.sound"       // payload: chat id (string)
	KindChatUpdated    = "chat.updated"     // payload: chat id (string)

	KindTransportConnected    = "transport.connected"
	KindTransportDisconnected = "transport.disconnected"
	KindTransportError        = "transport.error" // payload: error string
	KindTransportReconnect    = "transport.reconnect_requested"

	KindNotifyPush     = "notify.push"     // payload: *platform.Notification, raw from transport
	KindNotifyReceived = "notify.received" // payload: *platform.Notification, merged into the feed
	KindNotifyToast    = "notify.toast"    // payload: Toast
	KindNotifyUpdated  = "notify.updated"

	KindUINavigate = "ui.navigate" // payload: URL (string)

	KindSessionStatusChanged = "session.status_changed" // payload: status.Change
)

// Event is a domain event carried by the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// TypingChange reports a chat participant starting or stopping typing.
type TypingChange struct {
	ChatID   string
	UserID   string
	UserName string
	Typing   bool
}

// SendFailure reports an optimistic send that was rolled back.
type SendFailure struct {
	ChatID  string
	LocalID string
	Content string
	Err     string
}

// Toast is a transient high-priority notice for the UI to display.
type Toast struct {
	Title    string
	Body     string
	Priority string
}
