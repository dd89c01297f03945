package chat

import (
	"time"

	"github.com/mutamirhq/mutamir/internal/platform"
)

// MessageID distinguishes optimistic (pending) entries from
// server-confirmed ones with an explicit tag instead of an id-prefix
// convention.
type MessageID struct {
	confirmed bool
	value     string
}

// PendingID tags a locally generated id for an optimistic send.
func PendingID(localID string) MessageID {
	return MessageID{confirmed: false, value: localID}
}

// ConfirmedID tags a durable server-assigned id.
func ConfirmedID(serverID platform.ID) MessageID {
	return MessageID{confirmed: true, value: string(serverID)}
}

// Pending reports whether the id belongs to an unconfirmed optimistic entry.
func (id MessageID) Pending() bool { return !id.confirmed }

// String returns the raw id value.
func (id MessageID) String() string { return id.value }

// Status is the derived delivery state of a message.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusRead    Status = "read"
)

// Message is one entry in a chat session's ordered view.
type Message struct {
	ID          MessageID
	SenderID    string
	SenderName  string
	Content     string
	ContentType string
	CreatedAt   time.Time
	ReadAt      *time.Time
}

// Status derives the delivery state: pending until confirmed, read once
// a read stamp exists.
func (m *Message) Status() Status {
	if m.ID.Pending() {
		return StatusPending
	}
	if m.ReadAt != nil {
		return StatusRead
	}
	return StatusSent
}

// Own reports whether the message was authored by the given user.
func (m *Message) Own(userID string) bool {
	return userID != "" && m.SenderID == userID
}

func fromPlatform(pm *platform.Message) Message {
	return Message{
		ID:          ConfirmedID(pm.ID),
		SenderID:    string(pm.SenderID),
		SenderName:  pm.SenderName,
		Content:     pm.Content,
		ContentType: pm.ContentType,
		CreatedAt:   pm.CreatedAt,
		ReadAt:      pm.ReadAt,
	}
}
