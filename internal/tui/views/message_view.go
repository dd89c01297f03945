package views

import (
	"fmt"

	"github.com/mutamirhq/mutamir/internal/chat"
	"github.com/rivo/tview"
)

// MessageView displays the message history of a single chat.
type MessageView struct {
	*tview.TextView
	chatName string
	typing   string
}

// NewMessageView creates a new message view.
func NewMessageView() *MessageView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ")

	return &MessageView{TextView: tv}
}

// SetChatName updates the title with the chat name.
func (mv *MessageView) SetChatName(name string) {
	mv.chatName = name
	mv.SetTitle(fmt.Sprintf(" %s ", sanitizeForTerminal(name)))
}

// SetTyping shows who is typing, empty to clear.
func (mv *MessageView) SetTyping(who string) {
	mv.typing = who
}

// Update redraws the view from the session's message list, oldest first,
// and scrolls to the newest entry when the view was already at the bottom.
func (mv *MessageView) Update(msgs []chat.Message, ownUserID string, atBottom bool) {
	mv.Clear()

	for i := range msgs {
		m := &msgs[i]
		sender := m.SenderName
		if sender == "" {
			sender = m.SenderID
		}
		if m.Own(ownUserID) {
			sender = "You"
		}

		ts := m.CreatedAt.Local().Format("Jan 2 15:04")
		line := fmt.Sprintf("[::b]%s[-:-:-] [::d]%s%s[-:-:-]\n%s\n\n",
			sanitizeForTerminal(sender), ts, statusMark(m), sanitizeForTerminal(m.Content))
		_, _ = fmt.Fprint(mv, line)
	}

	if mv.typing != "" {
		_, _ = fmt.Fprintf(mv, "[::d]%s is typing...[-:-:-]\n", sanitizeForTerminal(mv.typing))
	}

	if atBottom {
		mv.ScrollToEnd()
	}
}

func statusMark(m *chat.Message) string {
	switch m.Status() {
	case chat.StatusPending:
		return " [yellow]~[-]"
	case chat.StatusRead:
		return " [blue]✓✓[-]"
	default:
		return " ✓"
	}
}
