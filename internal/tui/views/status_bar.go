package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// StatusBar displays the profile, transport state, unread badge, and any
// transient notice.
type StatusBar struct {
	*tview.TextView
	profile string
	status  string
	unread  int
	notice  string
}

// NewStatusBar creates a new status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv}
}

// SetProfile updates the profile name display.
func (sb *StatusBar) SetProfile(name string) {
	sb.profile = name
	sb.render()
}

// SetStatus updates the transport state display.
func (sb *StatusBar) SetStatus(status string) {
	sb.status = status
	sb.render()
}

// SetUnread updates the notification badge.
func (sb *StatusBar) SetUnread(n int) {
	sb.unread = n
	sb.render()
}

// SetNotice sets a transient message, empty to clear.
func (sb *StatusBar) SetNotice(msg string) {
	sb.notice = msg
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()

	badge := ""
	if sb.unread > 0 {
		badge = fmt.Sprintf(" | [red::b]%d unread[-:-:-]", sb.unread)
	}

	clock := time.Now().Format("15:04")

	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s%s | %s", sb.profile, sb.status, badge, clock)
	if sb.notice != "" {
		line += fmt.Sprintf(" | [yellow]%s[-]", sb.notice)
	}

	_, _ = fmt.Fprint(sb, line)
}
