package views

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/mutamirhq/mutamir/internal/notify"
	"github.com/mutamirhq/mutamir/internal/platform"
	"github.com/rivo/tview"
)

// filterCycle is the order the f key walks through.
var filterCycle = []notify.Filter{
	notify.FilterAll,
	notify.FilterUnread,
	notify.FilterChat,
	notify.FilterBooking,
	notify.FilterPayment,
	notify.FilterSystem,
}

// NotificationView lists the notification feed with a cycling filter.
type NotificationView struct {
	*tview.Table
	items     []platform.Notification
	filterIdx int
}

// NewNotificationView creates the notification center page.
func NewNotificationView() *NotificationView {
	table := tview.NewTable().
		SetSelectable(true, false)
	table.SetBorder(true)

	nv := &NotificationView{Table: table}
	nv.renderTitle()
	return nv
}

// Filter returns the active filter.
func (nv *NotificationView) Filter() notify.Filter {
	return filterCycle[nv.filterIdx]
}

// CycleFilter advances to the next filter and returns it.
func (nv *NotificationView) CycleFilter() notify.Filter {
	nv.filterIdx = (nv.filterIdx + 1) % len(filterCycle)
	nv.renderTitle()
	return nv.Filter()
}

// Selected returns the highlighted notification, or nil on an empty feed.
func (nv *NotificationView) Selected() *platform.Notification {
	row, _ := nv.GetSelection()
	if row < 0 || row >= len(nv.items) {
		return nil
	}
	return &nv.items[row]
}

// Update redraws the table from the filtered feed.
func (nv *NotificationView) Update(items []platform.Notification) {
	nv.items = items
	nv.Clear()

	for i := range items {
		n := &items[i]
		marker := "[::b]●[-:-:-] "
		if !n.Unread() {
			marker = "  "
		}
		title := marker + sanitizeForTerminal(n.Title)
		if n.Priority == platform.PriorityHigh || n.Priority == platform.PriorityUrgent {
			title = "[red]" + title + "[-]"
		}

		nv.SetCell(i, 0, tview.NewTableCell(title).SetExpansion(1))
		nv.SetCell(i, 1, tview.NewTableCell(n.CreatedAt.Local().Format("Jan 2 15:04")).
			SetTextColor(tcell.ColorGray).
			SetAlign(tview.AlignRight))
	}

	if len(items) > 0 {
		row, _ := nv.GetSelection()
		if row >= len(items) {
			nv.Select(len(items)-1, 0)
		}
	}
}

func (nv *NotificationView) renderTitle() {
	nv.SetTitle(fmt.Sprintf(" Notifications [%s] ", nv.Filter()))
}
