package views

import (
	"strconv"

	"github.com/mutamirhq/mutamir/internal/notify"
	"github.com/rivo/tview"
)

// SettingsView edits the notification preferences.
type SettingsView struct {
	*tview.Form
	onSave func(notify.Settings)
	draft  notify.Settings
}

// NewSettingsView builds the preferences form.
func NewSettingsView() *SettingsView {
	sv := &SettingsView{Form: tview.NewForm()}
	sv.SetBorder(true)
	sv.SetTitle(" Notification Settings ")
	return sv
}

// SetOnSave sets the callback invoked with the edited settings.
func (sv *SettingsView) SetOnSave(fn func(notify.Settings)) {
	sv.onSave = fn
}

// Load rebuilds the form from the current settings.
func (sv *SettingsView) Load(s notify.Settings) {
	sv.draft = s
	sv.Clear(true)

	sv.AddCheckbox("Enabled", s.Enabled, func(v bool) { sv.draft.Enabled = v })
	sv.AddCheckbox("Sound", s.Sound, func(v bool) { sv.draft.Sound = v })
	sv.AddCheckbox("Desktop", s.Desktop, func(v bool) { sv.draft.Desktop = v })
	sv.AddInputField("Volume (0-1)", strconv.FormatFloat(s.SoundVolume, 'f', 2, 64), 6, nil, func(v string) {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			sv.draft.SoundVolume = f
		}
	})
	sv.AddCheckbox("Chat messages", s.ChatMessages, func(v bool) { sv.draft.ChatMessages = v })
	sv.AddCheckbox("Booking updates", s.BookingUpdates, func(v bool) { sv.draft.BookingUpdates = v })
	sv.AddCheckbox("Payment confirmations", s.PaymentConfirmations, func(v bool) { sv.draft.PaymentConfirmations = v })
	sv.AddCheckbox("System announcements", s.SystemAnnouncements, func(v bool) { sv.draft.SystemAnnouncements = v })

	sv.AddButton("Save", func() {
		if sv.onSave != nil {
			sv.onSave(sv.draft)
		}
	})
}
