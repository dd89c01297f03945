// Package notify aggregates booking, payment, and chat notifications from
// REST polls and push delivery into one deduplicated, filterable feed.
package notify

import (
	"encoding/json"

	"github.com/mutamirhq/mutamir/internal/platform"
	"github.com/mutamirhq/mutamir/internal/store"
)

const settingsKey = "notification_settings"

// Settings controls which notifications make noise and where.
type Settings struct {
	Enabled     bool    `json:"enabled"`
	Sound       bool    `json:"sound"`
	Desktop     bool    `json:"desktop"`
	SoundVolume float64 `json:"sound_volume"`

	// Per-category toggles. A category switched off is still stored and
	// listed, it just stays silent.
	ChatMessages         bool `json:"chat_messages"`
	BookingUpdates       bool `json:"booking_updates"`
	PaymentConfirmations bool `json:"payment_confirmations"`
	SystemAnnouncements  bool `json:"system_announcements"`
}

// DefaultSettings is the everything-on starting point for a fresh profile.
func DefaultSettings() Settings {
	return Settings{
		Enabled:              true,
		Sound:                true,
		Desktop:              true,
		SoundVolume:          0.8,
		ChatMessages:         true,
		BookingUpdates:       true,
		PaymentConfirmations: true,
		SystemAnnouncements:  true,
	}
}

// categoryEnabled maps a notification type to its toggle.
func (s Settings) categoryEnabled(notifType string) bool {
	switch notifType {
	case platform.NotifChatMessage:
		return s.ChatMessages
	case platform.NotifBookingUpdate:
		return s.BookingUpdates
	case platform.NotifPaymentConfirmation:
		return s.PaymentConfirmations
	case platform.NotifSystemAnnouncement:
		return s.SystemAnnouncements
	default:
		return true
	}
}

// loadSettings reads persisted settings, falling back to defaults when the
// profile has none or the stored blob does not parse.
func loadSettings(db *store.DB) Settings {
	defaults := DefaultSettings()
	if db == nil {
		return defaults
	}
	raw, ok, err := db.GetSetting(settingsKey)
	if err != nil || !ok {
		return defaults
	}
	var s Settings
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return defaults
	}
	return s
}

func saveSettings(db *store.DB, s Settings) error {
	if db == nil {
		return nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return db.PutSetting(settingsKey, string(raw))
}
