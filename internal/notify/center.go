package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mutamirhq/mutamir/internal/bus"
	"github.com/mutamirhq/mutamir/internal/platform"
	"github.com/mutamirhq/mutamir/internal/store"
	"go.uber.org/zap"
)

// Filter selects a slice of the feed for display.
type Filter string

const (
	FilterAll     Filter = "all"
	FilterUnread  Filter = "unread"
	FilterChat    Filter = "chat"
	FilterBooking Filter = "booking"
	FilterPayment Filter = "payment"
	FilterSystem  Filter = "system"
)

// ErrUnknownAction is returned for an action kind the center cannot run.
var ErrUnknownAction = errors.New("unknown notification action")

// NotificationAPI is the REST surface the center consumes.
type NotificationAPI interface {
	ListNotifications(ctx context.Context) ([]platform.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context) error
	DeleteNotification(ctx context.Context, id string) error
	Post(ctx context.Context, endpoint string, payload any) error
}

// CustomActionHandler runs an action the backend marked as custom.
type CustomActionHandler func(platform.NotificationAction) error

// Center is the notification aggregator: REST polls and push deliveries
// merge into one id-deduplicated feed, newest first. Read and delete
// operations apply locally first and then notify the backend.
type Center struct {
	mu sync.Mutex

	api     NotificationAPI
	bus     *bus.Bus
	logger  *zap.Logger
	sound   SoundPlayer
	desktop DesktopNotifier
	cache   *store.DB // optional offline cache

	items    []platform.Notification
	loading  bool
	settings Settings
	custom   CustomActionHandler
}

// NewCenter builds a center with settings loaded from the profile cache.
func NewCenter(api NotificationAPI, b *bus.Bus, sound SoundPlayer, desktop DesktopNotifier, cache *store.DB, logger *zap.Logger) *Center {
	return &Center{
		api:      api,
		bus:      b,
		logger:   logger,
		sound:    sound,
		desktop:  desktop,
		cache:    cache,
		settings: loadSettings(cache),
	}
}

// SetCustomActionHandler installs the handler for custom actions.
func (c *Center) SetCustomActionHandler(h CustomActionHandler) {
	c.mu.Lock()
	c.custom = h
	c.mu.Unlock()
}

// FetchAll replaces the feed with the backend's current list. A failed poll
// keeps whatever the feed already holds; the next poll converges.
func (c *Center) FetchAll(ctx context.Context) {
	c.mu.Lock()
	if c.loading {
		c.mu.Unlock()
		return
	}
	c.loading = true
	c.mu.Unlock()

	items, err := c.api.ListNotifications(ctx)

	c.mu.Lock()
	c.loading = false
	if err != nil {
		c.mu.Unlock()
		c.logger.Warn("notification poll failed", zap.Error(err))
		return
	}
	// Keep local read stamps the backend has not caught up with yet.
	localRead := make(map[platform.ID]*time.Time)
	for i := range c.items {
		if c.items[i].ReadAt != nil {
			localRead[c.items[i].ID] = c.items[i].ReadAt
		}
	}
	for i := range items {
		if items[i].ReadAt == nil {
			if t, ok := localRead[items[i].ID]; ok {
				items[i].ReadAt = t
			}
		}
	}
	c.items = items
	c.mu.Unlock()

	if c.cache != nil {
		if cerr := c.cache.ReplaceNotifications(items); cerr != nil {
			c.logger.Warn("notification cache write failed", zap.Error(cerr))
		}
	}
	c.bus.Emit(bus.KindNotifyUpdated, nil)
}

// LoadCached seeds the feed from the profile cache for instant display
// before the first poll completes.
func (c *Center) LoadCached(limit int) {
	if c.cache == nil {
		return
	}
	items, err := c.cache.ListNotifications(limit)
	if err != nil {
		c.logger.Warn("notification cache read failed", zap.Error(err))
		return
	}
	c.mu.Lock()
	if len(c.items) == 0 {
		c.items = items
	}
	c.mu.Unlock()
	c.bus.Emit(bus.KindNotifyUpdated, nil)
}

// ReceivePush merges one push-delivered notification. An id already in the
// feed is discarded, so a poll racing a push never duplicates an entry.
// New entries are prepended and, subject to the settings, make noise.
func (c *Center) ReceivePush(n *platform.Notification) {
	c.mu.Lock()
	for i := range c.items {
		if c.items[i].ID == n.ID {
			c.mu.Unlock()
			return
		}
	}
	c.items = append([]platform.Notification{*n}, c.items...)
	settings := c.settings
	c.mu.Unlock()

	if c.cache != nil {
		if err := c.cache.UpsertNotification(n); err != nil {
			c.logger.Warn("notification cache write failed", zap.Error(err))
		}
	}

	c.bus.Emit(bus.KindNotifyReceived, n)
	c.bus.Emit(bus.KindNotifyUpdated, nil)

	if !settings.Enabled || !settings.categoryEnabled(n.Type) {
		return
	}
	urgent := n.Priority == platform.PriorityHigh || n.Priority == platform.PriorityUrgent
	if urgent {
		c.bus.Emit(bus.KindNotifyToast, bus.Toast{Title: n.Title, Body: n.Body, Priority: n.Priority})
	}
	if settings.Sound {
		c.sound.Play(settings.SoundVolume)
	}
	if settings.Desktop && c.desktop.Permission() == PermissionGranted {
		c.desktop.Notify(n.Title, n.Body, urgent)
	}
}

// MarkRead stamps one notification read locally and tells the backend.
// The local stamp stands even if the backend call fails.
func (c *Center) MarkRead(ctx context.Context, id string) error {
	now := time.Now()
	c.mu.Lock()
	found := false
	for i := range c.items {
		if string(c.items[i].ID) == id {
			found = true
			if c.items[i].ReadAt == nil {
				t := now
				c.items[i].ReadAt = &t
			}
			break
		}
	}
	c.mu.Unlock()
	if !found {
		return nil
	}

	if c.cache != nil {
		if err := c.cache.MarkNotificationRead(id, now); err != nil {
			c.logger.Warn("notification cache write failed", zap.Error(err))
		}
	}
	c.bus.Emit(bus.KindNotifyUpdated, nil)
	if err := c.api.MarkNotificationRead(ctx, id); err != nil {
		c.logger.Warn("mark notification read failed", zap.String("id", id), zap.Error(err))
		return err
	}
	return nil
}

// MarkAllRead stamps the whole feed read with one backend call.
func (c *Center) MarkAllRead(ctx context.Context) error {
	now := time.Now()
	c.mu.Lock()
	changed := false
	for i := range c.items {
		if c.items[i].ReadAt == nil {
			t := now
			c.items[i].ReadAt = &t
			changed = true
		}
	}
	c.mu.Unlock()
	if !changed {
		return nil
	}

	if c.cache != nil {
		if err := c.cache.MarkAllNotificationsRead(now); err != nil {
			c.logger.Warn("notification cache write failed", zap.Error(err))
		}
	}
	c.bus.Emit(bus.KindNotifyUpdated, nil)
	if err := c.api.MarkAllNotificationsRead(ctx); err != nil {
		c.logger.Warn("mark all notifications read failed", zap.Error(err))
		return err
	}
	return nil
}

// Delete removes one notification locally and on the backend.
func (c *Center) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	idx := -1
	for i := range c.items {
		if string(c.items[i].ID) == id {
			idx = i
			break
		}
	}
	if idx >= 0 {
		c.items = append(c.items[:idx], c.items[idx+1:]...)
	}
	c.mu.Unlock()
	if idx < 0 {
		return nil
	}

	if c.cache != nil {
		if err := c.cache.DeleteNotification(id); err != nil {
			c.logger.Warn("notification cache delete failed", zap.Error(err))
		}
	}
	c.bus.Emit(bus.KindNotifyUpdated, nil)
	if err := c.api.DeleteNotification(ctx, id); err != nil {
		c.logger.Warn("delete notification failed", zap.String("id", id), zap.Error(err))
		return err
	}
	return nil
}

// ExecuteAction runs one action button. Navigate actions go to the UI over
// the bus, api_call actions post to the backend, dismiss does nothing, and
// custom actions go to the registered handler.
func (c *Center) ExecuteAction(ctx context.Context, action platform.NotificationAction) error {
	switch action.Kind {
	case platform.ActionNavigate:
		c.bus.Emit(bus.KindUINavigate, action.URL)
		return nil
	case platform.ActionAPICall:
		return c.api.Post(ctx, action.Endpoint, action.Payload)
	case platform.ActionDismiss:
		return nil
	case platform.ActionCustom:
		c.mu.Lock()
		h := c.custom
		c.mu.Unlock()
		if h == nil {
			return fmt.Errorf("%w: no custom handler installed", ErrUnknownAction)
		}
		return h(action)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action.Kind)
	}
}

// Filtered returns the notifications matching the filter, in feed order.
// The feed itself is never mutated by filtering.
func (c *Center) Filtered(f Filter) []platform.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]platform.Notification, 0, len(c.items))
	for i := range c.items {
		n := c.items[i]
		switch f {
		case FilterUnread:
			if !n.Unread() {
				continue
			}
		case FilterChat:
			if n.Type != platform.NotifChatMessage {
				continue
			}
		case FilterBooking:
			if n.Type != platform.NotifBookingUpdate {
				continue
			}
		case FilterPayment:
			if n.Type != platform.NotifPaymentConfirmation {
				continue
			}
		case FilterSystem:
			if n.Type != platform.NotifSystemAnnouncement {
				continue
			}
		}
		out = append(out, n)
	}
	return out
}

// All returns a snapshot of the full feed.
func (c *Center) All() []platform.Notification {
	return c.Filtered(FilterAll)
}

// UnreadCount counts entries without a read stamp.
func (c *Center) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for i := range c.items {
		if c.items[i].Unread() {
			count++
		}
	}
	return count
}

// Loading reports whether a poll is in flight.
func (c *Center) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Settings returns the current notification settings.
func (c *Center) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// UpdateSettings replaces the settings and persists them. Desktop
// permission is requested here, only when desktop delivery was just
// switched on and the question is still open.
func (c *Center) UpdateSettings(s Settings) error {
	c.mu.Lock()
	wasDesktop := c.settings.Desktop
	c.settings = s
	c.mu.Unlock()

	if s.Desktop && !wasDesktop && c.desktop.Permission() == PermissionUndecided {
		if perm := c.desktop.RequestPermission(); perm == PermissionDenied {
			c.logger.Info("desktop notifications denied by environment")
		}
	}

	if err := saveSettings(c.cache, s); err != nil {
		c.logger.Warn("settings persist failed", zap.Error(err))
		return err
	}
	c.bus.Emit(bus.KindNotifyUpdated, nil)
	return nil
}

// Run consumes pushed notifications from the bus until ctx is done.
func (c *Center) Run(ctx context.Context) {
	ch, unsub := c.bus.Subscribe(bus.KindNotifyPush, 128)
	defer unsub()
	for {
		select {
		case evt := <-ch:
			n, ok := evt.Payload.(*platform.Notification)
			if !ok {
				continue
			}
			c.ReceivePush(n)
		case <-ctx.Done():
			return
		}
	}
}
