// Package tui is the interactive terminal client: one chat open at a time,
// a notification center page, and a settings form, all refreshed from bus
// events through a single dispatch loop.
package tui

import (
	"context"
	"errors"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/mutamirhq/mutamir/internal/bus"
	"github.com/mutamirhq/mutamir/internal/chat"
	"github.com/mutamirhq/mutamir/internal/notify"
	"github.com/mutamirhq/mutamir/internal/platform"
	"github.com/mutamirhq/mutamir/internal/push"
	"github.com/mutamirhq/mutamir/internal/session"
	"github.com/mutamirhq/mutamir/internal/status"
	"github.com/mutamirhq/mutamir/internal/store"
	"github.com/mutamirhq/mutamir/internal/tui/views"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

// Deps bundles everything the TUI needs from the composition root.
type Deps struct {
	Profile string
	Bus     *bus.Bus
	Machine *status.Machine
	Client  *platform.Client
	Push    *push.Client
	Center  *notify.Center
	Tokens  session.TokenSource
	Store   *store.DB
	Logger  *zap.Logger
}

// App is the main TUI application shell.
type App struct {
	deps Deps

	app   *tview.Application
	pages *tview.Pages

	statusBar *views.StatusBar
	msgView   *views.MessageView
	composer  *views.Composer
	notifView *views.NotificationView
	settingsV *views.SettingsView
	openInput *tview.InputField

	current       *chat.Session
	cancelSession context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(deps Deps) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		deps:      deps,
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		statusBar: views.NewStatusBar(),
		msgView:   views.NewMessageView(),
		composer:  views.NewComposer(),
		notifView: views.NewNotificationView(),
		settingsV: views.NewSettingsView(),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetProfile(deps.Profile)
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupCallbacks() {
	a.composer.SetOnChange(func() {
		if s := a.current; s != nil {
			s.SetTyping()
		}
	})

	a.composer.SetOnSend(func(text string) {
		s := a.current
		if s == nil {
			return
		}
		go func() {
			if err := s.Send(a.ctx, text); err != nil {
				if errors.Is(err, chat.ErrSendInFlight) {
					a.flash("Still sending the previous message")
				}
				// Other failures roll back and come in on chat.send_failed.
			}
		}()
	})

	a.settingsV.SetOnSave(func(s notify.Settings) {
		go func() {
			if err := a.deps.Center.UpdateSettings(s); err != nil {
				a.flash("Saving settings failed: " + err.Error())
				return
			}
			a.flash("Settings saved")
		}()
	})

	a.openInput = tview.NewInputField().
		SetLabel(" Open chat: ").
		SetFieldWidth(0)
	a.openInput.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		id := a.openInput.GetText()
		a.openInput.SetText("")
		if id != "" {
			a.openChat(id)
		}
	})
}

func (a *App) setupLayout() {
	chatFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.msgView, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage("open", a.openInput, true, true)
	a.pages.AddPage("chat", chatFlex, true, false)
	a.pages.AddPage("notifications", a.notifView, true, false)
	a.pages.AddPage("settings", a.settingsV, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape {
			switch currentPage {
			case "notifications", "settings", "open":
				if a.current != nil {
					a.showChat()
				}
				return nil
			}
		}

		// Let text input widgets handle all keys normally.
		focused := a.app.GetFocus()
		if _, ok := focused.(*tview.InputField); ok {
			return event
		}
		if _, ok := focused.(*tview.Form); ok {
			return event
		}

		if event.Key() != tcell.KeyRune {
			if currentPage == "notifications" && event.Key() == tcell.KeyEnter {
				a.runSelectedAction()
				return nil
			}
			return event
		}

		switch event.Rune() {
		case 'q':
			a.Stop()
			return nil
		case 'c':
			a.pages.SwitchToPage("open")
			a.app.SetFocus(a.openInput)
			return nil
		case 'n':
			a.showNotifications()
			return nil
		case 's':
			a.settingsV.Load(a.deps.Center.Settings())
			a.pages.SwitchToPage("settings")
			a.app.SetFocus(a.settingsV)
			return nil
		}

		switch currentPage {
		case "chat":
			switch event.Rune() {
			case 'i':
				a.app.SetFocus(a.composer.InputField)
				return nil
			case 'o':
				a.loadOlder()
				return nil
			}
		case "notifications":
			switch event.Rune() {
			case 'f':
				a.notifView.CycleFilter()
				a.refreshNotifications()
				return nil
			case 'r':
				if n := a.notifView.Selected(); n != nil {
					go func() { _ = a.deps.Center.MarkRead(a.ctx, string(n.ID)) }()
				}
				return nil
			case 'a':
				go func() { _ = a.deps.Center.MarkAllRead(a.ctx) }()
				return nil
			case 'd':
				if n := a.notifView.Selected(); n != nil {
					go func() { _ = a.deps.Center.Delete(a.ctx, string(n.ID)) }()
				}
				return nil
			}
		}

		return event
	})
}

// openChat tears down the previous session, if any, and binds a new one.
func (a *App) openChat(chatID string) {
	if a.current != nil {
		a.deps.Push.Unsubscribe("chat." + a.current.ChatID())
		a.cancelSession()
		a.current.Close()
	}

	s := chat.NewSession(chatID, a.deps.Client, a.deps.Tokens, a.deps.Bus, a.deps.Logger)
	s.SetTypingSignaler(a.deps.Push)
	s.SetCache(a.deps.Store)

	sessCtx, cancel := context.WithCancel(a.ctx)
	a.current = s
	a.cancelSession = cancel

	a.deps.Push.Subscribe("chat." + chatID)
	go s.Run(sessCtx)
	go func() {
		if err := s.LoadInitial(sessCtx); err != nil {
			a.flash("Loading chat failed, press o to retry")
		}
	}()

	a.msgView.SetChatName(chatID)
	a.showChat()
}

func (a *App) showChat() {
	a.pages.SwitchToPage("chat")
	a.app.SetFocus(a.composer.InputField)
	a.refreshChat(true)
}

func (a *App) showNotifications() {
	a.refreshNotifications()
	a.pages.SwitchToPage("notifications")
	a.app.SetFocus(a.notifView)
	go func() { _ = a.deps.Center.MarkAllRead(a.ctx) }()
}

func (a *App) loadOlder() {
	s := a.current
	if s == nil {
		return
	}
	go func() {
		if s.Phase() == chat.PhaseFailed {
			if err := s.Retry(a.ctx); err == nil {
				return
			}
			a.flash("Retry failed")
			return
		}
		n, err := s.LoadMore(a.ctx)
		if err != nil {
			a.flash("Loading older messages failed")
			return
		}
		if n > 0 {
			// Re-anchor the view below the prepended page so the reader
			// does not lose their place. Each message renders as 3 lines.
			a.app.QueueUpdateDraw(func() {
				row, _ := a.msgView.GetScrollOffset()
				a.msgView.Update(s.Messages(), a.deps.Tokens.UserID(), false)
				a.msgView.ScrollTo(row+n*3, 0)
			})
		}
	}()
}

func (a *App) runSelectedAction() {
	n := a.notifView.Selected()
	if n == nil || len(n.Actions) == 0 {
		return
	}
	action := n.Actions[0]
	go func() {
		if err := a.deps.Center.ExecuteAction(a.ctx, action); err != nil {
			a.flash("Action failed: " + err.Error())
			return
		}
		_ = a.deps.Center.MarkRead(a.ctx, string(n.ID))
	}()
}

// Run starts the TUI and its event loop.
func (a *App) Run() error {
	go a.eventLoop()
	go func() {
		a.deps.Center.LoadCached(200)
		a.deps.Center.FetchAll(a.ctx)
	}()
	return a.app.Run()
}

// eventLoop is the single dispatch point for everything the UI reacts to.
func (a *App) eventLoop() {
	ch, unsub := a.deps.Bus.Subscribe("", 512)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			a.handleEvent(evt)
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindChatUpdated, bus.KindChatDegraded:
		a.app.QueueUpdateDraw(func() { a.refreshChat(false) })

	case bus.KindChatAutoScroll:
		a.app.QueueUpdateDraw(func() { a.refreshChat(true) })

	case bus.KindChatSendFailed:
		failure, ok := evt.Payload.(bus.SendFailure)
		if !ok {
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.composer.Restore(failure.Content)
			a.statusBar.SetNotice("Send failed, message restored")
			a.refreshChat(false)
		})
		a.clearNoticeAfter(5 * time.Second)

	case bus.KindChatTyping:
		change, ok := evt.Payload.(bus.TypingChange)
		if !ok || a.current == nil || change.ChatID != a.current.ChatID() {
			return
		}
		if change.UserID == a.deps.Tokens.UserID() {
			return
		}
		who := ""
		if change.Typing {
			who = change.UserName
			if who == "" {
				who = change.UserID
			}
		}
		a.app.QueueUpdateDraw(func() {
			a.msgView.SetTyping(who)
			a.refreshChat(false)
		})

	case bus.KindNotifyUpdated:
		a.app.QueueUpdateDraw(func() {
			a.refreshNotifications()
			a.statusBar.SetUnread(a.deps.Center.UnreadCount())
		})

	case bus.KindNotifyToast:
		toast, ok := evt.Payload.(bus.Toast)
		if !ok {
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.statusBar.SetNotice(toast.Title)
		})
		a.clearNoticeAfter(5 * time.Second)

	case bus.KindUINavigate:
		target, _ := evt.Payload.(string)
		a.app.QueueUpdateDraw(func() {
			a.statusBar.SetNotice("Open in the Mutamir app: " + target)
		})
		a.clearNoticeAfter(5 * time.Second)

	case bus.KindSessionStatusChanged:
		change, ok := evt.Payload.(status.Change)
		if !ok {
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.statusBar.SetStatus(string(change.To))
		})
	}
}

func (a *App) refreshChat(scrollToEnd bool) {
	s := a.current
	if s == nil {
		return
	}
	a.msgView.Update(s.Messages(), a.deps.Tokens.UserID(), scrollToEnd)
	if notice := s.Notice(); notice != "" {
		a.statusBar.SetNotice(notice)
	} else {
		a.statusBar.SetNotice("")
	}
}

func (a *App) refreshNotifications() {
	a.notifView.Update(a.deps.Center.Filtered(a.notifView.Filter()))
}

func (a *App) flash(msg string) {
	a.app.QueueUpdateDraw(func() {
		a.statusBar.SetNotice(msg)
	})
	a.clearNoticeAfter(5 * time.Second)
}

func (a *App) clearNoticeAfter(d time.Duration) {
	time.AfterFunc(d, func() {
		a.app.QueueUpdateDraw(func() {
			a.statusBar.SetNotice("")
		})
	})
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	if a.current != nil {
		a.current.Close()
	}
	a.cancel()
	a.app.Stop()
}
