package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mutamirhq/mutamir/internal/bus"
	"github.com/mutamirhq/mutamir/internal/chat/debounce"
	"github.com/mutamirhq/mutamir/internal/platform"
	"github.com/mutamirhq/mutamir/internal/session"
	"github.com/mutamirhq/mutamir/internal/store"
	"go.uber.org/zap"
)

const (
	// PageSize is the fixed history page size.
	PageSize = 20
	// degradeThreshold is the consecutive connection-error count beyond
	// which the degraded banner and a reconnect request are raised.
	degradeThreshold = 4
	// degradeNoticeTTL is how long the degraded banner stays visible.
	degradeNoticeTTL = 5 * time.Second
	// typingIdle is the quiet period after which "typing stopped" fires.
	typingIdle = time.Second
)

var (
	// ErrSendInFlight is returned when a send is attempted while a
	// previous one has not resolved. Sends are serialized; there is no
	// internal queue.
	ErrSendInFlight = errors.New("a send is already in flight")
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("chat session is closed")
)

// Phase is the load state of the session's message list.
type Phase string

const (
	PhaseLoading     Phase = "loading"
	PhaseReady       Phase = "ready"
	PhaseLoadingMore Phase = "loading_more"
	PhaseFailed      Phase = "failed"
	PhaseClosed      Phase = "closed"
)

// MessageAPI is the REST surface the session consumes.
type MessageAPI interface {
	ListMessages(ctx context.Context, chatID string, page, perPage int) ([]platform.Message, error)
	SendMessage(ctx context.Context, chatID, content, contentType string) (*platform.Message, error)
	MarkChatRead(ctx context.Context, chatID string) error
}

// TypingSignaler carries outgoing typing indicators to the push transport.
type TypingSignaler interface {
	SignalTyping(chatID string, typing bool)
}

// Session owns the authoritative client-side view of one chat: the ordered
// message list, the optimistic-send lifecycle, the pagination cursor, and
// the connection-error counter. Push events and REST responses are merged
// idempotently by confirmed id.
type Session struct {
	mu sync.Mutex

	chatID string
	api    MessageAPI
	tokens session.TokenSource
	bus    *bus.Bus
	logger *zap.Logger
	clock  debounce.Clock
	typing TypingSignaler
	cache  *store.DB // optional offline cache, best-effort writes

	msgs        []Message
	phase       Phase
	page        int
	hasMore     bool
	atBottom    bool
	sending     bool
	loadingMore bool
	lastError   string

	// gen is bumped on Reset/Close so a stale REST response cannot
	// repopulate a list that was just cleared.
	gen int

	errCount      int
	degraded      bool
	noticeExpires time.Time
	noticeTimer   debounce.Timer

	typer *debounce.Debouncer
}

// NewSession creates a session for one chat using the wall clock.
func NewSession(chatID string, api MessageAPI, tokens session.TokenSource, b *bus.Bus, logger *zap.Logger) *Session {
	return NewSessionWithClock(chatID, api, tokens, b, logger, debounce.SystemClock())
}

// NewSessionWithClock creates a session with an explicit clock for tests.
func NewSessionWithClock(chatID string, api MessageAPI, tokens session.TokenSource, b *bus.Bus, logger *zap.Logger, clock debounce.Clock) *Session {
	s := &Session{
		chatID:   chatID,
		api:      api,
		tokens:   tokens,
		bus:      b,
		logger:   logger,
		clock:    clock,
		phase:    PhaseLoading,
		atBottom: true,
	}
	s.typer = debounce.NewWithClock(typingIdle,
		func() { s.signalTyping(true) },
		func() { s.signalTyping(false) },
		clock)
	return s
}

// SetTypingSignaler wires the outgoing typing-indicator sink.
func (s *Session) SetTypingSignaler(t TypingSignaler) {
	s.mu.Lock()
	s.typing = t
	s.mu.Unlock()
}

// SetCache wires the optional offline cache.
func (s *Session) SetCache(db *store.DB) {
	s.mu.Lock()
	s.cache = db
	s.mu.Unlock()
}

// ChatID returns the chat this session is bound to.
func (s *Session) ChatID() string { return s.chatID }

// LoadInitial fetches the first history page and replaces the message list
// wholesale. A response arriving after Reset/Close is discarded.
func (s *Session) LoadInitial(ctx context.Context) error {
	s.mu.Lock()
	if s.phase == PhaseClosed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.phase = PhaseLoading
	s.lastError = ""
	gen := s.gen
	s.mu.Unlock()

	page, err := s.api.ListMessages(ctx, s.chatID, 1, PageSize)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return nil // superseded by Reset/Close
	}
	if err != nil {
		s.phase = PhaseFailed
		s.lastError = err.Error()
		s.mu.Unlock()
		s.logger.Error("initial load failed", zap.String("chat_id", s.chatID), zap.Error(err))
		return err
	}

	s.msgs = s.msgs[:0]
	for i := range page {
		s.msgs = append(s.msgs, fromPlatform(&page[i]))
	}
	s.page = 1
	s.hasMore = len(page) >= PageSize
	s.phase = PhaseReady
	s.atBottom = true
	s.mu.Unlock()

	s.cachePage(page)
	s.bus.Emit(bus.KindChatUpdated, s.chatID)
	s.bus.Emit(bus.KindChatAutoScroll, s.chatID)
	s.maybeMarkRead(ctx)
	return nil
}

// LoadMore fetches the next (older) page and prepends it. It is a guarded
// no-op while another LoadMore is running or when no more history exists.
// The number of prepended messages is returned so the view can restore its
// scroll offset.
func (s *Session) LoadMore(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.phase != PhaseReady || !s.hasMore || s.loadingMore {
		s.mu.Unlock()
		return 0, nil
	}
	s.loadingMore = true
	s.phase = PhaseLoadingMore
	gen := s.gen
	next := s.page + 1
	s.mu.Unlock()

	page, err := s.api.ListMessages(ctx, s.chatID, next, PageSize)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return 0, nil
	}
	s.loadingMore = false
	s.phase = PhaseReady
	if err != nil {
		s.mu.Unlock()
		s.logger.Error("load more failed", zap.String("chat_id", s.chatID), zap.Error(err))
		return 0, err
	}

	prepended := 0
	older := make([]Message, 0, len(page))
	for i := range page {
		m := fromPlatform(&page[i])
		if s.indexOfLocked(m.ID) >= 0 {
			continue
		}
		older = append(older, m)
		prepended++
	}
	s.msgs = append(older, s.msgs...)
	s.page = next
	s.hasMore = len(page) >= PageSize
	s.mu.Unlock()

	s.cachePage(page)
	s.bus.Emit(bus.KindChatUpdated, s.chatID)
	return prepended, nil
}

// Retry re-runs the initial load after a failure.
func (s *Session) Retry(ctx context.Context) error {
	return s.LoadInitial(ctx)
}

// Send appends an optimistic pending message and posts it to the backend.
// Empty or whitespace-only text is a no-op. Only one send may be in flight;
// the caller retries after ErrSendInFlight. On failure the optimistic entry
// is removed and the text is published for input restore.
func (s *Session) Send(ctx context.Context, text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	s.mu.Lock()
	if s.phase == PhaseClosed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.sending {
		s.mu.Unlock()
		return ErrSendInFlight
	}
	s.sending = true
	gen := s.gen
	localID := uuid.NewString()
	optimistic := Message{
		ID:          PendingID(localID),
		SenderID:    s.tokens.UserID(),
		SenderName:  s.tokens.UserName(),
		Content:     trimmed,
		ContentType: platform.ContentText,
		CreatedAt:   s.clock.Now(),
	}
	s.msgs = append(s.msgs, optimistic)
	s.mu.Unlock()

	s.bus.Emit(bus.KindChatUpdated, s.chatID)
	s.bus.Emit(bus.KindChatAutoScroll, s.chatID)

	confirmed, err := s.api.SendMessage(ctx, s.chatID, trimmed, platform.ContentText)

	s.mu.Lock()
	s.sending = false
	if gen != s.gen {
		s.mu.Unlock()
		return nil
	}
	idx := s.indexOfLocked(PendingID(localID))
	if err != nil {
		if idx >= 0 {
			s.msgs = append(s.msgs[:idx], s.msgs[idx+1:]...)
		}
		s.mu.Unlock()
		s.logger.Error("send failed", zap.String("chat_id", s.chatID), zap.Error(err))
		s.bus.Emit(bus.KindChatSendFailed, bus.SendFailure{
			ChatID:  s.chatID,
			LocalID: localID,
			Content: trimmed,
			Err:     err.Error(),
		})
		s.bus.Emit(bus.KindChatUpdated, s.chatID)
		return err
	}

	cm := fromPlatform(confirmed)
	if dup := s.indexOfLocked(cm.ID); dup >= 0 {
		// The push echo of our own message beat the REST response; the
		// confirmed entry already exists, drop the optimistic one.
		if idx >= 0 {
			s.msgs = append(s.msgs[:idx], s.msgs[idx+1:]...)
		}
	} else if idx >= 0 {
		s.msgs[idx] = cm // replace in place, same position
	} else {
		s.insertSortedLocked(cm)
	}
	s.mu.Unlock()

	s.cacheOne(confirmed)
	s.bus.Emit(bus.KindChatUpdated, s.chatID)
	return nil
}

// ReceivePush merges a push-delivered message. Duplicate confirmed ids are
// discarded; an echo of an in-flight own send adopts the optimistic entry.
// Messages are kept sorted by creation time, so late out-of-order delivery
// is repaired rather than appended at the visual end.
func (s *Session) ReceivePush(pm *platform.Message) {
	s.mu.Lock()
	if s.phase == PhaseClosed {
		s.mu.Unlock()
		return
	}
	m := fromPlatform(pm)
	if s.indexOfLocked(m.ID) >= 0 {
		s.mu.Unlock()
		return
	}

	own := m.Own(s.tokens.UserID())
	if own {
		if idx := s.pendingIndexByContentLocked(m.Content); idx >= 0 {
			s.msgs[idx] = m
			atBottom := s.atBottom
			s.mu.Unlock()
			s.cacheOne(pm)
			s.bus.Emit(bus.KindChatUpdated, s.chatID)
			if atBottom {
				s.bus.Emit(bus.KindChatAutoScroll, s.chatID)
			}
			return
		}
	}

	s.insertSortedLocked(m)
	atBottom := s.atBottom
	s.mu.Unlock()

	s.cacheOne(pm)
	s.bus.Emit(bus.KindChatUpdated, s.chatID)
	if atBottom {
		s.bus.Emit(bus.KindChatAutoScroll, s.chatID)
	}
	if !own {
		s.bus.Emit(bus.KindChatSound, s.chatID)
		go s.maybeMarkRead(context.Background())
	}
}

// MarkAllUnreadAsRead stamps every non-own message read locally and fires
// one coarse-grained mark-read call for the whole chat. A list with no
// non-own messages is a no-op. Repeated calls converge to the same state;
// each eligible call costs exactly one REST call.
func (s *Session) MarkAllUnreadAsRead(ctx context.Context) error {
	s.mu.Lock()
	if s.phase == PhaseClosed {
		s.mu.Unlock()
		return ErrClosed
	}
	userID := s.tokens.UserID()
	eligible := false
	now := s.clock.Now()
	for i := range s.msgs {
		if s.msgs[i].Own(userID) {
			continue
		}
		eligible = true
		if s.msgs[i].ReadAt == nil {
			t := now
			s.msgs[i].ReadAt = &t
		}
	}
	s.mu.Unlock()

	if !eligible {
		return nil
	}

	if s.cache != nil {
		if err := s.cache.MarkChatRead(s.chatID, now); err != nil {
			s.logger.Warn("cache mark read failed", zap.Error(err))
		}
	}
	s.bus.Emit(bus.KindChatUpdated, s.chatID)
	if err := s.api.MarkChatRead(ctx, s.chatID); err != nil {
		// The optimistic stamp stands; the backend converges on the
		// next successful call.
		s.logger.Warn("mark chat read failed", zap.String("chat_id", s.chatID), zap.Error(err))
		return err
	}
	return nil
}

// SetTyping records a keystroke in the compose box. The first keystroke of
// a burst emits "typing started"; one second of quiet emits "typing
// stopped".
func (s *Session) SetTyping() {
	s.typer.Signal()
}

// SetAtBottom records whether the view is scrolled to the newest message.
// Auto-scroll hints are only emitted while at the bottom.
func (s *Session) SetAtBottom(atBottom bool) {
	s.mu.Lock()
	s.atBottom = atBottom
	s.mu.Unlock()
}

// HandleConnected resets the connection-error counter and clears the
// degraded flag.
func (s *Session) HandleConnected() {
	s.mu.Lock()
	s.errCount = 0
	s.degraded = false
	s.mu.Unlock()
}

// HandleConnectionError counts one disconnect/error event. Crossing the
// threshold raises the degraded banner once and requests one reconnect;
// further errors while degraded stay quiet to avoid flapping noise.
func (s *Session) HandleConnectionError() {
	s.mu.Lock()
	if s.phase == PhaseClosed {
		s.mu.Unlock()
		return
	}
	s.errCount++
	if s.errCount <= degradeThreshold || s.degraded {
		s.mu.Unlock()
		return
	}
	s.degraded = true
	s.noticeExpires = s.clock.Now().Add(degradeNoticeTTL)
	if s.noticeTimer != nil {
		s.noticeTimer.Stop()
	}
	s.noticeTimer = s.clock.AfterFunc(degradeNoticeTTL, func() {
		s.bus.Emit(bus.KindChatUpdated, s.chatID)
	})
	s.mu.Unlock()

	s.bus.Emit(bus.KindChatDegraded, s.chatID)
	s.bus.Emit(bus.KindTransportReconnect, nil)
}

// Notice returns the degraded-connection banner text, or empty once the
// auto-clear window has passed.
func (s *Session) Notice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.noticeExpires.IsZero() || s.clock.Now().After(s.noticeExpires) {
		return ""
	}
	return "connection lost, reconnecting"
}

// Reset clears the message list and cursor, discarding any in-flight
// responses. Used on chat switch before the session is replaced.
func (s *Session) Reset() {
	s.mu.Lock()
	s.gen++
	s.msgs = nil
	s.page = 0
	s.hasMore = false
	s.loadingMore = false
	s.sending = false
	s.phase = PhaseLoading
	s.mu.Unlock()
	s.typer.Flush()
}

// Close tears the session down: timers released, a final "typing stopped"
// emitted if needed, and all further operations rejected.
func (s *Session) Close() {
	s.mu.Lock()
	if s.phase == PhaseClosed {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.phase = PhaseClosed
	if s.noticeTimer != nil {
		s.noticeTimer.Stop()
	}
	s.mu.Unlock()
	s.typer.Flush()
}

// Run consumes transport and chat events from the bus until ctx is done.
// All push input flows through this single dispatch loop.
func (s *Session) Run(ctx context.Context) {
	chatCh, unsubChat := s.bus.Subscribe("chat.", 256)
	transpCh, unsubTransp := s.bus.Subscribe("transport.", 64)
	defer unsubChat()
	defer unsubTransp()

	for {
		select {
		case evt := <-chatCh:
			if evt.Kind != bus.KindChatMessage {
				continue
			}
			pm, ok := evt.Payload.(*platform.Message)
			if !ok || string(pm.ChatID) != s.chatID {
				continue
			}
			s.ReceivePush(pm)
		case evt := <-transpCh:
			switch evt.Kind {
			case bus.KindTransportConnected:
				s.HandleConnected()
			case bus.KindTransportDisconnected, bus.KindTransportError:
				s.HandleConnectionError()
			}
		case <-ctx.Done():
			return
		}
	}
}

// Messages returns a snapshot of the current ordered list.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Phase returns the current load phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// HasMore reports whether older history pages remain.
func (s *Session) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// LastError returns the failure message of the last initial load, if any.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// ErrorCount returns the current consecutive connection-error count.
func (s *Session) ErrorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errCount
}

func (s *Session) signalTyping(typing bool) {
	s.mu.Lock()
	t := s.typing
	s.mu.Unlock()
	if t != nil {
		t.SignalTyping(s.chatID, typing)
	}
	s.bus.Emit(bus.KindChatTyping, bus.TypingChange{
		ChatID: s.chatID,
		UserID: s.tokens.UserID(),
		Typing: typing,
	})
}

// indexOfLocked returns the position of the message with the given id, or -1.
func (s *Session) indexOfLocked(id MessageID) int {
	for i := range s.msgs {
		if s.msgs[i].ID == id {
			return i
		}
	}
	return -1
}

// pendingIndexByContentLocked finds an own optimistic entry matching the
// given content, for adopting a push echo that raced the REST response.
func (s *Session) pendingIndexByContentLocked(content string) int {
	for i := range s.msgs {
		if s.msgs[i].ID.Pending() && s.msgs[i].Content == content {
			return i
		}
	}
	return -1
}

// insertSortedLocked places m so the list stays ascending by CreatedAt,
// appending after equal timestamps to keep arrival order stable.
func (s *Session) insertSortedLocked(m Message) {
	i := sort.Search(len(s.msgs), func(i int) bool {
		return s.msgs[i].CreatedAt.After(m.CreatedAt)
	})
	s.msgs = append(s.msgs, Message{})
	copy(s.msgs[i+1:], s.msgs[i:])
	s.msgs[i] = m
}

// maybeMarkRead fires the coarse mark-read when the list holds at least
// one non-own message, per the mark-on-change contract.
func (s *Session) maybeMarkRead(ctx context.Context) {
	s.mu.Lock()
	userID := s.tokens.UserID()
	found := false
	for i := range s.msgs {
		if !s.msgs[i].Own(userID) {
			found = true
			break
		}
	}
	s.mu.Unlock()
	if found {
		_ = s.MarkAllUnreadAsRead(ctx)
	}
}

func (s *Session) cachePage(page []platform.Message) {
	if s.cache == nil || len(page) == 0 {
		return
	}
	if err := s.cache.UpsertMessages(page); err != nil {
		s.logger.Warn("cache write failed", zap.String("chat_id", s.chatID), zap.Error(err))
	}
}

func (s *Session) cacheOne(pm *platform.Message) {
	if s.cache == nil {
		return
	}
	if err := s.cache.UpsertMessage(pm); err != nil {
		s.logger.Warn("cache write failed", zap.String("chat_id", s.chatID), zap.Error(err))
	}
}
