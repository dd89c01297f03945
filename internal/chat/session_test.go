package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mutamirhq/mutamir/internal/bus"
	"github.com/mutamirhq/mutamir/internal/chat/debounce"
	"github.com/mutamirhq/mutamir/internal/platform"
	"github.com/mutamirhq/mutamir/internal/session"
	"go.uber.org/zap"
)

type mockAPI struct {
	mu        sync.Mutex
	pages     map[int][]platform.Message
	listErr   error
	listGate  chan struct{} // when set, ListMessages blocks until closed
	sendResp  *platform.Message
	sendErr   error
	listCalls int
	sendCalls int
	markCalls int
}

func (m *mockAPI) ListMessages(ctx context.Context, chatID string, page, perPage int) ([]platform.Message, error) {
	m.mu.Lock()
	m.listCalls++
	gate := m.listGate
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.pages[page], nil
}

func (m *mockAPI) SendMessage(ctx context.Context, chatID, content, contentType string) (*platform.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendCalls++
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	if m.sendResp != nil {
		return m.sendResp, nil
	}
	return &platform.Message{
		ID:          platform.NumericID(900),
		ChatID:      platform.ID(chatID),
		SenderID:    "me",
		Content:     content,
		ContentType: contentType,
		CreatedAt:   time.Now(),
	}, nil
}

func (m *mockAPI) MarkChatRead(ctx context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markCalls++
	return nil
}

func (m *mockAPI) markCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markCalls
}

type mockTyping struct {
	mu      sync.Mutex
	signals []bool
}

func (t *mockTyping) SignalTyping(chatID string, typing bool) {
	t.mu.Lock()
	t.signals = append(t.signals, typing)
	t.mu.Unlock()
}

func (t *mockTyping) got() []bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]bool, len(t.signals))
	copy(out, t.signals)
	return out
}

func newTestSession(t *testing.T, api *mockAPI) (*Session, *bus.Bus, *debounce.ManualClock) {
	t.Helper()
	b := bus.New()
	t.Cleanup(b.Close)
	clock := debounce.NewManualClock(time.Unix(1_700_000_000, 0))
	tokens := &session.StaticTokenSource{TokenValue: "tok", ID: "me", Name: "Me"}
	s := NewSessionWithClock("chat-1", api, tokens, b, zap.NewNop(), clock)
	t.Cleanup(s.Close)
	return s, b, clock
}

func serverMsg(id int64, sender string, offset time.Duration) platform.Message {
	return platform.Message{
		ID:          platform.NumericID(id),
		ChatID:      "chat-1",
		SenderID:    platform.ID(sender),
		Content:     "msg",
		ContentType: platform.ContentText,
		CreatedAt:   time.Unix(1_699_000_000, 0).Add(offset),
	}
}

func waitEvent(t *testing.T, ch <-chan bus.Event, kind string) bus.Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Kind == kind {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func assertNoEvent(t *testing.T, ch <-chan bus.Event, kind string) {
	t.Helper()
	timeout := time.After(50 * time.Millisecond)
	for {
		select {
		case evt := <-ch:
			if evt.Kind == kind {
				t.Fatalf("unexpected event %s", kind)
			}
		case <-timeout:
			return
		}
	}
}

func TestLoadInitialFullPageHasMore(t *testing.T) {
	page := make([]platform.Message, PageSize)
	for i := range page {
		page[i] = serverMsg(int64(i+1), "them", time.Duration(i)*time.Minute)
	}
	api := &mockAPI{pages: map[int][]platform.Message{1: page}}
	s, _, _ := newTestSession(t, api)

	if err := s.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}
	if got := len(s.Messages()); got != PageSize {
		t.Fatalf("expected %d messages, got %d", PageSize, got)
	}
	if !s.HasMore() {
		t.Fatal("full page should leave hasMore set")
	}
	if s.Phase() != PhaseReady {
		t.Fatalf("expected ready phase, got %s", s.Phase())
	}
}

func TestLoadInitialShortPageNoMore(t *testing.T) {
	api := &mockAPI{pages: map[int][]platform.Message{1: {serverMsg(1, "them", 0)}}}
	s, _, _ := newTestSession(t, api)

	if err := s.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}
	if s.HasMore() {
		t.Fatal("short page should clear hasMore")
	}
}

func TestLoadInitialFailureSetsFailedPhase(t *testing.T) {
	api := &mockAPI{listErr: errors.New("boom")}
	s, _, _ := newTestSession(t, api)

	if err := s.LoadInitial(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if s.Phase() != PhaseFailed {
		t.Fatalf("expected failed phase, got %s", s.Phase())
	}
	if s.LastError() == "" {
		t.Fatal("expected last error to be recorded")
	}

	// Retry recovers once the backend does.
	api.mu.Lock()
	api.listErr = nil
	api.pages = map[int][]platform.Message{1: {serverMsg(1, "them", 0)}}
	api.mu.Unlock()
	if err := s.Retry(context.Background()); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if s.Phase() != PhaseReady {
		t.Fatalf("expected ready after retry, got %s", s.Phase())
	}
}

func TestLoadMorePrependsOlderPage(t *testing.T) {
	first := make([]platform.Message, PageSize)
	for i := range first {
		first[i] = serverMsg(int64(100+i), "them", time.Duration(100+i)*time.Minute)
	}
	older := []platform.Message{
		serverMsg(50, "them", 50*time.Minute),
		serverMsg(51, "them", 51*time.Minute),
	}
	api := &mockAPI{pages: map[int][]platform.Message{1: first, 2: older}}
	s, _, _ := newTestSession(t, api)

	if err := s.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}
	n, err := s.LoadMore(context.Background())
	if err != nil {
		t.Fatalf("LoadMore: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 prepended, got %d", n)
	}
	msgs := s.Messages()
	if msgs[0].ID != ConfirmedID(platform.NumericID(50)) {
		t.Fatalf("older page should be prepended, head is %s", msgs[0].ID)
	}
	if s.HasMore() {
		t.Fatal("short second page should clear hasMore")
	}

	// Exhausted history makes further calls a no-op.
	before := api.listCalls
	if n, _ := s.LoadMore(context.Background()); n != 0 {
		t.Fatalf("expected no-op, prepended %d", n)
	}
	if api.listCalls != before {
		t.Fatal("no-op LoadMore must not hit the backend")
	}
}

func TestSendOptimisticThenConfirmed(t *testing.T) {
	confirmed := serverMsg(900, "me", 0)
	confirmed.Content = "salaam"
	api := &mockAPI{pages: map[int][]platform.Message{}, sendResp: &confirmed}
	s, _, _ := newTestSession(t, api)
	if err := s.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}

	if err := s.Send(context.Background(), "salaam"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msgs := s.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].ID.Pending() {
		t.Fatal("confirmed send must replace the pending id")
	}
	if msgs[0].Status() != StatusSent {
		t.Fatalf("expected sent status, got %s", msgs[0].Status())
	}
}

func TestSendWhitespaceIsNoop(t *testing.T) {
	api := &mockAPI{pages: map[int][]platform.Message{}}
	s, _, _ := newTestSession(t, api)
	_ = s.LoadInitial(context.Background())

	if err := s.Send(context.Background(), "   \n\t"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if api.sendCalls != 0 {
		t.Fatal("whitespace-only send must not hit the backend")
	}
	if len(s.Messages()) != 0 {
		t.Fatal("whitespace-only send must not append")
	}
}

func TestSendFailureRollsBackAndRestoresContent(t *testing.T) {
	api := &mockAPI{pages: map[int][]platform.Message{}, sendErr: errors.New("gateway timeout")}
	s, b, _ := newTestSession(t, api)
	_ = s.LoadInitial(context.Background())

	ch, unsub := b.Subscribe("chat.send_failed", 8)
	defer unsub()

	if err := s.Send(context.Background(), "salaam"); err == nil {
		t.Fatal("expected send error")
	}
	if len(s.Messages()) != 0 {
		t.Fatal("failed send must remove the optimistic entry")
	}
	evt := waitEvent(t, ch, bus.KindChatSendFailed)
	failure, ok := evt.Payload.(bus.SendFailure)
	if !ok {
		t.Fatalf("unexpected payload %T", evt.Payload)
	}
	if failure.Content != "salaam" {
		t.Fatalf("expected content for input restore, got %q", failure.Content)
	}
}

func TestPushDuplicateDiscarded(t *testing.T) {
	api := &mockAPI{pages: map[int][]platform.Message{1: {serverMsg(1, "them", 0)}}}
	s, _, _ := newTestSession(t, api)
	_ = s.LoadInitial(context.Background())

	dup := serverMsg(1, "them", 0)
	s.ReceivePush(&dup)
	s.ReceivePush(&dup)
	if got := len(s.Messages()); got != 1 {
		t.Fatalf("duplicate push must be discarded, got %d messages", got)
	}
}

func TestPushEchoAdoptsPendingEntry(t *testing.T) {
	echo := serverMsg(900, "me", time.Hour)
	echo.Content = "salaam"
	api := &mockAPI{pages: map[int][]platform.Message{}, sendResp: &echo}
	s, _, _ := newTestSession(t, api)
	_ = s.LoadInitial(context.Background())

	if err := s.Send(context.Background(), "salaam"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	// The push echo arrives after the REST response confirmed the id.
	s.ReceivePush(&echo)
	msgs := s.Messages()
	if len(msgs) != 1 {
		t.Fatalf("echo must not duplicate, got %d messages", len(msgs))
	}
	if msgs[0].ID != ConfirmedID(platform.NumericID(900)) {
		t.Fatalf("expected confirmed id, got %s", msgs[0].ID)
	}
}

func TestPushOutOfOrderInsertsSorted(t *testing.T) {
	api := &mockAPI{pages: map[int][]platform.Message{1: {
		serverMsg(10, "them", 10*time.Minute),
		serverMsg(30, "them", 30*time.Minute),
	}}}
	s, _, _ := newTestSession(t, api)
	_ = s.LoadInitial(context.Background())

	late := serverMsg(20, "them", 20*time.Minute)
	s.ReceivePush(&late)

	msgs := s.Messages()
	want := []MessageID{
		ConfirmedID(platform.NumericID(10)),
		ConfirmedID(platform.NumericID(20)),
		ConfirmedID(platform.NumericID(30)),
	}
	for i, id := range want {
		if msgs[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, msgs[i].ID)
		}
	}
}

func TestPushFromOthersEmitsSound(t *testing.T) {
	api := &mockAPI{pages: map[int][]platform.Message{}}
	s, b, _ := newTestSession(t, api)
	_ = s.LoadInitial(context.Background())

	ch, unsub := b.Subscribe("chat.sound", 8)
	defer unsub()

	theirs := serverMsg(5, "them", time.Minute)
	s.ReceivePush(&theirs)
	waitEvent(t, ch, bus.KindChatSound)

	mine := serverMsg(6, "me", 2*time.Minute)
	s.ReceivePush(&mine)
	assertNoEvent(t, ch, bus.KindChatSound)
}

func TestMarkReadOneCallPerInvocation(t *testing.T) {
	api := &mockAPI{pages: map[int][]platform.Message{1: {
		serverMsg(1, "them", 0),
		serverMsg(2, "them", time.Minute),
		serverMsg(3, "me", 2*time.Minute),
	}}}
	s, _, _ := newTestSession(t, api)
	_ = s.LoadInitial(context.Background()) // load itself triggers one mark-read

	base := api.markCount()
	if err := s.MarkAllUnreadAsRead(context.Background()); err != nil {
		t.Fatalf("MarkAllUnreadAsRead: %v", err)
	}
	if got := api.markCount() - base; got != 1 {
		t.Fatalf("expected exactly 1 call, got %d", got)
	}
	for _, m := range s.Messages() {
		if m.SenderID != "me" && m.ReadAt == nil {
			t.Fatalf("message %s should be stamped read", m.ID)
		}
	}
}

func TestMarkReadNoopWithoutForeignMessages(t *testing.T) {
	api := &mockAPI{pages: map[int][]platform.Message{1: {serverMsg(1, "me", 0)}}}
	s, _, _ := newTestSession(t, api)
	_ = s.LoadInitial(context.Background())

	if err := s.MarkAllUnreadAsRead(context.Background()); err != nil {
		t.Fatalf("MarkAllUnreadAsRead: %v", err)
	}
	if api.markCount() != 0 {
		t.Fatal("list with only own messages must not hit the backend")
	}
}

func TestTypingBurstSignalsStartThenStop(t *testing.T) {
	api := &mockAPI{pages: map[int][]platform.Message{}}
	s, _, clock := newTestSession(t, api)
	typer := &mockTyping{}
	s.SetTypingSignaler(typer)

	s.SetTyping()
	clock.Advance(300 * time.Millisecond)
	s.SetTyping()
	clock.Advance(300 * time.Millisecond)
	s.SetTyping()

	if got := typer.got(); len(got) != 1 || !got[0] {
		t.Fatalf("burst should emit one start, got %v", got)
	}

	clock.Advance(time.Second)
	if got := typer.got(); len(got) != 2 || got[1] {
		t.Fatalf("quiet second should emit stop, got %v", got)
	}
}

func TestConnectionErrorThreshold(t *testing.T) {
	api := &mockAPI{pages: map[int][]platform.Message{}}
	s, b, clock := newTestSession(t, api)

	degradedCh, unsubD := b.Subscribe("chat.degraded", 8)
	defer unsubD()
	reconnCh, unsubR := b.Subscribe("transport.reconnect_requested", 8)
	defer unsubR()

	for i := 0; i < degradeThreshold; i++ {
		s.HandleConnectionError()
	}
	assertNoEvent(t, degradedCh, bus.KindChatDegraded)

	s.HandleConnectionError()
	waitEvent(t, degradedCh, bus.KindChatDegraded)
	waitEvent(t, reconnCh, bus.KindTransportReconnect)
	if s.Notice() == "" {
		t.Fatal("expected degraded notice")
	}

	// Further errors while degraded stay quiet.
	s.HandleConnectionError()
	assertNoEvent(t, degradedCh, bus.KindChatDegraded)

	// The notice clears itself after the display window.
	clock.Advance(degradeNoticeTTL + time.Millisecond)
	if s.Notice() != "" {
		t.Fatal("notice should auto-clear")
	}

	// A successful reconnect resets the counter; the threshold applies anew.
	s.HandleConnected()
	if s.ErrorCount() != 0 {
		t.Fatalf("expected reset counter, got %d", s.ErrorCount())
	}
	s.HandleConnectionError()
	assertNoEvent(t, degradedCh, bus.KindChatDegraded)
}

func TestResetDiscardsStaleResponse(t *testing.T) {
	gate := make(chan struct{})
	api := &mockAPI{
		pages:    map[int][]platform.Message{1: {serverMsg(1, "them", 0)}},
		listGate: gate,
	}
	s, _, _ := newTestSession(t, api)

	done := make(chan error, 1)
	go func() { done <- s.LoadInitial(context.Background()) }()

	// Switch away while the fetch is mid-flight.
	for {
		api.mu.Lock()
		started := api.listCalls > 0
		api.mu.Unlock()
		if started {
			break
		}
		time.Sleep(time.Millisecond)
	}
	s.Reset()
	close(gate)

	if err := <-done; err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}
	if got := len(s.Messages()); got != 0 {
		t.Fatalf("stale response must be discarded, got %d messages", got)
	}
}

func TestRunDispatchesBusEvents(t *testing.T) {
	api := &mockAPI{pages: map[int][]platform.Message{}}
	s, b, _ := newTestSession(t, api)
	_ = s.LoadInitial(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	msg := serverMsg(7, "them", time.Minute)
	b.Emit(bus.KindChatMessage, &msg)

	deadline := time.After(time.Second)
	for len(s.Messages()) == 0 {
		select {
		case <-deadline:
			t.Fatal("pushed message never reached the session")
		case <-time.After(5 * time.Millisecond):
		}
	}

	other := serverMsg(8, "them", 2*time.Minute)
	other.ChatID = "chat-2"
	b.Emit(bus.KindChatMessage, &other)
	time.Sleep(20 * time.Millisecond)
	if got := len(s.Messages()); got != 1 {
		t.Fatalf("foreign chat message must be ignored, got %d", got)
	}
}

func TestSendInFlightGuard(t *testing.T) {
	api := &mockAPI{pages: map[int][]platform.Message{}}
	s, _, _ := newTestSession(t, api)
	_ = s.LoadInitial(context.Background())

	s.mu.Lock()
	s.sending = true
	s.mu.Unlock()
	if err := s.Send(context.Background(), "hello"); !errors.Is(err, ErrSendInFlight) {
		t.Fatalf("expected ErrSendInFlight, got %v", err)
	}
}
