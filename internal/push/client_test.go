package push

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mutamirhq/mutamir/internal/bus"
	"github.com/mutamirhq/mutamir/internal/session"
	"github.com/mutamirhq/mutamir/internal/status"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{}

// gatewayStub upgrades one connection, records the first subscribe frame,
// then plays the given frames to the client.
func gatewayStub(t *testing.T, frames []string, gotSubscribe chan<- frame, gotAuth chan<- string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gotAuth != nil {
			gotAuth <- r.Header.Get("Authorization")
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		if gotSubscribe != nil {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			gotSubscribe <- f
		}
		for _, raw := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
				return
			}
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestClient(t *testing.T, url string) (*Client, *bus.Bus) {
	t.Helper()
	b := bus.New()
	t.Cleanup(b.Close)
	tokens := &session.StaticTokenSource{TokenValue: "tok-123", ID: "u1", Name: "Me"}
	c := NewClient(url, tokens, b, status.NewMachine(b), zap.NewNop())
	return c, b
}

func TestRunDeliversMessageFrames(t *testing.T) {
	msgFrame := `{"event": "message.created", "channel": "chat.c1", "id": "d-1",
		"data": {"id": 7, "chat_id": "c1", "sender_id": "u2", "content": "ahlan", "content_type": "text", "created_at": "2026-02-01T10:00:00Z"}}`

	gotSubscribe := make(chan frame, 1)
	gotAuth := make(chan string, 1)
	srv := gatewayStub(t, []string{msgFrame}, gotSubscribe, gotAuth)
	defer srv.Close()

	c, b := newTestClient(t, wsURL(srv))
	msgCh, unsub := b.Subscribe("chat.message", 8)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	select {
	case auth := <-gotAuth:
		if auth != "Bearer tok-123" {
			t.Errorf("expected bearer auth, got %q", auth)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client never dialed")
	}

	select {
	case f := <-gotSubscribe:
		if f.Event != evtSubscribe || f.Channel != "user.u1" {
			t.Errorf("expected user channel subscription, got %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client never subscribed")
	}

	select {
	case evt := <-msgCh:
		if evt.Kind != bus.KindChatMessage {
			t.Fatalf("unexpected kind %s", evt.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message frame never reached the bus")
	}
}

func TestDispatchSuppressesDuplicateDeliveries(t *testing.T) {
	c, b := newTestClient(t, "ws://unused")
	msgCh, unsub := b.Subscribe("chat.message", 8)
	defer unsub()

	raw := []byte(`{"event": "message.created", "id": "d-9",
		"data": {"id": 9, "chat_id": "c1", "sender_id": "u2", "content": "x", "content_type": "text", "created_at": "2026-02-01T10:00:00Z"}}`)
	c.dispatch(raw)
	c.dispatch(raw)

	select {
	case <-msgCh:
	case <-time.After(time.Second):
		t.Fatal("first delivery must pass")
	}
	select {
	case <-msgCh:
		t.Fatal("duplicate delivery must be suppressed")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatchPublishesTypingAndNotifications(t *testing.T) {
	c, b := newTestClient(t, "ws://unused")
	typCh, unsubT := b.Subscribe("chat.typing", 8)
	defer unsubT()
	pushCh, unsubP := b.Subscribe("notify.push", 8)
	defer unsubP()

	c.dispatch([]byte(`{"event": "typing.changed", "data": {"chat_id": "c1", "user_id": "u2", "typing": true}}`))
	select {
	case evt := <-typCh:
		tc, ok := evt.Payload.(bus.TypingChange)
		if !ok || tc.ChatID != "c1" || !tc.Typing {
			t.Fatalf("unexpected typing payload %+v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("typing frame never reached the bus")
	}

	c.dispatch([]byte(`{"event": "notification.created", "id": "d-2",
		"data": {"id": "n5", "title": "t", "body": "b", "type": "system_announcement", "priority": "normal", "created_at": "2026-02-01T10:00:00Z"}}`))
	select {
	case <-pushCh:
	case <-time.After(time.Second):
		t.Fatal("notification frame never reached the bus")
	}
}

func TestSubscribeBeforeConnectIsQueued(t *testing.T) {
	c, _ := newTestClient(t, "ws://unused")
	c.Subscribe("chat.c1")
	c.mu.Lock()
	_, ok := c.channels["chat.c1"]
	c.mu.Unlock()
	if !ok {
		t.Fatal("channel must be remembered for the next connect")
	}
	c.Unsubscribe("chat.c1")
	c.mu.Lock()
	_, ok = c.channels["chat.c1"]
	c.mu.Unlock()
	if ok {
		t.Fatal("channel must be forgotten")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	srv := gatewayStub(t, nil, nil, nil)
	defer srv.Close()

	c, _ := newTestClient(t, wsURL(srv))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
	if got := c.machine.Current(); got != status.Offline {
		t.Fatalf("expected OFFLINE after shutdown, got %s", got)
	}
}
