package platform

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mutamirhq/mutamir/internal/session"
	"go.uber.org/zap"
)

func testTokens() session.TokenSource {
	return &session.StaticTokenSource{TokenValue: "tok-123", ID: "u-1", Name: "Me"}
}

func TestListMessagesSendsAuthAndPaging(t *testing.T) {
	var gotAuth, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode([]Message{
			{ID: "1", ChatID: "c1", Content: "salam", CreatedAt: time.Now()},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", testTokens(), zap.NewNop())
	msgs, err := c.ListMessages(context.Background(), "c1", 2, 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "salam" {
		t.Errorf("got %d messages, want 1 with content=salam", len(msgs))
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
	if !strings.Contains(gotQuery, "page=2") || !strings.Contains(gotQuery, "per_page=20") {
		t.Errorf("query = %q, want page=2 and per_page=20", gotQuery)
	}
}

func TestListMessagesMalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Object where an array is expected.
		_, _ = w.Write([]byte(`{"oops": true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", testTokens(), zap.NewNop())
	if _, err := c.ListMessages(context.Background(), "c1", 1, 20); err == nil {
		t.Error("expected error for non-array payload")
	}
}

func TestSendMessageEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["content"] != "hello" {
			t.Errorf("content = %q, want hello", body["content"])
		}
		_ = json.NewEncoder(w).Encode(sendEnvelope{
			Success: true,
			Data:    Message{ID: "42", ChatID: "c1", Content: "hello"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", testTokens(), zap.NewNop())
	msg, err := c.SendMessage(context.Background(), "c1", "hello", ContentText)
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID != "42" {
		t.Errorf("ID = %q, want 42", msg.ID)
	}
}

func TestSendMessageRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(sendEnvelope{Success: false, Message: "chat closed"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", testTokens(), zap.NewNop())
	if _, err := c.SendMessage(context.Background(), "c1", "hello", ContentText); err == nil {
		t.Error("expected error when success=false")
	}
}

func TestAPIErrorNotRetried(t *testing.T) {
	primaryCalls := 0
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		primaryCalls++
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer primary.Close()
	fallbackCalls := 0
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fallbackCalls++
	}))
	defer fallback.Close()

	c := NewClient(primary.URL, fallback.URL, testTokens(), zap.NewNop())
	err := c.MarkChatRead(context.Background(), "c1")

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusForbidden {
		t.Fatalf("error = %v, want APIError 403", err)
	}
	if primaryCalls != 1 || fallbackCalls != 0 {
		t.Errorf("calls = primary %d / fallback %d, want 1 / 0 (HTTP errors must not hit fallback)", primaryCalls, fallbackCalls)
	}
}

func TestFallbackOnTransportFailure(t *testing.T) {
	fallbackCalls := 0
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fallbackCalls++
		_ = json.NewEncoder(w).Encode(notificationsEnvelope{Data: []Notification{{ID: "n1", Title: "hi"}}})
	}))
	defer fallback.Close()

	// Primary points at a closed server.
	dead := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	c := NewClient(deadURL, fallback.URL, testTokens(), zap.NewNop())
	notifs, err := c.ListNotifications(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(notifs) != 1 || notifs[0].ID != "n1" {
		t.Errorf("got %d notifications, want 1 via fallback", len(notifs))
	}
	if fallbackCalls != 1 {
		t.Errorf("fallback calls = %d, want 1", fallbackCalls)
	}
}

func TestIDAcceptsStringAndNumber(t *testing.T) {
	tests := []struct {
		in   string
		want ID
	}{
		{`{"id": "abc"}`, "abc"},
		{`{"id": 42}`, "42"},
		{`{"id": "42"}`, "42"},
	}
	for _, tt := range tests {
		var m Message
		if err := json.Unmarshal([]byte(tt.in), &m); err != nil {
			t.Fatalf("unmarshal %s: %v", tt.in, err)
		}
		if m.ID != tt.want {
			t.Errorf("ID from %s = %q, want %q", tt.in, m.ID, tt.want)
		}
	}
}
