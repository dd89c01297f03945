package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mutamirhq/mutamir/internal/session"
	"go.uber.org/zap"
)

// fallbackAttempts caps automatic retries against the fallback base URL
// after a transport-level failure on the primary.
const fallbackAttempts = 2

// APIError is a non-2xx response from the platform API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Body)
}

// Client talks to the platform REST API. All methods attach the bearer
// token supplied by the injected token source.
type Client struct {
	baseURL     string
	fallbackURL string
	httpClient  *http.Client
	tokens      session.TokenSource
	logger      *zap.Logger
}

// NewClient creates a platform API client.
func NewClient(baseURL, fallbackURL string, tokens session.TokenSource, logger *zap.Logger) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		fallbackURL: strings.TrimRight(fallbackURL, "/"),
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		tokens:      tokens,
		logger:      logger,
	}
}

// ListMessages fetches one page of a chat's history, oldest first within
// the page. A non-array payload is a hard error for the call.
func (c *Client) ListMessages(ctx context.Context, chatID string, page, perPage int) ([]Message, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))

	var msgs []Message
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/chats/%s/messages?%s", url.PathEscape(chatID), q.Encode()), nil, &msgs)
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

type sendEnvelope struct {
	Success bool    `json:"success"`
	Data    Message `json:"data"`
	Message string  `json:"message"`
}

// SendMessage posts a new message to a chat and returns the server-confirmed
// message (with its durable id).
func (c *Client) SendMessage(ctx context.Context, chatID, content, contentType string) (*Message, error) {
	body := map[string]string{
		"content":      content,
		"content_type": contentType,
	}
	var env sendEnvelope
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/chats/%s/messages", url.PathEscape(chatID)), body, &env); err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, fmt.Errorf("send rejected: %s", env.Message)
	}
	return &env.Data, nil
}

// MarkChatRead marks the entire chat read server-side. The backend contract
// is coarse-grained; there is no per-message acknowledgment.
func (c *Client) MarkChatRead(ctx context.Context, chatID string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/chats/%s/read", url.PathEscape(chatID)), nil, nil)
}

type notificationsEnvelope struct {
	Data []Notification `json:"data"`
}

// ListNotifications fetches all notifications for the current user.
func (c *Client) ListNotifications(ctx context.Context) ([]Notification, error) {
	var env notificationsEnvelope
	if err := c.do(ctx, http.MethodGet, "/notifications", nil, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// MarkNotificationRead marks one notification read server-side.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/notifications/%s/read", url.PathEscape(id)), nil, nil)
}

// MarkAllNotificationsRead marks every notification read server-side.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/notifications/mark-all-read", nil, nil)
}

// DeleteNotification deletes one notification server-side.
func (c *Client) DeleteNotification(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/notifications/%s", url.PathEscape(id)), nil, nil)
}

// Post fires an authenticated POST against an arbitrary endpoint. Used by
// notification api_call actions; the endpoint may be absolute or a path
// relative to the API base.
func (c *Client) Post(ctx context.Context, endpoint string, payload any) error {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return c.doURL(ctx, http.MethodPost, endpoint, payload, nil)
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return c.do(ctx, http.MethodPost, endpoint, payload, nil)
}

// do performs a request against the primary base URL, retrying transport
// failures against the fallback base URL. HTTP error statuses are not
// retried; they mean the backend was reached and said no.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	err := c.doURL(ctx, method, c.baseURL+path, body, out)
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) || c.fallbackURL == "" || ctx.Err() != nil {
		return err
	}

	c.logger.Warn("primary endpoint unreachable, trying fallback",
		zap.String("path", path), zap.Error(err))
	for attempt := 1; attempt <= fallbackAttempts; attempt++ {
		err = c.doURL(ctx, method, c.fallbackURL+path, body, out)
		if err == nil {
			return nil
		}
		if errors.As(err, &apiErr) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (c *Client) doURL(ctx context.Context, method, fullURL string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token, err := c.tokens.Token(); err == nil && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, fullURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("malformed response: %w", err)
	}
	return nil
}
