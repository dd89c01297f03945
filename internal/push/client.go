package push

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mutamirhq/mutamir/internal/bus"
	"github.com/mutamirhq/mutamir/internal/session"
	"github.com/mutamirhq/mutamir/internal/status"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second

	// seenTTL bounds the duplicate-suppression window. A delivery id older
	// than this is treated as new; the session and center catch the rest
	// with their own id merges.
	seenTTL = 5 * time.Minute
)

// Client holds the websocket connection to the realtime gateway, resubscribes
// its channels after every reconnect, and republishes decoded events on the
// bus. It reconnects forever with capped exponential backoff until its
// context is cancelled.
type Client struct {
	url     string
	tokens  session.TokenSource
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
	seen    *cache.Cache

	mu       sync.Mutex
	conn     *websocket.Conn
	channels map[string]struct{}
}

// NewClient builds a client for the given websocket URL. The user's personal
// channel is subscribed up front; chat channels come and go with the views.
func NewClient(url string, tokens session.TokenSource, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Client {
	c := &Client{
		url:      url,
		tokens:   tokens,
		bus:      b,
		machine:  machine,
		logger:   logger,
		seen:     cache.New(seenTTL, 2*seenTTL),
		channels: make(map[string]struct{}),
	}
	if id := tokens.UserID(); id != "" {
		c.channels["user."+id] = struct{}{}
	}
	return c
}

// Subscribe adds a channel, e.g. "chat.<id>". When the connection is live the
// gateway is told immediately; otherwise the channel is picked up by the
// resubscribe on the next connect.
func (c *Client) Subscribe(channel string) {
	c.mu.Lock()
	c.channels[channel] = struct{}{}
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		c.writeFrame(frame{Event: evtSubscribe, Channel: channel})
	}
}

// Unsubscribe removes a channel.
func (c *Client) Unsubscribe(channel string) {
	c.mu.Lock()
	delete(c.channels, channel)
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		c.writeFrame(frame{Event: evtUnsubscribe, Channel: channel})
	}
}

// SignalTyping sends an outgoing typing indicator. Best effort; a dropped
// indicator is invisible next to a dropped connection.
func (c *Client) SignalTyping(chatID string, typing bool) {
	data, _ := json.Marshal(TypingChanged{ChatID: chatID, UserID: c.tokens.UserID(), UserName: c.tokens.UserName(), Typing: typing})
	c.writeFrame(frame{Event: evtTypingSignal, Channel: "chat." + chatID, Data: data})
}

// Run drives the connect/read/reconnect cycle until ctx is done. A reconnect
// request on the bus cuts the current backoff wait short.
func (c *Client) Run(ctx context.Context) error {
	reconnCh, unsub := c.bus.Subscribe(bus.KindTransportReconnect, 8)
	defer unsub()

	backoff := initialBackoff
	for {
		if err := ctx.Err(); err != nil {
			c.transition(status.Offline)
			return err
		}

		c.transition(status.Connecting)
		conn, err := c.dial(ctx)
		if err != nil {
			c.logger.Warn("gateway dial failed", zap.Error(err))
			c.bus.Emit(bus.KindTransportError, err.Error())
			c.transition(status.Reconnecting)
			if !c.wait(ctx, backoff, reconnCh) {
				c.transition(status.Offline)
				return ctx.Err()
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = initialBackoff

		c.mu.Lock()
		c.conn = conn
		channels := make([]string, 0, len(c.channels))
		for ch := range c.channels {
			channels = append(channels, ch)
		}
		c.mu.Unlock()

		c.transition(status.Live)
		c.bus.Emit(bus.KindTransportConnected, nil)
		for _, ch := range channels {
			c.writeFrame(frame{Event: evtSubscribe, Channel: ch})
		}

		err = c.readLoop(ctx, conn)
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()

		if ctx.Err() != nil {
			c.transition(status.Offline)
			return ctx.Err()
		}
		c.logger.Warn("gateway connection lost", zap.Error(err))
		c.bus.Emit(bus.KindTransportDisconnected, nil)
		c.transition(status.Reconnecting)
		if !c.wait(ctx, backoff, reconnCh) {
			c.transition(status.Offline)
			return ctx.Err()
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	token, err := c.tokens.Token()
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, header)
	return conn, err
}

// readLoop pumps incoming frames until the connection dies. A ping goroutine
// keeps the connection alive; a missed pong trips the read deadline.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		// Cancellation unblocks the pending read by closing the socket.
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-pingDone:
		}
	}()
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.mu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
				c.mu.Unlock()
				if err != nil {
					return
				}
			case <-pingDone:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatch(raw)
	}
}

// dispatch decodes one frame, drops recently seen delivery ids, and
// republishes the event on the bus.
func (c *Client) dispatch(raw []byte) {
	ev, id, err := decodeFrame(raw)
	if err != nil {
		c.logger.Warn("dropping frame", zap.Error(err))
		return
	}
	if ev == nil {
		return
	}
	if id != "" {
		if err := c.seen.Add(id, struct{}{}, cache.DefaultExpiration); err != nil {
			return // duplicate delivery
		}
	}

	switch ev := ev.(type) {
	case MessageCreated:
		c.bus.Emit(bus.KindChatMessage, &ev.Message)
	case TypingChanged:
		c.bus.Emit(bus.KindChatTyping, bus.TypingChange{
			ChatID:   ev.ChatID,
			UserID:   ev.UserID,
			UserName: ev.UserName,
			Typing:   ev.Typing,
		})
	case NotificationCreated:
		c.bus.Emit(bus.KindNotifyPush, &ev.Notification)
	}
}

func (c *Client) writeFrame(f frame) {
	c.mu.Lock()
	conn := c.conn
	if conn != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(f); err != nil {
			c.logger.Debug("frame write failed", zap.String("event", f.Event), zap.Error(err))
		}
	}
	c.mu.Unlock()
}

// wait sleeps for the backoff period. It returns early on a reconnect
// request and false once ctx is done.
func (c *Client) wait(ctx context.Context, d time.Duration, reconnCh <-chan bus.Event) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-reconnCh:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) transition(to status.State) {
	if err := c.machine.Transition(to); err != nil {
		c.logger.Debug("status transition rejected", zap.Error(err))
	}
}
