package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/mossy-p/signconnect/internal/models"
)

const (
	handshakeTimeout = 10 * time.Second
	keepalivePeriod  = 30 * time.Second
	writeWait        = 10 * time.Second
)

var ErrNotConnected = errors.New("not connected to relay")

// ErrAlreadyConnected is returned by a second Connect. A Client is used for
// one connection only.
var ErrAlreadyConnected = errors.New("client already connected to relay")

// Handler processes the data of one inbound event.
type Handler func(ctx context.Context, data json.RawMessage) error

// Client is a relay connection from the participant side. Inbound events are
// dispatched one at a time, in arrival order, on the read goroutine.
type Client struct {
	url    string
	token  string
	logger hclog.Logger

	mu      sync.Mutex // guards conn writes
	conn    *websocket.Conn
	started bool

	handlerMu sync.RWMutex
	handlers  map[string]Handler

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient prepares a client for the relay at url. http and https URLs are
// rewritten to ws and wss.
func NewClient(url, token string, logger hclog.Logger) *Client {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if after, ok := strings.CutPrefix(url, "http://"); ok {
		url = "ws://" + after
	} else if after, ok := strings.CutPrefix(url, "https://"); ok {
		url = "wss://" + after
	}
	return &Client{
		url:      url,
		token:    token,
		logger:   logger.Named("relay-client"),
		handlers: make(map[string]Handler),
		done:     make(chan struct{}),
	}
}

// On registers the handler for event, replacing any previous one.
func (c *Client) On(event string, h Handler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handlers[event] = h
}

// Connect dials the relay and starts the read and keepalive loops. Only a
// failed dial may be retried.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.started = true
	c.mu.Unlock()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.token)

	conn, resp, err := dialer.DialContext(ctx, c.url, headers)
	if err != nil {
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
		if resp != nil {
			return fmt.Errorf("failed to connect to relay (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("failed to connect to relay: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.mu.Unlock()

	c.logger.Info("connected", "url", c.url)
	go c.readMessages(conn)
	go c.keepalive()
	return nil
}

func (c *Client) readMessages(conn *websocket.Conn) {
	defer close(c.done)
	defer c.cancel()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("read error", "error", err)
			}
			return
		}

		var frame models.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.logger.Warn("failed to unmarshal frame", "error", err)
			continue
		}

		c.handlerMu.RLock()
		handler, ok := c.handlers[frame.Event]
		c.handlerMu.RUnlock()
		if !ok {
			c.logger.Trace("no handler", "event", frame.Event)
			continue
		}
		if err := handler(c.ctx, frame.Data); err != nil {
			c.logger.Warn("handler failed", "event", frame.Event, "error", err)
		}
	}
}

// Emit sends one event to the relay.
func (c *Client) Emit(event string, data any) error {
	frame, err := models.EncodeFrame(event, data)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", event, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("failed to send %s: %w", event, err)
	}
	return nil
}

func (c *Client) keepalive() {
	ticker := time.NewTicker(keepalivePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.conn != nil {
				if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					c.logger.Warn("ping failed", "error", err)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Done is closed once the connection to the relay is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close sends a close frame and shuts the connection down.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	err := conn.Close()
	c.logger.Info("connection closed")
	return err
}
