package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Conn is the subset of a websocket connection the channel needs.
// The production implementation wraps gorilla/websocket; tests inject
// in-memory fakes.
type Conn interface {
	// ReadMessage blocks until the next message arrives or the
	// connection fails.
	ReadMessage() ([]byte, error)

	// WriteMessage sends one text message.
	WriteMessage(data []byte) error

	// Close tears the connection down, unblocking ReadMessage.
	Close() error
}

// Dialer establishes a websocket connection to the given URL.
type Dialer func(wsURL string) (Conn, error)

// Handler receives one normalized event. Handlers run on the channel's
// read goroutine and should not block.
type Handler func(Event)

// Defaults for the channel's timing knobs.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultReconnectBase     = 2 * time.Second
	DefaultMaxReconnects     = 5
)

// ErrNotConnected is returned by Connect when the initial dial fails.
var ErrNotConnected = errors.New("signaling channel is not connected")

// Options tunes a Channel. Zero values select the defaults above and
// the gorilla/websocket dialer.
type Options struct {
	Dialer            Dialer
	HeartbeatInterval time.Duration
	ReconnectBase     time.Duration
	MaxReconnects     int
}

// Channel is a reconnecting signaling connection.
//
// One Channel is shared by every consumer in the process: call
// lifecycle, chat, notifications. Consumers register per-type handlers
// with Subscribe and push envelopes with Send; the channel owns the
// connection lifecycle underneath them.
type Channel struct {
	baseURL string
	dial    Dialer
	logger  *logrus.Logger

	heartbeatInterval time.Duration
	reconnectBase     time.Duration
	maxReconnects     int

	mu        sync.Mutex
	conn      Conn
	token     string
	closed    bool
	attempts  int
	connGen   uint64
	stopBeat  chan struct{}
	handlers  map[string]map[string]Handler
	exhausted bool
}

// NewChannel creates a channel for the given signaling endpoint. The
// channel stays idle until Connect is called.
func NewChannel(baseURL string, opts Options) (*Channel, error) {
	if baseURL == "" {
		return nil, errors.New("signaling URL cannot be empty")
	}
	if opts.Dialer == nil {
		opts.Dialer = gorillaDial
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = DefaultReconnectBase
	}
	if opts.MaxReconnects <= 0 {
		opts.MaxReconnects = DefaultMaxReconnects
	}
	return &Channel{
		baseURL:           baseURL,
		dial:              opts.Dialer,
		logger:            logrus.StandardLogger(),
		heartbeatInterval: opts.HeartbeatInterval,
		reconnectBase:     opts.ReconnectBase,
		maxReconnects:     opts.MaxReconnects,
		handlers:          make(map[string]map[string]Handler),
	}, nil
}

// gorillaDial is the production dialer.
func gorillaDial(wsURL string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, err
	}
	return &gorillaConn{conn: conn}, nil
}

type gorillaConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

func (g *gorillaConn) ReadMessage() ([]byte, error) {
	_, data, err := g.conn.ReadMessage()
	return data, err
}

func (g *gorillaConn) WriteMessage(data []byte) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	return g.conn.WriteMessage(websocket.TextMessage, data)
}

func (g *gorillaConn) Close() error {
	return g.conn.Close()
}

// Connect opens the connection, authenticating with the given token.
// If the channel is already connected the call is a no-op. A
// successful call resets the reconnect budget.
func (c *Channel) Connect(token string) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		c.logger.WithField("function", "Connect").Debug("Signaling channel already connected")
		return nil
	}
	c.token = token
	c.closed = false
	c.exhausted = false
	c.attempts = 0
	c.mu.Unlock()

	return c.establish(token)
}

// establish dials and, on success, starts the read and heartbeat
// goroutines for the new connection.
func (c *Channel) establish(token string) error {
	wsURL := c.endpointURL(token)

	conn, err := c.dial(wsURL)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"function": "establish",
			"error":    err.Error(),
		}).Warn("Signaling dial failed")
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	if c.conn != nil {
		// A competing connect installed a connection first; keep it
		// and drop ours.
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.attempts = 0
	c.exhausted = false
	c.connGen++
	gen := c.connGen
	stop := make(chan struct{})
	c.stopBeat = stop
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"function": "establish",
		"endpoint": c.baseURL,
	}).Info("Signaling channel connected")

	go c.readLoop(conn, gen)
	go c.heartbeatLoop(conn, stop)

	return nil
}

// endpointURL appends the auth token as a query parameter.
func (c *Channel) endpointURL(token string) string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + "?token=" + url.QueryEscape(token)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// readLoop pumps inbound messages until the connection fails, then
// hands off to the reconnect path. The generation check keeps a stale
// loop from tearing down a newer connection.
func (c *Channel) readLoop(conn Conn, gen uint64) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(gen, err)
			return
		}
		c.dispatch(data)
	}
}

// heartbeatLoop sends a ping envelope on a fixed cadence so idle
// connections survive proxy timeouts.
func (c *Channel) heartbeatLoop(conn Conn, stop chan struct{}) {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()
	ping, _ := json.Marshal(map[string]string{"type": TypePing})
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteMessage(ping); err != nil {
				c.logger.WithFields(logrus.Fields{
					"function": "heartbeatLoop",
					"error":    err.Error(),
				}).Debug("Heartbeat write failed")
				return
			}
		}
	}
}

// dispatch normalizes one inbound envelope and fans it out. Pong
// replies terminate here; malformed payloads are logged and dropped.
func (c *Channel) dispatch(data []byte) {
	event, err := ParseEvent(data)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"function": "dispatch",
			"error":    err.Error(),
		}).Warn("Dropping malformed signaling message")
		return
	}
	if event.Type == TypePong {
		return
	}

	c.mu.Lock()
	subs := c.handlers[event.Type]
	list := make([]Handler, 0, len(subs))
	for _, h := range subs {
		list = append(list, h)
	}
	c.mu.Unlock()

	if len(list) == 0 {
		c.logger.WithFields(logrus.Fields{
			"function": "dispatch",
			"type":     event.Type,
		}).Trace("No handlers for signaling message")
		return
	}
	for _, h := range list {
		h(event)
	}
}

// handleDisconnect tears down the failed connection and, unless the
// close was deliberate, starts reconnecting.
func (c *Channel) handleDisconnect(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.connGen {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	if c.stopBeat != nil {
		close(c.stopBeat)
		c.stopBeat = nil
	}
	closed := c.closed
	token := c.token
	c.mu.Unlock()

	if closed {
		return
	}

	c.logger.WithFields(logrus.Fields{
		"function": "handleDisconnect",
		"error":    cause.Error(),
	}).Warn("Signaling channel lost, reconnecting")

	go c.reconnect(token)
}

// reconnect retries with linearly growing delays until a dial succeeds
// or the attempt budget is spent. Once the budget is exhausted the
// channel goes quiet until the next explicit Connect.
func (c *Channel) reconnect(token string) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		if c.attempts >= c.maxReconnects {
			c.exhausted = true
			c.mu.Unlock()
			c.logger.WithFields(logrus.Fields{
				"function": "reconnect",
				"attempts": c.maxReconnects,
			}).Error("Signaling reconnect budget exhausted, giving up")
			return
		}
		c.attempts++
		attempt := c.attempts
		c.mu.Unlock()

		delay := time.Duration(attempt) * c.reconnectBase
		c.logger.WithFields(logrus.Fields{
			"function": "reconnect",
			"attempt":  attempt,
			"delay":    delay.String(),
		}).Info("Scheduling signaling reconnect")
		time.Sleep(delay)

		if err := c.establish(token); err == nil {
			return
		}
	}
}

// Subscribe registers a handler for one message type and returns its
// unsubscribe function. Multiple handlers per type are supported; each
// unsubscribe removes only its own handler.
func (c *Channel) Subscribe(msgType string, handler Handler) func() {
	id := uuid.New().String()

	c.mu.Lock()
	if c.handlers[msgType] == nil {
		c.handlers[msgType] = make(map[string]Handler)
	}
	c.handlers[msgType][id] = handler
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"function": "Subscribe",
		"type":     msgType,
	}).Debug("Signaling handler registered")

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[msgType], id)
	}
}

// Send pushes one envelope of the given type. The payload keys are
// merged alongside the type field. When the channel is down the
// message is logged and dropped.
func (c *Channel) Send(msgType string, payload map[string]any) {
	envelope := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		envelope[k] = v
	}
	envelope["type"] = msgType

	data, err := json.Marshal(envelope)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"function": "Send",
			"type":     msgType,
			"error":    err.Error(),
		}).Error("Failed to marshal signaling message")
		return
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		c.logger.WithFields(logrus.Fields{
			"function": "Send",
			"type":     msgType,
		}).Warn("Signaling channel closed, dropping message")
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		c.logger.WithFields(logrus.Fields{
			"function": "Send",
			"type":     msgType,
			"error":    err.Error(),
		}).Warn("Signaling write failed, dropping message")
	}
}

// Connected reports whether the channel currently holds a live
// connection.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Exhausted reports whether the reconnect budget has been spent. Only
// an explicit Connect revives an exhausted channel.
func (c *Channel) Exhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exhausted
}

// Close shuts the channel down and disables reconnection until the
// next Connect.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	if c.stopBeat != nil {
		close(c.stopBeat)
		c.stopBeat = nil
	}
	c.connGen++
	c.mu.Unlock()

	if conn != nil {
		c.logger.WithField("function", "Close").Info("Signaling channel closed")
		return conn.Close()
	}
	return nil
}
