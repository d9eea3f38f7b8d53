// Package recognition provides the persistent WebSocket client for the
// low-latency image recognition path. One goroutine reads frames and publishes
// them to per-request waiters keyed by a client-side correlation id; frames
// nobody is waiting for go to the single registered observer. Unexpected
// disconnects feed a supervised reconnect loop with capped exponential backoff.
package recognition

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// State is the connection state of the client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ErrSocketClosed is returned when an operation requires an open socket.
var ErrSocketClosed = errors.New("socket not connected")

// Observer receives connection lifecycle events and any frame not consumed by
// a pending recognition request. At most one observer is active at a time;
// registering a new one replaces the previous.
type Observer interface {
	OnMessage(text string)
	OnConnected()
	OnDisconnected(err error)
	OnReconnected()
}

// Options tunes the reconnect supervisor.
type Options struct {
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration
	ReconnectAttempts int
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
}

// DefaultOptions returns the default reconnect tuning.
func DefaultOptions() Options {
	return Options{
		ReconnectInitial:  5 * time.Second,
		ReconnectMax:      60 * time.Second,
		ReconnectAttempts: 5,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

type result struct {
	text string
	err  error
}

type waiter struct {
	action string
	ch     chan result
}

// Client is the recognition socket client. Safe for concurrent use.
type Client struct {
	url  string
	opts Options

	mu          sync.Mutex
	conn        *websocket.Conn
	state       State
	gen         int
	reconnect   bool
	cancelRetry context.CancelFunc
	observer    Observer
	waiters     map[string]*waiter
	order       []string

	writeMu sync.Mutex
}

// NewClient creates a recognition client for the given ws:// URL.
func NewClient(url string, opts Options) *Client {
	if opts.ReconnectInitial <= 0 {
		opts.ReconnectInitial = DefaultOptions().ReconnectInitial
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = DefaultOptions().ReconnectMax
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultOptions().HandshakeTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultOptions().WriteTimeout
	}
	return &Client{
		url:     url,
		opts:    opts,
		waiters: make(map[string]*waiter),
	}
}

// SetObserver registers the observer. Passing nil removes it.
func (c *Client) SetObserver(obs Observer) {
	c.mu.Lock()
	c.observer = obs
	c.mu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the socket and starts the read loop. It is a no-op when
// already connected or connecting. A Connect issued while a reconnect is
// pending cancels the pending loop first, so two sockets can never be open at
// once.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	if c.cancelRetry != nil {
		c.cancelRetry()
		c.cancelRetry = nil
	}
	c.state = StateConnecting
	c.reconnect = true
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	if !c.reconnect {
		// Disconnect raced us; drop the fresh socket.
		c.mu.Unlock()
		conn.Close()
		return ErrSocketClosed
	}
	c.conn = conn
	c.state = StateConnected
	c.gen++
	gen := c.gen
	obs := c.observer
	c.mu.Unlock()

	go c.readLoop(conn, gen)
	if obs != nil {
		obs.OnConnected()
	}
	return nil
}

// Disconnect disables auto-reconnect, cancels any pending reconnect and closes
// the socket. Pending recognition requests fail with ErrSocketClosed.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.reconnect = false
	if c.cancelRetry != nil {
		c.cancelRetry()
		c.cancelRetry = nil
	}
	conn := c.conn
	c.conn = nil
	c.gen++
	c.state = StateDisconnected
	c.failWaitersLocked(ErrSocketClosed)
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		conn.Close()
	}
}

// Send serializes v and writes it as a text frame.
func (c *Client) Send(ctx context.Context, v interface{}) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrSocketClosed
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(c.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// RecognizeImage sends the image over the socket and waits for the matching
// recognition result. The client connects on demand. The result is delivered
// exactly once; a second frame with the same correlation id falls through to
// the observer.
func (c *Client) RecognizeImage(ctx context.Context, image []byte) (string, error) {
	if c.State() != StateConnected {
		if err := c.Connect(ctx); err != nil {
			return "", err
		}
	}

	id := uuid.New().String()
	ch := c.addWaiter(id, ActionImageRecognition)
	defer c.removeWaiter(id)

	req := recognitionRequest{
		Action:    ActionImageRecognition,
		RequestID: id,
		Image:     base64.StdEncoding.EncodeToString(image),
	}
	if err := c.Send(ctx, req); err != nil {
		return "", err
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		return res.text, res.err
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	return conn, err
}

func (c *Client) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(gen, err)
			return
		}
		c.dispatch(data)
	}
}

// dispatch routes one inbound frame: to the waiter matching its correlation
// id, failing that to the first waiter matching its action, otherwise to the
// observer.
func (c *Client) dispatch(data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.notifyMessage(string(data))
		return
	}

	c.mu.Lock()
	w := c.takeWaiterLocked(msg.RequestID, msg.Action)
	c.mu.Unlock()

	if w == nil {
		c.notifyMessage(string(data))
		return
	}

	if msg.Action == ActionError {
		w.ch <- result{err: fmt.Errorf("recognition error: %s", msg.Message)}
		return
	}
	w.ch <- result{text: msg.Result}
}

// takeWaiterLocked removes and returns the waiter for a frame. Error frames
// without a correlation id go to the oldest pending waiter.
func (c *Client) takeWaiterLocked(requestID, action string) *waiter {
	if requestID != "" {
		w, ok := c.waiters[requestID]
		if !ok {
			return nil
		}
		c.dropWaiterLocked(requestID)
		return w
	}
	for _, id := range c.order {
		w := c.waiters[id]
		if action == ActionError || w.action == action {
			c.dropWaiterLocked(id)
			return w
		}
	}
	return nil
}

func (c *Client) dropWaiterLocked(id string) {
	delete(c.waiters, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Client) addWaiter(id, action string) chan result {
	ch := make(chan result, 1)
	c.mu.Lock()
	c.waiters[id] = &waiter{action: action, ch: ch}
	c.order = append(c.order, id)
	c.mu.Unlock()
	return ch
}

func (c *Client) removeWaiter(id string) {
	c.mu.Lock()
	if _, ok := c.waiters[id]; ok {
		c.dropWaiterLocked(id)
	}
	c.mu.Unlock()
}

func (c *Client) failWaitersLocked(err error) {
	for _, id := range c.order {
		c.waiters[id].ch <- result{err: err}
	}
	c.waiters = make(map[string]*waiter)
	c.order = nil
}

func (c *Client) notifyMessage(text string) {
	c.mu.Lock()
	obs := c.observer
	c.mu.Unlock()
	if obs != nil {
		obs.OnMessage(text)
	}
}

// handleReadError tears down the broken connection and, unless the client was
// disconnected on purpose, hands off to the reconnect supervisor.
func (c *Client) handleReadError(gen int, err error) {
	c.mu.Lock()
	if gen != c.gen || c.conn == nil {
		// A newer connection replaced this one already.
		c.mu.Unlock()
		return
	}
	c.conn.Close()
	c.conn = nil
	c.failWaitersLocked(fmt.Errorf("connection lost: %w", err))
	obs := c.observer

	if c.reconnect && c.opts.ReconnectAttempts > 0 {
		c.state = StateReconnecting
		ctx, cancel := context.WithCancel(context.Background())
		c.cancelRetry = cancel
		go c.superviseReconnect(ctx)
	} else {
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	if obs != nil {
		obs.OnDisconnected(err)
	}
}

// superviseReconnect retries the dial with capped exponential backoff until it
// succeeds, runs out of attempts, or is cancelled by Connect/Disconnect.
func (c *Client) superviseReconnect(ctx context.Context) {
	delay := c.opts.ReconnectInitial
	for attempt := 1; attempt <= c.opts.ReconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		log.Printf("recognition socket reconnect attempt %d/%d", attempt, c.opts.ReconnectAttempts)
		conn, err := c.dial(ctx)
		if err == nil {
			c.mu.Lock()
			select {
			case <-ctx.Done():
				c.mu.Unlock()
				conn.Close()
				return
			default:
			}
			c.conn = conn
			c.state = StateConnected
			c.gen++
			gen := c.gen
			c.cancelRetry = nil
			obs := c.observer
			c.mu.Unlock()

			go c.readLoop(conn, gen)
			if obs != nil {
				obs.OnReconnected()
			}
			return
		}

		delay *= 2
		if delay > c.opts.ReconnectMax {
			delay = c.opts.ReconnectMax
		}
	}

	log.Printf("recognition socket reconnect gave up after %d attempts", c.opts.ReconnectAttempts)
	c.mu.Lock()
	if c.state == StateReconnecting {
		c.state = StateDisconnected
		c.cancelRetry = nil
	}
	c.mu.Unlock()
}
