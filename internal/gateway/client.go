// Package gateway maintains a single multiplexed websocket connection to the
// remote reasoning gateway: connect handshake, request/response correlation,
// timeouts, server-pushed event delivery, and reconnection with exponential
// backoff.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/matudnorthrup/openclaw-voice-sub001/internal/observe"
)

// Sentinel errors for the connection lifecycle.
var (
	ErrNotConnected     = errors.New("gateway not connected")
	ErrConnectionClosed = errors.New("gateway connection closed")
	ErrCallTimeout      = errors.New("gateway call timed out")
	ErrDestroyed        = errors.New("gateway client destroyed")
	ErrHandshakeFailed  = errors.New("gateway handshake rejected")
)

// State is the connection lifecycle stage.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingChallenge
	StateConnected
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingChallenge:
		return "awaiting-challenge"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Reconnection policy: exponential backoff starting at 1s, doubling per
// attempt, capped at 30s, abandoned after 10 consecutive failures.
const (
	reconnectBaseDelay    = 1 * time.Second
	reconnectMaxDelay     = 30 * time.Second
	maxReconnectAttempts  = 10
	defaultCallTimeout    = 10 * time.Second
	defaultEventBuffer    = 64
	protocolVersion       = 3
	dialTimeout           = 10 * time.Second
)

// backoffDelay returns the delay before reconnect attempt n (1-based):
// min(1s · 2^(n-1), 30s).
func backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := reconnectBaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= reconnectMaxDelay {
			return reconnectMaxDelay
		}
	}
	return d
}

// pendingCall correlates one outstanding RPC call. The entry is removed on
// response, timeout, or connection loss, so a late response cannot resolve it.
type pendingCall struct {
	done chan callResult
}

type callResult struct {
	payload json.RawMessage
	err     error
}

// Option configures a [Client] during construction.
type Option func(*Client)

// WithCallTimeout overrides the per-call response timeout. The default is 10s.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithScopes sets the capability scopes requested during the connect handshake.
func WithScopes(scopes []string) Option {
	return func(c *Client) {
		c.scopes = scopes
	}
}

// WithClientInfo sets the client identity advertised in the handshake.
func WithClientInfo(id, version string) Option {
	return func(c *Client) {
		c.clientID = id
		c.clientVersion = version
	}
}

// WithMetrics attaches the metrics instruments recording reconnect activity.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// Client is a persistent client-initiated connection to the gateway.
// All exported methods are safe for concurrent use.
type Client struct {
	url           string
	token         string
	clientID      string
	clientVersion string
	scopes        []string
	callTimeout   time.Duration
	metrics       *observe.Metrics

	// backoff is stubbed in tests.
	backoff func(attempt int) time.Duration

	mu             sync.Mutex
	state          State
	conn           *websocket.Conn
	pending        map[string]*pendingCall
	waiters        []chan error // Connect() callers awaiting the handshake
	connectReqID   string
	wasConnected   bool
	attempts       int
	reconnectTimer *time.Timer
	destroyed      bool

	writeMu sync.Mutex

	events chan Event
}

// New creates a Client for the gateway at url authenticating with token.
// The connection is not opened until [Client.Connect] is called.
func New(url, token string, opts ...Option) *Client {
	c := &Client{
		url:           url,
		token:         token,
		clientID:      "voice",
		clientVersion: "dev",
		scopes:        []string{"chat.read", "chat.write"},
		callTimeout:   defaultCallTimeout,
		backoff:       backoffDelay,
		pending:       make(map[string]*pendingCall),
		events:        make(chan Event, defaultEventBuffer),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Events returns the channel on which server-pushed events (other than the
// connect challenge) are delivered. Events are dropped when the subscriber
// falls behind.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Connect opens the connection if it is not already connecting or connected
// and blocks until the connect handshake completes or fails. It is
// idempotent, and an explicit call resets the consecutive-failure counter so
// a client abandoned by the reconnect policy can be resumed.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	switch c.state {
	case StateConnected:
		c.mu.Unlock()
		return nil
	case StateConnecting, StateAwaitingChallenge:
		done := make(chan error, 1)
		c.waiters = append(c.waiters, done)
		c.mu.Unlock()
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.attempts = 0
	// An explicit dial supersedes any reconnect the backoff policy has
	// scheduled; a stale timer firing later must not open a second socket.
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	done := make(chan error, 1)
	c.waiters = append(c.waiters, done)
	c.mu.Unlock()

	c.dial()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dial opens the socket and starts the read loop. Handshake completion is
// reported through the registered waiters.
func (c *Client) dial() {
	c.mu.Lock()
	if c.destroyed {
		c.failWaitersLocked(ErrDestroyed)
		c.mu.Unlock()
		return
	}
	if c.state != StateDisconnected {
		// Another dial is in flight or the connection is already up. Any
		// registered waiters are resolved by that dial's handshake.
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	cancel()
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.failWaitersLocked(fmt.Errorf("gateway: dial %s: %w", c.url, err))
		reconnect := c.wasConnected && !c.destroyed
		c.mu.Unlock()
		if reconnect {
			c.scheduleReconnect()
		}
		return
	}
	conn.SetReadLimit(1 << 22)

	c.mu.Lock()
	c.conn = conn
	c.state = StateAwaitingChallenge
	c.mu.Unlock()

	go c.readLoop(conn)
}

// readLoop owns all reads from conn and demultiplexes incoming frames into
// either a pending-call resolution (res matched by id) or a published event.
// Malformed messages are dropped without tearing down the connection.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			c.handleClose(err)
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Debug("gateway: dropping malformed frame", "err", err)
			continue
		}
		c.handleFrame(conn, f)
	}
}

func (c *Client) handleFrame(conn *websocket.Conn, f frame) {
	switch f.Type {
	case "event":
		if f.Event == challengeEvent {
			c.sendConnectRequest(conn)
			return
		}
		select {
		case c.events <- Event{Name: f.Event, Payload: f.Payload}:
		default:
			slog.Debug("gateway: event subscriber behind, dropping", "event", f.Event)
		}

	case "res":
		c.mu.Lock()
		if f.ID != "" && f.ID == c.connectReqID {
			c.connectReqID = ""
			c.mu.Unlock()
			c.finishHandshake(conn, f)
			return
		}
		pc, ok := c.pending[f.ID]
		if ok {
			delete(c.pending, f.ID)
		}
		c.mu.Unlock()
		if !ok {
			// Timed out or orphaned call; the late response is ignored.
			return
		}
		if f.OK {
			pc.done <- callResult{payload: f.body()}
		} else {
			msg := "request failed"
			if f.Error != nil && f.Error.Message != "" {
				msg = f.Error.Message
			}
			pc.done <- callResult{err: fmt.Errorf("gateway: %s", msg)}
		}

	default:
		// Unknown frame type; protocol errors keep the connection alive.
	}
}

// sendConnectRequest answers the server challenge with the connect request
// carrying protocol bounds, scopes, client identity and the bearer token.
func (c *Client) sendConnectRequest(conn *websocket.Conn) {
	id := uuid.NewString()
	c.mu.Lock()
	c.connectReqID = id
	c.mu.Unlock()

	req := frame{
		Type:   "req",
		ID:     id,
		Method: "connect",
		Params: connectParams{
			MinProtocol: protocolVersion,
			MaxProtocol: protocolVersion,
			Client: connectClient{
				ID:       c.clientID,
				Version:  c.clientVersion,
				Platform: runtime.GOOS,
				Mode:     "voice",
			},
			Role:   "operator",
			Scopes: c.scopes,
			Auth:   &connectAuth{Token: c.token},
		},
	}
	if err := c.write(conn, req); err != nil {
		slog.Warn("gateway: connect request write failed", "err", err)
		conn.Close(websocket.StatusInternalError, "connect write failed")
	}
}

// finishHandshake inspects the connect response. Success is signalled by
// ok with a recognised hello-ok payload; anything else is a handshake failure
// and the connection attempt is abandoned.
func (c *Client) finishHandshake(conn *websocket.Conn, f frame) {
	var hello helloPayload
	if f.OK {
		_ = json.Unmarshal(f.body(), &hello)
	}
	if !f.OK || hello.Type != helloOK {
		reason := "unexpected connect response"
		if f.Error != nil && f.Error.Message != "" {
			reason = f.Error.Message
		}
		slog.Warn("gateway: handshake rejected", "reason", reason)
		c.mu.Lock()
		c.failWaitersLocked(fmt.Errorf("%w: %s", ErrHandshakeFailed, reason))
		c.mu.Unlock()
		conn.Close(websocket.StatusPolicyViolation, "handshake rejected")
		return
	}

	c.mu.Lock()
	c.state = StateConnected
	c.wasConnected = true
	c.attempts = 0
	c.failWaitersLocked(nil)
	c.mu.Unlock()
	slog.Info("gateway: connected", "url", c.url)
}

// handleClose runs when the socket drops for any reason: every pending call
// is rejected, and a reconnect is scheduled if the client had previously
// connected and has not been destroyed.
func (c *Client) handleClose(cause error) {
	c.mu.Lock()
	c.conn = nil
	c.connectReqID = ""
	prevState := c.state
	c.state = StateDisconnected
	for id, pc := range c.pending {
		pc.done <- callResult{err: ErrConnectionClosed}
		delete(c.pending, id)
	}
	if prevState != StateConnected {
		// Socket closed before the handshake completed.
		c.failWaitersLocked(fmt.Errorf("gateway: closed during handshake: %w", ErrConnectionClosed))
	}
	reconnect := c.wasConnected && !c.destroyed
	c.mu.Unlock()

	slog.Warn("gateway: connection closed", "cause", cause, "state", prevState.String())
	if reconnect {
		c.scheduleReconnect()
	}
}

// scheduleReconnect arms the backoff timer for the next reconnect attempt.
// After maxReconnectAttempts consecutive failures the client gives up; an
// explicit Connect call is then required to resume.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed || c.state != StateDisconnected || c.reconnectTimer != nil {
		return
	}
	c.attempts++
	if c.attempts > maxReconnectAttempts {
		slog.Error("gateway: reconnect abandoned after max attempts",
			"attempts", maxReconnectAttempts)
		return
	}
	delay := c.backoff(c.attempts)
	if c.metrics != nil {
		c.metrics.GatewayReconnects.Add(context.Background(), 1)
	}
	slog.Info("gateway: scheduling reconnect",
		"attempt", c.attempts, "delay", delay)
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		// An explicit Connect may have raced the timer and already
		// re-established the connection; only a still-disconnected client
		// redials.
		stale := c.destroyed || c.state != StateDisconnected
		c.mu.Unlock()
		if stale {
			return
		}
		c.dial()
	})
}

// failWaitersLocked resolves all Connect waiters with err (nil for success).
// Must be called with c.mu held.
func (c *Client) failWaitersLocked(err error) {
	for _, w := range c.waiters {
		w <- err
	}
	c.waiters = nil
}

// Call issues a request and blocks until the matching response arrives, the
// call timeout fires, or ctx is cancelled. It fails immediately with
// [ErrNotConnected] when no connection is active.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return nil, ErrDestroyed
	}
	if c.state != StateConnected || c.conn == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("gateway: call %s: %w", method, ErrNotConnected)
	}
	id := uuid.NewString()
	pc := &pendingCall{done: make(chan callResult, 1)}
	c.pending[id] = pc
	conn := c.conn
	c.mu.Unlock()

	if err := c.write(conn, frame{Type: "req", ID: id, Method: method, Params: params}); err != nil {
		c.removePending(id)
		return nil, fmt.Errorf("gateway: call %s: write: %w", method, err)
	}

	timer := time.NewTimer(c.callTimeout)
	defer timer.Stop()
	select {
	case res := <-pc.done:
		return res.payload, res.err
	case <-timer.C:
		c.removePending(id)
		return nil, fmt.Errorf("gateway: call %s: %w", method, ErrCallTimeout)
	case <-ctx.Done():
		c.removePending(id)
		return nil, ctx.Err()
	}
}

func (c *Client) removePending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) write(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// Inject posts a message into the remote conversation identified by
// sessionKey and returns the new message id. Failures are swallowed into an
// empty id with a logged warning; Inject never returns an error.
func (c *Client) Inject(ctx context.Context, sessionKey, message, label string) string {
	raw, err := c.Call(ctx, "chat.inject", injectParams{
		SessionKey: sessionKey,
		Message:    message,
		Label:      label,
	})
	if err != nil {
		slog.Warn("gateway: chat.inject failed", "session_key", sessionKey, "err", err)
		return ""
	}
	var res injectResult
	if err := json.Unmarshal(raw, &res); err != nil {
		slog.Warn("gateway: chat.inject response parse failed", "err", err)
		return ""
	}
	return res.MessageID
}

// History fetches up to limit recent messages of the remote conversation.
// Failures are swallowed into a nil slice with a logged warning.
func (c *Client) History(ctx context.Context, sessionKey string, limit int) []Message {
	raw, err := c.Call(ctx, "chat.history", historyParams{
		SessionKey: sessionKey,
		Limit:      limit,
	})
	if err != nil {
		slog.Warn("gateway: chat.history failed", "session_key", sessionKey, "err", err)
		return nil
	}
	var res historyResult
	if err := json.Unmarshal(raw, &res); err != nil {
		slog.Warn("gateway: chat.history response parse failed", "err", err)
		return nil
	}
	return res.Messages
}

// Destroy is terminal: it rejects all pending calls, cancels any scheduled
// reconnect, closes the socket, and makes all subsequent Connect/Call
// invocations fail immediately.
func (c *Client) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	for id, pc := range c.pending {
		pc.done <- callResult{err: ErrDestroyed}
		delete(c.pending, id)
	}
	c.failWaitersLocked(ErrDestroyed)
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "destroyed")
	}
}
