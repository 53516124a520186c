package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/matudnorthrup/openclaw-voice-sub001/internal/gateway"
)

// Dispatcher sends one user request to the remote reasoning service and
// returns the response text. Implementations must be safe for concurrent use;
// the orchestrator calls Dispatch from both its control goroutine and
// fire-and-forget completion goroutines.
type Dispatcher interface {
	Dispatch(ctx context.Context, sessionKey, message string) (string, error)
}

// Dispatch errors.
var (
	ErrInjectFailed = errors.New("pipeline: gateway inject failed")
	ErrNoReply      = errors.New("pipeline: no reply from gateway")
)

// chatMessageEvent is the server push announcing a new message in a remote
// conversation.
const chatMessageEvent = "chat.message"

type chatMessagePayload struct {
	SessionKey string `json:"sessionKey"`
	Role       string `json:"role"`
	Content    string `json:"content"`
}

// gatewayConn is the slice of the gateway client the dispatcher needs.
type gatewayConn interface {
	Inject(ctx context.Context, sessionKey, message, label string) string
	History(ctx context.Context, sessionKey string, limit int) []gateway.Message
	Events() <-chan gateway.Event
}

// DispatcherOption configures a GatewayDispatcher.
type DispatcherOption func(*GatewayDispatcher)

// WithReplyTimeout bounds how long Dispatch waits for the assistant reply
// after a successful inject. Defaults to 60s.
func WithReplyTimeout(d time.Duration) DispatcherOption {
	return func(g *GatewayDispatcher) {
		g.replyTimeout = d
	}
}

// WithInjectLabel sets the label attached to injected messages. Defaults to
// "voice".
func WithInjectLabel(label string) DispatcherOption {
	return func(g *GatewayDispatcher) {
		g.label = label
	}
}

// GatewayDispatcher implements Dispatcher over the gateway client. It injects
// the user message into the remote conversation, then waits for the
// assistant's reply pushed as a chat.message event for the same session key.
// If the event never arrives within the reply timeout, one history poll is
// tried before giving up, covering gateways that do not push chat events.
type GatewayDispatcher struct {
	conn         gatewayConn
	replyTimeout time.Duration
	label        string

	mu      sync.Mutex
	waiters map[string][]chan string
	started sync.Once
	done    chan struct{}
}

// NewGatewayDispatcher wraps a connected gateway client.
func NewGatewayDispatcher(conn gatewayConn, opts ...DispatcherOption) *GatewayDispatcher {
	g := &GatewayDispatcher{
		conn:         conn,
		replyTimeout: 60 * time.Second,
		label:        "voice",
		waiters:      make(map[string][]chan string),
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Close stops the event pump. Pending Dispatch calls finish via their own
// timeouts.
func (g *GatewayDispatcher) Close() {
	select {
	case <-g.done:
	default:
		close(g.done)
	}
}

// Dispatch implements Dispatcher.
func (g *GatewayDispatcher) Dispatch(ctx context.Context, sessionKey, message string) (string, error) {
	g.started.Do(func() { go g.eventPump() })

	// Register the waiter before injecting so a fast reply cannot slip past.
	replyCh := g.addWaiter(sessionKey)
	defer g.removeWaiter(sessionKey, replyCh)

	if id := g.conn.Inject(ctx, sessionKey, message, g.label); id == "" {
		return "", ErrInjectFailed
	}

	timer := time.NewTimer(g.replyTimeout)
	defer timer.Stop()

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return "", fmt.Errorf("pipeline: dispatch: %w", ctx.Err())
	case <-timer.C:
		if reply, ok := g.pollHistory(ctx, sessionKey); ok {
			return reply, nil
		}
		return "", ErrNoReply
	}
}

// eventPump fans chat.message events out to waiting Dispatch calls.
func (g *GatewayDispatcher) eventPump() {
	events := g.conn.Events()
	for {
		select {
		case <-g.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Name != chatMessageEvent {
				continue
			}
			var msg chatMessagePayload
			if err := json.Unmarshal(ev.Payload, &msg); err != nil {
				slog.Debug("pipeline: malformed chat event dropped", "error", err)
				continue
			}
			if msg.Role != "assistant" || msg.Content == "" {
				continue
			}
			g.deliver(msg.SessionKey, msg.Content)
		}
	}
}

// pollHistory fetches the most recent messages and returns the newest
// assistant reply, if any.
func (g *GatewayDispatcher) pollHistory(ctx context.Context, sessionKey string) (string, bool) {
	msgs := g.conn.History(ctx, sessionKey, 5)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "assistant" && msgs[i].Content != "" {
			return msgs[i].Content, true
		}
	}
	return "", false
}

func (g *GatewayDispatcher) addWaiter(sessionKey string) chan string {
	ch := make(chan string, 1)
	g.mu.Lock()
	g.waiters[sessionKey] = append(g.waiters[sessionKey], ch)
	g.mu.Unlock()
	return ch
}

func (g *GatewayDispatcher) removeWaiter(sessionKey string, ch chan string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	list := g.waiters[sessionKey]
	for i, c := range list {
		if c == ch {
			g.waiters[sessionKey] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(g.waiters[sessionKey]) == 0 {
		delete(g.waiters, sessionKey)
	}
}

// deliver hands the reply to the oldest waiter for the session key.
func (g *GatewayDispatcher) deliver(sessionKey, content string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	list := g.waiters[sessionKey]
	if len(list) == 0 {
		return
	}
	select {
	case list[0] <- content:
	default:
	}
}
