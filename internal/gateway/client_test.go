package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// fakeGateway is an in-process websocket server speaking the gateway frame
// protocol. handle receives each request frame after the handshake and may
// write responses via the send function.
type fakeGateway struct {
	t      *testing.T
	srv    *httptest.Server
	handle func(f frame, send func(any))
	dials  atomic.Int32
}

func newFakeGateway(t *testing.T, handle func(f frame, send func(any))) *fakeGateway {
	t.Helper()
	fg := &fakeGateway{t: t, handle: handle}
	fg.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		fg.dials.Add(1)
		defer conn.Close(websocket.StatusNormalClosure, "bye")
		ctx := r.Context()

		send := func(v any) {
			data, _ := json.Marshal(v)
			_ = conn.Write(ctx, websocket.MessageText, data)
		}

		// Challenge first, like the real gateway.
		send(frame{Type: "event", Event: challengeEvent, Payload: json.RawMessage(`{"nonce":"n1"}`)})

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var f frame
			if err := json.Unmarshal(data, &f); err != nil {
				continue
			}
			if f.Method == "connect" {
				send(frame{Type: "res", ID: f.ID, OK: true, Payload: json.RawMessage(`{"type":"hello-ok"}`)})
				continue
			}
			if fg.handle != nil {
				fg.handle(f, send)
			}
		}
	}))
	t.Cleanup(fg.srv.Close)
	return fg
}

func (fg *fakeGateway) url() string {
	return "ws" + strings.TrimPrefix(fg.srv.URL, "http")
}

// dialCount returns how many sockets the server has accepted so far.
func (fg *fakeGateway) dialCount() int {
	return int(fg.dials.Load())
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestClient_CallWhileDisconnected(t *testing.T) {
	c := New("ws://127.0.0.1:1", "tok")
	defer c.Destroy()

	_, err := c.Call(context.Background(), "chat.inject", nil)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestClient_HandshakeAndCall(t *testing.T) {
	fg := newFakeGateway(t, func(f frame, send func(any)) {
		if f.Method != "echo" {
			t.Errorf("unexpected method %q", f.Method)
		}
		send(frame{Type: "res", ID: f.ID, OK: true, Payload: json.RawMessage(`{"pong":true}`)})
	})

	c := New(fg.url(), "tok")
	defer c.Destroy()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := c.State(); got != StateConnected {
		t.Fatalf("state = %v, want connected", got)
	}

	raw, err := c.Call(ctx, "echo", map[string]any{"x": 1})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	var res struct {
		Pong bool `json:"pong"`
	}
	if err := json.Unmarshal(raw, &res); err != nil || !res.Pong {
		t.Fatalf("payload = %s, err = %v", raw, err)
	}
}

func TestClient_CallTimeoutRemovesPending(t *testing.T) {
	fg := newFakeGateway(t, func(f frame, send func(any)) {
		// Never respond.
	})

	c := New(fg.url(), "tok", WithCallTimeout(100*time.Millisecond))
	defer c.Destroy()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	_, err := c.Call(ctx, "slow", nil)
	if !errors.Is(err, ErrCallTimeout) {
		t.Fatalf("err = %v, want ErrCallTimeout", err)
	}

	c.mu.Lock()
	n := len(c.pending)
	c.mu.Unlock()
	if n != 0 {
		t.Fatalf("pending size = %d after timeout, want 0", n)
	}
}

func TestClient_CloseRejectsPendingCalls(t *testing.T) {
	closing := make(chan struct{})
	fg := newFakeGateway(t, func(f frame, send func(any)) {
		close(closing)
		// The handler returning does not close the socket; force it by
		// shutting the server side down from the test goroutine below.
	})

	c := New(fg.url(), "tok", WithCallTimeout(5*time.Second))
	defer c.Destroy()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	go func() {
		<-closing
		fg.srv.CloseClientConnections()
	}()

	_, err := c.Call(ctx, "never-answered", nil)
	if !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("err = %v, want ErrConnectionClosed", err)
	}
}

func TestClient_EventsDelivered(t *testing.T) {
	fg := newFakeGateway(t, func(f frame, send func(any)) {
		if f.Method == "poke" {
			send(frame{Type: "event", Event: "chat.message", Payload: json.RawMessage(`{"text":"hi"}`)})
			send(frame{Type: "res", ID: f.ID, OK: true})
		}
	})

	c := New(fg.url(), "tok")
	defer c.Destroy()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, err := c.Call(ctx, "poke", nil); err != nil {
		t.Fatalf("Call: %v", err)
	}

	select {
	case ev := <-c.Events():
		if ev.Name != "chat.message" {
			t.Fatalf("event = %q, want chat.message", ev.Name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
}

func TestClient_InjectSwallowsFailure(t *testing.T) {
	c := New("ws://127.0.0.1:1", "tok")
	defer c.Destroy()

	// Disconnected: Inject must not error, just return an empty id.
	if id := c.Inject(context.Background(), "agent:voice:main", "hello", ""); id != "" {
		t.Fatalf("Inject returned %q while disconnected, want empty", id)
	}
	if msgs := c.History(context.Background(), "agent:voice:main", 5); msgs != nil {
		t.Fatalf("History returned %v while disconnected, want nil", msgs)
	}
}

func TestClient_DestroyIsTerminal(t *testing.T) {
	fg := newFakeGateway(t, nil)

	c := New(fg.url(), "tok")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	c.Destroy()

	if err := c.Connect(ctx); !errors.Is(err, ErrDestroyed) {
		t.Fatalf("Connect after destroy: err = %v, want ErrDestroyed", err)
	}
	if _, err := c.Call(ctx, "x", nil); !errors.Is(err, ErrDestroyed) {
		t.Fatalf("Call after destroy: err = %v, want ErrDestroyed", err)
	}
}

func TestClient_ReconnectsAfterConnectionDrop(t *testing.T) {
	fg := newFakeGateway(t, nil)

	c := New(fg.url(), "tok")
	c.backoff = func(int) time.Duration { return 10 * time.Millisecond }
	defer c.Destroy()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	fg.srv.CloseClientConnections()

	waitFor(t, func() bool {
		return fg.dialCount() >= 2 && c.State() == StateConnected
	}, "client never redialed after the connection dropped")

	// A completed reconnect resets the consecutive-failure counter.
	c.mu.Lock()
	attempts := c.attempts
	c.mu.Unlock()
	if attempts != 0 {
		t.Fatalf("attempts = %d after successful reconnect, want 0", attempts)
	}
}

func TestClient_ReconnectAbandonedAfterMaxAttempts(t *testing.T) {
	fg := newFakeGateway(t, nil)

	c := New(fg.url(), "tok")
	c.backoff = func(int) time.Duration { return time.Millisecond }
	defer c.Destroy()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Kill the server for good so every redial fails.
	fg.srv.Close()

	waitFor(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.attempts > maxReconnectAttempts && c.reconnectTimer == nil
	}, "client never exhausted its reconnect attempts")

	if got := c.State(); got != StateDisconnected {
		t.Fatalf("state = %v after abandonment, want disconnected", got)
	}
	if _, err := c.Call(ctx, "x", nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Call after abandonment: err = %v, want ErrNotConnected", err)
	}

	// No automatic attempt 11: the counter stays put until an explicit
	// Connect resumes dialing and resets it.
	before := func() int {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.attempts
	}
	n := before()
	time.Sleep(50 * time.Millisecond)
	if got := before(); got != n {
		t.Fatalf("attempts moved from %d to %d without an explicit Connect", n, got)
	}

	cctx, ccancel := context.WithTimeout(context.Background(), time.Second)
	defer ccancel()
	err := c.Connect(cctx)
	if err == nil {
		t.Fatal("Connect to a dead server succeeded")
	}
	if errors.Is(err, ErrDestroyed) || errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Connect: err = %v, want a dial failure proving a fresh attempt", err)
	}
}

func TestClient_StaleReconnectTimerDoesNotRedial(t *testing.T) {
	fg := newFakeGateway(t, nil)

	c := New(fg.url(), "tok")
	c.backoff = func(int) time.Duration { return 100 * time.Millisecond }
	defer c.Destroy()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Drop the socket and wait for the backoff timer to be armed.
	fg.srv.CloseClientConnections()
	waitFor(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.state == StateDisconnected && c.reconnectTimer != nil
	}, "no reconnect scheduled after the connection dropped")

	// An explicit Connect beats the timer to the redial.
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("explicit Connect: %v", err)
	}
	redials := fg.dialCount()

	// Let the original timer's deadline pass; it must not open a third
	// socket or disturb the live connection.
	time.Sleep(300 * time.Millisecond)
	if got := fg.dialCount(); got != redials {
		t.Fatalf("dials = %d after the stale timer deadline, want %d", got, redials)
	}
	if got := c.State(); got != StateConnected {
		t.Fatalf("state = %v, want connected", got)
	}
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := backoffDelay(tt.attempt); got != tt.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
