package valr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"
)

// fakeExchange accepts one websocket per request and hands the server side
// of the connection to serve.
func fakeExchange(t *testing.T, serve func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(HeaderSignature) == "" || r.Header.Get(HeaderAPIKey) == "" || r.Header.Get(HeaderTimestamp) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		serve(conn, r)
	}))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

type recorder struct {
	mu     sync.Mutex
	frames []string
	states []State
}

func (r *recorder) handle(_ context.Context, msg []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, string(msg))
}

func (r *recorder) onState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) snapshot() ([]string, []State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.frames...), append([]State(nil), r.states...)
}

// go test -v --run TestStreamSessionLifecycle
func TestStreamSessionLifecycle(t *testing.T) {
	subscribed := make(chan subscribeRequest, 1)
	pinged := make(chan struct{}, 1)
	verified := make(chan bool, 1)

	server := fakeExchange(t, func(conn *websocket.Conn, r *http.Request) {
		ts := r.Header.Get(HeaderTimestamp)
		var tsMs int64
		_ = json.Unmarshal([]byte(ts), &tsMs)
		want, _ := Sign("secret", tsMs, http.MethodGet, "/ws/trade", nil)
		verified <- r.Header.Get(HeaderSignature) == want

		var sub subscribeRequest
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"AUTHENTICATED"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"SUBSCRIBED"}`))

		for {
			var msg pingRequest
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == "PING" {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"PONG"}`))
				select {
				case pinged <- struct{}{}:
				default:
				}
			}
		}
	})

	rec := &recorder{}
	session := NewStreamSession(SessionConfig{
		Name: "trade",
		URL:  wsURL(server),
		Path: "/ws/trade",
		Subscriptions: []Subscription{
			{Event: EventNewTradeBucket, Pairs: []string{"BTCZAR"}},
			{Event: EventOrderbookD10, Pairs: []string{"BTCZAR"}},
		},
		HeartbeatInterval: 50 * time.Millisecond,
		OnStateChange:     rec.onState,
	}, NewSessionFactory("key", "secret"), rec.handle, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- session.Run(ctx) }()

	if ok := <-verified; !ok {
		t.Error("handshake signature did not verify")
	}

	select {
	case sub := <-subscribed:
		if sub.Type != "SUBSCRIBE" || len(sub.Subscriptions) != 2 || sub.Subscriptions[0].Pairs[0] != "BTCZAR" {
			t.Errorf("unexpected subscribe frame: %+v", sub)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no subscribe frame received")
	}

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat received")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop after cancel")
	}

	if session.State() != StateClosed {
		t.Errorf("final state = %s, want closed", session.State())
	}

	frames, states := rec.snapshot()
	if len(frames) < 2 || frames[0] != `{"type":"AUTHENTICATED"}` {
		t.Errorf("unexpected frames: %v", frames)
	}
	want := []State{StateConnecting, StateAuthenticated, StateSubscribing, StateStreaming, StateClosed}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("state[%d] = %s, want %s", i, states[i], want[i])
		}
	}

	if err := session.Run(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("reusing a session should fail with ErrSessionClosed, got %v", err)
	}
}

// go test -v --run TestStreamSessionTransportLoss
func TestStreamSessionTransportLoss(t *testing.T) {
	server := fakeExchange(t, func(conn *websocket.Conn, r *http.Request) {
		// Account sessions subscribe to nothing, so the first frame
		// from the client would be a ping. Drop the connection instead.
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"AUTHENTICATED"}`))
	})

	session := NewStreamSession(SessionConfig{
		Name:              "account",
		URL:               wsURL(server),
		Path:              "/ws/account",
		HeartbeatInterval: time.Hour,
	}, NewSessionFactory("key", "secret"), nil, zaptest.NewLogger(t))

	err := session.Run(context.Background())
	var tErr *TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected *TransportError, got %v", err)
	}
	if tErr.Op != "read" {
		t.Errorf("op = %q, want read", tErr.Op)
	}
	if session.State() != StateFailed {
		t.Errorf("state = %s, want failed", session.State())
	}
}

// go test -v --run TestStreamSessionRejectedHandshake
func TestStreamSessionRejectedHandshake(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad signature", http.StatusUnauthorized)
	}))
	defer server.Close()

	session := NewStreamSession(SessionConfig{
		Name: "trade",
		URL:  wsURL(server),
		Path: "/ws/trade",
	}, NewSessionFactory("key", "secret"), nil, zaptest.NewLogger(t))

	err := session.Run(context.Background())
	var tErr *TransportError
	if !errors.As(err, &tErr) || tErr.Op != "dial" {
		t.Fatalf("expected dial *TransportError, got %v", err)
	}
	if session.State() != StateFailed {
		t.Errorf("state = %s, want failed", session.State())
	}
}

// go test -v --run TestStreamSessionBadKey
func TestStreamSessionBadKey(t *testing.T) {
	session := NewStreamSession(SessionConfig{Name: "trade", URL: "ws://127.0.0.1:1", Path: "/ws/trade"},
		NewSessionFactory("key", ""), nil, zaptest.NewLogger(t))

	if err := session.Run(context.Background()); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

// go test -v --run TestWriteJSONSerializesWriters
func TestWriteJSONSerializesWriters(t *testing.T) {
	const writers, perWriter = 8, 50
	received := make(chan int, 1)

	server := fakeExchange(t, func(conn *websocket.Conn, r *http.Request) {
		n := 0
		for n < writers*perWriter {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				break
			}
			if msg["type"] == "TEST" {
				n++
			}
		}
		received <- n
		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	session := NewStreamSession(SessionConfig{
		Name:              "trade",
		URL:               wsURL(server),
		Path:              "/ws/trade",
		HeartbeatInterval: 10 * time.Second,
	}, NewSessionFactory("key", "secret"), nil, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- session.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for session.State() != StateStreaming {
		if time.Now().After(deadline) {
			t.Fatal("session never reached streaming")
		}
		time.Sleep(time.Millisecond)
	}

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if err := session.WriteJSON(map[string]string{"type": "TEST"}); err != nil {
					t.Errorf("write: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	select {
	case n := <-received:
		if n != writers*perWriter {
			t.Errorf("server decoded %d frames, want %d", n, writers*perWriter)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not receive all frames")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
