package valr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const writeTimeout = 5 * time.Second

// State is a StreamSession lifecycle stage. Closed and Failed are terminal.
type State int32

const (
	stateIdle State = iota - 1
	StateConnecting
	StateAuthenticated
	StateSubscribing
	StateStreaming
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// Subscription declares one event channel in a SUBSCRIBE frame.
type Subscription struct {
	Event string   `json:"event"`
	Pairs []string `json:"pairs,omitempty"`
}

type subscribeRequest struct {
	Type          string         `json:"type"`
	Subscriptions []Subscription `json:"subscriptions"`
}

type pingRequest struct {
	Type string `json:"type"`
}

// MessageHandler receives every inbound text frame. It runs on the read
// goroutine, so it must not block for long.
type MessageHandler func(ctx context.Context, msg []byte)

type SessionConfig struct {
	Name                 string // "trade" or "account", used in logs
	URL                  string // e.g. wss://api.valr.com
	Path                 string // e.g. /ws/trade, also the signed path
	Subscriptions        []Subscription
	HandshakeTimeout     time.Duration
	HeartbeatInterval    time.Duration
	MaxHeartbeatFailures int

	// Optional observers, used for metrics.
	OnStateChange func(State)
	OnPing        func(err error)
}

// StreamSession owns one authenticated websocket connection. It is single
// use: once Run returns the session is Closed or Failed and a new session
// must be created to connect again.
type StreamSession struct {
	cfg     SessionConfig
	factory *SessionFactory
	handler MessageHandler
	logger  *zap.Logger
	id      string

	state atomic.Int32
	ran   atomic.Bool

	writeMu sync.Mutex
	conn    *websocket.Conn
	closed  bool
}

func NewStreamSession(cfg SessionConfig, factory *SessionFactory, handler MessageHandler, logger *zap.Logger) *StreamSession {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	id := uuid.NewString()
	s := &StreamSession{
		cfg:     cfg,
		factory: factory,
		handler: handler,
		logger:  logger.With(zap.String("session", cfg.Name), zap.String("session_id", id)),
		id:      id,
	}
	s.state.Store(int32(stateIdle))
	return s
}

func (s *StreamSession) ID() string { return s.id }

func (s *StreamSession) State() State {
	return State(s.state.Load())
}

func (s *StreamSession) setState(next State) {
	prev := State(s.state.Swap(int32(next)))
	if prev == next {
		return
	}
	s.logger.Info("session state changed", zap.Stringer("from", prev), zap.Stringer("to", next))
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(next)
	}
}

// Run connects, subscribes and streams until ctx is cancelled (returns nil,
// state Closed) or the transport fails (returns the error, state Failed).
func (s *StreamSession) Run(ctx context.Context) error {
	if !s.ran.CompareAndSwap(false, true) {
		return fmt.Errorf("session %s already used: %w", s.cfg.Name, ErrSessionClosed)
	}
	s.setState(StateConnecting)

	header, err := s.factory.StreamHeader(s.cfg.Path)
	if err != nil {
		s.setState(StateFailed)
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, s.cfg.URL+s.cfg.Path, header)
	if err != nil {
		if ctx.Err() != nil {
			s.setState(StateClosed)
			return nil
		}
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		s.setState(StateFailed)
		return &TransportError{Op: "dial", Err: err}
	}

	s.writeMu.Lock()
	s.conn = conn
	s.writeMu.Unlock()
	// The exchange rejects bad signatures at the handshake.
	s.setState(StateAuthenticated)

	s.setState(StateSubscribing)
	if len(s.cfg.Subscriptions) > 0 {
		req := subscribeRequest{Type: typeSubscribe, Subscriptions: s.cfg.Subscriptions}
		if err := s.WriteJSON(req); err != nil {
			s.shutdown()
			s.setState(StateFailed)
			return &TransportError{Op: "subscribe", Err: err}
		}
		s.logger.Info("subscription sent", zap.Int("channels", len(s.cfg.Subscriptions)))
	}

	s.setState(StateStreaming)

	g, gctx := errgroup.WithContext(ctx)
	hb := &Heartbeat{
		Interval:    s.cfg.HeartbeatInterval,
		MaxFailures: s.cfg.MaxHeartbeatFailures,
		Send:        func() error { return s.WriteJSON(pingRequest{Type: typePing}) },
		Logger:      s.logger,
		Observer:    s.cfg.OnPing,
	}
	g.Go(func() error { return hb.Run(gctx) })
	g.Go(func() error { return s.readLoop(gctx, conn) })
	g.Go(func() error {
		// Closing the connection is the only way to unblock ReadMessage.
		<-gctx.Done()
		s.shutdown()
		return nil
	})

	err = g.Wait()
	if ctx.Err() != nil {
		s.setState(StateClosed)
		return nil
	}
	s.setState(StateFailed)
	if err == nil {
		err = &TransportError{Op: "read", Err: errors.New("stream ended")}
	}
	return err
}

func (s *StreamSession) readLoop(ctx context.Context, conn *websocket.Conn) error {
	readTimeout := s.cfg.HeartbeatInterval * 5 / 2
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("websocket read error", zap.Error(err))
			return &TransportError{Op: "read", Err: err}
		}
		if msgType != websocket.TextMessage {
			s.logger.Warn("ignoring non-text frame", zap.Int("type", msgType))
			continue
		}
		if s.handler != nil {
			s.handler(ctx, msg)
		}
	}
}

// WriteJSON sends v as one text frame. Writes from the heartbeat and any other
// caller are serialized; the connection allows one writer at a time.
func (s *StreamSession) WriteJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.conn == nil || s.closed {
		return ErrSessionClosed
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

// shutdown sends a close frame and closes the transport. Safe to call more than once.
func (s *StreamSession) shutdown() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.conn == nil || s.closed {
		return
	}
	s.closed = true
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = s.conn.Close()
}
