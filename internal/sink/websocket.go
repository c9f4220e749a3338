package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/wakecmd/internal/event"
)

var _ Sink = (*WebSocketSink)(nil)

// Default reconnection parameters.
const (
	defaultWSBackoff      = 1 * time.Second
	defaultWSMaxBackoff   = 30 * time.Second
	defaultWSWriteTimeout = 5 * time.Second
)

// ErrDisconnected is returned by [WebSocketSink.Handle] while the sink waits
// out its reconnection backoff. The event is not delivered.
var ErrDisconnected = errors.New("sink: websocket disconnected")

// ErrClosed is returned after [WebSocketSink.Close].
var ErrClosed = errors.New("sink: closed")

// WebSocketSink streams each event as a text message holding one JSON object
// to a remote collector.
//
// The connection is dialled lazily. When a dial or write fails the connection
// is dropped and the next attempt is delayed with exponential backoff;
// events arriving in the meantime fail fast with [ErrDisconnected] instead
// of stalling the bus worker. All methods are safe for concurrent use.
type WebSocketSink struct {
	url          string
	backoff      time.Duration
	maxBackoff   time.Duration
	writeTimeout time.Duration
	now          func() time.Time

	mu         sync.Mutex
	conn       *websocket.Conn
	retryAt    time.Time
	curBackoff time.Duration
	failures   int
	closed     bool
}

// WebSocketOption configures a [WebSocketSink].
type WebSocketOption func(*WebSocketSink)

// WithBackoff sets the initial and maximum reconnection delay. The delay
// doubles after every failed attempt. Defaults: 1s and 30s.
func WithBackoff(initial, maxDelay time.Duration) WebSocketOption {
	return func(s *WebSocketSink) {
		if initial > 0 {
			s.backoff = initial
		}
		if maxDelay > 0 {
			s.maxBackoff = maxDelay
		}
	}
}

// WithWriteTimeout bounds each dial and write. Default: 5s.
func WithWriteTimeout(d time.Duration) WebSocketOption {
	return func(s *WebSocketSink) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// NewWebSocketSink returns a sink for the collector at url (ws:// or wss://).
// No connection is made until [WebSocketSink.Connect] or the first event.
func NewWebSocketSink(url string, opts ...WebSocketOption) *WebSocketSink {
	s := &WebSocketSink{
		url:          url,
		backoff:      defaultWSBackoff,
		maxBackoff:   defaultWSMaxBackoff,
		writeTimeout: defaultWSWriteTimeout,
		now:          time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.curBackoff = s.backoff
	return s
}

// Name implements [Sink].
func (s *WebSocketSink) Name() string { return "websocket" }

// Connect dials the collector now, ignoring any pending backoff. Callers use
// it to surface a misconfigured URL at startup.
func (s *WebSocketSink) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.conn != nil {
		return nil
	}
	s.retryAt = time.Time{}
	_, err := s.connLocked(ctx)
	return err
}

// Connected reports whether a connection is currently open.
func (s *WebSocketSink) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Handle implements [Sink].
func (s *WebSocketSink) Handle(ctx context.Context, ev event.Event) error {
	data, err := event.Marshal(ev)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	conn, err := s.connLocked(ctx)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
		s.dropLocked(conn, err)
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// connLocked returns the open connection, dialling if none exists and the
// backoff has elapsed. Must hold s.mu.
func (s *WebSocketSink) connLocked(ctx context.Context) (*websocket.Conn, error) {
	if s.conn != nil {
		return s.conn, nil
	}
	if now := s.now(); now.Before(s.retryAt) {
		return nil, fmt.Errorf("%w: next attempt in %s", ErrDisconnected, s.retryAt.Sub(now).Round(time.Millisecond))
	}

	dctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dctx, s.url, nil)
	if err != nil {
		s.failures++
		s.scheduleRetryLocked()
		slog.Warn("websocket sink dial failed",
			"url", s.url,
			"attempt", s.failures,
			"backoff", s.curBackoff,
			"err", err,
		)
		return nil, fmt.Errorf("dial %s: %w", s.url, err)
	}

	// The collector never sends data; CloseRead answers pings and notices
	// when the peer closes.
	conn.CloseRead(context.Background())

	if s.failures > 0 {
		slog.Info("websocket sink reconnected", "url", s.url, "attempts", s.failures)
	}
	s.conn = conn
	s.failures = 0
	s.curBackoff = s.backoff
	s.retryAt = time.Time{}
	return conn, nil
}

// dropLocked discards a broken connection and schedules the next dial.
func (s *WebSocketSink) dropLocked(conn *websocket.Conn, cause error) {
	if s.conn == conn {
		s.conn = nil
	}
	_ = conn.CloseNow()
	s.failures++
	s.retryAt = s.now()
	slog.Warn("websocket sink connection lost", "url", s.url, "err", cause)
}

// scheduleRetryLocked delays the next dial by the current backoff and
// doubles it for the attempt after, up to the maximum.
func (s *WebSocketSink) scheduleRetryLocked() {
	s.retryAt = s.now().Add(s.curBackoff)
	s.curBackoff = min(s.curBackoff*2, s.maxBackoff)
}

// Close implements [Sink]. It closes the connection with a normal closure
// status. Safe to call multiple times.
func (s *WebSocketSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "sink closed")
}
