package sink_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/wakecmd/internal/event"
	"github.com/MrWong99/wakecmd/internal/sink"
)

// collector is a websocket server that forwards every received message and
// closes each connection after perConn messages (0 = never).
type collector struct {
	srv      *httptest.Server
	messages chan []byte
	conns    atomic.Int32
}

func newCollector(t *testing.T, perConn int) *collector {
	t.Helper()
	c := &collector{messages: make(chan []byte, 16)}
	c.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		c.conns.Add(1)
		for n := 0; perConn == 0 || n < perConn; n++ {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			c.messages <- data
		}
		conn.Close(websocket.StatusGoingAway, "rotating")
	}))
	t.Cleanup(c.srv.Close)
	return c
}

func (c *collector) url() string {
	return "ws" + strings.TrimPrefix(c.srv.URL, "http")
}

func (c *collector) next(t *testing.T) event.Event {
	t.Helper()
	select {
	case data := <-c.messages:
		ev, err := event.Unmarshal(data)
		if err != nil {
			t.Fatalf("collector received undecodable message: %v", err)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for collector")
		return nil
	}
}

func TestWebSocketSink_Streams(t *testing.T) {
	t.Parallel()
	c := newCollector(t, 0)
	s := sink.NewWebSocketSink(c.url())
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !s.Connected() {
		t.Error("Connected = false after Connect")
	}

	want := []event.Event{sampleResult(), sampleCommand()}
	for _, ev := range want {
		if err := s.Handle(ctx, ev); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}
	for _, ev := range want {
		if got := c.next(t); got.ID() != ev.ID() {
			t.Errorf("collector got %s, want %s", got.ID(), ev.ID())
		}
	}
	if n := c.conns.Load(); n != 1 {
		t.Errorf("connections = %d, want 1", n)
	}
}

func TestWebSocketSink_Reconnects(t *testing.T) {
	t.Parallel()
	c := newCollector(t, 1)
	s := sink.NewWebSocketSink(c.url(), sink.WithBackoff(time.Millisecond, 5*time.Millisecond))
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	first := sampleResult()
	if err := s.Handle(ctx, first); err != nil {
		t.Fatalf("first Handle: %v", err)
	}
	c.next(t)

	// The collector hangs up after one message. Keep sending until a message
	// gets through on a fresh connection.
	cmd := sampleCommand()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := s.Handle(ctx, cmd); err == nil {
			select {
			case data := <-c.messages:
				ev, err := event.Unmarshal(data)
				if err != nil {
					t.Fatalf("Unmarshal: %v", err)
				}
				if ev.ID() != cmd.ID() {
					t.Fatalf("collector got %s, want %s", ev.ID(), cmd.ID())
				}
				if c.conns.Load() < 2 {
					t.Errorf("connections = %d, want at least 2", c.conns.Load())
				}
				return
			case <-time.After(50 * time.Millisecond):
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("sink never reconnected")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestWebSocketSink_BackoffWhileDown(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	s := sink.NewWebSocketSink(url, sink.WithBackoff(time.Hour, time.Hour))
	ctx := context.Background()
	if err := s.Handle(ctx, sampleCommand()); err == nil || errors.Is(err, sink.ErrDisconnected) {
		t.Fatalf("first Handle = %v, want dial error", err)
	}
	if err := s.Handle(ctx, sampleCommand()); !errors.Is(err, sink.ErrDisconnected) {
		t.Errorf("second Handle = %v, want ErrDisconnected", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := s.Handle(ctx, sampleCommand()); !errors.Is(err, sink.ErrClosed) {
		t.Errorf("Handle after Close = %v, want ErrClosed", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
