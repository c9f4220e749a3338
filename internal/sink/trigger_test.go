package sink_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/wakecmd/internal/event"
	"github.com/MrWong99/wakecmd/internal/sink"
)

func TestTriggerSink_PrintsCommands(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	s := sink.NewTriggerSink(sink.WithTriggerOutput(&buf))

	if err := s.Handle(context.Background(), sampleResult()); err != nil {
		t.Fatalf("Handle(result): %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("transcription result produced output %q", buf.String())
	}

	if err := s.Handle(context.Background(), sampleCommand()); err != nil {
		t.Fatalf("Handle(command): %v", err)
	}
	want := "VIDEO_PIPELINE_TRIGGER: utterance_id=" + testUtterance + " command='turn on the lights'\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestTriggerSink_Webhook(t *testing.T) {
	t.Parallel()

	bodies := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		b, _ := io.ReadAll(r.Body)
		bodies <- b
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)

	s := sink.NewTriggerSink(sink.WithTriggerOutput(io.Discard), sink.WithWebhook(srv.URL), sink.WithHTTPClient(srv.Client()))
	cmd := sampleCommand()
	if err := s.Handle(context.Background(), cmd); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	ev, err := event.Unmarshal(<-bodies)
	if err != nil {
		t.Fatalf("webhook body does not decode: %v", err)
	}
	got, ok := ev.(*event.CommandDetected)
	if !ok || got.ID() != cmd.ID() || got.UtteranceID != testUtterance {
		t.Errorf("webhook received %+v", ev)
	}
}

func TestTriggerSink_WebhookStatusError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	s := sink.NewTriggerSink(sink.WithTriggerOutput(io.Discard), sink.WithWebhook(srv.URL))
	t.Cleanup(func() { _ = s.Close() })
	err := s.Handle(context.Background(), sampleCommand())
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("err = %v, want status error", err)
	}
}
