package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/wakecmd/internal/event"
	"github.com/MrWong99/wakecmd/internal/observe"
)

var _ Sink = (*TriggerSink)(nil)

const defaultWebhookTimeout = 5 * time.Second

// TriggerSink hands detected commands to the downstream video pipeline. For
// every [event.CommandDetected] it prints a VIDEO_PIPELINE_TRIGGER line and,
// when a webhook is configured, POSTs the event as JSON. Other event types are
// ignored.
type TriggerSink struct {
	mu      sync.Mutex
	w       io.Writer
	webhook string
	client  *http.Client
}

// TriggerOption configures a [TriggerSink].
type TriggerOption func(*TriggerSink)

// WithWebhook sets the URL that receives each command as a JSON POST.
func WithWebhook(url string) TriggerOption {
	return func(s *TriggerSink) { s.webhook = url }
}

// WithHTTPClient overrides the client used for webhook calls. The default
// client times out after 5s.
func WithHTTPClient(c *http.Client) TriggerOption {
	return func(s *TriggerSink) { s.client = c }
}

// WithTriggerOutput sets where trigger lines are printed. Default: stdout.
func WithTriggerOutput(w io.Writer) TriggerOption {
	return func(s *TriggerSink) { s.w = w }
}

// NewTriggerSink creates a trigger sink.
func NewTriggerSink(opts ...TriggerOption) *TriggerSink {
	s := &TriggerSink{
		w:      os.Stdout,
		client: &http.Client{Timeout: defaultWebhookTimeout},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Name implements [Sink].
func (s *TriggerSink) Name() string { return "trigger" }

// Handle implements [Sink].
func (s *TriggerSink) Handle(ctx context.Context, ev event.Event) error {
	cmd, ok := ev.(*event.CommandDetected)
	if !ok {
		return nil
	}

	s.mu.Lock()
	_, err := fmt.Fprintf(s.w, "VIDEO_PIPELINE_TRIGGER: utterance_id=%s command='%s'\n", cmd.UtteranceID, cmd.CommandText)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	log := observe.Logger(ctx)
	log.Info("pipeline triggered", "utterance_id", cmd.UtteranceID, "command", cmd.CommandText)

	if s.webhook == "" {
		return nil
	}
	if err := s.post(ctx, cmd); err != nil {
		return err
	}
	log.Debug("webhook delivered", "url", s.webhook, "utterance_id", cmd.UtteranceID)
	return nil
}

func (s *TriggerSink) post(ctx context.Context, cmd *event.CommandDetected) error {
	body, err := event.Marshal(cmd)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhook, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %s", resp.Status)
	}
	return nil
}

// Close implements [Sink].
func (s *TriggerSink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
