// Package deepgram provides a Deepgram-backed STT transcriber using the
// Deepgram streaming WebSocket API. It implements the stt.Transcriber
// interface.
//
// Each call to Transcribe opens a short-lived stream: the utterance is sent as
// binary linear16 frames, a CloseStream control message asks Deepgram to
// flush, and the finals received until the server closes the socket are
// joined into one transcript.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/MrWong99/wakecmd/pkg/audio"
	"github.com/MrWong99/wakecmd/pkg/provider/stt"
	"github.com/coder/websocket"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"

	// sendFrameMs is the amount of audio sent per binary frame.
	sendFrameMs = 100
)

// Compile-time assertion that Transcriber implements stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Option is a functional option for configuring the Deepgram Transcriber.
type Option func(*Transcriber)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(t *Transcriber) {
		t.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(t *Transcriber) {
		t.language = language
	}
}

// WithKeywords adds vocabulary hints, typically the wake word, so that it is
// recognised reliably.
func WithKeywords(keywords ...string) Option {
	return func(t *Transcriber) {
		t.keywords = append(t.keywords, keywords...)
	}
}

// WithEndpoint overrides the streaming endpoint (e.g., for a self-hosted
// Deepgram deployment or tests).
func WithEndpoint(endpoint string) Option {
	return func(t *Transcriber) {
		t.endpoint = endpoint
	}
}

// Transcriber implements stt.Transcriber backed by the Deepgram streaming API.
type Transcriber struct {
	apiKey   string
	endpoint string
	model    string
	language string
	keywords []string
}

// New creates a new Deepgram Transcriber. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	t := &Transcriber{
		apiKey:   apiKey,
		endpoint: deepgramEndpoint,
		model:    defaultModel,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for sampleRate.
func (t *Transcriber) buildURL(sampleRate int) (string, error) {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", t.model)
	q.Set("language", t.language)
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")
	for _, kw := range t.keywords {
		q.Add("keywords", kw)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Transcribe implements stt.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, samples []int16, sampleRate int) (stt.Result, error) {
	if len(samples) == 0 {
		return stt.Result{}, fmt.Errorf("deepgram: %w", stt.ErrEmptyAudio)
	}
	wsURL, err := t.buildURL(sampleRate)
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+t.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	// Reading runs concurrently so Deepgram never stalls on a full send
	// window while results are pending.
	type readResult struct {
		finals []finalResult
		err    error
	}
	done := make(chan readResult, 1)
	go func() {
		finals, err := readFinals(ctx, conn)
		done <- readResult{finals, err}
	}()

	pcm := audio.SamplesToBytes(samples)
	step := max(2, sampleRate*sendFrameMs/1000*2)
	for off := 0; off < len(pcm); off += step {
		end := min(off+step, len(pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[off:end]); err != nil {
			return stt.Result{}, fmt.Errorf("deepgram: send audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: send CloseStream: %w", err)
	}

	var rr readResult
	select {
	case rr = <-done:
	case <-ctx.Done():
		return stt.Result{}, fmt.Errorf("deepgram: %w", ctx.Err())
	}
	if rr.err != nil {
		return stt.Result{}, rr.err
	}
	conn.Close(websocket.StatusNormalClosure, "")
	return joinFinals(rr.finals), nil
}

// readFinals reads messages until the server closes the stream and returns
// the final results in arrival order.
func readFinals(ctx context.Context, conn *websocket.Conn) ([]finalResult, error) {
	var finals []finalResult
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || websocket.CloseStatus(err) == websocket.StatusGoingAway {
				return finals, nil
			}
			if len(finals) > 0 && ctx.Err() == nil {
				// The server dropped the socket after answering; keep what
				// arrived.
				return finals, nil
			}
			return nil, fmt.Errorf("deepgram: read: %w", err)
		}

		r, kind := parseDeepgramResponse(msg)
		switch kind {
		case msgFinal:
			finals = append(finals, r)
		case msgMetadata:
			// Deepgram sends Metadata as the last message after CloseStream.
			return finals, nil
		}
	}
}

// ---- response parsing ----

type msgKind int

const (
	msgIgnored msgKind = iota
	msgFinal
	msgMetadata
)

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// finalResult is one committed Deepgram result.
type finalResult struct {
	Text       string
	Confidence float64
}

// parseDeepgramResponse classifies a raw Deepgram WebSocket message. Only
// final Results with at least one alternative yield a result.
func parseDeepgramResponse(data []byte) (finalResult, msgKind) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return finalResult{}, msgIgnored
	}
	switch resp.Type {
	case "Metadata":
		return finalResult{}, msgMetadata
	case "Results":
	default:
		return finalResult{}, msgIgnored
	}
	if !resp.IsFinal || len(resp.Channel.Alternatives) == 0 {
		return finalResult{}, msgIgnored
	}
	alt := resp.Channel.Alternatives[0]
	return finalResult{Text: alt.Transcript, Confidence: alt.Confidence}, msgFinal
}

// joinFinals concatenates the non-empty final transcripts. Confidence is the
// mean over those finals, or nil when nothing was recognised.
func joinFinals(finals []finalResult) stt.Result {
	var (
		parts []string
		confs []float64
	)
	for _, f := range finals {
		text := strings.TrimSpace(f.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		confs = append(confs, f.Confidence)
	}
	return stt.Result{Text: strings.Join(parts, " "), Confidence: stt.Mean(confs)}
}
