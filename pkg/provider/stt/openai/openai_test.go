package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/MrWong99/wakecmd/pkg/provider/stt"
)

// fakeAPI records the multipart fields of every /audio/transcriptions call.
type fakeAPI struct {
	status int
	text   string

	mu     sync.Mutex
	fields map[string]string
	file   string
	calls  int
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/audio/transcriptions" {
		http.NotFound(w, r)
		return
	}
	f.mu.Lock()
	f.calls++
	if err := r.ParseMultipartForm(1 << 20); err == nil {
		f.fields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			f.fields[k] = v[0]
		}
		if fh := r.MultipartForm.File["file"]; len(fh) > 0 {
			f.file = fh[0].Filename
		}
	}
	f.mu.Unlock()

	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`{"error":{"message":"bad request"}}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"text": f.text})
}

func newFake(t *testing.T, f *fakeAPI) string {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return srv.URL + "/"
}

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New("", ""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestNew_DefaultModel(t *testing.T) {
	tr, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.ModelID() != DefaultModel {
		t.Errorf("expected default model %s, got %s", DefaultModel, tr.ModelID())
	}
}

func TestTranscribe_Success(t *testing.T) {
	fake := &fakeAPI{text: "  ai what time is it \n"}
	tr, _ := New("sk-test", "", WithBaseURL(newFake(t, fake)), WithLanguage("en"), WithMaxRetries(0))

	res, err := tr.Transcribe(context.Background(), make([]int16, 1600), 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "ai what time is it" {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Confidence != nil {
		t.Errorf("Confidence = %v, want nil", *res.Confidence)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.fields["model"] != DefaultModel {
		t.Errorf("model field = %q, want %q", fake.fields["model"], DefaultModel)
	}
	if fake.fields["language"] != "en" {
		t.Errorf("language field = %q, want en", fake.fields["language"])
	}
	if fake.file != "utterance.wav" {
		t.Errorf("file name = %q, want utterance.wav", fake.file)
	}
}

func TestTranscribe_APIError(t *testing.T) {
	fake := &fakeAPI{status: http.StatusBadRequest}
	tr, _ := New("sk-test", "", WithBaseURL(newFake(t, fake)), WithMaxRetries(0))

	if _, err := tr.Transcribe(context.Background(), make([]int16, 160), 16000); err == nil {
		t.Fatal("expected error for HTTP 400, got nil")
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.calls != 1 {
		t.Errorf("calls = %d, want 1 with retries disabled", fake.calls)
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	tr, _ := New("sk-test", "")
	if _, err := tr.Transcribe(context.Background(), nil, 16000); !errors.Is(err, stt.ErrEmptyAudio) {
		t.Errorf("err = %v, want ErrEmptyAudio", err)
	}
}
