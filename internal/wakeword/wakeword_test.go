package wakeword_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/MrWong99/wakecmd/internal/wakeword"
)

func mustNew(t *testing.T, token string, opts ...wakeword.Option) *wakeword.Extractor {
	t.Helper()
	e, err := wakeword.New(token, opts...)
	if err != nil {
		t.Fatalf("New(%q): %v", token, err)
	}
	return e
}

func TestDetect_DefaultToken(t *testing.T) {
	t.Parallel()
	e := mustNew(t, "ai")

	tests := []struct {
		transcript  string
		wantMatch   bool
		wantWake    string
		wantCommand string
	}{
		{"ai turn on the lights", true, "ai", "turn on the lights"},
		{"AI what time is it", true, "AI", "what time is it"},
		{"hey ai play some music", true, "ai", "play some music"},
		{"ai, what is the weather like", true, "ai", "what is the weather like"},
		{"artificial intelligence is cool", false, "", ""},
		{"I like ai", false, "", ""},
		{"ai", false, "", ""},
		{"", false, "", ""},
		{"hello world", false, "", ""},
		{"said the fair maiden", false, "", ""},
		{"ai ...   ", false, "", ""},
		{"Ai:   open   the\tdoor!!", true, "Ai", "open the door"},
		{"ok ai; lock up. ai, again?", true, "ai", "lock up. ai, again"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.transcript), func(t *testing.T) {
			m, ok := e.Detect(tt.transcript)
			if ok != tt.wantMatch {
				t.Fatalf("Detect ok = %v, want %v (match %+v)", ok, tt.wantMatch, m)
			}
			if !ok {
				return
			}
			if m.WakeWord != tt.wantWake {
				t.Errorf("WakeWord = %q, want %q", m.WakeWord, tt.wantWake)
			}
			if m.Command != tt.wantCommand {
				t.Errorf("Command = %q, want %q", m.Command, tt.wantCommand)
			}
			if m.Phonetic || m.Score != 1 {
				t.Errorf("exact match reported Phonetic=%v Score=%v", m.Phonetic, m.Score)
			}
		})
	}
}

func TestDetect_UnicodeWordBoundaries(t *testing.T) {
	t.Parallel()
	tests := []struct {
		token       string
		transcript  string
		wantMatch   bool
		wantWake    string
		wantCommand string
	}{
		{"ai", "déjàai turn on the lights", false, "", ""},
		{"ai", "aié turn on the lights", false, "", ""},
		{"ai", "ai_go now", false, "", ""},
		{"ai", "naïve ai start the timer", true, "ai", "start the timer"},
		{"ai", "¡ai, enciende la luz!", true, "ai", "enciende la luz"},
		{"jarvé", "jarvé turn on the lights", true, "jarvé", "turn on the lights"},
		{"jarvé", "JARVÉ dim the lights", true, "JARVÉ", "dim the lights"},
		{"jarvé", "jarvés turn on the lights", false, "", ""},
		{"jarvé", "ojarvé turn on the lights", false, "", ""},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%q", tt.token, tt.transcript), func(t *testing.T) {
			t.Parallel()
			m, ok := mustNew(t, tt.token).Detect(tt.transcript)
			if ok != tt.wantMatch {
				t.Fatalf("Detect ok = %v, want %v (match %+v)", ok, tt.wantMatch, m)
			}
			if !ok {
				return
			}
			if m.WakeWord != tt.wantWake || m.Command != tt.wantCommand {
				t.Errorf("match = (%q, %q), want (%q, %q)", m.WakeWord, m.Command, tt.wantWake, tt.wantCommand)
			}
		})
	}
}

func TestDetect_CaseSensitive(t *testing.T) {
	t.Parallel()
	e := mustNew(t, "Computer", wakeword.WithCaseSensitive(true))

	if _, ok := e.Detect("computer dim the lights"); ok {
		t.Error("lower-case token should not match case-sensitively")
	}
	m, ok := e.Detect("Computer dim the lights")
	if !ok || m.Command != "dim the lights" {
		t.Errorf("Detect = (%+v, %v)", m, ok)
	}
}

func TestDetect_MultiWordToken(t *testing.T) {
	t.Parallel()
	e := mustNew(t, "  hey   jarvis ")

	m, ok := e.Detect("okay Hey Jarvis, start the coffee")
	if !ok {
		t.Fatal("expected a match")
	}
	if m.WakeWord != "Hey Jarvis" || m.Command != "start the coffee" {
		t.Errorf("Detect = %+v", m)
	}
	if tok, _ := e.WakeWord(); tok != "hey jarvis" {
		t.Errorf("WakeWord() = %q, want whitespace-normalised token", tok)
	}
}

func TestDetect_RegexMetacharactersAreLiteral(t *testing.T) {
	t.Parallel()
	e := mustNew(t, "a.i")

	if _, ok := e.Detect("abi do something"); ok {
		t.Error("dot in token must not act as a wildcard")
	}
	if m, ok := e.Detect("a.i do something"); !ok || m.Command != "do something" {
		t.Errorf("Detect = (%+v, %v)", m, ok)
	}
}

func TestNew_EmptyToken(t *testing.T) {
	t.Parallel()
	for _, tok := range []string{"", "   "} {
		if _, err := wakeword.New(tok); !errors.Is(err, wakeword.ErrInvalidConfiguration) {
			t.Errorf("New(%q) err = %v, want ErrInvalidConfiguration", tok, err)
		}
	}
}

func TestSetWakeWord(t *testing.T) {
	t.Parallel()
	e := mustNew(t, "ai")

	if err := e.SetWakeWord("jarvis", false); err != nil {
		t.Fatalf("SetWakeWord: %v", err)
	}
	if _, ok := e.Detect("ai turn on the lights"); ok {
		t.Error("old token still matches after SetWakeWord")
	}
	if m, ok := e.Detect("JARVIS turn on the lights"); !ok || m.WakeWord != "JARVIS" {
		t.Errorf("new token did not match: (%+v, %v)", m, ok)
	}

	if err := e.SetWakeWord("", false); !errors.Is(err, wakeword.ErrInvalidConfiguration) {
		t.Errorf("SetWakeWord(\"\") err = %v, want ErrInvalidConfiguration", err)
	}
	if tok, _ := e.WakeWord(); tok != "jarvis" {
		t.Errorf("failed update replaced the token: %q", tok)
	}
}

func TestSetWakeWord_ConcurrentDetect(t *testing.T) {
	t.Parallel()
	e := mustNew(t, "alpha")

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				m, ok := e.Detect("alpha bravo go now")
				if ok && m.WakeWord != "alpha" && m.WakeWord != "bravo" {
					t.Errorf("torn match: %+v", m)
					return
				}
			}
		}()
	}
	for i := range 200 {
		tok := "alpha"
		if i%2 == 1 {
			tok = "bravo"
		}
		if err := e.SetWakeWord(tok, false); err != nil {
			t.Fatalf("SetWakeWord: %v", err)
		}
	}
	close(stop)
	wg.Wait()
}

func TestDetect_PhoneticFallback(t *testing.T) {
	t.Parallel()
	e := mustNew(t, "jarvis", wakeword.WithPhonetic(0))

	m, ok := e.Detect("jarvas turn on the lights")
	if !ok {
		t.Fatal("expected a phonetic match for 'jarvas'")
	}
	if !m.Phonetic || m.WakeWord != "jarvas" || m.Command != "turn on the lights" {
		t.Errorf("Detect = %+v", m)
	}
	if m.Score < 0.85 || m.Score >= 1 {
		t.Errorf("Score = %v, want in [0.85, 1)", m.Score)
	}

	if m, ok := e.Detect("jarvis open the door"); !ok || m.Phonetic {
		t.Errorf("exact match should win over the fallback: (%+v, %v)", m, ok)
	}
	if _, ok := e.Detect("java is great"); ok {
		t.Error("'java' must not match 'jarvis'")
	}
	if _, ok := e.Detect("jarvas"); ok {
		t.Error("phonetic match without a command must not match")
	}
}

func TestDetect_PhoneticDisabledByDefault(t *testing.T) {
	t.Parallel()
	e := mustNew(t, "jarvis")
	if _, ok := e.Detect("jarvas turn on the lights"); ok {
		t.Error("sound-alike matched without WithPhonetic")
	}
}

func TestCleanCommand(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"":                      "",
		"  ,  what is it?!  ":   "what is it",
		"turn   on\n the  lamp": "turn on the lamp",
		";:.,!?":                "",
	}
	for in, want := range tests {
		if got := wakeword.CleanCommand(in); got != want {
			t.Errorf("CleanCommand(%q) = %q, want %q", in, got, want)
		}
	}
}
