// Package wakeword finds a wake token in a transcript and extracts the
// command that follows it.
//
// Matching is whole-word: "ai" matches in "hey ai play music" but not in
// "said". Word characters are Unicode letters, digits and underscore, so
// "ai" does not match inside "déjàai". Everything after the first occurrence becomes the command, trimmed
// of surrounding whitespace and the punctuation . , ! ? ; : with internal
// whitespace collapsed to single spaces. A wake word with nothing after it is
// not a command.
//
// The active token can be swapped at runtime with [Extractor.SetWakeWord];
// concurrent [Extractor.Detect] calls always see either the old or the new
// token, never a mix.
package wakeword

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
)

// ErrInvalidConfiguration is returned when a wake token cannot be used.
var ErrInvalidConfiguration = errors.New("wakeword: invalid configuration")

// DefaultWakeWord is the token used when none is configured.
const DefaultWakeWord = "ai"

// nonWord matches one character outside the Unicode word class. RE2's \b
// only knows ASCII word characters.
const nonWord = `[^\p{L}\p{N}_]`

// commandCutset is stripped from both ends of the extracted command.
const commandCutset = " \t\r\n.,!?;:"

// Match describes a detected wake word.
type Match struct {
	// WakeWord is the token as it appeared in the transcript (original
	// casing, or the heard word for a phonetic match).
	WakeWord string

	// Command is the cleaned text after the wake word. Never empty.
	Command string

	// Phonetic reports that the match came from the sound-alike fallback
	// rather than an exact token match.
	Phonetic bool

	// Score is 1 for exact matches and the Jaro-Winkler similarity for
	// phonetic ones.
	Score float64
}

// Option configures an [Extractor].
type Option func(*Extractor)

// WithCaseSensitive makes the initial token match case-sensitively.
func WithCaseSensitive(caseSensitive bool) Option {
	return func(e *Extractor) { e.initialCase = caseSensitive }
}

// WithPhonetic enables the sound-alike fallback with the given minimum
// Jaro-Winkler similarity (0 selects the default of 0.85). The fallback only
// runs when the exact match fails.
func WithPhonetic(threshold float64) Option {
	return func(e *Extractor) {
		if threshold <= 0 {
			threshold = defaultPhoneticThreshold
		}
		e.phoneticThreshold = threshold
	}
}

// matcher is the immutable compiled form of one wake token.
type matcher struct {
	token         string
	caseSensitive bool
	re            *regexp.Regexp
	sound         *soundAlike // nil when the phonetic fallback is off
}

// Extractor detects a wake token and extracts the trailing command.
// All methods are safe for concurrent use.
type Extractor struct {
	current atomic.Pointer[matcher]

	initialCase       bool
	phoneticThreshold float64 // 0 disables the fallback
}

// New returns an Extractor for token. The token must contain at least one
// non-space character.
func New(token string, opts ...Option) (*Extractor, error) {
	e := &Extractor{}
	for _, o := range opts {
		o(e)
	}
	if err := e.SetWakeWord(token, e.initialCase); err != nil {
		return nil, err
	}
	return e, nil
}

// SetWakeWord compiles token and atomically replaces the active matcher. On
// error the previous token stays active.
func (e *Extractor) SetWakeWord(token string, caseSensitive bool) error {
	m, err := e.compile(token, caseSensitive)
	if err != nil {
		return err
	}
	old := e.current.Swap(m)
	if old != nil {
		slog.Info("wake word updated",
			"old", old.token,
			"new", m.token,
			"case_sensitive", caseSensitive,
		)
	}
	return nil
}

// WakeWord returns the active token and its case-sensitivity.
func (e *Extractor) WakeWord() (token string, caseSensitive bool) {
	m := e.current.Load()
	return m.token, m.caseSensitive
}

func (e *Extractor) compile(token string, caseSensitive bool) (*matcher, error) {
	token = strings.Join(strings.Fields(token), " ")
	if token == "" {
		return nil, fmt.Errorf("%w: wake word must not be empty", ErrInvalidConfiguration)
	}
	expr := `(?:^|` + nonWord + `)(` + regexp.QuoteMeta(token) + `)(?:$|` + nonWord + `)`
	if !caseSensitive {
		expr = `(?i)` + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	m := &matcher{token: token, caseSensitive: caseSensitive, re: re}
	if e.phoneticThreshold > 0 {
		m.sound = newSoundAlike(token, e.phoneticThreshold)
	}
	return m, nil
}

// Detect looks for the wake token in transcript. It returns false for an
// empty transcript, when the token is absent, or when no command follows it.
func (e *Extractor) Detect(transcript string) (Match, bool) {
	if transcript == "" {
		return Match{}, false
	}
	m := e.current.Load()

	if loc := m.re.FindStringSubmatchIndex(transcript); loc != nil {
		start, end := loc[2], loc[3]
		command := CleanCommand(transcript[end:])
		if command == "" {
			slog.Debug("wake word detected but no command text", "transcript", transcript)
			return Match{}, false
		}
		return Match{WakeWord: transcript[start:end], Command: command, Score: 1}, true
	}

	if m.sound == nil {
		return Match{}, false
	}
	start, end, score, ok := m.sound.find(transcript)
	if !ok {
		return Match{}, false
	}
	command := CleanCommand(transcript[end:])
	if command == "" {
		return Match{}, false
	}
	slog.Debug("wake word matched phonetically",
		"token", m.token,
		"heard", transcript[start:end],
		"score", score,
	)
	return Match{WakeWord: transcript[start:end], Command: command, Phonetic: true, Score: score}, true
}

// CleanCommand trims whitespace and the punctuation . , ! ? ; : from both
// ends of text and collapses internal whitespace runs to one space.
func CleanCommand(text string) string {
	return strings.Join(strings.Fields(strings.Trim(text, commandCutset)), " ")
}
