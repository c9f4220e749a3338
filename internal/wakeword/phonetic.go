package wakeword

import (
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.85

	// minPhoneticRunes guards against one- and two-letter words, whose
	// metaphone codes collide with almost everything.
	minPhoneticRunes = 3
)

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}']+`)

// soundAlike finds transcript words that sound like the wake token.
//
// The check runs in two stages. Every word of a candidate window must share
// a Double Metaphone code with the matching token word; the window as a
// whole must then reach the Jaro-Winkler threshold against the token. Multi
// word tokens ("hey jarvis") are compared against windows of the same
// length.
type soundAlike struct {
	words     []string
	codes     []map[string]struct{}
	full      string
	threshold float64
}

func newSoundAlike(token string, threshold float64) *soundAlike {
	words := strings.Fields(strings.ToLower(token))
	s := &soundAlike{
		words:     words,
		codes:     make([]map[string]struct{}, len(words)),
		full:      strings.Join(words, " "),
		threshold: threshold,
	}
	for i, w := range words {
		s.codes[i] = codesFor(w)
	}
	return s
}

// find returns the byte range of the first window that sounds like the
// token together with its similarity score.
func (s *soundAlike) find(transcript string) (start, end int, score float64, ok bool) {
	locs := wordPattern.FindAllStringIndex(transcript, -1)
	n := len(s.words)
	if n == 0 || len(locs) < n {
		return 0, 0, 0, false
	}

	for i := 0; i+n <= len(locs); i++ {
		heard := make([]string, n)
		matched := true
		for j := range n {
			w := strings.ToLower(transcript[locs[i+j][0]:locs[i+j][1]])
			if len([]rune(w)) < minPhoneticRunes || len([]rune(s.words[j])) < minPhoneticRunes {
				matched = false
				break
			}
			if !codesOverlap(codesFor(w), s.codes[j]) {
				matched = false
				break
			}
			heard[j] = w
		}
		if !matched {
			continue
		}
		jw := bestJWScore(heard, s.words, strings.Join(heard, " "), s.full)
		if jw >= s.threshold {
			return locs[i][0], locs[i+n-1][1], jw, true
		}
	}
	return 0, 0, 0, false
}

// codesFor returns the non-empty Double Metaphone codes of word.
func codesFor(word string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	p, sec := matchr.DoubleMetaphone(word)
	if p != "" {
		codes[p] = struct{}{}
	}
	if sec != "" {
		codes[sec] = struct{}{}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the higher of the full-phrase and the space-stripped
// Jaro-Winkler similarity.
func bestJWScore(heard, token []string, heardFull, tokenFull string) float64 {
	score := matchr.JaroWinkler(heardFull, tokenFull, false)
	if len(token) > 1 {
		if s := matchr.JaroWinkler(strings.Join(heard, ""), strings.Join(token, ""), false); s > score {
			score = s
		}
	}
	return score
}
