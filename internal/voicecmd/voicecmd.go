// Package voicecmd detects spoken commands in final recognition results
// before they are treated as interview answers.
//
// Matching combines Double Metaphone phonetic codes with Jaro-Winkler string
// similarity, so that recogniser slips ("ripeat the question") still match:
//
//  1. Length gate: an utterance much longer than a command phrase is an
//     answer, never a command.
//  2. Phonetic gate: every word of the phrase must share a Double Metaphone
//     code with some word of the utterance.
//  3. Ranking: the Jaro-Winkler similarity of the normalised strings must
//     reach the phonetic threshold when the phonetic gate passed, or the
//     stricter fuzzy threshold when it did not.
package voicecmd

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.92
	defaultExtraWords        = 2
)

// Command is a recognised spoken command.
type Command int

const (
	// None means the utterance is not a command.
	None Command = iota

	// Repeat asks for the current step to be narrated again.
	Repeat
)

// String returns the command name.
func (c Command) String() string {
	switch c {
	case None:
		return "none"
	case Repeat:
		return "repeat"
	default:
		return "unknown"
	}
}

type phrase struct {
	cmd    Command
	text   string
	tokens []string
	codes  []map[string]struct{}
}

// Option configures a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum similarity for a phonetically
// matching utterance. Default: 0.80.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum similarity when the phonetic gate
// fails. Default: 0.92.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// WithPhrase adds a phrase for cmd.
func WithPhrase(cmd Command, text string) Option {
	return func(m *Matcher) { m.add(cmd, text) }
}

// Matcher matches utterances against command phrases. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	phrases           []phrase
}

// New returns a Matcher loaded with the built-in phrases.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, p := range []string{
		"repeat the question",
		"repeat question",
		"repeat that",
		"say that again",
		"can you repeat the question",
	} {
		m.add(Repeat, p)
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Matcher) add(cmd Command, text string) {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return
	}
	codes := make([]map[string]struct{}, len(tokens))
	for i, t := range tokens {
		codes[i] = codesFor(t)
	}
	m.phrases = append(m.phrases, phrase{
		cmd:    cmd,
		text:   strings.Join(tokens, " "),
		tokens: tokens,
		codes:  codes,
	})
}

// Match returns the best matching command for text and its similarity, or
// [None] and 0.
func (m *Matcher) Match(text string) (Command, float64) {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return None, 0
	}
	input := strings.Join(tokens, " ")
	inputCodes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		for c := range codesFor(t) {
			inputCodes[c] = struct{}{}
		}
	}

	best, bestScore := None, 0.0
	for _, p := range m.phrases {
		if len(tokens) > len(p.tokens)+defaultExtraWords {
			continue
		}
		score := matchr.JaroWinkler(input, p.text, false)
		threshold := m.fuzzyThreshold
		if allOverlap(p.codes, inputCodes) {
			threshold = m.phoneticThreshold
		}
		if score >= threshold && score > bestScore {
			best, bestScore = p.cmd, score
		}
	}
	return best, bestScore
}

func allOverlap(phraseCodes []map[string]struct{}, input map[string]struct{}) bool {
	for _, codes := range phraseCodes {
		found := false
		for c := range codes {
			if _, ok := input[c]; ok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func codesFor(token string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(token)
	if p != "" {
		codes[p] = struct{}{}
	}
	if s != "" {
		codes[s] = struct{}{}
	}
	return codes
}

// tokenize lower-cases text and splits it into words, dropping punctuation.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}
