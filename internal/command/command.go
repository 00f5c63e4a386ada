// Package command detects spoken control phrases in final transcripts so
// they act on the session instead of being answered by the assistant.
//
// Matching is tolerant of speech-recognition drift ("assistant mowed",
// "clear his story") and proceeds in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each transcript token and each command token. A command becomes a
//     candidate only when every one of its tokens has a phonetically
//     overlapping transcript token.
//
//  2. Jaro-Winkler ranking: candidates are scored on the full phrase and on
//     the space-stripped phrase, and the best command wins — provided its
//     score exceeds the phonetic threshold. When no phonetic candidate
//     exists, a pure similarity pass runs with a higher fuzzy threshold.
//
// A transcript only counts as a command when it is nothing but the command
// phrase: transcripts whose token count strays more than one from the
// pattern's are never matched, so "tell me about the history of Rome" can
// not trigger "clear history".
package command

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Action identifies the session control a spoken command triggers.
type Action int

const (
	ActionNone Action = iota
	ActionAssistantMode
	ActionTranscriptionMode
	ActionClearHistory
	ActionStopSpeaking
)

// String returns the wire-format action name.
func (a Action) String() string {
	switch a {
	case ActionAssistantMode:
		return "assistant_mode"
	case ActionTranscriptionMode:
		return "transcription_mode"
	case ActionClearHistory:
		return "clear_history"
	case ActionStopSpeaking:
		return "stop_speaking"
	default:
		return "none"
	}
}

// pattern is one recognizable command phrase with its precomputed phonetic
// shape.
type pattern struct {
	phrase string
	action Action
	tokens []string
	codes  []map[string]struct{}
	concat string
}

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched command to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic candidate is found and the matcher falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher detects spoken commands. All methods are safe for concurrent use —
// the Matcher is read-only after construction.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	patterns          []pattern
}

// phrases maps the recognized command phrases to their actions. Aliases for
// the same action are separate entries.
var phrases = []struct {
	phrase string
	action Action
}{
	{"assistant mode", ActionAssistantMode},
	{"transcription mode", ActionTranscriptionMode},
	{"clear history", ActionClearHistory},
	{"stop speaking", ActionStopSpeaking},
	{"stop talking", ActionStopSpeaking},
}

// New returns a [Matcher] for the built-in command set, configured with the
// supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}

	for _, p := range phrases {
		tokens := strings.Fields(p.phrase)
		codes := make([]map[string]struct{}, len(tokens))
		for i, t := range tokens {
			codes[i] = codesFor(t)
		}
		m.patterns = append(m.patterns, pattern{
			phrase: p.phrase,
			action: p.action,
			tokens: tokens,
			codes:  codes,
			concat: strings.Join(tokens, ""),
		})
	}
	return m
}

// Match reports whether transcript is a spoken command. When matched is
// true, action identifies the control to run and confidence is the winning
// similarity score. When matched is false, action is [ActionNone].
func (m *Matcher) Match(transcript string) (action Action, confidence float64, matched bool) {
	normalized := normalize(transcript)
	if normalized == "" {
		return ActionNone, 0, false
	}

	tokens := strings.Fields(normalized)
	tokenCodes := make([]map[string]struct{}, len(tokens))
	for i, t := range tokens {
		tokenCodes[i] = codesFor(t)
	}
	concat := strings.Join(tokens, "")

	type candidate struct {
		action   Action
		score    float64
		phonetic bool
	}
	var best candidate

	for _, p := range m.patterns {
		// Commands are complete utterances, not fragments of one.
		diff := len(tokens) - len(p.tokens)
		if diff < -1 || diff > 1 {
			continue
		}

		phonetic := coversAllTokens(p.codes, tokenCodes)
		score := phraseScore(normalized, concat, p)

		if phonetic {
			if score >= m.phoneticThreshold && (!best.phonetic || score > best.score) {
				best = candidate{action: p.action, score: score, phonetic: true}
			}
		} else if !best.phonetic {
			if score >= m.fuzzyThreshold && score > best.score {
				best = candidate{action: p.action, score: score, phonetic: false}
			}
		}
	}

	if best.action != ActionNone {
		return best.action, best.score, true
	}
	return ActionNone, 0, false
}

// normalize lowercases the transcript and strips everything but letters,
// digits, and spaces, since recognizers freely attach punctuation.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// codesFor returns the Double Metaphone code set for one token. Empty codes
// are excluded.
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

// coversAllTokens reports whether every pattern token phonetically overlaps
// at least one transcript token.
func coversAllTokens(patternCodes, transcriptCodes []map[string]struct{}) bool {
	for _, pc := range patternCodes {
		found := false
		for _, tc := range transcriptCodes {
			if codesOverlap(pc, tc) {
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

// phraseScore computes the Jaro-Winkler similarity between the transcript
// and the pattern, taking the better of the full-phrase and space-stripped
// comparisons. Per-token pairwise scoring is deliberately absent: it would
// let a single shared word ("mode") stand in for a whole command.
func phraseScore(normalized, concat string, p pattern) float64 {
	score := matchr.JaroWinkler(normalized, p.phrase, false)
	if s := matchr.JaroWinkler(concat, p.concat, false); s > score {
		score = s
	}
	return score
}
