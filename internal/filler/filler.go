// Package filler scores an utterance as hesitation noise or real speech.
package filler

import (
	"strings"
	"unicode"

	"yuzu/arbiter/internal/transcript"
)

// Verdict is the classifier output for one utterance.
type Verdict int

const (
	// Filler is hesitation-only or empty speech that carries no command.
	Filler Verdict = iota
	// Command is a deliberate utterance: no filler tokens, or filler-only
	// speech recognized with high confidence.
	Command
	// Mixed contains filler and non-filler tokens. Always treated as real.
	Mixed
)

func (v Verdict) String() string {
	switch v {
	case Filler:
		return "filler"
	case Command:
		return "command"
	case Mixed:
		return "mixed"
	default:
		return "unknown"
	}
}

// Real reports whether the verdict should be treated as user input.
func (v Verdict) Real() bool { return v == Command || v == Mixed }

var DefaultWords = []string{"uh", "uhh", "um", "umm", "hmm", "hm", "mm", "mhm", "er", "erm", "ah"}

const DefaultConfidenceThreshold = 0.8

// Options configures a Classifier. The zero value is not DefaultOptions:
// an empty Words falls back to DefaultWords, but ConfidenceThreshold is
// taken as given, and 0 makes every filler-only utterance a Command.
type Options struct {
	Words               []string
	ConfidenceThreshold float64
}

// DefaultOptions returns the built-in lexicon and threshold.
func DefaultOptions() Options {
	return Options{
		Words:               append([]string(nil), DefaultWords...),
		ConfidenceThreshold: DefaultConfidenceThreshold,
	}
}

// Classifier holds an immutable lexicon; it is safe for concurrent use.
type Classifier struct {
	words     map[string]struct{}
	threshold float64
}

// New builds a classifier. An empty word list falls back to DefaultWords;
// the threshold is only clamped to [0,1], never defaulted.
func New(opts Options) *Classifier {
	words := opts.Words
	if len(words) == 0 {
		words = DefaultWords
	}
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		for _, tok := range Tokens(w) {
			set[tok] = struct{}{}
		}
	}
	th, _ := transcript.ClampConfidence(opts.ConfidenceThreshold)
	return &Classifier{words: set, threshold: th}
}

func (c *Classifier) Threshold() float64 { return c.threshold }

// IsFiller reports whether a single normalized token is in the lexicon.
func (c *Classifier) IsFiller(token string) bool {
	_, ok := c.words[token]
	return ok
}

// Classify returns the verdict for text recognized with the given confidence.
// A confidence outside [0,1] counts as unscored.
func (c *Classifier) Classify(text string, confidence float64) Verdict {
	toks := Tokens(text)
	if len(toks) == 0 {
		return Filler
	}
	fillers := 0
	for _, t := range toks {
		if c.IsFiller(t) {
			fillers++
		}
	}
	switch {
	case fillers == len(toks):
		conf, _ := transcript.ScoreConfidence(confidence)
		if conf >= c.threshold {
			return Command
		}
		return Filler
	case fillers > 0:
		return Mixed
	default:
		return Command
	}
}

// Tokens splits text on whitespace, lower-cases each token and trims
// surrounding punctuation and symbols. Tokens left empty are dropped.
func Tokens(text string) []string {
	fields := strings.Fields(text)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		tok := strings.TrimFunc(strings.ToLower(f), func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}
