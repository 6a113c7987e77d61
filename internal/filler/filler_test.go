package filler

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	c := New(DefaultOptions())

	tests := []struct {
		name string
		text string
		conf float64
		want Verdict
	}{
		{"empty", "", 0.9, Filler},
		{"whitespace only", "   \t ", 0.9, Filler},
		{"punctuation only", "... ?!", 0.9, Filler},
		{"low confidence fillers", "uh umm", 0.2, Filler},
		{"high confidence filler", "hmm", 0.95, Command},
		{"threshold is inclusive", "hmm", 0.8, Command},
		{"just below threshold", "hmm", 0.79, Filler},
		{"unscored filler", "umm", 0, Filler},
		{"mixed low confidence", "umm stop", 0.3, Mixed},
		{"mixed unscored", "uh wait a second", 0, Mixed},
		{"plain command", "stop talking", 0.1, Command},
		{"case and punctuation", "Uh, UMM...", 0.1, Filler},
		{"punctuated command", "Stop!", 0.4, Command},
		{"confidence above range", "uh", 7, Filler},
		{"infinite confidence", "hmm", math.Inf(1), Filler},
		{"negative confidence", "uh", -1, Filler},
		{"nan confidence", "uh", math.NaN(), Filler},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.text, tt.conf))
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	c := New(DefaultOptions())
	for _, text := range []string{"uh umm", "umm stop", "hmm", "", "go on"} {
		for _, conf := range []float64{0, 0.3, 0.8, 1} {
			require.Equal(t, c.Classify(text, conf), c.Classify(text, conf), "text=%q conf=%v", text, conf)
		}
	}
}

func TestCustomLexiconAndThreshold(t *testing.T) {
	c := New(Options{Words: []string{" Like ", "YOU-KNOW"}, ConfidenceThreshold: 0.5})

	assert.Equal(t, 0.5, c.Threshold())
	assert.True(t, c.IsFiller("like"))
	assert.True(t, c.IsFiller("you-know"))
	assert.False(t, c.IsFiller("uh"))
	assert.Equal(t, Filler, c.Classify("like", 0.4))
	assert.Equal(t, Command, c.Classify("like", 0.6))
	assert.Equal(t, Command, c.Classify("uh", 0.1))
	assert.Equal(t, Mixed, c.Classify("like stop", 0.1))
}

func TestThresholdClamped(t *testing.T) {
	assert.Equal(t, 1.0, New(Options{ConfidenceThreshold: 3}).Threshold())
	assert.Equal(t, 0.0, New(Options{ConfidenceThreshold: -2}).Threshold())
}

func TestZeroOptionsDefaultWordsOnly(t *testing.T) {
	c := New(Options{})
	assert.True(t, c.IsFiller("umm"))
	assert.Equal(t, 0.0, c.Threshold())
	// A zero threshold trusts every score.
	assert.Equal(t, Command, c.Classify("umm", 0))
	assert.Equal(t, Filler, New(DefaultOptions()).Classify("umm", 0))
}

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"uh", "don't", "stop"}, Tokens("  Uh,  don't STOP! "))
	assert.Empty(t, Tokens("-- !!"))
}

func TestVerdictReal(t *testing.T) {
	assert.False(t, Filler.Real())
	assert.True(t, Command.Real())
	assert.True(t, Mixed.Real())
	assert.Equal(t, "mixed", Mixed.String())
}
