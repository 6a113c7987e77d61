package transcript

import "math"

// Kind tags a transcript event as interim or final.
type Kind int

const (
	Interim Kind = iota
	Final
)

func (k Kind) String() string {
	switch k {
	case Interim:
		return "interim"
	case Final:
		return "final"
	default:
		return "unknown"
	}
}

// ParseKind maps the wire name back to a Kind. Unknown names report false.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "interim":
		return Interim, true
	case "final":
		return Final, true
	}
	return Interim, false
}

// Alternative is one recognizer hypothesis. Confidence 0 means unscored and
// is treated as the lowest trust.
type Alternative struct {
	Language   string  `json:"language,omitempty"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Event is a single recognizer result. Alternatives are ordered best first.
// Seq is a monotonic per-utterance number assigned by the STT feed; 0 means
// the feed did not supply one.
type Event struct {
	Kind         Kind          `json:"-"`
	Alternatives []Alternative `json:"alternatives"`
	Seq          uint64        `json:"seq,omitempty"`
}

// Best returns the highest ranked alternative.
func (e Event) Best() (Alternative, bool) {
	if len(e.Alternatives) == 0 {
		return Alternative{}, false
	}
	return e.Alternatives[0], true
}

// ClampConfidence forces c into [0,1]. NaN becomes 0. The second result
// reports whether c was out of range.
func ClampConfidence(c float64) (float64, bool) {
	switch {
	case math.IsNaN(c):
		return 0, true
	case c < 0:
		return 0, true
	case c > 1:
		return 1, true
	}
	return c, false
}

// ScoreConfidence returns a recognizer score usable for classification.
// A score outside [0,1] or NaN is untrusted and treated as unscored (0).
// The second result reports whether c was rejected.
func ScoreConfidence(c float64) (float64, bool) {
	if math.IsNaN(c) || c < 0 || c > 1 {
		return 0, true
	}
	return c, false
}
