// Package floor arbitrates user speech against agent playback: it decides
// whether a transcript event interrupts the current agent utterance, is
// forwarded to turn taking, or is dropped as filler.
package floor

import (
	"fmt"

	"yuzu/arbiter/internal/filler"
	"yuzu/arbiter/internal/transcript"
)

// StateKind is the arbiter's view of agent speech.
type StateKind int

const (
	Silent StateKind = iota
	Speaking
	// Interrupted means the arbiter cancelled HandleID and is waiting for
	// playback to acknowledge the stop. Decisions treat it like Silent.
	Interrupted
)

func (k StateKind) String() string {
	switch k {
	case Silent:
		return "silent"
	case Speaking:
		return "speaking"
	case Interrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

type State struct {
	Kind     StateKind
	HandleID string
}

func (s State) String() string {
	if s.Kind == Silent {
		return s.Kind.String()
	}
	return fmt.Sprintf("%s(%s)", s.Kind, s.HandleID)
}

// Action is what the arbiter did with an event.
type Action int

const (
	Ignore Action = iota
	Forward
	// Interrupt cancels the current speech and forwards the event.
	Interrupt
)

func (a Action) String() string {
	switch a {
	case Ignore:
		return "ignore"
	case Forward:
		return "forward"
	case Interrupt:
		return "interrupt"
	default:
		return "unknown"
	}
}

// Decision represents the outcome for one transcript event.
type Decision struct {
	Action   Action
	Verdict  filler.Verdict
	Kind     transcript.Kind
	Seq      uint64
	HandleID string // handle interrupted, or current handle when ignored
	Reason   string // e.g. "filler", "barge_in", "silent", "stale_interim"
}

// Forwarded is the transcript handed to downstream turn taking.
type Forwarded struct {
	SessionID   string
	Kind        transcript.Kind
	Text        string
	Language    string
	Confidence  float64
	Verdict     filler.Verdict
	Seq         uint64
	Interrupted bool // the event cancelled agent speech
}

// Forwarder receives forwarded transcripts. The hand-off is one way.
type Forwarder interface {
	Forward(Forwarded)
}

type ForwarderFunc func(Forwarded)

func (f ForwarderFunc) Forward(fw Forwarded) { f(fw) }

// Observer is the telemetry sink for arbiter activity.
type Observer interface {
	Decided(d Decision)
	Malformed(kind transcript.Kind, reason string)
	Transitioned(from, to State)
}

type NopObserver struct{}

func (NopObserver) Decided(Decision) {}

func (NopObserver) Malformed(transcript.Kind, string) {}

func (NopObserver) Transitioned(State, State) {}
