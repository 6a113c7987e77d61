package floor

import (
	"strings"
	"sync"

	"yuzu/arbiter/internal/filler"
	"yuzu/arbiter/internal/speech"
	"yuzu/arbiter/internal/transcript"
)

// Arbiter tracks the current agent utterance for one session and decides
// what each transcript event does to it. Playback reports start and stop;
// the STT feed reports transcripts. All state changes happen under mu, and
// the forwarder and observer run after it is released.
type Arbiter struct {
	cls       *filler.Classifier
	fwd       Forwarder
	obs       Observer
	sessionID string

	mu           sync.Mutex
	state        State
	handle       *speech.Handle // set while Speaking or Interrupted
	lastFinalSeq uint64
}

type Option func(*Arbiter)

func WithObserver(o Observer) Option {
	return func(a *Arbiter) {
		if o != nil {
			a.obs = o
		}
	}
}

// WithSessionID stamps forwarded transcripts with the owning session.
func WithSessionID(id string) Option {
	return func(a *Arbiter) { a.sessionID = id }
}

// New creates an arbiter in the Silent state. A nil classifier uses the
// default lexicon; a nil forwarder drops forwarded transcripts.
func New(cls *filler.Classifier, fwd Forwarder, opts ...Option) *Arbiter {
	if cls == nil {
		cls = filler.New(filler.DefaultOptions())
	}
	if fwd == nil {
		fwd = ForwarderFunc(func(Forwarded) {})
	}
	a := &Arbiter{cls: cls, fwd: fwd, obs: NopObserver{}, state: State{Kind: Silent}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Arbiter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Speaking reports whether an interruptible utterance is current. Callers
// snapshot it before OnInterimTranscript.
func (a *Arbiter) Speaking() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Kind == Speaking
}

// Current returns the live handle, or nil when not Speaking.
func (a *Arbiter) Current() *speech.Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.Kind != Speaking {
		return nil
	}
	return a.handle
}

// OnSpeechStarted makes h the current utterance. A previous handle still
// tracked is detached and marked done; only one utterance is current.
// A handle that is already interrupted or done is treated as stopped and
// rejected, leaving the state unchanged.
func (a *Arbiter) OnSpeechStarted(h *speech.Handle) bool {
	if h == nil || h.Interrupted() || h.IsDone() {
		return false
	}
	a.mu.Lock()
	prev, from := a.handle, a.state
	a.handle = h
	a.state = State{Kind: Speaking, HandleID: h.ID()}
	to := a.state
	a.mu.Unlock()

	if prev != nil && prev != h {
		prev.MarkDone()
	}
	a.transitioned(from, to)
	return true
}

// OnSpeechStopped records that playback of utterance id ended, naturally or
// in response to an interruption. Stops for any other utterance are stale
// and ignored so a late stop cannot clear a newer utterance.
func (a *Arbiter) OnSpeechStopped(id string) bool {
	a.mu.Lock()
	if a.state.Kind == Silent || a.state.HandleID != id {
		a.mu.Unlock()
		return false
	}
	h, from := a.handle, a.state
	a.handle = nil
	a.state = State{Kind: Silent}
	a.mu.Unlock()

	h.MarkDone()
	a.transitioned(from, State{Kind: Silent})
	return true
}

// Reset forces the arbiter back to Silent regardless of the tracked
// utterance. Used when playback stops reporting.
func (a *Arbiter) Reset() {
	a.mu.Lock()
	h, from := a.handle, a.state
	a.handle = nil
	a.state = State{Kind: Silent}
	a.mu.Unlock()

	if h != nil {
		h.MarkDone()
	}
	if from.Kind != Silent {
		a.transitioned(from, State{Kind: Silent})
	}
}

// OnInterimTranscript handles a partial result. speaking is the caller's
// snapshot of Speaking(); when it is false the event never interrupts, even
// if playback started in between.
func (a *Arbiter) OnInterimTranscript(ev transcript.Event, speaking bool) Decision {
	d := Decision{Kind: transcript.Interim, Seq: ev.Seq, Verdict: filler.Filler}
	a.checkKind(ev, transcript.Interim)

	alt, ok := ev.Best()
	if !ok {
		a.malformed(transcript.Interim, "no_alternatives")
		d.Reason = "no_alternatives"
		a.finish(d, nil, nil)
		return d
	}
	conf := a.confidence(transcript.Interim, alt.Confidence)
	d.Verdict = a.cls.Classify(alt.Text, conf)
	metricVerdicts.WithLabelValues(d.Kind.String(), d.Verdict.String()).Inc()

	var tr *[2]State
	a.mu.Lock()
	switch {
	case ev.Seq != 0 && ev.Seq <= a.lastFinalSeq:
		d.Reason = "stale_interim"
	case !speaking || a.state.Kind != Speaking:
		if strings.TrimSpace(alt.Text) == "" {
			d.Reason = "empty"
		} else {
			d.Action, d.Reason = Forward, "silent"
		}
	case !d.Verdict.Real():
		d.HandleID, d.Reason = a.handle.ID(), "filler"
	case !a.handle.AllowInterruptions():
		d.HandleID, d.Reason = a.handle.ID(), "not_interruptible"
	default:
		tr = a.interruptLocked(&d)
	}
	a.mu.Unlock()

	var fw *Forwarded
	if d.Action != Ignore {
		fw = a.forwarded(d, alt, conf)
	}
	a.finish(d, fw, tr)
	return d
}

// OnFinalTranscript handles a completed result. Finals read live state and
// are always forwarded while the agent is silent.
func (a *Arbiter) OnFinalTranscript(ev transcript.Event) Decision {
	d := Decision{Kind: transcript.Final, Seq: ev.Seq, Verdict: filler.Filler}
	a.checkKind(ev, transcript.Final)

	alt, ok := ev.Best()
	conf := 0.0
	if ok {
		conf = a.confidence(transcript.Final, alt.Confidence)
		d.Verdict = a.cls.Classify(alt.Text, conf)
		metricVerdicts.WithLabelValues(d.Kind.String(), d.Verdict.String()).Inc()
	} else {
		a.malformed(transcript.Final, "no_alternatives")
	}

	var tr *[2]State
	a.mu.Lock()
	if ev.Seq > a.lastFinalSeq {
		a.lastFinalSeq = ev.Seq
	}
	switch {
	case !ok:
		d.Action, d.Reason = Forward, "no_alternatives"
	case a.state.Kind != Speaking:
		d.Action, d.Reason = Forward, "silent"
	case !d.Verdict.Real():
		d.HandleID, d.Reason = a.handle.ID(), "filler"
	case !a.handle.AllowInterruptions():
		d.Action, d.HandleID, d.Reason = Forward, a.handle.ID(), "not_interruptible"
	default:
		tr = a.interruptLocked(&d)
	}
	a.mu.Unlock()

	var fw *Forwarded
	if d.Action != Ignore {
		fw = a.forwarded(d, alt, conf)
	}
	a.finish(d, fw, tr)
	return d
}

// interruptLocked cancels the current handle. If playback already finished
// it the event is plain input and the arbiter falls back to Silent.
func (a *Arbiter) interruptLocked(d *Decision) *[2]State {
	h, from := a.handle, a.state
	d.HandleID = h.ID()
	if h.Interrupt() {
		a.state = State{Kind: Interrupted, HandleID: h.ID()}
		d.Action, d.Reason = Interrupt, "barge_in"
	} else {
		a.handle = nil
		a.state = State{Kind: Silent}
		d.Action, d.Reason = Forward, "speech_completed"
	}
	return &[2]State{from, a.state}
}

func (a *Arbiter) forwarded(d Decision, alt transcript.Alternative, conf float64) *Forwarded {
	return &Forwarded{
		SessionID:   a.sessionID,
		Kind:        d.Kind,
		Text:        alt.Text,
		Language:    alt.Language,
		Confidence:  conf,
		Verdict:     d.Verdict,
		Seq:         d.Seq,
		Interrupted: d.Action == Interrupt,
	}
}

func (a *Arbiter) finish(d Decision, fw *Forwarded, tr *[2]State) {
	if tr != nil {
		a.transitioned(tr[0], tr[1])
	}
	switch d.Action {
	case Interrupt:
		metricInterruptions.WithLabelValues(d.Kind.String()).Inc()
		metricForwarded.WithLabelValues(d.Kind.String()).Inc()
	case Forward:
		metricForwarded.WithLabelValues(d.Kind.String()).Inc()
	default:
		metricIgnored.WithLabelValues(d.Reason).Inc()
	}
	a.obs.Decided(d)
	if fw != nil {
		a.fwd.Forward(*fw)
	}
}

func (a *Arbiter) confidence(kind transcript.Kind, c float64) float64 {
	v, rejected := transcript.ScoreConfidence(c)
	if rejected {
		a.malformed(kind, "confidence_out_of_range")
	}
	return v
}

func (a *Arbiter) checkKind(ev transcript.Event, want transcript.Kind) {
	if ev.Kind != want {
		a.malformed(want, "kind_mismatch")
	}
}

func (a *Arbiter) malformed(kind transcript.Kind, reason string) {
	metricMalformed.WithLabelValues(reason).Inc()
	a.obs.Malformed(kind, reason)
}

func (a *Arbiter) transitioned(from, to State) {
	if from == to {
		return
	}
	metricStateTransitions.WithLabelValues(from.Kind.String(), to.Kind.String()).Inc()
	a.obs.Transitioned(from, to)
}
