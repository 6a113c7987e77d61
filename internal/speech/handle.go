package speech

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Handle is one in-flight agent utterance. The playback side creates it and
// marks it done; the arbiter is the only writer of the interrupted flag.
type Handle struct {
	id          string
	allowIntr   bool
	interrupted atomic.Bool
	done        atomic.Bool

	intrOnce sync.Once
	intrC    chan struct{}
	doneOnce sync.Once
	doneC    chan struct{}
}

type Option func(*Handle)

// WithAllowInterruptions controls whether user speech may cancel this
// utterance. Handles are interruptible by default.
func WithAllowInterruptions(allow bool) Option {
	return func(h *Handle) { h.allowIntr = allow }
}

// New creates a handle for utterance id. An empty id gets a random one.
func New(id string, opts ...Option) *Handle {
	if id == "" {
		id = uuid.New().String()
	}
	h := &Handle{
		id:        id,
		allowIntr: true,
		intrC:     make(chan struct{}),
		doneC:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handle) ID() string { return h.id }

func (h *Handle) AllowInterruptions() bool { return h.allowIntr }

func (h *Handle) Interrupted() bool { return h.interrupted.Load() }

// Interrupt requests cancellation. Only the first call has an effect and
// returns true; interrupting a completed handle is a no-op.
func (h *Handle) Interrupt() bool {
	if h.done.Load() {
		return false
	}
	if !h.interrupted.CompareAndSwap(false, true) {
		return false
	}
	h.intrOnce.Do(func() { close(h.intrC) })
	return true
}

// InterruptedC is closed once Interrupt succeeds. Playback watches it to
// stop audio output.
func (h *Handle) InterruptedC() <-chan struct{} { return h.intrC }

// MarkDone records that playback finished, naturally or after interruption.
func (h *Handle) MarkDone() {
	h.done.Store(true)
	h.doneOnce.Do(func() { close(h.doneC) })
}

func (h *Handle) IsDone() bool { return h.done.Load() }

func (h *Handle) Done() <-chan struct{} { return h.doneC }
