package loop

import (
    "context"
    "encoding/json"
    "errors"
    "sync"
    "time"

    "github.com/google/uuid"
    "go.uber.org/zap"

    "yuzu/arbiter/internal/filler"
    "yuzu/arbiter/internal/floor"
    "yuzu/arbiter/internal/logging"
    "yuzu/arbiter/internal/speech"
    "yuzu/arbiter/internal/store"
    "yuzu/arbiter/internal/stt"
    "yuzu/arbiter/internal/transcript"
    "yuzu/arbiter/internal/workerws"
)

// Sender delivers commands to a session's playback worker.
type Sender interface {
    SendJSON(ctx context.Context, sessionID string, v any) error
}

// Dispatcher routes worker and STT traffic for every session into that
// session's arbiter and carries its decisions back to the worker.
type Dispatcher struct {
    send  Sender
    store *store.Store
    cls   *filler.Classifier
    log   *zap.Logger

    ttsTimeout time.Duration
    onTurn     func(floor.Forwarded)

    dgCfg    stt.DGConfig
    dgAPIKey string
    sttIdle  time.Duration

    mu       sync.Mutex
    sessions map[string]*sessState
}

const defaultSTTIdle = 60 * time.Second

type sessState struct {
    arb          *floor.Arbiter
    ttsStartRecv time.Time
    stt          *stt.Session
}

type Option func(*Dispatcher)

// WithDeepgram enables server-side transcription of worker audio.
func WithDeepgram(cfg stt.DGConfig, apiKey string) Option {
    return func(d *Dispatcher) {
        d.dgCfg = cfg
        d.dgAPIKey = apiKey
    }
}

// WithSTTIdleTimeout closes a session's Deepgram stream after d without
// audio. Zero disables idle closing.
func WithSTTIdleTimeout(d time.Duration) Option {
    return func(disp *Dispatcher) { disp.sttIdle = d }
}

// WithTurnHandler receives every forwarded transcript after it is recorded.
func WithTurnHandler(fn func(floor.Forwarded)) Option {
    return func(d *Dispatcher) { d.onTurn = fn }
}

func New(send Sender, st *store.Store, cls *filler.Classifier, logger *zap.Logger, ttsTimeoutSec int, opts ...Option) *Dispatcher {
    if logger == nil {
        logger = zap.NewNop()
    }
    if cls == nil {
        cls = filler.New(filler.DefaultOptions())
    }
    d := &Dispatcher{
        send:       send,
        store:      st,
        cls:        cls,
        log:        logger.With(zap.String("component", "loop")),
        ttsTimeout: time.Duration(ttsTimeoutSec) * time.Second,
        sttIdle:    defaultSTTIdle,
        sessions:   make(map[string]*sessState),
    }
    for _, opt := range opts {
        opt(d)
    }
    return d
}

func (d *Dispatcher) state(sessionID string) *sessState {
    d.mu.Lock()
    defer d.mu.Unlock()
    s := d.sessions[sessionID]
    if s == nil {
        log := d.log.With(zap.String("session_id", sessionID))
        s = &sessState{
            arb: floor.New(d.cls, &forwarder{d: d, sessionID: sessionID},
                floor.WithSessionID(sessionID),
                floor.WithObserver(multiObserver{logging.NewObserver(log), &storeObserver{st: d.store, sessionID: sessionID}}),
            ),
        }
        d.sessions[sessionID] = s
    }
    return s
}

// State reports the arbiter state of a session.
func (d *Dispatcher) State(sessionID string) floor.State {
    return d.state(sessionID).arb.State()
}

// OnMessage processes a worker message and may send commands to the worker.
func (d *Dispatcher) OnMessage(sessionID string, msg workerws.Message) {
    s := d.state(sessionID)
    metricWorkerMessages.WithLabelValues(msg.Type).Inc()

    switch msg.Type {
    case "tts_started":
        allow := true
        if v, ok := msg.Payload["allow_interruptions"].(bool); ok {
            allow = v
        }
        h := speech.New(msg.UtteranceID, speech.WithAllowInterruptions(allow))
        s.arb.OnSpeechStarted(h)
        d.setTTSStart(s, time.Now())
        go d.watch(sessionID, h)
        d.store.AppendEvent(sessionID, "tts_started", map[string]any{"utterance_id": h.ID(), "allow_interruptions": allow})
    case "tts_first_audio":
        d.store.AppendEvent(sessionID, "tts_first_audio", map[string]any{"utterance_id": msg.UtteranceID, "ts_ms": msg.TsMs})
    case "tts_stopped":
        reason := ""
        if v, ok := msg.Payload["reason"].(string); ok {
            reason = v
        }
        cleared := s.arb.OnSpeechStopped(msg.UtteranceID)
        if cleared {
            d.setTTSStart(s, time.Time{})
        }
        d.store.AppendEvent(sessionID, "tts_stopped", map[string]any{"utterance_id": msg.UtteranceID, "reason": reason, "stale": !cleared})
    case "transcript":
        ev, err := decodeTranscript(msg.Payload)
        if err != nil {
            d.store.AppendEvent(sessionID, "worker_msg_invalid", map[string]any{"error": err.Error()})
            return
        }
        d.route(s, ev)
    case "cmd_ack":
        d.store.AppendEvent(sessionID, "cmd_ack", map[string]any{"command_id": msg.CommandID})
    case "worker_hello":
        // Reset speaking unless worker immediately restates playback
        s.arb.Reset()
        d.setTTSStart(s, time.Time{})
    }

    // Safety timeout check
    d.mu.Lock()
    expired := !s.ttsStartRecv.IsZero() && d.ttsTimeout > 0 && time.Since(s.ttsStartRecv) > d.ttsTimeout
    if expired {
        s.ttsStartRecv = time.Time{}
    }
    d.mu.Unlock()
    if expired {
        s.arb.Reset()
        metricTTSTimeoutResets.Inc()
        d.store.AppendEvent(sessionID, "tts_timeout_reset", nil)
    }
    d.closeIdleSTT(sessionID, s)
}

func (d *Dispatcher) setTTSStart(s *sessState, t time.Time) {
    d.mu.Lock()
    s.ttsStartRecv = t
    d.mu.Unlock()
}

// route hands one transcript event to the arbiter. Interim events carry a
// speaking snapshot taken here, once.
func (d *Dispatcher) route(s *sessState, ev transcript.Event) floor.Decision {
    if ev.Kind == transcript.Final {
        return s.arb.OnFinalTranscript(ev)
    }
    return s.arb.OnInterimTranscript(ev, s.arb.Speaking())
}

// watch plays the playback side of an interruption: once the arbiter
// interrupts h, the worker is told to stop that utterance.
func (d *Dispatcher) watch(sessionID string, h *speech.Handle) {
    select {
    case <-h.InterruptedC():
    case <-h.Done():
        return
    }
    cmdID := uuid.New().String()
    out := workerws.Message{
        Type:        "stop_tts",
        TsMs:        time.Now().UnixMilli(),
        SessionID:   sessionID,
        CommandID:   cmdID,
        UtteranceID: h.ID(),
        Payload:     map[string]any{"mode": "current", "reason": "barge_in"},
    }
    // Best-effort send; append event regardless
    err := errNoWorker
    if d.send != nil {
        ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
        err = d.send.SendJSON(ctx, sessionID, out)
        cancel()
    }
    if err != nil {
        d.log.Warn("stop_tts send failed", zap.String("session_id", sessionID), zap.Error(err))
    }
    metricStopTTSSent.Inc()
    d.store.AppendEvent(sessionID, "stop_tts_sent", map[string]any{"command_id": cmdID, "utterance_id": h.ID()})
}

// OnAudio feeds worker audio to the session's Deepgram stream, opening it on
// first use. Audio is dropped when no API key is configured.
func (d *Dispatcher) OnAudio(sessionID string, pcm []byte) {
    if d.dgAPIKey == "" {
        return
    }
    s := d.state(sessionID)
    d.mu.Lock()
    sess := s.stt
    if sess == nil {
        sess = stt.NewSession(context.Background(), sessionID, d.dgCfg, d.dgAPIKey, d.log)
        s.stt = sess
        go d.consume(sessionID, s, sess)
    }
    d.mu.Unlock()
    sess.SendAudio(pcm)
}

func (d *Dispatcher) consume(sessionID string, s *sessState, sess *stt.Session) {
    for e := range sess.Events() {
        switch e.Type {
        case stt.DGInterim, stt.DGFinal:
            d.route(s, e.Transcript)
        case stt.DGSpeechStarted:
            d.store.AppendEvent(sessionID, "user_speech_started", nil)
        case stt.DGError:
            d.store.AppendEvent(sessionID, "stt_error", map[string]any{"error": e.Text})
        }
    }
}

// closeIdleSTT closes the session's Deepgram stream once it has gone idle.
// The next audio frame opens a fresh one.
func (d *Dispatcher) closeIdleSTT(sessionID string, s *sessState) bool {
    if d.sttIdle <= 0 {
        return false
    }
    d.mu.Lock()
    sess := s.stt
    if sess == nil || !sess.IdleFor(d.sttIdle) {
        d.mu.Unlock()
        return false
    }
    s.stt = nil
    d.mu.Unlock()

    sess.Close()
    metricSTTIdleClosed.Inc()
    d.store.AppendEvent(sessionID, "stt_idle_closed", nil)
    return true
}

// ReapIdle closes idle Deepgram streams every interval until ctx is done.
func (d *Dispatcher) ReapIdle(ctx context.Context, interval time.Duration) {
    ticker := time.NewTicker(interval)
    defer ticker.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case <-ticker.C:
        }
        d.mu.Lock()
        states := make(map[string]*sessState, len(d.sessions))
        for id, s := range d.sessions {
            states[id] = s
        }
        d.mu.Unlock()
        for id, s := range states {
            d.closeIdleSTT(id, s)
        }
    }
}

// OnDisconnect closes the session's STT stream; a reconnecting worker
// opens a new one.
func (d *Dispatcher) OnDisconnect(sessionID string) {
    d.mu.Lock()
    s := d.sessions[sessionID]
    var sess *stt.Session
    if s != nil {
        sess, s.stt = s.stt, nil
    }
    d.mu.Unlock()
    if sess != nil {
        sess.Close()
    }
}

// Close releases every session's STT stream.
func (d *Dispatcher) Close() {
    d.mu.Lock()
    ids := make([]string, 0, len(d.sessions))
    for id := range d.sessions {
        ids = append(ids, id)
    }
    d.mu.Unlock()
    for _, id := range ids {
        d.OnDisconnect(id)
    }
}

type transcriptPayload struct {
    Kind         string                   `json:"kind"`
    Seq          uint64                   `json:"seq"`
    Alternatives []transcript.Alternative `json:"alternatives"`
}

// decodeTranscript reads a worker transcript payload. Unknown kinds are
// rejected; missing alternatives are left for the arbiter to recover.
func decodeTranscript(payload map[string]any) (transcript.Event, error) {
    b, err := json.Marshal(payload)
    if err != nil {
        return transcript.Event{}, err
    }
    var p transcriptPayload
    if err := json.Unmarshal(b, &p); err != nil {
        return transcript.Event{}, err
    }
    kind, ok := transcript.ParseKind(p.Kind)
    if !ok {
        return transcript.Event{}, errUnknownKind(p.Kind)
    }
    return transcript.Event{Kind: kind, Alternatives: p.Alternatives, Seq: p.Seq}, nil
}

var errNoWorker = errors.New("no worker sender")

type errUnknownKind string

func (e errUnknownKind) Error() string { return "unknown transcript kind " + `"` + string(e) + `"` }
