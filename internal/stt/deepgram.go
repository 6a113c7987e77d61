package stt

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "net/url"
    "strings"
    "time"

    "go.uber.org/zap"
    "nhooyr.io/websocket"

    "yuzu/arbiter/internal/config"
    "yuzu/arbiter/internal/transcript"
)

// DeepgramConn maintains a single live websocket connection to Deepgram
// for a session, sending PCM16@16k audio and receiving transcript events.
type DeepgramConn struct {
    ctx    context.Context
    cancel context.CancelFunc
    log    *zap.Logger

    apiKey   string
    url      string
    language string

    ws *websocket.Conn

    // Outbound audio queue; caller should drop-latest upstream on pressure
    sendQ chan []byte
    // Events emits interim/final transcripts and provider errors
    Events chan DGEvent

    // Backoff/circuit
    fails   []time.Time
    circuit time.Time
    maxAge  time.Duration

    // Utterance tracking, owned by the read loop
    seq         uint64
    lastInterim []transcript.Alternative
}

type DGEventType string

const (
    DGInterim       DGEventType = "interim"
    DGFinal         DGEventType = "final"
    DGSpeechStarted DGEventType = "speech_started"
    DGError         DGEventType = "error"
)

type DGEvent struct {
    Type       DGEventType
    Transcript transcript.Event
    Text       string // error message
}

type DGConfig struct {
    Model         string
    Language      string
    EndpointingMs int
    Interim       bool
    UtterEndMs    int
    VADEvents     bool
    BaseURL       string
    SocketMaxAgeS int
}

func LoadDGConfig(c config.Deepgram) DGConfig {
    return DGConfig{
        Model:         c.Model,
        Language:      c.Language,
        EndpointingMs: c.EndpointingMs,
        Interim:       true,
        UtterEndMs:    c.UtteranceEndMs,
        VADEvents:     true,
        BaseURL:       c.BaseURL,
        SocketMaxAgeS: c.SocketMaxAgeS,
    }
}

func NewDeepgramConn(parent context.Context, cfg DGConfig, apiKey string, logger *zap.Logger) *DeepgramConn {
    ctx, cancel := context.WithCancel(parent)
    if logger == nil {
        logger = zap.NewNop()
    }
    lang := orDefault(cfg.Language, "en-US")
    q := url.Values{}
    q.Set("model", orDefault(cfg.Model, "nova-2"))
    q.Set("language", lang)
    q.Set("smart_format", "true")
    q.Set("endpointing", fmt.Sprintf("%d", nzd(cfg.EndpointingMs, 1000)))
    q.Set("interim_results", fmt.Sprintf("%t", cfg.Interim))
    q.Set("utterance_end_ms", fmt.Sprintf("%d", nzd(cfg.UtterEndMs, 1500)))
    q.Set("vad_events", fmt.Sprintf("%t", cfg.VADEvents))
    q.Set("encoding", "linear16")
    q.Set("sample_rate", "16000")
    q.Set("channels", "1")
    base := cfg.BaseURL
    if base == "" {
        base = "wss://api.deepgram.com/v1/listen"
    }
    return &DeepgramConn{
        ctx:      ctx,
        cancel:   cancel,
        log:      logger.With(zap.String("component", "deepgram")),
        apiKey:   apiKey,
        url:      base + "?" + q.Encode(),
        language: lang,
        sendQ:    make(chan []byte, 8),
        Events:   make(chan DGEvent, 32),
        maxAge:   time.Duration(nzd(cfg.SocketMaxAgeS, 900)) * time.Second,
        seq:      1,
    }
}

func (d *DeepgramConn) Start() {
    go d.run()
}

func (d *DeepgramConn) Close() { d.cancel() }

func (d *DeepgramConn) Send(pcm16k []byte) bool {
    select {
    case d.sendQ <- pcm16k:
        return true
    default:
        return false
    }
}

func (d *DeepgramConn) QueueLen() int { return len(d.sendQ) }

func (d *DeepgramConn) run() {
    defer close(d.Events)
    for {
        err := d.connectAndPump()
        if err != nil && !errors.Is(err, errRotate) && d.ctx.Err() == nil {
            d.log.Warn("connection failed", zap.Error(err))
            d.addFailure()
            // emit error event so caller may choose to degrade
            d.emit(DGEvent{Type: DGError, Text: err.Error()})
        } else {
            d.resetFailures()
        }
        if d.ctx.Err() != nil {
            return
        }
        t := time.NewTimer(d.nextBackoff())
        select {
        case <-t.C:
        case <-d.ctx.Done():
            t.Stop()
            return
        }
    }
}

var errRotate = errors.New("rotate")

func (d *DeepgramConn) connectAndPump() error {
    // circuit breaker
    if time.Now().Before(d.circuit) {
        return fmt.Errorf("circuit open")
    }

    hdr := make(http.Header)
    if d.apiKey != "" {
        hdr.Set("Authorization", "Token "+d.apiKey)
    }
    ctx, cancel := context.WithTimeout(d.ctx, 10*time.Second)
    defer cancel()
    start := time.Now()
    ws, _, err := websocket.Dial(ctx, d.url, &websocket.DialOptions{HTTPHeader: hdr})
    if err != nil {
        return fmt.Errorf("dial deepgram: %w", err)
    }
    d.log.Info("connected", zap.Duration("took", time.Since(start)))
    metricConnectMS.Observe(float64(time.Since(start).Milliseconds()))
    metricReconnects.Inc()
    d.ws = ws
    defer func() {
        _ = d.ws.Close(websocket.StatusNormalClosure, "bye")
        d.ws = nil
    }()

    pumpCtx, stopPump := context.WithCancel(d.ctx)
    defer stopPump()
    go d.pumpAudio(pumpCtx, ws)

    // schedule rotation if maxAge set
    var rotate <-chan time.Time
    if d.maxAge > 0 {
        t := time.NewTimer(d.maxAge)
        defer t.Stop()
        rotate = t.C
    }

    for {
        if d.ctx.Err() != nil {
            return nil
        }
        // non-blocking rotation check
        select {
        case <-rotate:
            return errRotate
        default:
        }
        _, data, err := ws.Read(d.ctx)
        if err != nil {
            return fmt.Errorf("read deepgram: %w", err)
        }
        if len(data) == 0 {
            continue
        }
        msg, err := ParseMessage(data, d.language)
        if err != nil {
            d.log.Warn("unparseable frame", zap.Error(err))
            continue
        }
        d.handle(msg)
    }
}

func (d *DeepgramConn) pumpAudio(ctx context.Context, ws *websocket.Conn) {
    for {
        select {
        case <-ctx.Done():
            return
        case b := <-d.sendQ:
            if b == nil {
                continue
            }
            wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
            err := ws.Write(wctx, websocket.MessageBinary, b)
            cancel()
            if err != nil {
                d.log.Warn("write failed", zap.Error(err))
                return
            }
        }
    }
}

// handle turns a parsed frame into transcript events. Seq identifies the
// current utterance segment and advances after each final.
func (d *DeepgramConn) handle(msg Message) {
    switch msg.Type {
    case TypeError:
        d.emit(DGEvent{Type: DGError, Text: msg.Error})
    case TypeSpeechStarted:
        metricUtteranceEvents.WithLabelValues("speech_started").Inc()
        d.emit(DGEvent{Type: DGSpeechStarted})
    case TypeResults:
        if msg.Text() == "" {
            if msg.IsFinal {
                metricEmptyFinalSkipped.Inc()
            }
            return
        }
        if !msg.IsFinal {
            d.lastInterim = msg.Alternatives
            d.emit(DGEvent{Type: DGInterim, Transcript: transcript.Event{Kind: transcript.Interim, Alternatives: msg.Alternatives, Seq: d.seq}})
            return
        }
        d.emitFinal(msg.Alternatives, "provider")
    case TypeUtteranceEnd:
        metricUtteranceEvents.WithLabelValues("utterance_end").Inc()
        // No final for the interims seen so far: promote the last interim.
        if len(d.lastInterim) > 0 {
            d.emitFinal(d.lastInterim, "interim_fallback")
        }
    }
}

func (d *DeepgramConn) emitFinal(alts []transcript.Alternative, source string) {
    d.emit(DGEvent{Type: DGFinal, Transcript: transcript.Event{Kind: transcript.Final, Alternatives: alts, Seq: d.seq}})
    metricFinalEmitted.WithLabelValues(source).Inc()
    d.seq++
    d.lastInterim = nil
}

func (d *DeepgramConn) emit(e DGEvent) {
    select {
    case d.Events <- e:
    default:
        // drop if slow consumer
        metricEventDrops.Inc()
    }
}

func (d *DeepgramConn) addFailure() {
    d.fails = append(d.fails, time.Now())
    // prune older than 60s
    cutoff := time.Now().Add(-60 * time.Second)
    j := 0
    for _, t := range d.fails {
        if t.After(cutoff) {
            d.fails[j] = t
            j++
        }
    }
    d.fails = d.fails[:j]
    if len(d.fails) >= 3 {
        d.circuit = time.Now().Add(30 * time.Second)
        metricCircuitOpens.Inc()
    }
}

func (d *DeepgramConn) resetFailures() { d.fails = nil }

func (d *DeepgramConn) nextBackoff() time.Duration {
    n := len(d.fails)
    if n <= 0 {
        return time.Second
    }
    if n > 5 {
        n = 5
    }
    base := time.Duration(1<<uint(n-1)) * time.Second
    if base > 30*time.Second {
        base = 30 * time.Second
    }
    return base
}

func orDefault(s, def string) string {
    if s == "" {
        return def
    }
    return s
}

func nzd(v, def int) int {
    if v == 0 {
        return def
    }
    return v
}

// Frame types of the Deepgram live API.
const (
    TypeResults       = "Results"
    TypeUtteranceEnd  = "UtteranceEnd"
    TypeSpeechStarted = "SpeechStarted"
    TypeMetadata      = "Metadata"
    TypeError         = "Error"
)

// Message is a decoded Deepgram frame.
type Message struct {
    Type         string
    IsFinal      bool
    Alternatives []transcript.Alternative
    Error        string
}

// Text is the trimmed transcript of the best alternative.
func (m Message) Text() string {
    if len(m.Alternatives) == 0 {
        return ""
    }
    return m.Alternatives[0].Text
}

type dgFrame struct {
    Type        string          `json:"type"`
    IsFinal     bool            `json:"is_final"`
    SpeechFinal bool            `json:"speech_final"`
    Channel     json.RawMessage `json:"channel"`
    Description string          `json:"description"`
    Message     string          `json:"message"`
}

type dgChannel struct {
    Alternatives []struct {
        Transcript string   `json:"transcript"`
        Confidence float64  `json:"confidence"`
        Languages  []string `json:"languages"`
    } `json:"alternatives"`
}

// ParseMessage decodes one text frame. Alternatives keep provider order;
// language falls back to lang when the provider does not detect one.
// UtteranceEnd frames carry channel as an array, so channel is decoded only
// for results.
func ParseMessage(data []byte, lang string) (Message, error) {
    var f dgFrame
    if err := json.Unmarshal(data, &f); err != nil {
        return Message{}, fmt.Errorf("decode frame: %w", err)
    }
    typ := f.Type
    isObj := len(f.Channel) > 0 && f.Channel[0] == '{'
    if typ == "" && isObj {
        typ = TypeResults
    }

    m := Message{Type: typ, IsFinal: f.IsFinal || f.SpeechFinal}
    switch {
    case strings.EqualFold(typ, TypeError):
        m.Type = TypeError
        m.Error = firstNonEmpty(f.Description, f.Message, "provider_error")
    case strings.EqualFold(typ, TypeResults) && isObj:
        m.Type = TypeResults
        var ch dgChannel
        if err := json.Unmarshal(f.Channel, &ch); err != nil {
            return Message{}, fmt.Errorf("decode channel: %w", err)
        }
        for _, a := range ch.Alternatives {
            alt := transcript.Alternative{Language: lang, Text: strings.TrimSpace(a.Transcript), Confidence: a.Confidence}
            if len(a.Languages) > 0 {
                alt.Language = a.Languages[0]
            }
            m.Alternatives = append(m.Alternatives, alt)
        }
    }
    return m, nil
}

func firstNonEmpty(vals ...string) string {
    for _, v := range vals {
        if v != "" {
            return v
        }
    }
    return ""
}
