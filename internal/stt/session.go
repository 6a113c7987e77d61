package stt

import (
    "context"
    "math"
    "sync"
    "time"

    "go.uber.org/zap"
)

// Session owns the Deepgram connection for one agent session and counts the
// audio fed into it.
type Session struct {
    mu      sync.Mutex
    id      string
    lastAct time.Time

    dg  *DeepgramConn
    log *zap.Logger

    bytesIn  uint64
    framesIn uint64
}

func NewSession(parent context.Context, sessionID string, cfg DGConfig, apiKey string, logger *zap.Logger) *Session {
    if logger == nil {
        logger = zap.NewNop()
    }
    log := logger.With(zap.String("session_id", sessionID))
    s := &Session{
        id:      sessionID,
        lastAct: time.Now(),
        dg:      NewDeepgramConn(parent, cfg, apiKey, log),
        log:     log,
    }
    s.dg.Start()
    gaugeSessions.Inc()
    return s
}

// Events is closed when the session is closed.
func (s *Session) Events() <-chan DGEvent { return s.dg.Events }

func (s *Session) SendAudio(b []byte) {
    s.mu.Lock()
    s.bytesIn += uint64(len(b))
    s.framesIn++
    s.lastAct = time.Now()
    frames := s.framesIn
    s.mu.Unlock()

    if frames == 1 || frames%500 == 0 {
        s.log.Debug("audio", zap.Uint64("frame", frames), zap.Int("bytes", len(b)), zap.Float64("rms", calcRMS(b)), zap.Int("queue_len", s.dg.QueueLen()))
    }
    // drop-latest policy if DG queue is congested
    if !s.dg.Send(b) {
        metricDrops.Inc()
    }
    metricAudioBytes.Add(float64(len(b)))
    metricFrames.Inc()
    gaugeQueueDepth.Set(float64(s.dg.QueueLen()))
}

// calcRMS computes RMS of PCM16 audio
func calcRMS(b []byte) float64 {
    if len(b) < 2 {
        return 0
    }
    var sum float64
    n := len(b) / 2
    for i := 0; i < n; i++ {
        // Little-endian int16
        sample := int16(uint16(b[i*2]) | uint16(b[i*2+1])<<8)
        sum += float64(sample) * float64(sample)
    }
    return math.Sqrt(sum / float64(n))
}

func (s *Session) Close() {
    s.dg.Close()
    gaugeSessions.Dec()
}

// IdleFor returns true if the session has been idle for >= d.
func (s *Session) IdleFor(d time.Duration) bool {
    s.mu.Lock()
    defer s.mu.Unlock()
    return time.Since(s.lastAct) >= d
}
