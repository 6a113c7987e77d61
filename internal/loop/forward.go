package loop

import (
    "context"
    "time"

    "go.uber.org/zap"

    "yuzu/arbiter/internal/floor"
    "yuzu/arbiter/internal/store"
    "yuzu/arbiter/internal/transcript"
    "yuzu/arbiter/internal/workerws"
)

// forwarder records a forwarded transcript and hands it to the worker as a
// user_transcript command.
type forwarder struct {
    d         *Dispatcher
    sessionID string
}

func (f *forwarder) Forward(fw floor.Forwarded) {
    payload := map[string]any{
        "kind":        fw.Kind.String(),
        "text":        fw.Text,
        "language":    fw.Language,
        "confidence":  fw.Confidence,
        "verdict":     fw.Verdict.String(),
        "seq":         fw.Seq,
        "interrupted": fw.Interrupted,
    }
    f.d.store.AppendEvent(f.sessionID, "transcript_forwarded", payload)

    if f.d.send != nil {
        out := workerws.Message{
            Type:      "user_transcript",
            TsMs:      time.Now().UnixMilli(),
            SessionID: f.sessionID,
            Payload:   payload,
        }
        ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
        if err := f.d.send.SendJSON(ctx, f.sessionID, out); err != nil {
            f.d.log.Debug("user_transcript not delivered", zap.String("session_id", f.sessionID), zap.Error(err))
        }
        cancel()
    }
    if f.d.onTurn != nil {
        f.d.onTurn(fw)
    }
}

// storeObserver mirrors arbiter decisions into the session event log.
type storeObserver struct {
    st        *store.Store
    sessionID string
}

func (o *storeObserver) Decided(d floor.Decision) {
    typ := "transcript_ignored"
    switch d.Action {
    case floor.Forward:
        return
    case floor.Interrupt:
        typ = "barge_in"
    }
    o.st.AppendEvent(o.sessionID, typ, map[string]any{
        "kind":      d.Kind.String(),
        "verdict":   d.Verdict.String(),
        "seq":       d.Seq,
        "handle_id": d.HandleID,
        "reason":    d.Reason,
    })
}

func (o *storeObserver) Malformed(kind transcript.Kind, reason string) {
    o.st.AppendEvent(o.sessionID, "transcript_malformed", map[string]any{"kind": kind.String(), "reason": reason})
}

func (o *storeObserver) Transitioned(from, to floor.State) {
    o.st.AppendEvent(o.sessionID, "floor_state", map[string]any{"from": from.String(), "to": to.String()})
}

type multiObserver []floor.Observer

func (m multiObserver) Decided(d floor.Decision) {
    for _, o := range m {
        o.Decided(d)
    }
}

func (m multiObserver) Malformed(kind transcript.Kind, reason string) {
    for _, o := range m {
        o.Malformed(kind, reason)
    }
}

func (m multiObserver) Transitioned(from, to floor.State) {
    for _, o := range m {
        o.Transitioned(from, to)
    }
}
