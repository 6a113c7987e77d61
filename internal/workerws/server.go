package workerws

import (
    "encoding/json"
    "net/http"
    "strings"
    "time"

    "go.uber.org/zap"

    "yuzu/arbiter/internal/auth"
    "yuzu/arbiter/internal/config"
    "yuzu/arbiter/internal/store"

    ws "nhooyr.io/websocket"
)

// Message is the JSON envelope exchanged with playback workers.
type Message struct {
    Type        string         `json:"type"`
    TsMs        int64          `json:"ts_ms"`
    SessionID   string         `json:"session_id"`
    Seq         int64          `json:"seq"`
    CommandID   string         `json:"command_id,omitempty"`
    UtteranceID string         `json:"utterance_id,omitempty"`
    Payload     map[string]any `json:"payload,omitempty"`
}

type Server struct {
    Cfg   config.Config
    Store *store.Store
    Reg   *Registry
    Log   *zap.Logger

    // OnMessage receives decoded text frames in arrival order.
    OnMessage func(sessionID string, msg Message)
    // OnAudio receives binary frames (PCM16 mono 16 kHz).
    OnAudio func(sessionID string, pcm []byte)
    // OnDisconnect runs after the read loop ends.
    OnDisconnect func(sessionID string)
}

func NewServer(cfg config.Config, st *store.Store, reg *Registry, logger *zap.Logger) *Server {
    if logger == nil {
        logger = zap.NewNop()
    }
    return &Server{Cfg: cfg, Store: st, Reg: reg, Log: logger.With(zap.String("component", "workerws"))}
}

func (s *Server) HandleWorkerWS(w http.ResponseWriter, r *http.Request) {
    q := r.URL.Query()
    sessionID := q.Get("session_id")
    if sessionID == "" {
        http.Error(w, "missing session_id", http.StatusBadRequest)
        return
    }
    if s.Store.GetSession(sessionID) == nil {
        http.Error(w, "unknown session", http.StatusNotFound)
        return
    }
    // Auth header
    authz := r.Header.Get("Authorization")
    if !strings.HasPrefix(authz, "Bearer ") {
        http.Error(w, "missing bearer token", http.StatusUnauthorized)
        return
    }
    token := strings.TrimPrefix(authz, "Bearer ")
    if s.Cfg.Worker.TokenSecret == "" {
        http.Error(w, "worker auth not configured", http.StatusUnauthorized)
        return
    }
    if _, _, err := auth.ValidateWorkerToken(s.Cfg.Worker.TokenSecret, token, sessionID, time.Now(), s.Cfg.Worker.TokenSkewSecs); err != nil {
        http.Error(w, "invalid token", http.StatusUnauthorized)
        return
    }

    c, err := ws.Accept(w, r, nil)
    if err != nil {
        s.Log.Warn("ws accept", zap.String("session_id", sessionID), zap.Error(err))
        return
    }
    if s.Reg.Replace(sessionID, c) {
        s.Store.AppendEvent(sessionID, "worker_replaced", nil)
    }
    s.Store.SetStatus(sessionID, "connected")
    s.Store.AppendEvent(sessionID, "worker_connected", nil)

    s.readLoop(r, sessionID, c)

    _ = c.Close(ws.StatusNormalClosure, "done")
    if s.Reg.RemoveIf(sessionID, c) {
        s.Store.SetStatus(sessionID, "disconnected")
        if s.OnDisconnect != nil {
            s.OnDisconnect(sessionID)
        }
    }
    s.Store.AppendEvent(sessionID, "worker_disconnected", nil)
}

func (s *Server) readLoop(r *http.Request, sessionID string, c *ws.Conn) {
    ctx := r.Context()
    for {
        typ, data, err := c.Read(ctx)
        if err != nil {
            return
        }
        if typ == ws.MessageBinary {
            if s.OnAudio != nil {
                s.OnAudio(sessionID, data)
            }
            continue
        }
        var msg Message
        if err := json.Unmarshal(data, &msg); err != nil {
            s.Store.AppendEvent(sessionID, "worker_msg_invalid", map[string]any{"error": err.Error()})
            continue
        }
        if s.OnMessage != nil {
            s.OnMessage(sessionID, msg)
        }
    }
}
