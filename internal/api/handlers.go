package api

import (
    "context"
    "encoding/json"
    "errors"
    "io"
    "net/http"
    "time"

    "github.com/google/uuid"
    "go.uber.org/zap"

    "yuzu/arbiter/internal/auth"
    "yuzu/arbiter/internal/config"
    "yuzu/arbiter/internal/floor"
    "yuzu/arbiter/internal/health"
    "yuzu/arbiter/internal/store"
    "yuzu/arbiter/internal/types"
    "yuzu/arbiter/internal/workerws"
)

// Dispatcher is the part of the session loop the HTTP surface drives.
type Dispatcher interface {
    OnMessage(sessionID string, msg workerws.Message)
    State(sessionID string) floor.State
}

type Handlers struct {
    cfg   config.Config
    store *store.Store
    disp  Dispatcher
    log   *zap.Logger

    // ready is swapped in tests.
    ready func(ctx context.Context, cfg config.Config) health.HealthStatus
}

func NewHandlers(cfg config.Config, st *store.Store, d Dispatcher, logger *zap.Logger) *Handlers {
    if logger == nil {
        logger = zap.NewNop()
    }
    return &Handlers{cfg: cfg, store: st, disp: d, log: logger.With(zap.String("component", "api")), ready: health.CheckAll}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(status)
    _ = json.NewEncoder(w).Encode(v)
}

func (h *Handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
    ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
    defer cancel()
    st := h.ready(ctx, h.cfg)
    status := http.StatusOK
    if !st.OK {
        status = http.StatusServiceUnavailable
    }
    writeJSON(w, status, st)
}

func (h *Handlers) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
    id := uuid.New().String()
    sess := &types.Session{
        ID:        id,
        CreatedAt: time.Now().UTC(),
        Status:    "created",
    }
    if err := h.store.CreateSession(sess); err != nil {
        http.Error(w, err.Error(), http.StatusConflict)
        return
    }
    h.store.AppendEvent(id, "session_created", nil)
    h.log.Info("session created", zap.String("session_id", id))

    writeJSON(w, http.StatusOK, map[string]any{
        "session_id":     id,
        "worker_ws_path": "/ws/worker?session_id=" + id,
    })
}

func (h *Handlers) HandleListEvents(w http.ResponseWriter, r *http.Request, id string) {
    if h.store.GetSession(id) == nil {
        http.NotFound(w, r)
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{
        "session_id": id,
        "events":     h.store.ListEvents(id),
    })
}

func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request, id string) {
    if h.store.GetSession(id) == nil {
        http.NotFound(w, r)
        return
    }
    writeJSON(w, http.StatusOK, stateBody(id, h.disp.State(id)))
}

func stateBody(id string, st floor.State) map[string]any {
    return map[string]any{
        "session_id": id,
        "state":      st.Kind.String(),
        "handle_id":  st.HandleID,
    }
}

func (h *Handlers) HandleMintWorkerToken(w http.ResponseWriter, r *http.Request, id string) {
    if h.store.GetSession(id) == nil {
        http.NotFound(w, r)
        return
    }
    ttl := time.Duration(h.cfg.Worker.TokenTTLMin) * time.Minute
    tok, exp, err := auth.IssueWorkerToken(h.cfg.Worker.TokenSecret, id, time.Now(), ttl)
    if errors.Is(err, auth.ErrNoSecret) {
        http.Error(w, "worker token secret not configured", http.StatusServiceUnavailable)
        return
    }
    if err != nil {
        http.Error(w, err.Error(), http.StatusInternalServerError)
        return
    }
    h.store.AppendEvent(id, "worker_token_issued", map[string]any{"expires_at": exp.UTC()})
    writeJSON(w, http.StatusOK, map[string]any{
        "session_id": id,
        "token":      tok,
        "expires_at": exp.UTC(),
    })
}

// HandleDebugMessage injects a worker message built from the request body,
// letting a session be driven without a connected worker.
func (h *Handlers) HandleDebugMessage(w http.ResponseWriter, r *http.Request, id, typ string) {
    if h.store.GetSession(id) == nil {
        http.NotFound(w, r)
        return
    }
    var payload map[string]any
    body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
    if err != nil {
        http.Error(w, err.Error(), http.StatusBadRequest)
        return
    }
    if len(body) > 0 {
        if err := json.Unmarshal(body, &payload); err != nil {
            http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
            return
        }
    }
    msg := workerws.Message{
        Type:      typ,
        TsMs:      time.Now().UnixMilli(),
        SessionID: id,
        Payload:   payload,
    }
    if u, ok := payload["utterance_id"].(string); ok {
        msg.UtteranceID = u
    }
    h.disp.OnMessage(id, msg)
    writeJSON(w, http.StatusOK, stateBody(id, h.disp.State(id)))
}
