package workerws

import (
    "context"
    "encoding/json"
    "fmt"
    "sync"

    ws "nhooyr.io/websocket"
)

// Registry keeps at most one worker connection per session.
type Registry struct {
    mu    sync.Mutex
    conns map[string]*ws.Conn
}

func NewRegistry() *Registry { return &Registry{conns: make(map[string]*ws.Conn)} }

// Replace sets the connection for a session and closes the previous one if present.
func (r *Registry) Replace(sessionID string, c *ws.Conn) (prevClosed bool) {
    r.mu.Lock()
    defer r.mu.Unlock()
    if old, ok := r.conns[sessionID]; ok && old != nil {
        _ = old.Close(ws.StatusNormalClosure, "replaced")
        prevClosed = true
    }
    r.conns[sessionID] = c
    return
}

func (r *Registry) Get(sessionID string) *ws.Conn {
    r.mu.Lock()
    defer r.mu.Unlock()
    return r.conns[sessionID]
}

// RemoveIf drops the session's connection only if it is still c, so a
// replaced connection cannot unregister its successor.
func (r *Registry) RemoveIf(sessionID string, c *ws.Conn) bool {
    r.mu.Lock()
    defer r.mu.Unlock()
    if r.conns[sessionID] != c {
        return false
    }
    delete(r.conns, sessionID)
    return true
}

// SendJSON writes v to the session's worker. A session without a worker is
// not an error; commands are best effort.
func (r *Registry) SendJSON(ctx context.Context, sessionID string, v any) error {
    c := r.Get(sessionID)
    if c == nil {
        return nil
    }
    b, err := json.Marshal(v)
    if err != nil {
        return fmt.Errorf("encode worker message: %w", err)
    }
    return c.Write(ctx, ws.MessageText, b)
}
