package workerws

import (
    "context"
    "net/http"
    "net/http/httptest"
    "strings"
    "sync"
    "testing"
    "time"

    ws "nhooyr.io/websocket"

    "yuzu/arbiter/internal/auth"
    "yuzu/arbiter/internal/config"
    "yuzu/arbiter/internal/store"
    "yuzu/arbiter/internal/types"
)

type recorder struct {
    mu    sync.Mutex
    msgs  []Message
    audio [][]byte
    gone  chan string
}

func newTestServer(t *testing.T) (*httptest.Server, *Server, *recorder) {
    t.Helper()
    var cfg config.Config
    cfg.Worker.TokenSecret = "s3cret"
    st := store.New()
    if err := st.CreateSession(&types.Session{ID: "s1", CreatedAt: time.Now(), Status: "created"}); err != nil {
        t.Fatalf("create: %v", err)
    }
    rec := &recorder{gone: make(chan string, 1)}
    s := NewServer(cfg, st, NewRegistry(), nil)
    s.OnMessage = func(_ string, m Message) {
        rec.mu.Lock()
        rec.msgs = append(rec.msgs, m)
        rec.mu.Unlock()
    }
    s.OnAudio = func(_ string, b []byte) {
        rec.mu.Lock()
        rec.audio = append(rec.audio, b)
        rec.mu.Unlock()
    }
    s.OnDisconnect = func(id string) { rec.gone <- id }
    srv := httptest.NewServer(http.HandlerFunc(s.HandleWorkerWS))
    t.Cleanup(srv.Close)
    return srv, s, rec
}

func wsURL(srv *httptest.Server, sid string) string {
    return "ws" + strings.TrimPrefix(srv.URL, "http") + "/?session_id=" + sid
}

func TestRejectsBadToken(t *testing.T) {
    srv, _, _ := newTestServer(t)
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    _, resp, err := ws.Dial(ctx, wsURL(srv, "s1"), &ws.DialOptions{
        HTTPHeader: http.Header{"Authorization": []string{"Bearer nope"}},
    })
    if err == nil {
        t.Fatalf("expected dial failure")
    }
    if resp == nil || resp.StatusCode != http.StatusUnauthorized {
        t.Fatalf("expected 401, got %+v", resp)
    }
}

func TestWorkerRoundTrip(t *testing.T) {
    srv, s, rec := newTestServer(t)
    tok, _, err := auth.IssueWorkerToken("s3cret", "s1", time.Now(), time.Minute)
    if err != nil {
        t.Fatalf("token: %v", err)
    }
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    c, _, err := ws.Dial(ctx, wsURL(srv, "s1"), &ws.DialOptions{
        HTTPHeader: http.Header{"Authorization": []string{"Bearer " + tok}},
    })
    if err != nil {
        t.Fatalf("dial: %v", err)
    }

    if err := c.Write(ctx, ws.MessageText, []byte(`{"type":"tts_started","utterance_id":"u1"}`)); err != nil {
        t.Fatalf("write: %v", err)
    }
    if err := c.Write(ctx, ws.MessageBinary, []byte{1, 2, 3, 4}); err != nil {
        t.Fatalf("write: %v", err)
    }

    // Server to worker
    deadline := time.Now().Add(time.Second)
    for s.Reg.Get("s1") == nil && time.Now().Before(deadline) {
        time.Sleep(5 * time.Millisecond)
    }
    if err := s.Reg.SendJSON(ctx, "s1", Message{Type: "stop_tts", UtteranceID: "u1"}); err != nil {
        t.Fatalf("send: %v", err)
    }
    _, data, err := c.Read(ctx)
    if err != nil {
        t.Fatalf("read: %v", err)
    }
    if !strings.Contains(string(data), `"stop_tts"`) {
        t.Fatalf("unexpected command %s", data)
    }

    c.Close(ws.StatusNormalClosure, "bye")
    select {
    case id := <-rec.gone:
        if id != "s1" {
            t.Fatalf("unexpected disconnect %q", id)
        }
    case <-time.After(2 * time.Second):
        t.Fatalf("disconnect not observed")
    }

    rec.mu.Lock()
    defer rec.mu.Unlock()
    if len(rec.msgs) != 1 || rec.msgs[0].Type != "tts_started" || rec.msgs[0].UtteranceID != "u1" {
        t.Fatalf("unexpected messages %+v", rec.msgs)
    }
    if len(rec.audio) != 1 || len(rec.audio[0]) != 4 {
        t.Fatalf("unexpected audio %+v", rec.audio)
    }
    if got := s.Store.GetSession("s1").Status; got != "disconnected" {
        t.Fatalf("expected disconnected, got %q", got)
    }
}

func TestSendJSONWithoutWorker(t *testing.T) {
    reg := NewRegistry()
    if err := reg.SendJSON(context.Background(), "nobody", Message{Type: "stop_tts"}); err != nil {
        t.Fatalf("expected nil error without a worker, got %v", err)
    }
    if reg.Get("nobody") != nil {
        t.Fatalf("expected no connection")
    }
}
