package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"yuzu/arbiter/internal/config"
)

func baseConfig() config.Config {
	var cfg config.Config
	cfg.Worker.TokenSecret = "s3cret"
	cfg.Filler.Words = []string{"uh", "um"}
	return cfg
}

func TestCheckAllWithoutDeepgram(t *testing.T) {
	st := CheckAll(context.Background(), baseConfig())
	if !st.OK {
		t.Fatalf("expected ok, got %s", st)
	}
	if len(st.Checks) != 3 || !st.Checks[2].Skipped {
		t.Fatalf("expected skipped deepgram check, got %+v", st.Checks)
	}
}

func TestCheckAllMissingSecret(t *testing.T) {
	cfg := baseConfig()
	cfg.Worker.TokenSecret = ""
	st := CheckAll(context.Background(), cfg)
	if st.OK {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(st.String(), "WORKER_TOKEN_SECRET not set") {
		t.Fatalf("unexpected report: %s", st)
	}
}

func TestDeepgramCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/projects" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Token good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"projects":[]}`))
	}))
	defer srv.Close()

	cfg := baseConfig()
	cfg.Deepgram.APIURL = srv.URL + "/"
	cfg.Deepgram.APIKey = "good"
	if res := checkDeepgram(context.Background(), cfg); !res.OK || res.Skipped {
		t.Fatalf("expected ok, got %+v", res)
	}

	cfg.Deepgram.APIKey = "bad"
	res := checkDeepgram(context.Background(), cfg)
	if res.OK || res.Error != "invalid API key (401)" {
		t.Fatalf("expected auth failure, got %+v", res)
	}
}
