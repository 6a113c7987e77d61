package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"yuzu/arbiter/internal/config"
)

type CheckResult struct {
	Name    string        `json:"name"`
	OK      bool          `json:"ok"`
	Skipped bool          `json:"skipped,omitempty"`
	Latency time.Duration `json:"latency_ms"`
	Error   string        `json:"error,omitempty"`
}

type HealthStatus struct {
	OK        bool          `json:"ok"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

func (h HealthStatus) String() string {
	status := "OK"
	if !h.OK {
		status = "FAIL"
	}
	s := fmt.Sprintf("Health: %s\n", status)
	for _, c := range h.Checks {
		mark := "✓"
		switch {
		case c.Skipped:
			mark = "-"
		case !c.OK:
			mark = "✗"
		}
		s += fmt.Sprintf("  %s %s (%dms)", mark, c.Name, c.Latency.Milliseconds())
		if c.Error != "" {
			s += fmt.Sprintf(" - %s", c.Error)
		}
		s += "\n"
	}
	return s
}

// CheckAll runs all health checks and returns combined status
func CheckAll(ctx context.Context, cfg config.Config) HealthStatus {
	checks := []CheckResult{
		checkWorkerAuth(cfg),
		checkFiller(cfg),
		checkDeepgram(ctx, cfg),
	}

	allOK := true
	for _, c := range checks {
		if !c.OK {
			allOK = false
		}
	}

	return HealthStatus{
		OK:        allOK,
		Checks:    checks,
		CheckedAt: time.Now().UTC(),
	}
}

func checkWorkerAuth(cfg config.Config) CheckResult {
	result := CheckResult{Name: "worker_auth"}
	if cfg.Worker.TokenSecret == "" {
		result.Error = "WORKER_TOKEN_SECRET not set"
		return result
	}
	result.OK = true
	return result
}

func checkFiller(cfg config.Config) CheckResult {
	result := CheckResult{Name: "filler"}
	if len(cfg.Filler.Words) == 0 {
		result.Error = "filler lexicon is empty"
		return result
	}
	result.OK = true
	return result
}

// checkDeepgram is skipped without an API key: transcripts can still
// arrive from the worker.
func checkDeepgram(ctx context.Context, cfg config.Config) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "deepgram"}

	if cfg.Deepgram.APIKey == "" {
		result.OK = true
		result.Skipped = true
		return result
	}

	// List projects: cheap and requires a valid key
	url := strings.TrimSuffix(cfg.Deepgram.APIURL, "/") + "/v1/projects"
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		result.Error = fmt.Sprintf("request build failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	req.Header.Set("Authorization", "Token "+cfg.Deepgram.APIKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		result.Error = fmt.Sprintf("request failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	defer resp.Body.Close()

	result.Latency = time.Since(start)

	if resp.StatusCode == 401 || resp.StatusCode == 403 {
		result.Error = fmt.Sprintf("invalid API key (%d)", resp.StatusCode)
		return result
	}
	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		result.Error = fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(body))
		return result
	}
	io.Copy(io.Discard, resp.Body)

	result.OK = true
	return result
}
