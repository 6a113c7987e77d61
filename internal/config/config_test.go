package config

import (
    "strings"
    "testing"

    "yuzu/arbiter/internal/filler"
)

func TestLoadDefaults(t *testing.T) {
    // Clear relevant envs
    for _, k := range []string{"PORT", "LOG_LEVEL", "FILLER_WORDS", "FILLER_CONFIDENCE_THRESHOLD", "DEEPGRAM_MODEL", "LOOP_TTS_TIMEOUT_SEC"} {
        t.Setenv(k, "")
    }

    c := Load()

    if len(c.Warnings) != 0 {
        t.Fatalf("unexpected warnings %v", c.Warnings)
    }
    if c.Server.Port != "8080" {
        t.Fatalf("expected default port 8080, got %q", c.Server.Port)
    }
    if c.Server.LogLevel != "info" {
        t.Fatalf("expected default log level info, got %q", c.Server.LogLevel)
    }
    if len(c.Filler.Words) != len(filler.DefaultWords) {
        t.Fatalf("expected default filler lexicon, got %v", c.Filler.Words)
    }
    if c.Filler.ConfidenceThreshold != filler.DefaultConfidenceThreshold {
        t.Fatalf("expected default threshold, got %v", c.Filler.ConfidenceThreshold)
    }
    if c.Deepgram.Model != "nova-2" {
        t.Fatalf("expected default deepgram model, got %q", c.Deepgram.Model)
    }
    if c.Loop.TTSTimeoutSec != 60 {
        t.Fatalf("expected default tts timeout 60, got %d", c.Loop.TTSTimeoutSec)
    }
}

func TestLoadFillerOverrides(t *testing.T) {
    t.Setenv("FILLER_WORDS", " like, you know ,,uh ")
    t.Setenv("FILLER_CONFIDENCE_THRESHOLD", "0.65")
    t.Setenv("PORT", "9000")

    c := Load()

    want := []string{"like", "you know", "uh"}
    if len(c.Filler.Words) != len(want) {
        t.Fatalf("expected %v, got %v", want, c.Filler.Words)
    }
    for i := range want {
        if c.Filler.Words[i] != want[i] {
            t.Fatalf("expected %v, got %v", want, c.Filler.Words)
        }
    }
    if c.Filler.ConfidenceThreshold != 0.65 {
        t.Fatalf("expected threshold 0.65, got %v", c.Filler.ConfidenceThreshold)
    }
    if c.Server.Port != "9000" {
        t.Fatalf("expected port 9000, got %q", c.Server.Port)
    }
    opts := c.Filler.Options()
    if opts.ConfidenceThreshold != 0.65 || len(opts.Words) != 3 {
        t.Fatalf("unexpected classifier options %+v", opts)
    }
}

func TestLoadClampsThreshold(t *testing.T) {
    t.Setenv("FILLER_CONFIDENCE_THRESHOLD", "1.5")
    if got := Load().Filler.ConfidenceThreshold; got != 1 {
        t.Fatalf("expected clamped threshold 1, got %v", got)
    }
}

func TestLoadBadThresholdFallsBack(t *testing.T) {
    t.Setenv("FILLER_CONFIDENCE_THRESHOLD", "high")
    c := Load()
    if c.Filler.ConfidenceThreshold != filler.DefaultConfidenceThreshold {
        t.Fatalf("expected default threshold, got %v", c.Filler.ConfidenceThreshold)
    }
    if len(c.Warnings) != 1 || !strings.Contains(c.Warnings[0], "FILLER_CONFIDENCE_THRESHOLD") {
        t.Fatalf("expected one threshold warning, got %v", c.Warnings)
    }
}

func TestLoadSTTIdle(t *testing.T) {
    t.Setenv("LOOP_STT_IDLE_SEC", "")
    if got := Load().Loop.STTIdleSec; got != 60 {
        t.Fatalf("expected default stt idle 60, got %d", got)
    }
    t.Setenv("LOOP_STT_IDLE_SEC", "15")
    if got := Load().Loop.STTIdleSec; got != 15 {
        t.Fatalf("expected stt idle 15, got %d", got)
    }
}
