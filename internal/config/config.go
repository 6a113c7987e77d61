package config

import (
    "fmt"
    "strconv"
    "strings"

    "github.com/spf13/viper"

    "yuzu/arbiter/internal/filler"
    "yuzu/arbiter/internal/transcript"
)

type Config struct {
    Server struct {
        Port      string
        GRPCAddr  string
        LogLevel  string
        LogFormat string
    }
    Filler   Filler
    Deepgram Deepgram
    Worker   struct {
        TokenSecret   string
        TokenSkewSecs int
        TokenTTLMin   int
    }
    // Warnings lists values that were rejected and replaced by defaults.
    // Load runs before logging is configured; the caller logs them.
    Warnings []string

    Loop struct {
        TTSTimeoutSec int
        STTIdleSec    int
    }
}

// Filler configures the filler classifier.
type Filler struct {
    Words               []string
    ConfidenceThreshold float64
}

// Options converts the section into classifier options.
func (f Filler) Options() filler.Options {
    return filler.Options{Words: f.Words, ConfidenceThreshold: f.ConfidenceThreshold}
}

type Deepgram struct {
    APIKey         string
    Model          string
    Language       string
    EndpointingMs  int
    UtteranceEndMs int
    BaseURL        string
    APIURL         string
    SocketMaxAgeS  int
}

func Load() Config {
    v := viper.New()
    v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
    v.AutomaticEnv()

    // Defaults
    v.SetDefault("server.port", 8080)
    v.SetDefault("server.grpc_addr", ":9090")
    v.SetDefault("server.log_level", "info")
    v.SetDefault("server.log_format", "console")

    v.SetDefault("filler.words", strings.Join(filler.DefaultWords, ","))
    v.SetDefault("filler.confidence_threshold", filler.DefaultConfidenceThreshold)

    v.SetDefault("deepgram.model", "nova-2")
    v.SetDefault("deepgram.language", "en-US")
    v.SetDefault("deepgram.endpointing_ms", 1000)
    v.SetDefault("deepgram.utterance_end_ms", 1500)
    v.SetDefault("deepgram.base_url", "wss://api.deepgram.com/v1/listen")
    v.SetDefault("deepgram.api_url", "https://api.deepgram.com")
    v.SetDefault("deepgram.socket_max_age_s", 900)

    v.SetDefault("worker.token_skew_secs", 60)
    v.SetDefault("worker.token_ttl_min", 60)
    v.SetDefault("loop.tts_timeout_sec", 60)
    v.SetDefault("loop.stt_idle_sec", 60)

    // Map envs
    v.BindEnv("server.port", "PORT")
    v.BindEnv("server.grpc_addr", "GRPC_ADDR")
    v.BindEnv("server.log_level", "LOG_LEVEL")
    v.BindEnv("server.log_format", "LOG_FORMAT")

    v.BindEnv("filler.words", "FILLER_WORDS")
    v.BindEnv("filler.confidence_threshold", "FILLER_CONFIDENCE_THRESHOLD")

    v.BindEnv("deepgram.api_key", "DEEPGRAM_API_KEY")
    v.BindEnv("deepgram.model", "DEEPGRAM_MODEL")
    v.BindEnv("deepgram.language", "DEEPGRAM_LANGUAGE")
    v.BindEnv("deepgram.endpointing_ms", "DEEPGRAM_ENDPOINTING_MS")
    v.BindEnv("deepgram.utterance_end_ms", "DEEPGRAM_UTTERANCE_END_MS")
    v.BindEnv("deepgram.base_url", "DEEPGRAM_WS_URL")
    v.BindEnv("deepgram.api_url", "DEEPGRAM_API_URL")
    v.BindEnv("deepgram.socket_max_age_s", "DEEPGRAM_SOCKET_MAX_AGE_S")

    v.BindEnv("worker.token_secret", "WORKER_TOKEN_SECRET")
    v.BindEnv("worker.token_skew_secs", "WORKER_TOKEN_SKEW_SECS")
    v.BindEnv("worker.token_ttl_min", "WORKER_TOKEN_TTL_MIN")
    v.BindEnv("loop.tts_timeout_sec", "LOOP_TTS_TIMEOUT_SEC")
    v.BindEnv("loop.stt_idle_sec", "LOOP_STT_IDLE_SEC")

    var c Config
    c.Server.Port = toString(v.Get("server.port"))
    c.Server.GRPCAddr = v.GetString("server.grpc_addr")
    c.Server.LogLevel = v.GetString("server.log_level")
    c.Server.LogFormat = v.GetString("server.log_format")

    c.Filler.Words = splitList(v.GetString("filler.words"))
    c.Filler.ConfidenceThreshold = c.threshold(v.GetString("filler.confidence_threshold"))

    c.Deepgram.APIKey = v.GetString("deepgram.api_key")
    c.Deepgram.Model = v.GetString("deepgram.model")
    c.Deepgram.Language = v.GetString("deepgram.language")
    c.Deepgram.EndpointingMs = v.GetInt("deepgram.endpointing_ms")
    c.Deepgram.UtteranceEndMs = v.GetInt("deepgram.utterance_end_ms")
    c.Deepgram.BaseURL = v.GetString("deepgram.base_url")
    c.Deepgram.APIURL = v.GetString("deepgram.api_url")
    c.Deepgram.SocketMaxAgeS = v.GetInt("deepgram.socket_max_age_s")

    c.Worker.TokenSecret = v.GetString("worker.token_secret")
    c.Worker.TokenSkewSecs = v.GetInt("worker.token_skew_secs")
    c.Worker.TokenTTLMin = v.GetInt("worker.token_ttl_min")
    c.Loop.TTSTimeoutSec = v.GetInt("loop.tts_timeout_sec")
    c.Loop.STTIdleSec = v.GetInt("loop.stt_idle_sec")

    return c
}

// threshold parses FILLER_CONFIDENCE_THRESHOLD into [0,1]. An unparseable
// value falls back to the default instead of 0, which would promote every
// filler-only utterance to a command.
func (c *Config) threshold(raw string) float64 {
    f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
    if err != nil {
        c.Warnings = append(c.Warnings, fmt.Sprintf("FILLER_CONFIDENCE_THRESHOLD %q is not a number; using %v", raw, filler.DefaultConfidenceThreshold))
        return filler.DefaultConfidenceThreshold
    }
    th, _ := transcript.ClampConfidence(f)
    return th
}

func toString(v any) string { return fmt.Sprint(v) }

// splitList parses a comma separated env value; blanks are dropped.
func splitList(s string) []string {
    var out []string
    for _, p := range strings.Split(s, ",") {
        if p = strings.TrimSpace(p); p != "" {
            out = append(out, p)
        }
    }
    return out
}
