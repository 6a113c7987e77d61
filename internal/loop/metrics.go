package loop

import (
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promauto"
)

var (
    metricWorkerMessages = promauto.NewCounterVec(prometheus.CounterOpts{
        Name: "loop_worker_messages_total",
        Help: "Worker messages received, by type",
    }, []string{"type"})
    metricStopTTSSent = promauto.NewCounter(prometheus.CounterOpts{
        Name: "loop_stop_tts_sent_total",
        Help: "stop_tts commands sent after an interruption",
    })
    metricSTTIdleClosed = promauto.NewCounter(prometheus.CounterOpts{
        Name: "loop_stt_idle_closed_total",
        Help: "Deepgram streams closed after going idle",
    })
    metricTTSTimeoutResets = promauto.NewCounter(prometheus.CounterOpts{
        Name: "loop_tts_timeout_resets_total",
        Help: "Arbiter resets caused by the TTS safety timeout",
    })
)
