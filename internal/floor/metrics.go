package floor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "floor_verdicts_total",
		Help: "Classifier verdicts by event kind",
	}, []string{"kind", "verdict"})

	metricInterruptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "floor_interruptions_total",
		Help: "Agent utterances interrupted by user speech",
	}, []string{"kind"})

	metricForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "floor_forwarded_total",
		Help: "Transcripts forwarded downstream",
	}, []string{"kind"})

	metricIgnored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "floor_ignored_total",
		Help: "Transcripts dropped by the arbiter",
	}, []string{"reason"})

	metricMalformed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "floor_malformed_events_total",
		Help: "Malformed transcript events recovered locally",
	}, []string{"reason"})

	metricStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "floor_state_transitions_total",
		Help: "Arbiter speech state transitions",
	}, []string{"from", "to"})
)
