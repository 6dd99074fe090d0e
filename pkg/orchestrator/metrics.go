package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors for the pipeline. Registered at package init so a
// single process can host multiple Conversations without double-registering.
var (
	conversationsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "duplexcall_conversations_started_total",
			Help: "Total number of conversations started.",
		},
	)

	conversationsTerminated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duplexcall_conversations_terminated_total",
			Help: "Total number of conversations terminated, by reason.",
		},
		[]string{"reason"},
	)

	interruptsBroadcast = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "duplexcall_interrupts_broadcast_total",
			Help: "Total number of times a barge-in interrupted in-flight pipeline work.",
		},
	)

	synthesisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "duplexcall_synthesis_latency_seconds",
			Help:    "Time taken by Synthesizer.CreateSpeech to return a SynthesisResult for an AgentResponse.",
			Buckets: prometheus.DefBuckets,
		},
	)

	secondsSpoken = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "duplexcall_seconds_spoken",
			Help:    "Seconds of audio actually emitted per synthesized utterance, truncation included.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20},
		},
	)
)
