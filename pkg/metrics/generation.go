package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GenerationMetrics tracks the orchestrator's provider traffic and credit flow.
type GenerationMetrics struct {
	submits         *prometheus.CounterVec
	taskTerminals   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	creditsConsumed prometheus.Counter
	creditsRefunded prometheus.Counter
}

// NewGenerationMetrics registers the generation metrics on the provided registerer.
func NewGenerationMetrics(reg prometheus.Registerer) *GenerationMetrics {
	if reg == nil {
		return &GenerationMetrics{}
	}
	submits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "generation_submit_total",
		Help: "Provider submit attempts by provider and outcome.",
	}, []string{"provider", "outcome"})
	taskTerminals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "generation_task_terminal_total",
		Help: "Generation tasks reaching a terminal status.",
	}, []string{"status"})
	providerLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "generation_provider_latency_seconds",
		Help:    "Latency of provider submit and poll calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "call"})
	creditsConsumed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "credits_consumed_total",
		Help: "Credits reserved for generation requests.",
	})
	creditsRefunded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "credits_refunded_total",
		Help: "Credits returned after failed generations.",
	})
	reg.MustRegister(submits, taskTerminals, providerLatency, creditsConsumed, creditsRefunded)
	return &GenerationMetrics{
		submits:         submits,
		taskTerminals:   taskTerminals,
		providerLatency: providerLatency,
		creditsConsumed: creditsConsumed,
		creditsRefunded: creditsRefunded,
	}
}

// IncSubmit records one provider submit attempt with its outcome.
func (g *GenerationMetrics) IncSubmit(provider, outcome string) {
	if g == nil || g.submits == nil {
		return
	}
	g.submits.WithLabelValues(normalizeLabel(provider), normalizeLabel(outcome)).Inc()
}

// IncTaskTerminal records a task reaching success or failed.
func (g *GenerationMetrics) IncTaskTerminal(status string) {
	if g == nil || g.taskTerminals == nil {
		return
	}
	g.taskTerminals.WithLabelValues(normalizeLabel(status)).Inc()
}

// ObserveProviderCall records the duration of a submit or poll call.
func (g *GenerationMetrics) ObserveProviderCall(provider, call string, duration time.Duration) {
	if g == nil || g.providerLatency == nil {
		return
	}
	g.providerLatency.WithLabelValues(normalizeLabel(provider), normalizeLabel(call)).Observe(duration.Seconds())
}

// AddCreditsConsumed accumulates reserved credits.
func (g *GenerationMetrics) AddCreditsConsumed(amount int64) {
	if g == nil || g.creditsConsumed == nil || amount <= 0 {
		return
	}
	g.creditsConsumed.Add(float64(amount))
}

// AddCreditsRefunded accumulates refunded credits.
func (g *GenerationMetrics) AddCreditsRefunded(amount int64) {
	if g == nil || g.creditsRefunded == nil || amount <= 0 {
		return
	}
	g.creditsRefunded.Add(float64(amount))
}
