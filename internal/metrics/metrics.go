// Package metrics exposes the Prometheus counters and histograms named in
// SPEC_FULL §10: pipeline runs by stage/outcome, matching-method sample
// sizes, and LLM call latency/fallback rate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PipelineRunsTotal counts orchestrator runs by terminal status.
	PipelineRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "statistician",
		Name:      "pipeline_runs_total",
		Help:      "Total pipeline runs by terminal status.",
	}, []string{"status"})

	// StageFailuresTotal counts non-fatal and fatal stage failures by stage
	// and error code, mirroring the PipelineError taxonomy.
	StageFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "statistician",
		Name:      "stage_failures_total",
		Help:      "Pipeline stage failures by stage and error code.",
	}, []string{"stage", "code"})

	// MatchedSampleSize records the matched/weighted sample size each
	// matching method produces, one observation per method per run.
	MatchedSampleSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "statistician",
		Name:      "matched_sample_size",
		Help:      "Matched or weighted sample size by matching method.",
		Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"method"})

	// LLMCallDuration records call latency for the judge and summarizer
	// boundary calls.
	LLMCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "statistician",
		Name:      "llm_call_duration_seconds",
		Help:      "LLM judge/summarizer call latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"call"})

	// LLMFallbacksTotal counts calls that fell back to the deterministic
	// path because the LLM was unavailable, errored, or returned an
	// unusable answer.
	LLMFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "statistician",
		Name:      "llm_fallbacks_total",
		Help:      "LLM-backed calls that fell back to the deterministic path.",
	}, []string{"call", "reason"})
)
