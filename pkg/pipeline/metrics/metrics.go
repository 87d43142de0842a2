package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QuestionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quarry_pipeline_questions_total", Help: "Questions processed, by route.",
	}, []string{"route"})

	SynthesisRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quarry_pipeline_synthesis_retries_total", Help: "Synthesizer re-invocations after a rejected draft.",
	})
	ValidationFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quarry_pipeline_validation_failures_total", Help: "Drafts rejected by the validator.",
	})
	TerminalFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quarry_pipeline_terminal_failures_total", Help: "Pipeline runs ending in a terminal failure, by stage.",
	}, []string{"stage"})

	ExecutorCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quarry_executor_cache_hits_total", Help: "Query results served from the fresh cache.",
	})
	DegradedResultsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quarry_executor_degraded_results_total", Help: "Results produced by the row-capped degradation attempt.",
	})
	StaleResultsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quarry_executor_stale_results_total", Help: "Results served from the stale fallback store.",
	})
)
