// Package metrics provides Prometheus metrics for the RCA agent.
// Everything registers on the default registry via promauto and is served
// by the /metrics endpoint.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Metric labels
const (
	labelTool   = "tool"
	labelStatus = "status"
	labelStage  = "stage"
	labelServer = "server"
)

var (
	investigationsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rca_agent",
		Name:      "investigations_started_total",
		Help:      "Total number of investigations started",
	})
	investigationsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rca_agent",
		Name:      "investigations_finished_total",
		Help:      "Investigations finished, labeled by terminal status (completed, failed)",
	}, []string{labelStatus})
	investigationsSuspended = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rca_agent",
		Name:      "investigations_suspended_total",
		Help:      "Investigations suspended waiting on operator input; not a terminal state",
	})
	investigationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rca_agent",
		Name:      "investigation_duration_seconds",
		Help:      "End-to-end investigation duration in seconds",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17m
	})
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rca_agent",
		Name:      "stage_duration_seconds",
		Help:      "Workflow stage duration in seconds, labeled by stage",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3m
	}, []string{labelStage})

	toolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rca_agent",
		Name:      "tool_calls_total",
		Help:      "Tool calls issued by sub-agents, labeled by tool name and outcome",
	}, []string{labelTool, labelStatus})
	transportRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rca_agent",
		Name:      "mcp_transport_retries_total",
		Help:      "MCP transport-level retries, labeled by server",
	}, []string{labelServer})

	llmCompletions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rca_agent",
		Name:      "llm_completions_total",
		Help:      "LLM completion calls, labeled by outcome",
	}, []string{labelStatus})
	llmRateLimitRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rca_agent",
		Name:      "llm_rate_limit_retries_total",
		Help:      "Completions retried after a rate limit response",
	})
	llmCompletionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rca_agent",
		Name:      "llm_completion_latency_seconds",
		Help:      "LLM completion latency in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	queryValidationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rca_agent",
		Name:      "query_validation_failures_total",
		Help:      "Generated queries rejected by the validator, labeled by query type",
	}, []string{"query_type"})
)

// Internal counters for LogStats, cheap to read without scraping.
var (
	startedCount   atomic.Uint64
	completedCount atomic.Uint64
	failedCount    atomic.Uint64
	suspendedCount atomic.Uint64
	toolCallCount  atomic.Uint64
	llmCallCount   atomic.Uint64
)

// RecordInvestigationStarted counts a new investigation.
func RecordInvestigationStarted() {
	startedCount.Add(1)
	investigationsStarted.Inc()
}

// RecordInvestigationCompleted counts a successful finish.
func RecordInvestigationCompleted(duration time.Duration) {
	completedCount.Add(1)
	investigationsFinished.WithLabelValues("completed").Inc()
	investigationDuration.Observe(duration.Seconds())
}

// RecordInvestigationFailed counts a terminal failure.
func RecordInvestigationFailed(duration time.Duration) {
	failedCount.Add(1)
	investigationsFinished.WithLabelValues("failed").Inc()
	investigationDuration.Observe(duration.Seconds())
}

// RecordInvestigationSuspended counts a suspension waiting on user input.
// Suspension is not terminal: a resumed investigation still finishes
// exactly once as completed or failed.
func RecordInvestigationSuspended() {
	suspendedCount.Add(1)
	investigationsSuspended.Inc()
}

// RecordStageDuration records how long one workflow stage took.
func RecordStageDuration(stage string, d time.Duration) {
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordToolCall counts one tool invocation. status is ok, tool_error,
// transport_error or unknown.
func RecordToolCall(tool, status string) {
	toolCallCount.Add(1)
	toolCalls.WithLabelValues(tool, status).Inc()
}

// RecordTransportRetry counts one MCP transport retry.
func RecordTransportRetry(server string) {
	transportRetries.WithLabelValues(server).Inc()
}

// RecordLLMCall counts one completion call.
func RecordLLMCall(success bool, latency time.Duration) {
	llmCallCount.Add(1)
	status := "ok"
	if !success {
		status = "error"
	}
	llmCompletions.WithLabelValues(status).Inc()
	llmCompletionLatency.Observe(latency.Seconds())
}

// RecordLLMRateLimitRetry counts one rate-limit backoff.
func RecordLLMRateLimitRetry() {
	llmRateLimitRetries.Inc()
}

// RecordQueryValidationFailure counts one rejected query.
func RecordQueryValidationFailure(queryType string) {
	queryValidationFailures.WithLabelValues(queryType).Inc()
}

// Stats is a snapshot of the internal counters.
type Stats struct {
	Started   uint64
	Completed uint64
	Failed    uint64
	Suspended uint64
	ToolCalls uint64
	LLMCalls  uint64
}

// GetStats returns the current counter values.
func GetStats() Stats {
	return Stats{
		Started:   startedCount.Load(),
		Completed: completedCount.Load(),
		Failed:    failedCount.Load(),
		Suspended: suspendedCount.Load(),
		ToolCalls: toolCallCount.Load(),
		LLMCalls:  llmCallCount.Load(),
	}
}

// LogStats logs the counter snapshot.
func LogStats(logger *zap.Logger) {
	stats := GetStats()
	logger.Info("Operational metrics",
		zap.Uint64("investigations_started", stats.Started),
		zap.Uint64("investigations_completed", stats.Completed),
		zap.Uint64("investigations_failed", stats.Failed),
		zap.Uint64("investigations_suspended", stats.Suspended),
		zap.Uint64("tool_calls", stats.ToolCalls),
		zap.Uint64("llm_calls", stats.LLMCalls),
	)
}
