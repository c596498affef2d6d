// Package metrics holds the Prometheus collectors of the conversation engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Model call results.
const (
	ResultOK        = "ok"
	ResultError     = "error"
	ResultCancelled = "cancelled"
	ResultEmpty     = "empty"
)

// Tool call outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeCancelled = "cancelled"
)

var (
	cyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aipex",
		Name:      "cycles_total",
		Help:      "Number of processing cycles started.",
	})
	modelCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aipex",
		Name:      "model_calls_total",
		Help:      "Model calls by result.",
	}, []string{"result"})
	toolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aipex",
		Name:      "tool_calls_total",
		Help:      "Tool calls by outcome.",
	}, []string{"outcome"})
	malformedEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aipex",
		Name:      "stream_malformed_events_total",
		Help:      "Streamed payloads skipped because they were not valid JSON.",
	})
	iterationLimitTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aipex",
		Name:      "iteration_limit_total",
		Help:      "Cycles stopped by the iteration ceiling.",
	})
)

func RecordCycle() {
	cyclesTotal.Inc()
}

func RecordModelCall(result string) {
	modelCallsTotal.WithLabelValues(result).Inc()
}

func RecordToolCall(outcome string) {
	toolCallsTotal.WithLabelValues(outcome).Inc()
}

func RecordMalformedEvent() {
	malformedEventsTotal.Inc()
}

func RecordIterationLimit() {
	iterationLimitTotal.Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
