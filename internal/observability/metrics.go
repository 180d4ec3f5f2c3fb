// Package observability groups the Prometheus instruments for the
// service. Memory extraction failures are absorbed silently on the chat
// path, so metrics are the only place they become visible.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
// A nil *Metrics is valid: every method no-ops, so tests and tools can
// run components without a registry.
type Metrics struct {
	ExtractionFailures  *prometheus.CounterVec
	MemoryMutations     *prometheus.CounterVec
	ProvisioningCalls   *prometheus.CounterVec
	ReconcileWorkspaces *prometheus.CounterVec
	ChatTurns           prometheus.Counter
	ContextOmissions    prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ExtractionFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_failures_total",
			Help:      "Memory extraction failures by stage (call, parse, classify).",
		}, []string{"stage"}),
		MemoryMutations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_mutations_total",
			Help:      "Memory store mutations by kind (insert, reinforce, promote, correct, evict).",
		}, []string{"kind"}),
		ProvisioningCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workspace_provisioning_total",
			Help:      "Workspace provisioning attempts by outcome.",
		}, []string{"outcome"}),
		ReconcileWorkspaces: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_workspaces_total",
			Help:      "Workspaces touched by reconciliation runs, by outcome.",
		}, []string{"outcome"}),
		ChatTurns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_turns_total",
			Help:      "Completed chat turns.",
		}),
		ContextOmissions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_omissions_total",
			Help:      "Memory records omitted from injected context for budget reasons.",
		}),
	}
}

// RecordExtractionFailure counts one failed extraction at the given stage.
func (m *Metrics) RecordExtractionFailure(stage string) {
	if m == nil {
		return
	}
	m.ExtractionFailures.WithLabelValues(stage).Inc()
}

// RecordMemoryMutation counts one store mutation of the given kind.
func (m *Metrics) RecordMemoryMutation(kind string) {
	if m == nil {
		return
	}
	m.MemoryMutations.WithLabelValues(kind).Inc()
}

// RecordProvisioning counts one provisioning attempt outcome.
func (m *Metrics) RecordProvisioning(outcome string) {
	if m == nil {
		return
	}
	m.ProvisioningCalls.WithLabelValues(outcome).Inc()
}

// RecordReconcileOutcome counts one reconciled workspace outcome.
func (m *Metrics) RecordReconcileOutcome(outcome string) {
	if m == nil {
		return
	}
	m.ReconcileWorkspaces.WithLabelValues(outcome).Inc()
}

// RecordChatTurn counts one completed chat turn.
func (m *Metrics) RecordChatTurn() {
	if m == nil {
		return
	}
	m.ChatTurns.Inc()
}

// RecordContextOmissions counts records dropped from context injection.
func (m *Metrics) RecordContextOmissions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ContextOmissions.Add(float64(n))
}

// MetricsHandler returns the HTTP handler for the /metrics endpoint.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
