// Package metrics registers the Prometheus collectors for the runtime.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	InvocationsTotal   *prometheus.CounterVec
	DenialsTotal       *prometheus.CounterVec
	CreditsCharged     *prometheus.CounterVec
	InvocationDuration *prometheus.HistogramVec

	WorkflowRunsTotal  *prometheus.CounterVec
	WorkflowStepsTotal *prometheus.CounterVec
	VarCollisionsTotal prometheus.Counter

	SuspensionsCreated prometheus.Counter
	LedgerRetriesTotal prometheus.Counter
}

// NewMetrics creates and registers the collectors on reg. Pass a fresh
// registry in tests to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		InvocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketplace_invocations_total",
				Help: "Skill invocations processed, by skill and outcome",
			},
			[]string{"skill_id", "outcome"},
		),
		DenialsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketplace_denials_total",
				Help: "Governance and rate-limit denials by kind",
			},
			[]string{"kind"},
		),
		CreditsCharged: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketplace_credits_charged_total",
				Help: "Credits charged to tenant wallets",
			},
			[]string{"skill_id"},
		),
		InvocationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketplace_invocation_duration_seconds",
				Help:    "Duration of skill invocations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"skill_id"},
		),
		WorkflowRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketplace_workflow_runs_total",
				Help: "Workflow runs by outcome",
			},
			[]string{"outcome"},
		),
		WorkflowStepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketplace_workflow_steps_total",
				Help: "Workflow steps executed, by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		VarCollisionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "marketplace_workflow_var_collisions_total",
				Help: "Variable-memory keys overwritten by a later step",
			},
		),
		SuspensionsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "marketplace_suspensions_created_total",
				Help: "Suspensions created by the rate limiter",
			},
		),
		LedgerRetriesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "marketplace_ledger_write_retries_total",
				Help: "Billing ledger append retries after a failed write",
			},
		),
	}
}

// NewDefault registers on the global default registry.
func NewDefault() *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer)
}
