package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	workflowsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orchestd_workflows_started_total",
		Help: "Workflows accepted by the engine.",
	})

	workflowsTerminal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestd_workflows_terminal_total",
		Help: "Workflows that reached a terminal state.",
	}, []string{"state"})

	activeWorkflows = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orchestd_workflows_active",
		Help: "Workflows currently running or delegating.",
	})

	stepsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestd_steps_completed_total",
		Help: "Agent invocations completed successfully.",
	}, []string{"agent_type"})

	delegations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orchestd_delegations_total",
		Help: "Delegations from one agent to another.",
	})
)
