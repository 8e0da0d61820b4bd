package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ventureforge/orchestd/internal/contract"
)

var (
	// retriesTotal counts retry attempts after transient failures.
	retriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orchestd",
			Subsystem: "resilience",
			Name:      "retries_total",
			Help:      "Total number of retry attempts after transient failures",
		},
	)

	// breakerFastFails counts calls rejected while a breaker was open.
	breakerFastFails = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orchestd",
			Subsystem: "resilience",
			Name:      "breaker_fast_fails_total",
			Help:      "Total number of calls rejected by an open circuit breaker",
		},
		[]string{"agent_type"},
	)

	// breakerState reports the breaker state per agent type
	// (0=closed, 1=half_open, 2=open).
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "orchestd",
			Subsystem: "resilience",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per agent type (0=closed, 1=half_open, 2=open)",
		},
		[]string{"agent_type"},
	)
)

func setBreakerStateGauge(agentType contract.AgentType, state BreakerState) {
	var v float64
	switch state {
	case BreakerHalfOpen:
		v = 1
	case BreakerOpen:
		v = 2
	}
	breakerState.WithLabelValues(string(agentType)).Set(v)
}
