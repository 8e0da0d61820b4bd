package resilience

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"github.com/ventureforge/orchestd/internal/agent"
	"github.com/ventureforge/orchestd/internal/contract"
	"github.com/ventureforge/orchestd/internal/logging"
)

// Wrap layers the breaker, an optional per-invoker rate limiter and the
// retry policy around an agent invoker. Breaker accounting happens per
// attempt, so consecutive transient failures across concurrent workflows
// accumulate against the shared breaker for that agent type.
func Wrap(inner agent.Invoker, retryCfg RetryConfig, breakers *BreakerSet, limiter *rate.Limiter, clock Clock, log *logging.Logger) agent.Invoker {
	retryCfg.ApplyDefaults()
	if log == nil {
		log = logging.NewNop()
	}
	return &wrappedInvoker{
		inner:    inner,
		retryCfg: retryCfg,
		breakers: breakers,
		limiter:  limiter,
		clock:    clock,
		log:      log.Named("resilience"),
	}
}

type wrappedInvoker struct {
	inner    agent.Invoker
	retryCfg RetryConfig
	breakers *BreakerSet
	limiter  *rate.Limiter
	clock    Clock
	log      *logging.Logger
}

func (w *wrappedInvoker) Invoke(ctx context.Context, in contract.AgentInput) (contract.AgentOutput, error) {
	var out contract.AgentOutput

	err := Retry(ctx, w.retryCfg, w.clock, w.log, func(ctx context.Context) error {
		if err := w.breakers.Allow(in.AgentType); err != nil {
			return err
		}
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				// The call never reached the agent: give back the slot so
				// a half-open trial is not consumed without an outcome.
				w.breakers.Release(in.AgentType)
				return err
			}
		}

		result, err := w.inner.Invoke(ctx, in)
		if err != nil {
			switch {
			case errors.Is(err, ErrCircuitOpen):
				// A fast-fail surfacing through a shared inner invoker is
				// not a downstream failure.
			case errors.Is(err, context.Canceled):
				// Caller-side cancellation says nothing about agent health.
				w.breakers.Release(in.AgentType)
			default:
				w.breakers.RecordFailure(in.AgentType)
			}
			return err
		}

		w.breakers.RecordSuccess(in.AgentType)
		out = result
		return nil
	})

	return out, err
}
