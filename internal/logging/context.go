package logging

import (
	"context"

	"go.uber.org/zap"

	"github.com/ventureforge/orchestd/internal/contract"
	"github.com/ventureforge/orchestd/internal/execctx"
)

// agentCtxKey carries the agent type currently being invoked.
type agentCtxKey struct{}

// WithAgentType tags the context with the agent type for log correlation.
func WithAgentType(ctx context.Context, agentType contract.AgentType) context.Context {
	return context.WithValue(ctx, agentCtxKey{}, agentType)
}

// AgentTypeFromContext extracts the agent type, or "" when absent.
func AgentTypeFromContext(ctx context.Context) contract.AgentType {
	if a, ok := ctx.Value(agentCtxKey{}).(contract.AgentType); ok {
		return a
	}
	return ""
}

// ContextFields extracts workflow correlation data from context.
//
// The project id is emitted only as its SHA-256 digest.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)

	if ec, err := execctx.From(ctx); err == nil {
		fields = append(fields,
			zap.String("correlation_id", ec.CorrelationID().String()),
			zap.String("project_hash", ec.ProjectHash()),
			zap.String("language", ec.Language()),
			zap.String("stage", string(ec.Stage())),
		)
	}

	if agentType := AgentTypeFromContext(ctx); agentType != "" {
		fields = append(fields, zap.String("agent_type", string(agentType)))
	}

	return fields
}
