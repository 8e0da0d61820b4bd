// Package isolation enforces the (project, language) tenant boundary.
//
// Every call into the durable store, the memory search collaborator and every
// agent invocation passes through Authorize first. There is exactly one
// enforcement point so the filtering semantics of the vector query and the
// SQL query cannot drift apart. Violations are security events: they are
// never retried and the offending call is aborted.
package isolation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ventureforge/orchestd/internal/execctx"
	"github.com/ventureforge/orchestd/internal/logging"
)

// ErrIsolation is the sentinel all violations unwrap to.
var ErrIsolation = errors.New("isolation violation")

// Violation describes a rejected cross-tenant operation. Messages carry
// hashed project ids only.
type Violation struct {
	ContextProjectHash string
	TargetProjectHash  string
	ContextLanguage    string
	TargetLanguage     string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("isolation violation: context tenant (%s, %s) does not match target (%s, %s)",
		v.ContextProjectHash[:8], v.ContextLanguage, v.TargetProjectHash[:8], v.TargetLanguage)
}

func (v *Violation) Unwrap() error {
	return ErrIsolation
}

// Validator authorizes tenant-scoped operations against an ExecutionContext.
type Validator struct {
	log *logging.Logger
}

// NewValidator creates a validator. logger may be nil.
func NewValidator(logger *logging.Logger) *Validator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Validator{log: logger.Named("isolation")}
}

// Authorize verifies that the target resource belongs to the context's
// tenant pair. A mismatch is logged as a security event and returned as a
// *Violation; callers must abort the operation and never retry.
func (v *Validator) Authorize(ctx context.Context, ec execctx.ExecutionContext, targetProject uuid.UUID, targetLanguage string) error {
	if ec.Zero() {
		return fmt.Errorf("%w: no execution context", ErrIsolation)
	}
	if targetProject == ec.ProjectID() && targetLanguage == ec.Language() {
		return nil
	}

	violation := &Violation{
		ContextProjectHash: ec.ProjectHash(),
		TargetProjectHash:  execctx.HashProjectID(targetProject),
		ContextLanguage:    ec.Language(),
		TargetLanguage:     targetLanguage,
	}
	v.log.SecurityEvent(ctx, "cross-tenant operation rejected",
		zap.String("target_project_hash", violation.TargetProjectHash),
		zap.String("target_language", targetLanguage),
	)
	return violation
}

// Filter returns the mandatory tenant filter for queries into external
// collaborators. Consumers merge it last so a caller-supplied filter can
// never widen the scope.
func (v *Validator) Filter(ec execctx.ExecutionContext) (map[string]string, error) {
	if ec.Zero() {
		return nil, fmt.Errorf("%w: no execution context", ErrIsolation)
	}
	return map[string]string{
		"project_id": ec.ProjectID().String(),
		"language":   ec.Language(),
	}, nil
}
