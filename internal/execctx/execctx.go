// Package execctx carries the immutable per-workflow identity bundle.
//
// An ExecutionContext is created once per workflow invocation and read by
// every downstream component. Fields are unexported; the only way to derive a
// changed context is WithOverride, which produces a new value and refuses to
// touch tenant identity or correlation, preserving audit continuity across
// resumed workflows.
package execctx

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ventureforge/orchestd/internal/contract"
)

var (
	// ErrInvalidTenant is returned when the tenant pair fails validation.
	ErrInvalidTenant = errors.New("invalid tenant")

	// ErrMissingContext is returned when no ExecutionContext is present.
	// Fail closed: absence is an error, not an empty value.
	ErrMissingContext = errors.New("execution context missing")
)

// ExecutionContext is the immutable tenant/stage identity of one workflow.
type ExecutionContext struct {
	projectID     uuid.UUID
	correlationID uuid.UUID
	userID        uuid.UUID
	language      string
	stage         contract.Stage
	createdAt     time.Time
}

// Option configures optional fields at construction time.
type Option func(*ExecutionContext)

// WithCorrelationID sets an externally supplied correlation id. When omitted,
// New generates one.
func WithCorrelationID(id uuid.UUID) Option {
	return func(ec *ExecutionContext) {
		ec.correlationID = id
	}
}

// New constructs an ExecutionContext and validates tenant identity.
func New(projectID, userID uuid.UUID, stage contract.Stage, language string, opts ...Option) (ExecutionContext, error) {
	if projectID == uuid.Nil {
		return ExecutionContext{}, fmt.Errorf("%w: project id is the zero UUID", ErrInvalidTenant)
	}
	if !contract.ValidLanguage(language) {
		return ExecutionContext{}, fmt.Errorf("%w: language %q must match ^[a-z]{2}$", ErrInvalidTenant, language)
	}
	if !stage.Valid() {
		return ExecutionContext{}, fmt.Errorf("%w: unknown stage %q", ErrInvalidTenant, stage)
	}

	ec := ExecutionContext{
		projectID: projectID,
		userID:    userID,
		language:  language,
		stage:     stage,
		createdAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&ec)
	}
	if ec.correlationID == uuid.Nil {
		ec.correlationID = uuid.New()
	}
	return ec, nil
}

func (ec ExecutionContext) ProjectID() uuid.UUID     { return ec.projectID }
func (ec ExecutionContext) CorrelationID() uuid.UUID { return ec.correlationID }
func (ec ExecutionContext) UserID() uuid.UUID        { return ec.userID }
func (ec ExecutionContext) Language() string         { return ec.language }
func (ec ExecutionContext) Stage() contract.Stage    { return ec.stage }
func (ec ExecutionContext) CreatedAt() time.Time     { return ec.createdAt }

// ProjectHash returns the SHA-256 hex digest of the project id. Telemetry
// and logs carry the digest, never the raw UUID. The hash is unsalted; see
// HashProjectID.
func (ec ExecutionContext) ProjectHash() string {
	return HashProjectID(ec.projectID)
}

// HashProjectID hashes a project id for emission to telemetry backends.
// No salt or keyed hash is applied, so the digest is stable across backends
// and subject to offline correlation of known UUIDs.
func HashProjectID(id uuid.UUID) string {
	sum := sha256.Sum256([]byte(id.String()))
	return hex.EncodeToString(sum[:])
}

// Zero reports whether the context was never constructed through New.
func (ec ExecutionContext) Zero() bool {
	return ec.projectID == uuid.Nil
}

// Override names a field change requested through WithOverride.
type Override struct {
	Stage  contract.Stage
	UserID uuid.UUID
}

// WithOverride derives a new context for workflow resumption. Only stage and
// user may change; project, language and correlation id are frozen for the
// lifetime of the workflow. The receiver is never modified.
func (ec ExecutionContext) WithOverride(o Override) (ExecutionContext, error) {
	if ec.Zero() {
		return ExecutionContext{}, ErrMissingContext
	}

	next := ec
	if o.Stage != "" {
		if !o.Stage.Valid() {
			return ExecutionContext{}, fmt.Errorf("%w: unknown stage %q", ErrInvalidTenant, o.Stage)
		}
		next.stage = o.Stage
	}
	if o.UserID != uuid.Nil {
		next.userID = o.UserID
	}
	return next, nil
}

// ctxKey is the context key for ExecutionContext.
type ctxKey struct{}

// Into stores the execution context in a context.Context.
func Into(ctx context.Context, ec ExecutionContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, ec)
}

// From extracts the execution context. Returns ErrMissingContext when absent
// so tenant-scoped code paths fail closed.
func From(ctx context.Context) (ExecutionContext, error) {
	ec, ok := ctx.Value(ctxKey{}).(ExecutionContext)
	if !ok || ec.Zero() {
		return ExecutionContext{}, ErrMissingContext
	}
	return ec, nil
}
