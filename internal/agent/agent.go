// Package agent defines the invocation boundary to the LLM-backed
// specialists. The reasoning behind an invocation is a black box to the
// orchestrator; this package only fixes the interface and the error taxonomy
// callers branch on.
package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/ventureforge/orchestd/internal/contract"
)

// ErrUnsupported is returned by invokers that recognize the request but do
// not implement it (e.g. remote agent transports not yet wired). It is a
// normal branch for callers, not a panic or a stub exception.
var ErrUnsupported = errors.New("agent invocation unsupported")

// Invoker executes one agent invocation. Implementations may block on
// network I/O and must honor ctx cancellation.
type Invoker interface {
	Invoke(ctx context.Context, in contract.AgentInput) (contract.AgentOutput, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, in contract.AgentInput) (contract.AgentOutput, error)

func (f InvokerFunc) Invoke(ctx context.Context, in contract.AgentInput) (contract.AgentOutput, error) {
	return f(ctx, in)
}

// TransientError marks a failure worth retrying: timeouts, unavailability,
// 5xx-equivalent responses from the agent backend.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as retryable.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// PermanentError marks an agent-reported unrecoverable failure. It is never
// retried; the workflow records it and terminates.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %s: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err as unrecoverable.
func Permanent(op string, err error) error {
	return &PermanentError{Op: op, Err: err}
}

// IsTransient reports whether err should be retried. Context cancellation
// and deadline expiry are never transient: the caller is going away.
func IsTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is an agent-reported unrecoverable failure.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
