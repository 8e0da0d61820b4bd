package engine

import (
	"sync"

	"github.com/ventureforge/orchestd/internal/contract"
	"github.com/ventureforge/orchestd/internal/execctx"
)

// State is the workflow state machine state.
type State string

const (
	StatePending    State = "PENDING"
	StateRunning    State = "RUNNING"
	StateDelegating State = "DELEGATING"
	StateCompleted  State = "COMPLETED"
	StateFailed     State = "FAILED"
	StateNeedsInput State = "NEEDS_INPUT"
)

// Terminal reports whether the state is an end state. NEEDS_INPUT is a
// suspend state, not terminal: the workflow can re-enter RUNNING.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// frame is one entry on the delegation stack: the agent to run and the
// payload it receives. Delegation depth is the stack length, inspectable
// rather than hidden in call-stack recursion.
type frame struct {
	agent   contract.AgentType
	payload map[string]any
}

// workflow is the in-memory handle for one correlation id. One goroutine
// owns the run loop; Cancel and Status touch only the guarded fields.
type workflow struct {
	mu sync.Mutex

	ec     execctx.ExecutionContext
	state  State
	reason string // cancellation reason, "cancelled" or "timeout"
	cancel func()

	// suspended holds the resume point while state is NEEDS_INPUT.
	suspended *suspension

	// counted tracks whether this workflow holds a slot in the active
	// gauge, so suspend and finalize never double-release it.
	counted bool

	done chan struct{}
}

// releaseSlot returns true the first time it is called while counted.
func (w *workflow) releaseSlot() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.counted {
		return false
	}
	w.counted = false
	return true
}

func (w *workflow) takeSlot() {
	w.mu.Lock()
	w.counted = true
	w.mu.Unlock()
}

// suspension is the resume point for a NEEDS_INPUT workflow.
type suspension struct {
	agent   contract.AgentType
	payload map[string]any
	stack   []frame
}

func (w *workflow) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *workflow) currentState() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *workflow) cancelReason() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reason
}
