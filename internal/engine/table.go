package engine

import (
	"sync"

	"github.com/google/uuid"
)

// workflowTable is the in-memory index of workflow handles by correlation
// id. It backs idempotent start, resume and cancel.
type workflowTable struct {
	mu sync.RWMutex
	m  map[uuid.UUID]*workflow
}

func newWorkflowTable() *workflowTable {
	return &workflowTable{m: make(map[uuid.UUID]*workflow)}
}

func (t *workflowTable) get(id uuid.UUID) (*workflow, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	wf, ok := t.m[id]
	return wf, ok
}

// putIfAbsent registers wf unless an entry already exists, and reports
// whether wf was stored.
func (t *workflowTable) putIfAbsent(id uuid.UUID, wf *workflow) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.m[id]; ok {
		return false
	}
	t.m[id] = wf
	return true
}

func (t *workflowTable) remove(id uuid.UUID) {
	t.mu.Lock()
	delete(t.m, id)
	t.mu.Unlock()
}
