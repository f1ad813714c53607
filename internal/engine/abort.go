package engine

import (
	"context"
	"sync"
)

// AbortRegistry tracks cancel funcs of in-flight generations by run id. A
// newly registered run becomes "current" without cancelling the previous one;
// StopCurrent always targets the most recent run still registered.
type AbortRegistry struct {
	mu      sync.Mutex
	current string
	cancels map[string]context.CancelFunc
}

// NewAbortRegistry creates an empty registry.
func NewAbortRegistry() *AbortRegistry {
	return &AbortRegistry{cancels: make(map[string]context.CancelFunc)}
}

// Register records the cancel func for a run and marks it current.
func (r *AbortRegistry) Register(runID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[runID] = cancel
	r.current = runID
}

// Release forgets a finished run without cancelling it.
func (r *AbortRegistry) Release(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, runID)
	if r.current == runID {
		r.current = ""
	}
}

// Stop cancels the run with the given id. It reports whether such a run was
// registered.
func (r *AbortRegistry) Stop(runID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[runID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// StopCurrent cancels the most recently registered run, if any.
func (r *AbortRegistry) StopCurrent() bool {
	r.mu.Lock()
	id := r.current
	r.mu.Unlock()
	if id == "" {
		return false
	}
	return r.Stop(id)
}

// CurrentID returns the id of the most recently registered run, or "".
func (r *AbortRegistry) CurrentID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}
