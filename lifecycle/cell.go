package lifecycle

import (
	"sync"

	"github.com/n-ando/OpenRTM-aist-sub001/rterr"
)

// Cell guards the state of one (component, execution context) pair.
//
// The state, the pending request and the fatal mark live in one value behind
// one mutex, so a reader never observes a pending request without the state
// it was validated against. The lock is held only while the value is read or
// swapped, never across a callback.
type Cell struct {
	mu      sync.Mutex
	state   ContextState
	pending Request
	fatal   bool
	retired bool
	done    chan struct{}
}

// Snapshot returns the current state, the pending request and the fatal mark.
func (c *Cell) Snapshot() (ContextState, Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.pending, c.fatal
}

// State returns the current state.
func (c *Cell) State() ContextState {
	s, _, _ := c.Snapshot()
	return s
}

// Post records req as the pending request, replacing any earlier one.
//
// The request is accepted if the table has a row for it from the current
// state, or from the state the already pending request would lead to. The
// returned channel is closed once the scheduler has consumed the pending slot;
// callers that posted into the same slot share it.
func (c *Cell) Post(req Request) (<-chan struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.retired {
		return nil, rterr.NotFound(req.String(), "", "component is leaving this context")
	}
	if c.fatal {
		return nil, rterr.Precondition(req.String(), "", "component returned FATAL in this context")
	}
	_, fromCurrent := Lookup(c.state, req)
	fromPending := false
	if c.pending != RequestNone {
		_, fromPending = Lookup(c.pending.target(), req)
	}
	if !fromCurrent && !fromPending {
		return nil, rterr.Precondition(req.String(), "", "not allowed in state %s", c.state)
	}

	c.pending = req
	if c.done == nil {
		c.done = make(chan struct{})
	}
	return c.done, nil
}

// Take reads and clears the pending request. The returned release function
// must be called once the request has been applied; it wakes the posters.
func (c *Cell) Take() (ContextState, Request, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := c.pending
	done := c.done
	c.pending = RequestNone
	c.done = nil
	return c.state, req, releaser(done)
}

// Retire refuses further requests. It fails, leaving the cell usable, while
// the state is ACTIVE or a request is pending.
func (c *Cell) Retire() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.state == StateActive:
		return rterr.Precondition("remove_component", "", "component is ACTIVE; deactivate first")
	case c.pending != RequestNone:
		return rterr.Precondition("remove_component", "", "a %s request is pending", c.pending)
	}
	c.retired = true
	return nil
}

// Restore undoes Retire.
func (c *Cell) Restore() {
	c.mu.Lock()
	c.retired = false
	c.mu.Unlock()
}

// Set stores a new state.
func (c *Cell) Set(s ContextState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// MarkFatal moves the cell to its dead-end state.
func (c *Cell) MarkFatal() {
	c.mu.Lock()
	c.state = StateError
	c.fatal = true
	c.mu.Unlock()
}

// Clear returns the cell to StateNone, drops any pending request and wakes
// its posters. Used when the context stops. A fatal cell keeps its dead-end
// state across restarts.
func (c *Cell) Clear() {
	c.mu.Lock()
	done := c.done
	if !c.fatal {
		c.state = StateNone
	}
	c.pending = RequestNone
	c.done = nil
	c.mu.Unlock()
	releaser(done)()
}

func releaser(done chan struct{}) func() {
	if done == nil {
		return func() {}
	}
	return func() { close(done) }
}
