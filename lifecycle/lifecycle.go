// Package lifecycle holds the state vocabulary of RT components: callback
// return codes, the component-level CREATED/ALIVE/FINALIZED progression, the
// per-execution-context INACTIVE/ACTIVE/ERROR states and the transition table
// that execution contexts apply to them.
//
// The package has no dependencies on components or schedulers so both can
// share it.
package lifecycle

// ReturnCode is the result of every component action callback.
type ReturnCode int

const (
	// OK lets the transition or steady-state step proceed.
	OK ReturnCode = iota
	// Error moves the component to the ERROR state in the calling context.
	Error
	// Fatal leaves the component in a dead-end state; it must be destroyed externally.
	Fatal
)

// String returns a string representation of the return code.
func (rc ReturnCode) String() string {
	switch rc {
	case OK:
		return "OK"
	case Error:
		return "ERROR"
	case Fatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ComponentState is the context-independent lifecycle state of a component.
type ComponentState int

const (
	// Created means the component exists but has not been initialized.
	Created ComponentState = iota
	// Alive means initialize succeeded and the component can be scheduled.
	Alive
	// Finalized means finalize succeeded; the component can only be destroyed.
	Finalized
)

// String returns a string representation of the component state.
func (s ComponentState) String() string {
	switch s {
	case Created:
		return "CREATED"
	case Alive:
		return "ALIVE"
	case Finalized:
		return "FINALIZED"
	default:
		return "UNKNOWN"
	}
}

// ContextState is the state of a component within one execution context.
type ContextState int

const (
	// StateNone means the component has no state in the context yet (context
	// not started, or the component was added after the last start).
	StateNone ContextState = iota
	// StateInactive means the component is started but not executing.
	StateInactive
	// StateActive means on_execute and on_state_update run every tick.
	StateActive
	// StateError means on_error runs every tick until a reset succeeds.
	StateError
)

// String returns a string representation of the context state.
func (s ContextState) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StateInactive:
		return "INACTIVE"
	case StateActive:
		return "ACTIVE"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Request is a pending transition posted by an external caller and honored at
// the start of the next tick.
type Request int

const (
	// RequestNone means nothing is pending.
	RequestNone Request = iota
	// RequestActivate asks for INACTIVE -> ACTIVE.
	RequestActivate
	// RequestDeactivate asks for ACTIVE -> INACTIVE.
	RequestDeactivate
	// RequestReset asks for ERROR -> INACTIVE.
	RequestReset
)

// String returns a string representation of the request.
func (r Request) String() string {
	switch r {
	case RequestNone:
		return "none"
	case RequestActivate:
		return "activate"
	case RequestDeactivate:
		return "deactivate"
	case RequestReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Callback names one entry of the component action table.
type Callback string

// Action table entries. The names are used for logging and metrics labels.
const (
	OnInitialize  Callback = "on_initialize"
	OnFinalize    Callback = "on_finalize"
	OnStartup     Callback = "on_startup"
	OnShutdown    Callback = "on_shutdown"
	OnActivated   Callback = "on_activated"
	OnDeactivated Callback = "on_deactivated"
	OnAborting    Callback = "on_aborting"
	OnError       Callback = "on_error"
	OnReset       Callback = "on_reset"
	OnExecute     Callback = "on_execute"
	OnStateUpdate Callback = "on_state_update"
	OnRateChanged Callback = "on_rate_changed"
)
