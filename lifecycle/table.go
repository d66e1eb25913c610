package lifecycle

// Transition is one row of the per-context transition table: the callback to
// invoke and the state the component lands in depending on its result.
// A FATAL result always lands in StateError with the fatal mark set.
type Transition struct {
	Callback Callback
	OnOK     ContextState
	OnError  ContextState
}

// Next returns the state reached after the callback returned rc.
func (t Transition) Next(rc ReturnCode) ContextState {
	if rc == OK {
		return t.OnOK
	}
	return t.OnError
}

var (
	// Startup is applied to every participant when its context starts.
	Startup = Transition{Callback: OnStartup, OnOK: StateInactive, OnError: StateError}
	// Abort is applied when on_execute or on_state_update fails while ACTIVE.
	Abort = Transition{Callback: OnAborting, OnOK: StateError, OnError: StateError}
)

var requestTable = map[ContextState]map[Request]Transition{
	StateInactive: {
		RequestActivate: {Callback: OnActivated, OnOK: StateActive, OnError: StateError},
	},
	StateActive: {
		RequestDeactivate: {Callback: OnDeactivated, OnOK: StateInactive, OnError: StateError},
	},
	StateError: {
		RequestReset: {Callback: OnReset, OnOK: StateInactive, OnError: StateError},
	},
}

// Lookup returns the transition that applies req to a component in state cur.
// ok is false when the table has no such row.
func Lookup(cur ContextState, req Request) (t Transition, ok bool) {
	rows, exists := requestTable[cur]
	if !exists {
		return Transition{}, false
	}
	t, ok = rows[req]
	return t, ok
}

// Steady returns the callbacks run for a component in state cur when no
// transition is pending. INACTIVE and none consume no scheduler time.
func Steady(cur ContextState) []Callback {
	switch cur {
	case StateActive:
		return []Callback{OnExecute, OnStateUpdate}
	case StateError:
		return []Callback{OnError}
	default:
		return nil
	}
}

// target returns the state a request leads to when it succeeds.
func (r Request) target() ContextState {
	switch r {
	case RequestActivate:
		return StateActive
	case RequestDeactivate, RequestReset:
		return StateInactive
	default:
		return StateNone
	}
}
