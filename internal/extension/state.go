package extension

// State represents the lifecycle state of a registered extension.
type State int

const (
	// StateUnloaded means the type is known but no instance exists.
	StateUnloaded State = iota
	// StateLoaded means an instance has been constructed.
	StateLoaded
	// StateInitialized means Initialize completed successfully.
	StateInitialized
	// StateActive means at least one Execute completed successfully.
	StateActive
	// StateError means the last lifecycle operation failed.
	StateError
	// StateDisabled means an operator disabled the extension after an error.
	StateDisabled
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "UNLOADED"
	case StateLoaded:
		return "LOADED"
	case StateInitialized:
		return "INITIALIZED"
	case StateActive:
		return "ACTIVE"
	case StateError:
		return "ERROR"
	case StateDisabled:
		return "DISABLED"
	default:
		return "UNKNOWN"
	}
}

// Ready reports whether execute may be called in this state.
func (s State) Ready() bool {
	return s == StateInitialized || s == StateActive
}

// holdsInstance reports whether a record in this state keeps its instance.
// ERROR keeps it only so unload or disable can run cleanup.
func (s State) holdsInstance() bool {
	switch s {
	case StateLoaded, StateInitialized, StateActive, StateError:
		return true
	}
	return false
}

// Op names a lifecycle operation.
type Op string

// Lifecycle operations.
const (
	OpDiscover   Op = "discover"
	OpSelect     Op = "select"
	OpLoad       Op = "load"
	OpInitialize Op = "initialize"
	OpExecute    Op = "execute"
	OpUnload     Op = "unload"
	OpDisable    Op = "disable"
	OpReload     Op = "reload"
)

type transition struct {
	success State
	failure State
}

// transitions lists every legal (state, op) pair.
var transitions = map[State]map[Op]transition{
	StateUnloaded: {
		OpLoad: {StateLoaded, StateError},
	},
	StateLoaded: {
		OpInitialize: {StateInitialized, StateError},
		OpUnload:     {StateUnloaded, StateUnloaded},
	},
	StateInitialized: {
		OpExecute: {StateActive, StateError},
		OpUnload:  {StateUnloaded, StateUnloaded},
	},
	StateActive: {
		OpExecute: {StateActive, StateError},
		OpUnload:  {StateUnloaded, StateUnloaded},
	},
	StateError: {
		OpUnload:  {StateUnloaded, StateUnloaded},
		OpDisable: {StateDisabled, StateDisabled},
	},
	StateDisabled: {
		OpUnload: {StateUnloaded, StateUnloaded},
	},
}

// checkTransition validates op against from and returns the states the
// record moves to on success and failure.
func checkTransition(name string, from State, op Op) (transition, error) {
	if t, ok := transitions[from][op]; ok {
		return t, nil
	}
	if op == OpExecute && (from == StateUnloaded || from == StateLoaded) {
		return transition{}, newError(KindNotInitialized, name, op,
			errorf("extension is %s; initialize it before executing", from))
	}
	return transition{}, newError(KindInvalidTransition, name, op,
		errorf("%s is not allowed from %s", op, from))
}
