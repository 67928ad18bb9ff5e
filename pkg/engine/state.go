package engine

// State is the controller lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateCreating
	StateReady
	StatePaused
	StateUnloaded
	StateDestroyed
	StateError
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateCreating:
		return "creating"
	case StateReady:
		return "ready"
	case StatePaused:
		return "paused"
	case StateUnloaded:
		return "unloaded"
	case StateDestroyed:
		return "destroyed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Active reports whether commands may be sent in this state.
func (s State) Active() bool {
	return s == StateReady || s == StatePaused
}

// Terminal reports whether the state can never be left.
func (s State) Terminal() bool {
	return s == StateDestroyed
}

// canCreate reports whether Create may start from s. Unloaded engines may be
// created again to load new content into the same instance.
func (s State) canCreate() bool {
	return s == StateUninitialized || s == StateUnloaded || s == StateError
}
