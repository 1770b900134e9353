package manager

// State is a component's lifecycle state.
type State string

const (
	StateUnloaded State = "Unloaded"
	StateLoading  State = "Loading"
	StateLoaded   State = "Loaded"
	StateRunning  State = "Running"
	StatePaused   State = "Paused"
	StateStopping State = "Stopping"
	StateStopped  State = "Stopped"
	StateError    State = "Error"
)

// transitions is the set of externally triggerable state changes. Anything
// absent here is an invalid transition and is rejected, not ignored.
var transitions = map[State][]State{
	StateUnloaded: {StateLoading},
	StateLoading:  {StateLoaded, StateError},
	StateLoaded:   {StateRunning, StateUnloaded, StateError},
	StateRunning:  {StatePaused, StateStopping, StateError},
	StatePaused:   {StateRunning, StateStopping, StateError},
	StateStopping: {StateStopped, StateError},
	StateStopped:  {StateLoading, StateUnloaded},
	StateError:    {StateLoading, StateUnloaded},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
