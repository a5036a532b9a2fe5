package comm

// State is the lifecycle state of a Service.
type State int

const (
	// Down is the initial state: no delegate is held.
	Down State = iota
	// Starting is entered while the first delegate is being built.
	Starting
	// Up means a delegate is live and sends are permitted.
	Up
	// Restarting is entered while a replacement delegate is being built.
	Restarting
	// Terminating is entered while the current delegate is released.
	Terminating
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case Down:
		return "down"
	case Starting:
		return "starting"
	case Up:
		return "up"
	case Restarting:
		return "restarting"
	case Terminating:
		return "terminating"
	default:
		return "unknown"
	}
}

// Stable reports whether s is Up or Down. Every other state only exists
// while an operation is in flight.
func (s State) Stable() bool {
	return s == Up || s == Down
}
