package supervisor

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSupervisorTimeout means the server never raised its readiness signal
	// within the polling bound.
	ErrSupervisorTimeout = errors.New("embedded server did not become ready")
	// ErrStaleToken is returned when a token from an earlier generation is used.
	ErrStaleToken = errors.New("readiness token is stale")
	// ErrRestartCooling is returned while boots are refused after repeated
	// boot failures.
	ErrRestartCooling = errors.New("restart cooling down after repeated boot failures")
	// ErrStopped is returned after Close.
	ErrStopped = errors.New("supervisor stopped")
)

// State is a supervisor lifecycle state.
type State int

const (
	StateIdle State = iota
	StateBooting
	StateReady
	StateCrashed
	StateFailed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBooting:
		return "booting"
	case StateReady:
		return "ready"
	case StateCrashed:
		return "crashed"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateIdle; st <= StateStopped; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown supervisor state %q", text)
}

// canBoot reports whether a boot may start from s.
func (s State) canBoot() bool {
	return s == StateIdle || s == StateCrashed || s == StateFailed
}

// Event is published on every state transition.
type Event struct {
	State      State     `json:"state"`
	Generation uint64    `json:"generation"`
	Error      string    `json:"error,omitempty"`
	Time       time.Time `json:"time"`
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	State      State     `json:"state"`
	Generation uint64    `json:"generation"`
	Version    string    `json:"version"`
	Since      time.Time `json:"since"`
	LastError  string    `json:"last_error,omitempty"`
}

// Observer receives supervisor events for metrics.
type Observer interface {
	ObserveTransition(from, to State)
	ObserveBoot(d time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveTransition(State, State)   {}
func (nopObserver) ObserveBoot(time.Duration, error) {}
