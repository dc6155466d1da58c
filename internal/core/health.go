package core

import "sync/atomic"

// HealthState is the durable backend connection state.
type HealthState int32

const (
	Disconnected HealthState = iota
	Connecting
	Ready
)

func (s HealthState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	default:
		return "disconnected"
	}
}

// HealthReader is the read-only view the facade and sweeper consume.
type HealthReader interface {
	State() HealthState
	Ready() bool
}

// Health is the single authoritative flag for durable backend reachability.
// Only the backend's own connection lifecycle calls Transition.
type Health struct {
	state    atomic.Int32
	onChange func(from, to HealthState)
}

func NewHealth(onChange func(from, to HealthState)) *Health {
	return &Health{onChange: onChange}
}

func (h *Health) State() HealthState { return HealthState(h.state.Load()) }

func (h *Health) Ready() bool { return h.State() == Ready }

// Transition moves to the given state and reports whether it changed.
func (h *Health) Transition(to HealthState) bool {
	from := HealthState(h.state.Swap(int32(to)))
	if from == to {
		return false
	}
	if h.onChange != nil {
		h.onChange(from, to)
	}
	return true
}
