package gateway

import (
	"fmt"
	"slices"
	"sync"

	"github.com/soukly/convo/internal/bus"
)

// State is the connection-state observable exposed to the rest of the
// engine. Compose and typing operations are no-ops unless Connected.
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
)

// validTransitions defines allowed connection-state moves.
var validTransitions = map[State][]State{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateConnected, StateDisconnected},
	StateConnected:    {StateDisconnected},
}

// StateMachine tracks and enforces connection-state transitions.
type StateMachine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewStateMachine creates a machine starting in Disconnected.
func NewStateMachine(b *bus.Bus) *StateMachine {
	return &StateMachine{current: StateDisconnected, bus: b}
}

// Current returns the current state.
func (m *StateMachine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is invalid.
func (m *StateMachine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Now(bus.KindGatewayStateChanged, StateChange{From: from, To: to}))
	}
	return nil
}

// StateChange is the payload for gw.state_changed events.
type StateChange struct {
	From State
	To   State
}
