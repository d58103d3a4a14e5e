package gateway

import (
	"testing"

	"github.com/soukly/convo/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewStateMachine(nil)
	if m.Current() != StateDisconnected {
		t.Errorf("initial state = %s, want DISCONNECTED", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	m := NewStateMachine(nil)
	steps := []State{StateConnecting, StateConnected, StateDisconnected, StateConnecting, StateDisconnected}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewStateMachine(nil)
	// Cannot jump straight to Connected without dialing.
	if err := m.Transition(StateConnected); err == nil {
		t.Error("Transition(DISCONNECTED -> CONNECTED) should fail")
	}
	if m.Current() != StateDisconnected {
		t.Errorf("state = %s, want DISCONNECTED (unchanged)", m.Current())
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe(bus.KindGatewayStateChanged, 10)
	defer unsub()

	m := NewStateMachine(b)
	if err := m.Transition(StateConnecting); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	change, ok := evt.Payload.(StateChange)
	if !ok {
		t.Fatalf("payload type = %T, want StateChange", evt.Payload)
	}
	if change.From != StateDisconnected || change.To != StateConnecting {
		t.Errorf("change = %v -> %v, want DISCONNECTED -> CONNECTING", change.From, change.To)
	}
}
