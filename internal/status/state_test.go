package status

import (
	"testing"

	"github.com/mutamirhq/mutamir/internal/bus"
)

// walkTo transitions the machine through the given states sequentially.
func walkTo(t *testing.T, m *Machine, states ...State) {
	t.Helper()
	for _, s := range states {
		if err := m.Transition(s); err != nil {
			t.Fatalf("transition to %s failed: %v", s, err)
		}
	}
}

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Idle {
		t.Errorf("initial state = %s, want IDLE", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		path []State
		to   State
	}{
		{nil, Connecting},
		{[]State{Connecting}, Live},
		{[]State{Connecting, Live}, Reconnecting},
		{[]State{Connecting, Live, Reconnecting}, Degraded},
		{[]State{Connecting, Live, Reconnecting, Degraded}, Live},
		{[]State{Connecting, Live, Reconnecting}, Connecting},
		{[]State{Connecting, Live}, Offline},
	}
	for _, tt := range tests {
		t.Run(string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.path...)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(-> %s) error = %v", tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Live); err == nil {
		t.Error("Transition(IDLE -> LIVE) should fail")
	}
}

func TestSelfTransitionIsNoop(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	walkTo(t, m, Connecting)
	<-ch // drain the Idle -> Connecting change

	if err := m.Transition(Connecting); err != nil {
		t.Errorf("self transition error = %v", err)
	}
	select {
	case evt := <-ch:
		t.Errorf("self transition should not emit, got %v", evt)
	default:
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindSessionStatusChanged {
		t.Errorf("event kind = %q, want %q", evt.Kind, bus.KindSessionStatusChanged)
	}
	change, ok := evt.Payload.(Change)
	if !ok {
		t.Fatalf("payload type = %T, want Change", evt.Payload)
	}
	if change.From != Idle || change.To != Connecting {
		t.Errorf("change = %+v, want Idle -> Connecting", change)
	}
}
