package status

import (
	"testing"
	"time"

	"github.com/matheus3301/carechat/internal/bus"
)

func TestInitialState(t *testing.T) {
	if c := NewConnMachine(nil).Current(); c != Disconnected {
		t.Errorf("conn initial = %s, want DISCONNECTED", c)
	}
	if c := NewLoadMachine(nil).Current(); c != Uninitialized {
		t.Errorf("load initial = %s, want UNINITIALIZED", c)
	}
}

func TestValidConnTransitions(t *testing.T) {
	tests := []struct {
		from ConnState
		to   ConnState
	}{
		{Disconnected, Connecting},
		{Connecting, Connected},
		{Connecting, ConnError},
		{Connected, ConnError},
		{Connected, Disconnected},
		{ConnError, Connecting},
		{ConnError, Disconnected},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewConnMachine(nil)
			walkConn(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewConnMachine(nil)
	if err := m.Transition(Connected); err == nil {
		t.Error("Transition(DISCONNECTED -> CONNECTED) should fail")
	}
	if m.Current() != Disconnected {
		t.Errorf("state = %s, want DISCONNECTED (unchanged)", m.Current())
	}
}

func TestErroredIsNotTerminal(t *testing.T) {
	m := NewLoadMachine(nil)
	for _, s := range []LoadState{Loading, Errored, Loading, Ready, Loading, Ready} {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
}

func TestLoadCannotSkipLoading(t *testing.T) {
	m := NewLoadMachine(nil)
	if err := m.Transition(Ready); err == nil {
		t.Error("Transition(UNINITIALIZED -> READY) should fail")
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe(bus.TransportStateChanged, 10)
	defer unsub()

	m := NewConnMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		change, ok := evt.Payload.(Change[ConnState])
		if !ok {
			t.Fatalf("payload type = %T, want Change[ConnState]", evt.Payload)
		}
		if change.From != Disconnected || change.To != Connecting {
			t.Errorf("change = %v -> %v, want DISCONNECTED -> CONNECTING", change.From, change.To)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for state change event")
	}
}

func TestResetReturnsToInitial(t *testing.T) {
	b := bus.New()
	m := NewLoadMachine(b)
	_ = m.Transition(Loading)
	_ = m.Transition(Ready)

	ch, unsub := b.Subscribe(bus.ChatLoadStateChanged, 10)
	defer unsub()

	m.Reset()
	if m.Current() != Uninitialized {
		t.Errorf("state = %s, want UNINITIALIZED", m.Current())
	}
	select {
	case evt := <-ch:
		if c := evt.Payload.(Change[LoadState]); c.To != Uninitialized {
			t.Errorf("reset event to = %s", c.To)
		}
	case <-time.After(time.Second):
		t.Fatal("reset did not publish")
	}

	// Resetting an already-initial machine is silent.
	m.Reset()
	select {
	case evt := <-ch:
		t.Errorf("unexpected event %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestReconnectCycle walks the drop-and-recover loop:
// CONNECTED → ERROR → CONNECTING → CONNECTED
func TestReconnectCycle(t *testing.T) {
	m := NewConnMachine(nil)
	walkConn(t, m, Connected)

	for _, s := range []ConnState{ConnError, Connecting, Connected} {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
}

func walkConn(t *testing.T, m *Machine[ConnState], target ConnState) {
	t.Helper()
	paths := map[ConnState][]ConnState{
		Disconnected: {},
		Connecting:   {Connecting},
		Connected:    {Connecting, Connected},
		ConnError:    {Connecting, ConnError},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkConn(%s): %v", target, err)
		}
	}
}
