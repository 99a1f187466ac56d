package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/carechat/internal/bus"
)

// ConnState is the Transport Adapter's connection state.
type ConnState string

const (
	Disconnected ConnState = "DISCONNECTED"
	Connecting   ConnState = "CONNECTING"
	Connected    ConnState = "CONNECTED"
	ConnError    ConnState = "ERROR"
)

// ConnTransitions is the transition table for connection state. Any state may
// fall back to Disconnected because disconnect is always allowed.
var ConnTransitions = map[ConnState][]ConnState{
	Disconnected: {Connecting, Disconnected},
	Connecting:   {Connected, ConnError, Disconnected},
	Connected:    {ConnError, Disconnected},
	ConnError:    {Connecting, Disconnected},
}

// LoadState tracks the conversation list lifecycle of the sync engine.
type LoadState string

const (
	Uninitialized LoadState = "UNINITIALIZED"
	Loading       LoadState = "LOADING"
	Ready         LoadState = "READY"
	Errored       LoadState = "ERRORED"
)

// LoadTransitions is the transition table for load state. Errored is not
// terminal: a retry moves back to Loading.
var LoadTransitions = map[LoadState][]LoadState{
	Uninitialized: {Loading},
	Loading:       {Ready, Errored, Loading},
	Ready:         {Loading},
	Errored:       {Loading},
}

// Machine tracks and enforces transitions over a fixed table, publishing a
// Change on the bus after every accepted transition.
type Machine[S ~string] struct {
	mu      sync.RWMutex
	current S
	initial S
	table   map[S][]S
	bus     *bus.Bus
	kind    string
}

// NewMachine creates a machine starting at initial. Changes are published
// under kind when b is non-nil.
func NewMachine[S ~string](b *bus.Bus, kind string, initial S, table map[S][]S) *Machine[S] {
	return &Machine[S]{
		current: initial,
		initial: initial,
		table:   table,
		bus:     b,
		kind:    kind,
	}
}

// NewConnMachine creates a connection machine starting Disconnected.
func NewConnMachine(b *bus.Bus) *Machine[ConnState] {
	return NewMachine(b, bus.TransportStateChanged, Disconnected, ConnTransitions)
}

// NewLoadMachine creates a load machine starting Uninitialized.
func NewLoadMachine(b *bus.Bus) *Machine[LoadState] {
	return NewMachine(b, bus.ChatLoadStateChanged, Uninitialized, LoadTransitions)
}

// Current returns the current state.
func (m *Machine[S]) Current() S {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Is reports whether the machine is currently in s.
func (m *Machine[S]) Is(s S) bool {
	return m.Current() == s
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine[S]) Transition(to S) error {
	m.mu.Lock()
	allowed := m.table[m.current]
	if !slices.Contains(allowed, to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	from := m.current
	m.current = to
	m.mu.Unlock()

	m.publish(from, to)
	return nil
}

// Reset forces the machine back to its initial state regardless of the table.
// Used on session teardown.
func (m *Machine[S]) Reset() {
	m.mu.Lock()
	from := m.current
	m.current = m.initial
	m.mu.Unlock()
	if from != m.initial {
		m.publish(from, m.initial)
	}
}

func (m *Machine[S]) publish(from, to S) {
	if m.bus == nil {
		return
	}
	m.bus.Emit(m.kind, Change[S]{From: from, To: to})
}

// Change is the payload for state change events.
type Change[S ~string] struct {
	From S
	To   S
}
