package pipeline

import (
	"fmt"
	"sync"
	"time"
)

// State is the executor's run-level state
type State string

const (
	StateCreated    State = "Created"
	StateValidating State = "Validating"
	StateRunning    State = "Running"
	StateFinalizing State = "Finalizing"
	StateCompleted  State = "Completed"
	StateDenied     State = "Denied"
	StateFailed     State = "Failed"
)

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateDenied || s == StateFailed
}

// allowedTransitions: Created → Validating → Running → Finalizing → {Completed, Denied, Failed}
// Validating → Finalizing 은 입력 검증 거부 경로
var allowedTransitions = map[State][]State{
	StateCreated:    {StateValidating},
	StateValidating: {StateRunning, StateFinalizing},
	StateRunning:    {StateFinalizing},
	StateFinalizing: {StateCompleted, StateDenied, StateFailed},
}

// Transition is one recorded state change
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Machine tracks the run state and rejects undeclared transitions
type Machine struct {
	mu      sync.Mutex
	state   State
	history []Transition
	now     func() time.Time
}

// NewMachine creates a machine in StateCreated
func NewMachine(now func() time.Time) *Machine {
	if now == nil {
		now = time.Now
	}
	return &Machine{state: StateCreated, now: now}
}

// State returns the current state
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// To moves to the next state
func (m *Machine) To(next State) (Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, allowed := range allowedTransitions[m.state] {
		if allowed == next {
			t := Transition{From: m.state, To: next, At: m.now()}
			m.state = next
			m.history = append(m.history, t)
			return t, nil
		}
	}
	return Transition{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, next)
}

// History returns the transitions taken so far
func (m *Machine) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Transition(nil), m.history...)
}
