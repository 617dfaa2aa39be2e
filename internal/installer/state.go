package installer

import (
	"fmt"
	"sync"
)

// State is where a task is in its lifecycle
type State int

const (
	StatePending State = iota
	StateExtracting
	StateCopying
	StateVerifying
	StateDone
	StateFailed
	StateCancelled
)

var stateNames = [...]string{
	StatePending:    "pending",
	StateExtracting: "extracting",
	StateCopying:    "copying",
	StateVerifying:  "verifying",
	StateDone:       "done",
	StateFailed:     "failed",
	StateCancelled:  "cancelled",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

// transitions lists the legal moves; any state may fail or be cancelled
var transitions = map[State][]State{
	StatePending:    {StateExtracting, StateCopying},
	StateExtracting: {StateVerifying, StateDone},
	StateCopying:    {StateVerifying, StateDone},
	StateVerifying:  {StateDone},
}

// stateMachine guards a task's state
type stateMachine struct {
	mu    sync.Mutex
	state State
}

func (m *stateMachine) current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *stateMachine) to(next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Terminal() {
		return fmt.Errorf("task already %s, cannot become %s", m.state, next)
	}
	if next == StateFailed || next == StateCancelled {
		m.state = next
		return nil
	}
	for _, allowed := range transitions[m.state] {
		if allowed == next {
			m.state = next
			return nil
		}
	}
	return fmt.Errorf("illegal transition %s -> %s", m.state, next)
}
