package crawler

import (
	"fmt"
	"sync"
)

// State is a crawl phase
type State string

const (
	StateSeeding   State = "SEEDING"
	StateExpanding State = "EXPANDING"
	StateDraining  State = "DRAINING"
	StateDone      State = "DONE"
)

// validTransitions lists the states reachable from each state
var validTransitions = map[State][]State{
	StateSeeding:   {StateExpanding, StateDraining},
	StateExpanding: {StateDraining},
	StateDraining:  {StateDone},
	StateDone:      {},
}

// StateMachine tracks the crawl phase and rejects illegal transitions
type StateMachine struct {
	mu           sync.RWMutex
	current      State
	onTransition func(from, to State)
}

// NewStateMachine starts in SEEDING
func NewStateMachine() *StateMachine {
	return &StateMachine{current: StateSeeding}
}

// OnTransition registers a callback invoked after every successful transition
func (sm *StateMachine) OnTransition(cb func(from, to State)) {
	sm.mu.Lock()
	sm.onTransition = cb
	sm.mu.Unlock()
}

// Current returns the current state
func (sm *StateMachine) Current() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// TransitionTo moves to the target state if allowed
func (sm *StateMachine) TransitionTo(to State) error {
	sm.mu.Lock()
	from := sm.current
	if !canTransition(from, to) {
		sm.mu.Unlock()
		return fmt.Errorf("invalid state transition %s -> %s", from, to)
	}
	sm.current = to
	cb := sm.onTransition
	sm.mu.Unlock()

	if cb != nil {
		cb(from, to)
	}
	return nil
}

func canTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
