package engine

import (
	"github.com/rendis/routeflow/pkg/schema"
)

// TransitionHook is called after a state transition.
type TransitionHook func(from, to schema.ExecutionState)

// executionFSM tracks the state of one walk. It is owned by a single
// goroutine and needs no locking.
type executionFSM struct {
	state schema.ExecutionState
	after []TransitionHook
}

func newExecutionFSM(hooks []TransitionHook) *executionFSM {
	return &executionFSM{state: schema.ExecutionRunning, after: hooks}
}

// Transition moves the walk to state to, rejecting moves out of a final state.
func (f *executionFSM) Transition(to schema.ExecutionState) error {
	from := f.state
	if !isValidTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeBlockRuntime, "invalid execution transition: %s -> %s", from, to).
			WithDetails(map[string]any{"from": string(from), "to": string(to)})
	}
	f.state = to
	for _, hook := range f.after {
		hook(from, to)
	}
	return nil
}

func (f *executionFSM) State() schema.ExecutionState { return f.state }

func isValidTransition(from, to schema.ExecutionState) bool {
	for _, a := range schema.ValidExecutionTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}
