package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/routeflow/pkg/schema"
)

func TestExecutionFSM(t *testing.T) {
	var calls []schema.ExecutionState
	f := newExecutionFSM([]TransitionHook{func(_, to schema.ExecutionState) { calls = append(calls, to) }})
	assert.Equal(t, schema.ExecutionRunning, f.State())

	require.NoError(t, f.Transition(schema.ExecutionRunning))
	require.NoError(t, f.Transition(schema.ExecutionFailed))
	assert.Equal(t, schema.ExecutionFailed, f.State())

	err := f.Transition(schema.ExecutionCompleted)
	require.Error(t, err)
	assert.Equal(t, schema.ExecutionFailed, f.State())
	assert.Equal(t, []schema.ExecutionState{schema.ExecutionRunning, schema.ExecutionFailed}, calls)
}
