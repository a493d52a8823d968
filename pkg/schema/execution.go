package schema

// ExecutionState is the state of one graph walk.
type ExecutionState string

const (
	ExecutionRunning   ExecutionState = "running"
	ExecutionCompleted ExecutionState = "completed"
	ExecutionFailed    ExecutionState = "failed"
)

// ValidExecutionTransitions defines the allowed walk state transitions.
var ValidExecutionTransitions = map[ExecutionState][]ExecutionState{
	ExecutionRunning: {ExecutionRunning, ExecutionCompleted, ExecutionFailed},
}

// Output is the HTTP result produced by a response block.
type Output struct {
	HTTPCode int `json:"httpCode"`
	Body     any `json:"body"`
}

// ExecutionResult is the outcome of one graph walk.
type ExecutionResult struct {
	ExecutionID string         `json:"executionId,omitempty"`
	State       ExecutionState `json:"state"`
	Successful  bool           `json:"successful"`
	Output      *Output        `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	ErrorCode   string         `json:"errorCode,omitempty"`
	Trace       []string       `json:"trace,omitempty"`
	// Err is the failure with its cause chain, for logging.
	Err error `json:"-"`
}
