package store

import "time"

// ExecutionRecord is one finished graph walk.
type ExecutionRecord struct {
	ID         string    `json:"id"`
	RouteID    string    `json:"route_id"`
	Successful bool      `json:"successful"`
	Status     int       `json:"status"`
	ErrorCode  string    `json:"error_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	Trace      []string  `json:"trace,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// ExecutionFilter narrows ListExecutions. Results are newest first.
type ExecutionFilter struct {
	RouteID    string
	FailedOnly bool
	Since      *time.Time
	Limit      int
}
