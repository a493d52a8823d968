// Package bridge turns inbound calls into graph walks and walk results into
// HTTP-shaped responses.
package bridge

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/routeflow/internal/engine"
	"github.com/rendis/routeflow/internal/graph"
	"github.com/rendis/routeflow/internal/logging"
	"github.com/rendis/routeflow/internal/store"
	"github.com/rendis/routeflow/pkg/schema"
)

// Defaults for Config fields left at zero.
const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxRequestBody = 10 << 20
)

// GraphSource hands out built graphs. Satisfied by cache.GraphCache.
type GraphSource interface {
	Get(ctx context.Context, routeID string) (*graph.Graph, error)
}

// History records finished executions. Satisfied by store.Store.
type History interface {
	RecordExecution(ctx context.Context, rec *store.ExecutionRecord) error
}

// Response is the outbound side of one call.
type Response struct {
	Status  int
	Body    any
	Headers map[string]string
	Cookies []schema.Cookie
	Result  *schema.ExecutionResult
}

// Config configures a Bridge.
type Config struct {
	Timeout        time.Duration
	MaxRequestBody int64
	History        History
	Metrics        *Metrics
	Logger         *slog.Logger
}

// Bridge runs one route graph per call.
type Bridge struct {
	graphs  GraphSource
	engine  *engine.Engine
	history History
	metrics *Metrics
	logger  *slog.Logger
	timeout time.Duration
	maxBody int64
}

// New creates a Bridge.
func New(graphs GraphSource, eng *engine.Engine, cfg Config) *Bridge {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRequestBody <= 0 {
		cfg.MaxRequestBody = DefaultMaxRequestBody
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bridge{
		graphs:  graphs,
		engine:  eng,
		history: cfg.History,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		timeout: cfg.Timeout,
		maxBody: cfg.MaxRequestBody,
	}
}

// Handle executes the graph of routeID for req. It never returns nil: every
// failure becomes a 500 with a {message} body, except an unknown route
// which is a 404.
func (b *Bridge) Handle(ctx context.Context, routeID string, req *schema.Request) *Response {
	start := time.Now()
	execID := uuid.NewString()
	ctx = logging.WithIDs(ctx, routeID, execID)
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var result *schema.ExecutionResult
	ec := b.engine.NewContext(req)

	g, err := b.graphs.Get(ctx, routeID)
	if err != nil {
		result = &schema.ExecutionResult{
			ExecutionID: execID,
			State:       schema.ExecutionFailed,
			Err:         err,
			Error:       schema.PublicMessage(err),
			ErrorCode:   schema.CodeOf(err),
		}
	} else {
		result = b.engine.Run(ctx, g, ec)
		result.ExecutionID = execID
	}
	elapsed := time.Since(start)

	resp := toResponse(result)
	if result.Successful {
		resp.Headers = ec.ResponseHeaders()
		resp.Cookies = ec.ResponseCookies()
	}

	outcome := OutcomeSuccess
	switch {
	case result.Successful:
		b.logger.DebugContext(ctx, "execution completed", "status", resp.Status, "steps", len(result.Trace), "duration_ms", elapsed.Milliseconds())
	case result.ErrorCode == schema.ErrCodeTimeout:
		outcome = OutcomeTimeout
		b.logger.WarnContext(ctx, "execution timed out", "error", result.Err, "duration_ms", elapsed.Milliseconds())
	default:
		outcome = OutcomeFailure
		b.logger.WarnContext(ctx, "execution failed", "code", result.ErrorCode, "error", result.Err)
	}
	b.metrics.observe(routeID, outcome, elapsed)
	b.record(ctx, routeID, resp, result, elapsed)
	return resp
}

func (b *Bridge) record(ctx context.Context, routeID string, resp *Response, result *schema.ExecutionResult, elapsed time.Duration) {
	if b.history == nil {
		return
	}
	rec := &store.ExecutionRecord{
		ID:         result.ExecutionID,
		RouteID:    routeID,
		Successful: result.Successful,
		Status:     resp.Status,
		ErrorCode:  result.ErrorCode,
		Error:      result.Error,
		Trace:      result.Trace,
		DurationMs: elapsed.Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	}
	// The request context may already be past its deadline.
	if err := b.history.RecordExecution(context.WithoutCancel(ctx), rec); err != nil {
		b.logger.WarnContext(ctx, "record execution failed", "error", err)
	}
}

func toResponse(result *schema.ExecutionResult) *Response {
	if !result.Successful {
		status := http.StatusInternalServerError
		if result.ErrorCode == schema.ErrCodeNotFound {
			status = http.StatusNotFound
		}
		return &Response{
			Status: status,
			Body:   map[string]any{"message": result.Error},
			Result: result,
		}
	}
	resp := &Response{Status: http.StatusOK, Result: result}
	if result.Output != nil {
		if result.Output.HTTPCode != 0 {
			resp.Status = result.Output.HTTPCode
		}
		resp.Body = result.Output.Body
	}
	return resp
}
