package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rendis/routeflow/internal/blocks"
	"github.com/rendis/routeflow/internal/expressions"
	"github.com/rendis/routeflow/internal/graph"
	"github.com/rendis/routeflow/internal/integrations"
	"github.com/rendis/routeflow/internal/logging"
	"github.com/rendis/routeflow/pkg/schema"
)

// Defaults for Config fields left at zero.
const (
	DefaultMaxLoopIterations = 10000
	DefaultMaxSteps          = 100000
	DefaultMaxResponseBody   = 10 << 20
)

// Config bounds every walk run by an Engine.
type Config struct {
	// MaxLoopIterations caps the iterations of a single loop block.
	MaxLoopIterations int
	// MaxSteps caps the blocks executed by one walk, loop bodies included.
	MaxSteps        int
	MaxResponseBody int64
	HTTPClient      *http.Client
	// Hooks run after every execution state transition.
	Hooks []TransitionHook
}

// IntegrationSource resolves integration ids to live adapters.
// Satisfied by *integrations.Resolver.
type IntegrationSource interface {
	Adapter(ctx context.Context, id string) (integrations.Adapter, error)
}

// Engine walks built graphs. It holds no per-request state and is safe for
// concurrent use.
type Engine struct {
	engines      *expressions.Engines
	integrations IntegrationSource
	logger       *slog.Logger
	cfg          Config
}

// New creates an Engine. integrations may be nil when no route uses db blocks.
func New(engines *expressions.Engines, integrations IntegrationSource, logger *slog.Logger, cfg Config) *Engine {
	if cfg.MaxLoopIterations <= 0 {
		cfg.MaxLoopIterations = DefaultMaxLoopIterations
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = DefaultMaxResponseBody
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{engines: engines, integrations: integrations, logger: logger, cfg: cfg}
}

// Run walks g from its entrypoint with the request body as the initial
// carry. The walk completes on a response block or on a dead end; any error
// fails it. Run never returns nil.
func (e *Engine) Run(ctx context.Context, g *graph.Graph, ec *ExecutionContext) (result *schema.ExecutionResult) {
	fsm := newExecutionFSM(e.cfg.Hooks)
	w := &walker{engine: e, graph: g, ec: ec}
	result = &schema.ExecutionResult{
		ExecutionID: logging.ExecutionID(ctx),
		State:       schema.ExecutionRunning,
	}

	defer func() {
		if r := recover(); r != nil {
			ec.rollbackAll()
			e.logger.ErrorContext(ctx, "execution panicked", "panic", fmt.Sprint(r))
			w.fail(fsm, result, schema.NewErrorf(schema.ErrCodeBlockRuntime, "internal error"))
		}
		result.Trace = w.trace
	}()

	out, err := w.walk(ctx, g.Entrypoint, ec.request.Body)
	if err != nil {
		ec.rollbackAll()
		w.fail(fsm, result, err)
		return result
	}

	_ = fsm.Transition(schema.ExecutionCompleted)
	result.State = fsm.State()
	result.Successful = true
	result.Output = out
	return result
}

type walker struct {
	engine *Engine
	graph  *graph.Graph
	ec     *ExecutionContext
	steps  int
	trace  []string
}

func (w *walker) fail(fsm *executionFSM, result *schema.ExecutionResult, err error) {
	_ = fsm.Transition(schema.ExecutionFailed)
	result.State = fsm.State()
	result.Successful = false
	result.Output = nil
	result.Err = err
	result.Error = schema.PublicMessage(err)
	result.ErrorCode = schema.CodeOf(err)
}

// walk executes blocks from start until a response, a dead end or an error.
// A non-nil output means a response block ended the request.
func (w *walker) walk(ctx context.Context, start string, carry any) (*schema.Output, error) {
	id := start
	for {
		if err := w.tick(ctx, id); err != nil {
			return nil, err
		}
		node, ok := w.graph.Node(id)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeBlockRuntime, "block %q is not in the graph", id)
		}
		bctx := logging.WithBlockID(ctx, id)

		var handle schema.Handle
		switch p := node.Payload.(type) {
		case blocks.Terminal:
			out, err := p.Respond(bctx, w.ec, carry)
			if err != nil {
				return nil, w.blockError(ctx, id, err)
			}
			return out, nil

		case blocks.Operation:
			res, err := p.Run(bctx, w.ec, carry)
			if err != nil {
				return nil, w.blockError(ctx, id, err)
			}
			handle, carry = res.Handle, res.Carry

		case blocks.Loop:
			out, err := w.loop(bctx, id, p, carry)
			if err != nil || out != nil {
				return out, err
			}
			handle = schema.HandleDefault

		case blocks.Scoped:
			out, err := w.transaction(bctx, id, p, carry)
			if err != nil || out != nil {
				return out, err
			}
			handle = schema.HandleDefault

		default:
			return nil, schema.NewErrorf(schema.ErrCodeBlockRuntime, "%s blocks cannot execute", node.Type).WithBlock(id)
		}

		next := w.graph.Next(id, handle)
		switch len(next) {
		case 0:
			return nil, nil
		case 1:
			id = next[0].To
		default:
			return w.fanOut(ctx, next, carry)
		}
	}
}

// follow walks every link on (id, h) in edge order with the same carry.
func (w *walker) follow(ctx context.Context, id string, h schema.Handle, carry any) (*schema.Output, error) {
	return w.fanOut(ctx, w.graph.Next(id, h), carry)
}

// fanOut walks each branch in turn; the first that responds ends the walk.
func (w *walker) fanOut(ctx context.Context, links []graph.Link, carry any) (*schema.Output, error) {
	for _, l := range links {
		out, err := w.walk(ctx, l.To, carry)
		if err != nil || out != nil {
			return out, err
		}
	}
	return nil, nil
}

// loop walks the executor branch once per iteration. A response inside the
// body ends the request.
func (w *walker) loop(ctx context.Context, id string, p blocks.Loop, carry any) (*schema.Output, error) {
	its, err := p.Iterations(ctx, w.ec, carry, w.engine.cfg.MaxLoopIterations)
	if err != nil {
		return nil, w.blockError(ctx, id, err)
	}
	for _, it := range its {
		for k, v := range it.Bindings {
			w.ec.vars[k] = v
		}
		out, err := w.follow(ctx, id, schema.HandleExecutor, it.Carry)
		if err != nil || out != nil {
			return out, err
		}
	}
	return nil, nil
}

// transaction walks the executor branch inside one transaction. It commits
// when the branch completes, including by responding, and rolls back on
// error. A transaction on an integration that already has one open joins it.
func (w *walker) transaction(ctx context.Context, id string, p blocks.Scoped, carry any) (*schema.Output, error) {
	integrationID, err := p.Integration(ctx, w.ec, carry)
	if err != nil {
		return nil, w.blockError(ctx, id, err)
	}
	if _, open := w.ec.txs[integrationID]; open {
		return w.follow(ctx, id, schema.HandleExecutor, carry)
	}

	adapter, err := w.ec.adapter(ctx, integrationID)
	if err != nil {
		return nil, w.blockError(ctx, id, err)
	}
	tx, err := adapter.Begin(ctx)
	if err != nil {
		return nil, w.blockError(ctx, id, err)
	}
	w.ec.txs[integrationID] = tx
	defer delete(w.ec.txs, integrationID)

	out, err := w.follow(ctx, id, schema.HandleExecutor, carry)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			w.ec.logger.WarnContext(ctx, "transaction rollback failed", "integration_id", integrationID, "error", rbErr)
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, w.blockError(ctx, id, schema.NewErrorf(schema.ErrCodeBlockRuntime,
			"integration %q: commit failed: %s", integrationID, err.Error()).WithCause(err))
	}
	return out, nil
}

// tick enforces the deadline and the step budget and records the trace.
func (w *walker) tick(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return timeoutError(err).WithBlock(id)
	}
	w.steps++
	if w.steps > w.engine.cfg.MaxSteps {
		return schema.NewErrorf(schema.ErrCodeLoopGuard, "execution exceeded %d steps", w.engine.cfg.MaxSteps).WithBlock(id)
	}
	w.trace = append(w.trace, id)
	return nil
}

// blockError attributes err to a block. Errors raised after the deadline
// are reported as timeouts; anything unstructured becomes a runtime error.
func (w *walker) blockError(ctx context.Context, id string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !schema.IsCode(err, schema.ErrCodeTimeout) {
		return timeoutError(ctxErr).WithBlock(id)
	}
	var fe *schema.FlowError
	if !errors.As(err, &fe) {
		return schema.NewErrorf(schema.ErrCodeBlockRuntime, "%s", err.Error()).WithBlock(id).WithCause(err)
	}
	if fe.BlockID == "" {
		fe.BlockID = id
	}
	return err
}

func timeoutError(err error) *schema.FlowError {
	if errors.Is(err, context.DeadlineExceeded) {
		return schema.NewError(schema.ErrCodeTimeout, "execution budget exceeded").WithCause(err)
	}
	return schema.NewError(schema.ErrCodeTimeout, "execution cancelled").WithCause(err)
}

var _ blocks.Runtime = (*ExecutionContext)(nil)
