package blocks

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/rendis/routeflow/internal/expressions"
	"github.com/rendis/routeflow/internal/integrations"
	"github.com/rendis/routeflow/pkg/schema"
)

// Payload is the decoded, validated data of one block. The set of
// implementations is closed: one struct per BlockType.
type Payload interface {
	Type() schema.BlockType
	payload()
}

// Operation is a block that transforms the carry and picks the next handle.
type Operation interface {
	Payload
	Run(ctx context.Context, rt Runtime, carry any) (Outcome, error)
}

// Loop is a block that walks its executor sub-graph once per Iteration and
// then continues on the default handle with the carry it received.
type Loop interface {
	Payload
	Iterations(ctx context.Context, rt Runtime, carry any, ceiling int) ([]Iteration, error)
}

// Terminal is a block that ends the walk with an HTTP output.
type Terminal interface {
	Payload
	Respond(ctx context.Context, rt Runtime, carry any) (*schema.Output, error)
}

// Scoped is a block that wraps its executor sub-graph in a transaction on
// one integration.
type Scoped interface {
	Payload
	Integration(ctx context.Context, rt Runtime, carry any) (string, error)
}

// Outcome is the result of an Operation.
type Outcome struct {
	Handle schema.Handle
	Carry  any
}

// Next is the default-handle outcome.
func Next(carry any) Outcome {
	return Outcome{Handle: schema.HandleDefault, Carry: carry}
}

// Iteration is one pass of a loop body: the variables bound before the pass
// and the carry the body starts with.
type Iteration struct {
	Bindings map[string]any
	Carry    any
}

// Runtime is the execution state a block can reach.
type Runtime interface {
	Eval() *expressions.Evaluator
	Vars() map[string]any
	Host() expressions.Host
	Logger() *slog.Logger
	HTTPClient() *http.Client
	MaxResponseBody() int64
	// Executor returns the integration executor, joined to the innermost
	// open transaction on that integration when there is one.
	Executor(ctx context.Context, integrationID string) (integrations.Executor, error)
}

func runtimeError(blockType schema.BlockType, format string, args ...any) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeBlockRuntime, string(blockType)+": "+format, args...)
}
