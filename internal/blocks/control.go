package blocks

import (
	"context"
	"math"

	"github.com/rendis/routeflow/internal/expressions"
	"github.com/rendis/routeflow/pkg/schema"
)

// Entrypoint starts the walk. It passes the carry through.
type Entrypoint struct{}

func (*Entrypoint) Type() schema.BlockType { return schema.BlockEntrypoint }
func (*Entrypoint) payload()               {}

func (*Entrypoint) Run(_ context.Context, _ Runtime, carry any) (Outcome, error) {
	return Next(carry), nil
}

// StickyNote is an editor annotation and never runs.
type StickyNote struct {
	Text  string `mapstructure:"text"`
	Color string `mapstructure:"color"`
}

func (*StickyNote) Type() schema.BlockType { return schema.BlockStickyNote }
func (*StickyNote) payload()               {}

// Combinators for If condition sets.
const (
	CombineAnd = "and"
	CombineOr  = "or"
)

// If evaluates a condition set, or a single expression, and takes the
// success or failure handle. The carry is unchanged.
type If struct {
	Conditions []Condition `mapstructure:"conditions"`
	Combinator string      `mapstructure:"combinator"`
	Expression string      `mapstructure:"expression"`
}

func (*If) Type() schema.BlockType { return schema.BlockIf }
func (*If) payload()               {}

func (b *If) Run(ctx context.Context, rt Runtime, carry any) (Outcome, error) {
	ok, err := b.evaluate(ctx, rt.Eval(), carry)
	if err != nil {
		return Outcome{}, err
	}
	if ok {
		return Outcome{Handle: schema.HandleSuccess, Carry: carry}, nil
	}
	return Outcome{Handle: schema.HandleFailure, Carry: carry}, nil
}

func (b *If) evaluate(ctx context.Context, ev *expressions.Evaluator, carry any) (bool, error) {
	if b.Expression != "" && len(b.Conditions) == 0 {
		expr := b.Expression
		if !expressions.IsExpression(expr) {
			expr = expressions.PrefixJS + expr
		}
		v, err := ev.Eval(ctx, expr, carry)
		if err != nil {
			return false, err
		}
		return expressions.Truthy(v), nil
	}

	or := b.Combinator == CombineOr
	for i, c := range b.Conditions {
		ok, err := c.Evaluate(ctx, ev, carry)
		if err != nil {
			return false, schema.NewErrorf(schema.ErrCodeBlockRuntime, "if: condition %d: %s", i, schema.PublicMessage(err)).WithCause(err)
		}
		if or && ok {
			return true, nil
		}
		if !or && !ok {
			return false, nil
		}
	}
	// An empty set is false under "or" and true under "and".
	return !or, nil
}

// ForLoop runs its executor branch for index = start; index < end (or > end
// when step is negative); index += step.
type ForLoop struct {
	Start    any    `mapstructure:"start"`
	End      any    `mapstructure:"end"`
	Step     any    `mapstructure:"step"`
	IndexVar string `mapstructure:"indexVar"`
}

func (*ForLoop) Type() schema.BlockType { return schema.BlockForLoop }
func (*ForLoop) payload()               {}

func (b *ForLoop) Iterations(ctx context.Context, rt Runtime, carry any, ceiling int) ([]Iteration, error) {
	ev := rt.Eval()
	start, err := resolveNumber(ctx, ev, schema.BlockForLoop, "start", b.Start, carry)
	if err != nil {
		return nil, err
	}
	end, err := resolveNumber(ctx, ev, schema.BlockForLoop, "end", b.End, carry)
	if err != nil {
		return nil, err
	}
	step, err := resolveNumber(ctx, ev, schema.BlockForLoop, "step", b.Step, carry)
	if err != nil {
		return nil, err
	}

	if step == 0 {
		return nil, schema.NewError(schema.ErrCodeLoopGuard, "forloop: step must not be zero")
	}
	if (step > 0 && start > end) || (step < 0 && start < end) {
		return nil, schema.NewErrorf(schema.ErrCodeLoopGuard,
			"forloop: step %v never reaches %v from %v", step, end, start)
	}

	count := math.Ceil((end - start) / step)
	if ceiling > 0 && count > float64(ceiling) {
		return nil, schema.NewErrorf(schema.ErrCodeLoopGuard,
			"forloop: %v iterations exceed the ceiling of %d", count, ceiling)
	}

	n := int(count)
	its := make([]Iteration, n)
	for i := 0; i < n; i++ {
		its[i] = Iteration{
			Bindings: map[string]any{b.IndexVar: number(start + float64(i)*step)},
			Carry:    carry,
		}
	}
	return its, nil
}

// ForEachLoop runs its executor branch once per element of values, or of
// the carry when useParam is set. The element is the body's carry.
type ForEachLoop struct {
	Values   any    `mapstructure:"values"`
	UseParam bool   `mapstructure:"useParam"`
	ItemVar  string `mapstructure:"itemVar"`
	IndexVar string `mapstructure:"indexVar"`
}

func (*ForEachLoop) Type() schema.BlockType { return schema.BlockForEachLoop }
func (*ForEachLoop) payload()               {}

func (b *ForEachLoop) Iterations(ctx context.Context, rt Runtime, carry any, ceiling int) ([]Iteration, error) {
	source := carry
	if !b.UseParam {
		v, err := rt.Eval().Resolve(ctx, b.Values, carry)
		if err != nil {
			return nil, err
		}
		source = v
	}

	items, ok := asArray(source)
	if !ok {
		return nil, runtimeError(schema.BlockForEachLoop, "expected an array, got %T", source)
	}
	if ceiling > 0 && len(items) > ceiling {
		return nil, schema.NewErrorf(schema.ErrCodeLoopGuard,
			"foreachloop: %d items exceed the ceiling of %d", len(items), ceiling)
	}

	its := make([]Iteration, len(items))
	for i, item := range items {
		its[i] = Iteration{
			Bindings: map[string]any{b.ItemVar: item, b.IndexVar: int64(i)},
			Carry:    item,
		}
	}
	return its, nil
}

// Response ends the walk with {httpCode, body}. Body defaults to the carry.
type Response struct {
	HTTPCode any `mapstructure:"httpCode"`
	Body     any `mapstructure:"body"`
}

func (*Response) Type() schema.BlockType { return schema.BlockResponse }
func (*Response) payload()               {}

func (b *Response) Respond(ctx context.Context, rt Runtime, carry any) (*schema.Output, error) {
	ev := rt.Eval()
	code, err := resolveNumber(ctx, ev, schema.BlockResponse, "httpCode", b.HTTPCode, carry)
	if err != nil {
		return nil, err
	}
	if code < 100 || code > 599 || code != math.Trunc(code) {
		return nil, runtimeError(schema.BlockResponse, "httpCode %v is not a valid HTTP status", code)
	}

	body := carry
	if b.Body != nil {
		body, err = ev.Resolve(ctx, b.Body, carry)
		if err != nil {
			return nil, err
		}
	}
	return &schema.Output{HTTPCode: int(code), Body: expressions.DeepCopy(body)}, nil
}

// DBTransaction runs its executor branch inside one transaction on an
// integration, then continues on default with its input carry.
type DBTransaction struct {
	IntegrationID string `mapstructure:"integrationId"`
}

func (*DBTransaction) Type() schema.BlockType { return schema.BlockDBTransaction }
func (*DBTransaction) payload()               {}

func (b *DBTransaction) Integration(ctx context.Context, rt Runtime, carry any) (string, error) {
	return rt.Eval().ResolveString(ctx, b.IntegrationID, carry)
}

func resolveNumber(ctx context.Context, ev *expressions.Evaluator, t schema.BlockType, field string, v, carry any) (float64, error) {
	r, err := ev.Resolve(ctx, v, carry)
	if err != nil {
		return 0, err
	}
	f, ok := expressions.ToFloat(r)
	if !ok || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, runtimeError(t, "%s must be a number, got %v", field, r)
	}
	return f, nil
}

// number renders integral floats as int64 so loop indexes print as 0, 1, 2.
func number(f float64) any {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}

func asArray(v any) ([]any, bool) {
	switch a := v.(type) {
	case []any:
		return a, true
	case []map[string]any:
		out := make([]any, len(a))
		for i, m := range a {
			out[i] = m
		}
		return out, true
	default:
		return nil, false
	}
}

var (
	_ Operation = (*Entrypoint)(nil)
	_ Operation = (*If)(nil)
	_ Loop      = (*ForLoop)(nil)
	_ Loop      = (*ForEachLoop)(nil)
	_ Terminal  = (*Response)(nil)
	_ Scoped    = (*DBTransaction)(nil)
)
