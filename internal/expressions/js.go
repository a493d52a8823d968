package expressions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/rendis/routeflow/pkg/schema"
)

const (
	DefaultScriptBudget     = 2 * time.Second
	DefaultMaxCallStackSize = 512
	jsExpressionProgramName = "expression.js"
	jsScriptProgramName     = "script.js"
)

// JSCompiler compiles and caches goja programs. Compiled programs carry no
// runtime state and are shared by every per-request JSEngine.
type JSCompiler struct {
	budget       time.Duration
	maxCallStack int

	expressions *programs[*goja.Program]
	scripts     *programs[*goja.Program]
}

// NewJSCompiler creates a compiler. A zero budget selects DefaultScriptBudget.
func NewJSCompiler(budget time.Duration, maxCallStack int) *JSCompiler {
	if budget <= 0 {
		budget = DefaultScriptBudget
	}
	if maxCallStack <= 0 {
		maxCallStack = DefaultMaxCallStackSize
	}
	return &JSCompiler{
		budget:       budget,
		maxCallStack: maxCallStack,
		expressions:  newPrograms("js", jsCompile(jsExpressionProgramName)),
		scripts:      newPrograms("js", jsCompile(jsScriptProgramName)),
	}
}

// Budget returns the per-evaluation wall clock budget.
func (c *JSCompiler) Budget() time.Duration {
	return c.budget
}

func jsCompile(name string) func(string) (*goja.Program, error) {
	return func(src string) (*goja.Program, error) {
		prg, err := goja.Compile(name, src, true)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeBlockRuntime, "js syntax error: %s", syntaxMessage(err)).
				WithCause(err)
		}
		return prg, nil
	}
}

// JSEngine runs JavaScript for exactly one execution. The goja runtime is
// created on first use and is not safe for concurrent use.
type JSEngine struct {
	compiler *JSCompiler
	vm       *goja.Runtime
}

// NewJSEngine creates a per-execution engine backed by compiler.
func NewJSEngine(compiler *JSCompiler) *JSEngine {
	return &JSEngine{compiler: compiler}
}

// Name returns the engine identifier.
func (e *JSEngine) Name() string {
	return "js"
}

// Evaluate runs a single JavaScript expression and returns its exported value.
func (e *JSEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeBlockRuntime, "empty js expression")
	}
	prg, err := e.compiler.expressions.get("(\n" + expression + "\n)")
	if err != nil {
		return nil, err
	}
	return e.run(ctx, prg, data)
}

// RunScript runs body as the body of a function, so `return` yields the result.
func (e *JSEngine) RunScript(ctx context.Context, body string, data map[string]any) (any, error) {
	prg, err := e.compiler.scripts.get("(function() {\n" + body + "\n})()")
	if err != nil {
		return nil, err
	}
	return e.run(ctx, prg, data)
}

func (e *JSEngine) runtime() *goja.Runtime {
	if e.vm == nil {
		vm := goja.New()
		vm.SetMaxCallStackSize(e.compiler.maxCallStack)
		e.vm = vm
	}
	return e.vm
}

func (e *JSEngine) run(ctx context.Context, prg *goja.Program, data map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, contextError(err)
	}

	vm := e.runtime()
	for k, v := range data {
		if err := vm.Set(k, v); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeBlockRuntime, "bind %s: %s", k, err.Error())
		}
	}

	timer := time.AfterFunc(e.compiler.budget, func() {
		vm.Interrupt(errBudgetExceeded)
	})
	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	val, err := vm.RunProgram(prg)
	timer.Stop()
	stop()
	vm.ClearInterrupt()

	if err != nil {
		return nil, e.translate(ctx, err)
	}
	return exportValue(val), nil
}

var errBudgetExceeded = errors.New("script budget exceeded")

func (e *JSEngine) translate(ctx context.Context, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return contextError(ctxErr)
		}
		return schema.NewErrorf(schema.ErrCodeBlockRuntime,
			"script exceeded its evaluation budget of %s", e.compiler.budget)
	}

	var exception *goja.Exception
	if errors.As(err, &exception) {
		msg := "script threw"
		if v := exception.Value(); v != nil {
			msg = v.String()
		}
		return schema.NewError(schema.ErrCodeBlockRuntime, msg)
	}

	var stack *goja.StackOverflowError
	if errors.As(err, &stack) {
		return schema.NewError(schema.ErrCodeBlockRuntime, "script exceeded the maximum call stack size")
	}

	return schema.NewErrorf(schema.ErrCodeBlockRuntime, "script failed: %s", err.Error())
}

func exportValue(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}

// syntaxMessage strips goja's position prefix down to the message.
func syntaxMessage(err error) string {
	var cerr *goja.CompilerSyntaxError
	if errors.As(err, &cerr) {
		return cerr.Message
	}
	return fmt.Sprint(err)
}

var _ Engine = (*JSEngine)(nil)
