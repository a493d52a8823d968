package expressions

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
)

const celInterruptCheckFrequency = 100

// CELEngine evaluates Common Expression Language expressions against three
// declared variables: vars and request as map(string, dyn), input as dyn.
type CELEngine struct {
	programs *programs[cel.Program]
}

func NewCELEngine() (*CELEngine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)
	env, err := cel.NewEnv(
		cel.Variable(KeyVars, mapType),
		cel.Variable(KeyInput, cel.DynType),
		cel.Variable(KeyRequest, mapType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	compile := func(src string) (cel.Program, error) {
		ast, issues := env.Compile(src)
		if issues != nil && issues.Err() != nil {
			return nil, issues.Err()
		}
		return env.Program(ast, cel.InterruptCheckFrequency(celInterruptCheckFrequency))
	}
	return &CELEngine{programs: newPrograms("cel", compile)}, nil
}

func (e *CELEngine) Name() string { return "cel" }

// Evaluate stops when ctx is done.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, emptyExpression("cel")
	}
	prg, err := e.programs.get(expression)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.ContextEval(ctx, celActivation(data))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, contextError(ctxErr)
		}
		return nil, e.programs.evalError(expression, err)
	}
	return out.Value(), nil
}

// celActivation binds the declared variables. Absent maps bind as empty
// maps so that size(vars) and key lookups do not fail on nil.
func celActivation(data map[string]any) map[string]any {
	act := map[string]any{
		KeyVars:    map[string]any{},
		KeyInput:   data[KeyInput],
		KeyRequest: map[string]any{},
	}
	for _, key := range []string{KeyVars, KeyRequest} {
		if v := data[key]; v != nil {
			act[key] = v
		}
	}
	return act
}

var _ Engine = (*CELEngine)(nil)
