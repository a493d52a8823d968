package blocks

import (
	"context"

	"github.com/rendis/routeflow/internal/expressions"
	"github.com/rendis/routeflow/internal/logging"
	"github.com/rendis/routeflow/pkg/schema"
)

// SetVar writes a variable. The value is the carry when useParam is set.
type SetVar struct {
	Name     string `mapstructure:"name"`
	Value    any    `mapstructure:"value"`
	UseParam bool   `mapstructure:"useParam"`
}

func (*SetVar) Type() schema.BlockType { return schema.BlockSetVar }
func (*SetVar) payload()               {}

func (b *SetVar) Run(ctx context.Context, rt Runtime, carry any) (Outcome, error) {
	v := carry
	if !b.UseParam {
		r, err := rt.Eval().Resolve(ctx, b.Value, carry)
		if err != nil {
			return Outcome{}, err
		}
		v = r
	}
	rt.Vars()[b.Name] = expressions.DeepCopy(v)
	return Next(carry), nil
}

// GetVar replaces the carry with a copy of a variable; missing is null.
type GetVar struct {
	Name string `mapstructure:"name"`
}

func (*GetVar) Type() schema.BlockType { return schema.BlockGetVar }
func (*GetVar) payload()               {}

func (b *GetVar) Run(_ context.Context, rt Runtime, _ any) (Outcome, error) {
	return Next(expressions.DeepCopy(rt.Vars()[b.Name])), nil
}

// Transformer reshapes the carry with a script or a key rename map.
// Renaming keeps unmapped keys and applies per element to arrays.
type Transformer struct {
	UseJS    bool              `mapstructure:"useJs"`
	JS       string            `mapstructure:"js"`
	FieldMap map[string]string `mapstructure:"fieldMap"`
}

func (*Transformer) Type() schema.BlockType { return schema.BlockTransformer }
func (*Transformer) payload()               {}

func (b *Transformer) Run(ctx context.Context, rt Runtime, carry any) (Outcome, error) {
	if b.UseJS {
		out, err := rt.Eval().RunScript(ctx, b.JS, carry)
		if err != nil {
			return Outcome{}, err
		}
		return Next(out), nil
	}

	switch v := carry.(type) {
	case map[string]any:
		return Next(renameKeys(v, b.FieldMap)), nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return Outcome{}, runtimeError(schema.BlockTransformer, "element %d is %T, not an object", i, item)
			}
			out[i] = renameKeys(m, b.FieldMap)
		}
		return Next(out), nil
	default:
		return Outcome{}, runtimeError(schema.BlockTransformer, "expected an object or array, got %T", carry)
	}
}

func renameKeys(in map[string]any, fieldMap map[string]string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if _, renamed := fieldMap[k]; renamed {
			continue
		}
		out[k] = expressions.DeepCopy(v)
	}
	for from, to := range fieldMap {
		if v, ok := in[from]; ok {
			out[to] = expressions.DeepCopy(v)
		}
	}
	return out
}

// Array operations.
const (
	ArrayPush    = "push"
	ArrayPop     = "pop"
	ArrayShift   = "shift"
	ArrayUnshift = "unshift"
)

// ArrayOps mutates an array variable. push and unshift yield the new array;
// pop and shift yield the removed element, or null when empty.
type ArrayOps struct {
	Variable string `mapstructure:"variable"`
	Op       string `mapstructure:"op"`
	Value    any    `mapstructure:"value"`
	UseParam bool   `mapstructure:"useParam"`
}

func (*ArrayOps) Type() schema.BlockType { return schema.BlockArrayOps }
func (*ArrayOps) payload()               {}

func (b *ArrayOps) Run(ctx context.Context, rt Runtime, carry any) (Outcome, error) {
	vars := rt.Vars()
	var arr []any
	if cur, exists := vars[b.Variable]; exists && cur != nil {
		a, ok := asArray(cur)
		if !ok {
			return Outcome{}, runtimeError(schema.BlockArrayOps, "variable %q is %T, not an array", b.Variable, cur)
		}
		arr = a
	}

	switch b.Op {
	case ArrayPush, ArrayUnshift:
		v := carry
		if !b.UseParam {
			r, err := rt.Eval().Resolve(ctx, b.Value, carry)
			if err != nil {
				return Outcome{}, err
			}
			v = r
		}
		v = expressions.DeepCopy(v)
		next := make([]any, 0, len(arr)+1)
		if b.Op == ArrayPush {
			next = append(append(next, arr...), v)
		} else {
			next = append(append(next, v), arr...)
		}
		vars[b.Variable] = next
		return Next(expressions.DeepCopy(next)), nil

	case ArrayPop, ArrayShift:
		if len(arr) == 0 {
			vars[b.Variable] = []any{}
			return Next(nil), nil
		}
		var removed any
		var rest []any
		if b.Op == ArrayPop {
			removed, rest = arr[len(arr)-1], arr[:len(arr)-1]
		} else {
			removed, rest = arr[0], arr[1:]
		}
		vars[b.Variable] = append([]any(nil), rest...)
		return Next(expressions.DeepCopy(removed)), nil

	default:
		return Outcome{}, runtimeError(schema.BlockArrayOps, "unknown op %q", b.Op)
	}
}

// JSRunner runs a script; its return value becomes the carry.
type JSRunner struct {
	JS string `mapstructure:"js"`
}

func (*JSRunner) Type() schema.BlockType { return schema.BlockJSRunner }
func (*JSRunner) payload()               {}

func (b *JSRunner) Run(ctx context.Context, rt Runtime, carry any) (Outcome, error) {
	out, err := rt.Eval().RunScript(ctx, b.JS, carry)
	if err != nil {
		return Outcome{}, err
	}
	return Next(out), nil
}

// ConsoleLog logs a message through the execution logger. The carry is unchanged.
type ConsoleLog struct {
	Message any    `mapstructure:"message"`
	Level   string `mapstructure:"level"`
}

func (*ConsoleLog) Type() schema.BlockType { return schema.BlockConsoleLog }
func (*ConsoleLog) payload()               {}

func (b *ConsoleLog) Run(ctx context.Context, rt Runtime, carry any) (Outcome, error) {
	msg, err := rt.Eval().ResolveString(ctx, b.Message, carry)
	if err != nil {
		return Outcome{}, err
	}
	rt.Logger().Log(ctx, logging.ParseLevel(b.Level), msg, "source", "consolelog")
	return Next(carry), nil
}

var (
	_ Operation = (*SetVar)(nil)
	_ Operation = (*GetVar)(nil)
	_ Operation = (*Transformer)(nil)
	_ Operation = (*ArrayOps)(nil)
	_ Operation = (*JSRunner)(nil)
	_ Operation = (*ConsoleLog)(nil)
)
