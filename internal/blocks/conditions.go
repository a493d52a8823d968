package blocks

import (
	"context"
	"reflect"
	"strings"

	"github.com/rendis/routeflow/internal/expressions"
	"github.com/rendis/routeflow/pkg/schema"
)

// Condition compares lhs to rhs. Either side may be a literal or an expression.
type Condition struct {
	LHS any    `mapstructure:"lhs"`
	Op  string `mapstructure:"op"`
	RHS any    `mapstructure:"rhs"`
}

// Evaluate resolves both sides and applies the operator.
func (c Condition) Evaluate(ctx context.Context, ev *expressions.Evaluator, carry any) (bool, error) {
	lhs, err := ev.Resolve(ctx, c.LHS, carry)
	if err != nil {
		return false, err
	}
	rhs, err := ev.Resolve(ctx, c.RHS, carry)
	if err != nil {
		return false, err
	}
	return Compare(c.Op, lhs, rhs)
}

// Compare applies a condition operator. Ordering operators compare numbers
// when both sides are numeric and strings otherwise.
func Compare(op string, lhs, rhs any) (bool, error) {
	switch op {
	case "==":
		return looseEqual(lhs, rhs), nil
	case "!=":
		return !looseEqual(lhs, rhs), nil
	case ">", ">=", "<", "<=":
		return order(op, lhs, rhs), nil
	case "contains":
		return contains(lhs, rhs), nil
	case "not_contains":
		return !contains(lhs, rhs), nil
	case "starts_with":
		return strings.HasPrefix(expressions.Stringify(lhs), expressions.Stringify(rhs)), nil
	case "ends_with":
		return strings.HasSuffix(expressions.Stringify(lhs), expressions.Stringify(rhs)), nil
	case "is_empty":
		return isEmpty(lhs), nil
	case "is_not_empty":
		return !isEmpty(lhs), nil
	default:
		return false, schema.NewErrorf(schema.ErrCodeBlockRuntime, "unknown operator %q", op)
	}
}

func looseEqual(a, b any) bool {
	af, aNum := numeric(a)
	bf, bNum := numeric(b)
	if aNum && bNum {
		return af == bf
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if as, ok := a.(string); ok {
		return as == expressions.Stringify(b)
	}
	if bs, ok := b.(string); ok {
		return bs == expressions.Stringify(a)
	}
	return reflect.DeepEqual(a, b)
}

func order(op string, a, b any) bool {
	af, aNum := numeric(a)
	bf, bNum := numeric(b)
	var cmp int
	if aNum && bNum {
		switch {
		case af < bf:
			cmp = -1
		case af > bf:
			cmp = 1
		}
	} else {
		cmp = strings.Compare(expressions.Stringify(a), expressions.Stringify(b))
	}
	switch op {
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	case "<":
		return cmp < 0
	default:
		return cmp <= 0
	}
}

// numeric accepts numbers and numeric strings, but not booleans or nil.
func numeric(v any) (float64, bool) {
	switch v.(type) {
	case nil, bool:
		return 0, false
	case string:
		if strings.TrimSpace(v.(string)) == "" {
			return 0, false
		}
	}
	return expressions.ToFloat(v)
}

func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case []any:
		for _, item := range h {
			if looseEqual(item, needle) {
				return true
			}
		}
		return false
	case map[string]any:
		_, ok := h[expressions.Stringify(needle)]
		return ok
	default:
		return strings.Contains(expressions.Stringify(haystack), expressions.Stringify(needle))
	}
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}
