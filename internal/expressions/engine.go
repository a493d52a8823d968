package expressions

import "context"

// Engine evaluates one expression dialect.
// Four implementations: JS (goja), Expr, CEL, jq.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Well-known keys of the data map handed to every engine.
const (
	KeyVars    = "vars"
	KeyInput   = "input"
	KeyRequest = "request"
)
