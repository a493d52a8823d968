package expressions

import (
	"sync"

	"github.com/rendis/routeflow/pkg/schema"
)

// programs caches compiled programs of one dialect by source text.
// Compilation happens outside the lock; when two callers race on the same
// source the first stored program wins.
type programs[P any] struct {
	dialect string
	compile func(src string) (P, error)

	mu    sync.RWMutex
	cache map[string]P
}

func newPrograms[P any](dialect string, compile func(string) (P, error)) *programs[P] {
	return &programs[P]{dialect: dialect, compile: compile, cache: make(map[string]P)}
}

func (p *programs[P]) get(src string) (P, error) {
	p.mu.RLock()
	prg, ok := p.cache[src]
	p.mu.RUnlock()
	if ok {
		return prg, nil
	}

	prg, err := p.compile(src)
	if err != nil {
		var zero P
		return zero, p.compileError(src, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.cache[src]; ok {
		return existing, nil
	}
	p.cache[src] = prg
	return prg, nil
}

func (p *programs[P]) len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.cache)
}

func (p *programs[P]) compileError(src string, err error) error {
	if fe, ok := err.(*schema.FlowError); ok {
		return fe
	}
	return schema.NewErrorf(schema.ErrCodeBlockRuntime, "%s compile error in %q: %s", p.dialect, src, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": src})
}

func (p *programs[P]) evalError(src string, err error) error {
	return schema.NewErrorf(schema.ErrCodeBlockRuntime, "%s evaluation failed for %q: %s", p.dialect, src, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": src})
}

func emptyExpression(dialect string) error {
	return schema.NewErrorf(schema.ErrCodeBlockRuntime, "empty %s expression", dialect)
}
