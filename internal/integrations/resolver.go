package integrations

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rendis/routeflow/pkg/schema"
)

// DescriptorSource loads integration descriptors. Satisfied by store.LibSQLStore.
type DescriptorSource interface {
	GetIntegration(ctx context.Context, id string) (*schema.Integration, error)
}

// SecretResolver decrypts vault entries. Satisfied by secrets.AESVault.
type SecretResolver interface {
	ResolveString(ctx context.Context, key string) (string, error)
}

// DefaultCloseGrace is how long a replaced pool stays open for executions
// that fetched it before the replacement.
const DefaultCloseGrace = 30 * time.Second

// OpenFunc opens an adapter for a descriptor whose DSN is already in clear text.
type OpenFunc func(id string, kind schema.IntegrationKind, dsn string) (Adapter, error)

// Resolver maps integration ids to live adapters. Pools are opened on first
// use and shared by every execution until Reset. A reset pool is retired:
// new lookups reopen, and the old pool is closed after CloseGrace.
type Resolver struct {
	source  DescriptorSource
	secrets SecretResolver
	open    OpenFunc
	logger  *slog.Logger

	// CloseGrace delays closing retired pools. Zero means DefaultCloseGrace.
	CloseGrace time.Duration

	mu       sync.RWMutex
	adapters map[string]Adapter
	retired  map[*retiredPool]struct{}
	group    singleflight.Group
}

type retiredPool struct {
	id    string
	a     Adapter
	timer *time.Timer
}

// NewResolver creates a Resolver. secrets may be nil when no descriptor uses dsnSecret.
func NewResolver(source DescriptorSource, secrets SecretResolver, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		source:  source,
		secrets: secrets,
		open: func(id string, kind schema.IntegrationKind, dsn string) (Adapter, error) {
			return OpenSQL(id, kind, dsn)
		},
		logger:   logger,
		adapters: make(map[string]Adapter),
		retired:  make(map[*retiredPool]struct{}),
	}
}

// WithOpener replaces the function used to open pools.
func (r *Resolver) WithOpener(open OpenFunc) *Resolver {
	r.open = open
	return r
}

// Register installs a ready adapter under id, replacing any open pool.
func (r *Resolver) Register(id string, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.adapters[id]
	r.adapters[id] = a
	if old != nil && old != a {
		r.retireLocked(id, old)
	}
}

// Adapter returns the live adapter for id. Unknown ids, undecryptable
// secrets and failed opens are BlockRuntimeErrors.
func (r *Resolver) Adapter(ctx context.Context, id string) (Adapter, error) {
	if id == "" {
		return nil, schema.NewError(schema.ErrCodeBlockRuntime, "integration id is empty")
	}

	r.mu.RLock()
	a, ok := r.adapters[id]
	r.mu.RUnlock()
	if ok {
		return a, nil
	}

	v, err, _ := r.group.Do(id, func() (any, error) {
		r.mu.RLock()
		a, ok := r.adapters[id]
		r.mu.RUnlock()
		if ok {
			return a, nil
		}
		a, err := r.load(ctx, id)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.adapters[id] = a
		r.mu.Unlock()
		r.logger.Info("integration opened", "integration_id", id)
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Adapter), nil
}

func (r *Resolver) load(ctx context.Context, id string) (Adapter, error) {
	if r.source == nil {
		return nil, schema.NewErrorf(schema.ErrCodeBlockRuntime, "integration %q cannot be resolved", id)
	}
	desc, err := r.source.GetIntegration(ctx, id)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeBlockRuntime, "integration %q cannot be resolved", id).WithCause(err)
	}

	dsn := desc.DSN
	if desc.DSNSecret != "" {
		if r.secrets == nil {
			return nil, schema.NewErrorf(schema.ErrCodeBlockRuntime, "integration %q needs the vault", id)
		}
		dsn, err = r.secrets.ResolveString(ctx, desc.DSNSecret)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeBlockRuntime, "integration %q: secret unavailable", id).WithCause(err)
		}
	}
	return r.open(id, desc.Kind, dsn)
}

// Reset retires the pool for id. The next use reopens it with the current
// descriptor; executions already holding the old pool keep it for CloseGrace.
func (r *Resolver) Reset(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.adapters[id]; ok {
		delete(r.adapters, id)
		r.retireLocked(id, a)
	}
}

// ResetAll retires every open pool.
func (r *Resolver) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, a := range r.adapters {
		r.retireLocked(id, a)
	}
	r.adapters = make(map[string]Adapter)
}

func (r *Resolver) retireLocked(id string, a Adapter) {
	grace := r.CloseGrace
	if grace <= 0 {
		grace = DefaultCloseGrace
	}
	p := &retiredPool{id: id, a: a}
	r.retired[p] = struct{}{}
	p.timer = time.AfterFunc(grace, func() {
		r.mu.Lock()
		_, pending := r.retired[p]
		delete(r.retired, p)
		r.mu.Unlock()
		if pending {
			r.closeAdapter(id, a)
		}
	})
}

func (r *Resolver) closeAdapter(id string, a Adapter) {
	if err := a.Close(); err != nil {
		r.logger.Warn("integration close failed", "integration_id", id, "error", err)
	}
}

// Close closes every pool at once, retired ones included. Used at shutdown.
func (r *Resolver) Close() error {
	r.mu.Lock()
	adapters := r.adapters
	retired := r.retired
	r.adapters = make(map[string]Adapter)
	r.retired = make(map[*retiredPool]struct{})
	r.mu.Unlock()

	for p := range retired {
		p.timer.Stop()
		r.closeAdapter(p.id, p.a)
	}
	for id, a := range adapters {
		r.closeAdapter(id, a)
	}
	return nil
}

// Open returns the ids of currently open pools.
func (r *Resolver) Open() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	return ids
}

func jsonText(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
