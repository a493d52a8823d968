package blocks

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/rendis/routeflow/internal/validation"
	"github.com/rendis/routeflow/pkg/schema"
)

// Spec describes one block type: its payload schema, the output handles it
// may take and a constructor for its payload with defaults applied.
type Spec struct {
	Type        schema.BlockType
	Description string
	Schema      string
	Handles     []schema.Handle
	// Inert blocks are annotations; the graph builder drops them.
	Inert bool
	New   func() Payload
}

// AllowsHandle reports whether h is one of the type's output ports.
func (s Spec) AllowsHandle(h schema.Handle) bool {
	for _, allowed := range s.Handles {
		if allowed == h {
			return true
		}
	}
	return false
}

// Registry is the thread-safe block type catalog.
type Registry struct {
	validator validation.Validator

	mu    sync.RWMutex
	specs map[schema.BlockType]Spec
}

// NewRegistry creates a Registry holding every built-in block type.
func NewRegistry(v validation.Validator) (*Registry, error) {
	r := &Registry{
		validator: v,
		specs:     make(map[schema.BlockType]Spec),
	}
	for _, spec := range builtinSpecs() {
		if err := r.Register(spec); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a block type. Returns error on duplicate type.
func (r *Registry) Register(spec Spec) error {
	if spec.Type == "" {
		return schema.NewError(schema.ErrCodeValidation, "block type is empty")
	}
	if spec.New == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "block type %q has no payload constructor", spec.Type)
	}
	if !spec.Inert {
		if err := checkPayloadKind(spec.New()); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.specs[spec.Type]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "block type %q already registered", spec.Type)
	}
	r.specs[spec.Type] = spec
	return nil
}

// checkPayloadKind requires executable payloads to implement exactly one
// of the behavior interfaces the engine dispatches on.
func checkPayloadKind(p Payload) error {
	n := 0
	if _, ok := p.(Operation); ok {
		n++
	}
	if _, ok := p.(Loop); ok {
		n++
	}
	if _, ok := p.(Terminal); ok {
		n++
	}
	if _, ok := p.(Scoped); ok {
		n++
	}
	if n != 1 {
		return schema.NewErrorf(schema.ErrCodeValidation, "block type %q must have exactly one behavior, has %d", p.Type(), n)
	}
	return nil
}

// Get retrieves the spec of a block type.
func (r *Registry) Get(t schema.BlockType) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[t]
	return spec, ok
}

// Types lists registered block types, sorted.
func (r *Registry) Types() []schema.BlockType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]schema.BlockType, 0, len(r.specs))
	for t := range r.specs {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Decode validates a persisted block against its type schema and decodes
// its data into the typed payload. Every failure is a BuildError carrying
// the block id.
func (r *Registry) Decode(b schema.Block) (Payload, error) {
	spec, ok := r.Get(b.Type)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeBuild, "unknown block type %q", b.Type).WithBlock(b.ID)
	}

	data := map[string]any{}
	if len(b.Data) > 0 && string(b.Data) != "null" {
		if err := json.Unmarshal(b.Data, &data); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeBuild, "%s payload is not a JSON object", b.Type).
				WithBlock(b.ID).WithCause(err)
		}
	}

	if r.validator != nil {
		if err := r.validator.ValidatePayload(data, []byte(spec.Schema)); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeBuild, "invalid %s payload: %s", b.Type, schema.PublicMessage(err)).
				WithBlock(b.ID).WithCause(err)
		}
	}

	p := spec.New()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           p,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeBuild, "payload decoder for %s", b.Type).WithBlock(b.ID).WithCause(err)
	}
	if err := dec.Decode(data); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeBuild, "cannot decode %s payload: %s", b.Type, err.Error()).
			WithBlock(b.ID).WithCause(err)
	}
	return p, nil
}

func handles(hs ...schema.Handle) []schema.Handle { return hs }

var (
	defaultOnly   = handles(schema.HandleDefault)
	branchHandles = handles(schema.HandleSuccess, schema.HandleFailure)
	scopeHandles  = handles(schema.HandleExecutor, schema.HandleDefault)
)

func builtinSpecs() []Spec {
	return []Spec{
		{Type: schema.BlockEntrypoint, Description: "Start of the route", Schema: schemaEmpty, Handles: defaultOnly,
			New: func() Payload { return &Entrypoint{} }},
		{Type: schema.BlockIf, Description: "Branch on a condition set", Schema: schemaIf, Handles: branchHandles,
			New: func() Payload { return &If{Combinator: CombineAnd} }},
		{Type: schema.BlockForLoop, Description: "Numeric loop", Schema: schemaForLoop, Handles: scopeHandles,
			New: func() Payload { return &ForLoop{Step: float64(1), IndexVar: "index"} }},
		{Type: schema.BlockForEachLoop, Description: "Loop over an array", Schema: schemaForEachLoop, Handles: scopeHandles,
			New: func() Payload { return &ForEachLoop{ItemVar: "item", IndexVar: "index"} }},
		{Type: schema.BlockTransformer, Description: "Reshape the carry", Schema: schemaTransformer, Handles: defaultOnly,
			New: func() Payload { return &Transformer{} }},
		{Type: schema.BlockSetVar, Description: "Write a variable", Schema: schemaSetVar, Handles: defaultOnly,
			New: func() Payload { return &SetVar{} }},
		{Type: schema.BlockGetVar, Description: "Read a variable", Schema: schemaGetVar, Handles: defaultOnly,
			New: func() Payload { return &GetVar{} }},
		{Type: schema.BlockConsoleLog, Description: "Log a message", Schema: schemaConsoleLog, Handles: defaultOnly,
			New: func() Payload { return &ConsoleLog{Level: "info"} }},
		{Type: schema.BlockJSRunner, Description: "Run a script", Schema: schemaJSRunner, Handles: defaultOnly,
			New: func() Payload { return &JSRunner{} }},
		{Type: schema.BlockResponse, Description: "Finish with an HTTP response", Schema: schemaResponse, Handles: nil,
			New: func() Payload { return &Response{HTTPCode: float64(200)} }},
		{Type: schema.BlockArrayOps, Description: "Mutate an array variable", Schema: schemaArrayOps, Handles: defaultOnly,
			New: func() Payload { return &ArrayOps{} }},
		{Type: schema.BlockHTTPGetHeader, Description: "Read a request header", Schema: schemaNamedRead, Handles: defaultOnly,
			New: func() Payload { return &HTTPGetHeader{} }},
		{Type: schema.BlockHTTPSetHeader, Description: "Set a response header", Schema: schemaNamedWrite, Handles: defaultOnly,
			New: func() Payload { return &HTTPSetHeader{} }},
		{Type: schema.BlockHTTPGetCookie, Description: "Read a request cookie", Schema: schemaNamedRead, Handles: defaultOnly,
			New: func() Payload { return &HTTPGetCookie{} }},
		{Type: schema.BlockHTTPSetCookie, Description: "Set a response cookie", Schema: schemaSetCookie, Handles: defaultOnly,
			New: func() Payload { return &HTTPSetCookie{} }},
		{Type: schema.BlockHTTPGetParam, Description: "Read a query or path parameter", Schema: schemaGetParam, Handles: defaultOnly,
			New: func() Payload { return &HTTPGetParam{ParamType: ParamQuery} }},
		{Type: schema.BlockHTTPGetRequestBody, Description: "Read the request body", Schema: schemaGetRequestBody, Handles: defaultOnly,
			New: func() Payload { return &HTTPGetRequestBody{} }},
		{Type: schema.BlockHTTPRequest, Description: "Call an HTTP endpoint", Schema: schemaHTTPRequest, Handles: defaultOnly,
			New: func() Payload { return &HTTPRequest{Method: "GET", BodyEncoding: "json"} }},
		{Type: schema.BlockDBGetSingle, Description: "Fetch one row", Schema: schemaDBFilter, Handles: defaultOnly,
			New: func() Payload { return &DBGetSingle{} }},
		{Type: schema.BlockDBGetAll, Description: "Fetch rows", Schema: schemaDBGetAll, Handles: defaultOnly,
			New: func() Payload { return &DBGetAll{} }},
		{Type: schema.BlockDBInsert, Description: "Insert a row", Schema: schemaDBWrite, Handles: defaultOnly,
			New: func() Payload { return &DBInsert{} }},
		{Type: schema.BlockDBInsertBulk, Description: "Insert rows", Schema: schemaDBInsertBulk, Handles: defaultOnly,
			New: func() Payload { return &DBInsertBulk{} }},
		{Type: schema.BlockDBUpdate, Description: "Update rows", Schema: schemaDBUpdate, Handles: defaultOnly,
			New: func() Payload { return &DBUpdate{} }},
		{Type: schema.BlockDBDelete, Description: "Delete rows", Schema: schemaDBFilter, Handles: defaultOnly,
			New: func() Payload { return &DBDelete{} }},
		{Type: schema.BlockDBNative, Description: "Run a native query", Schema: schemaDBNative, Handles: defaultOnly,
			New: func() Payload { return &DBNative{} }},
		{Type: schema.BlockDBTransaction, Description: "Run the executor branch in a transaction", Schema: schemaDBTransaction, Handles: scopeHandles,
			New: func() Payload { return &DBTransaction{} }},
		{Type: schema.BlockStickyNote, Description: "Editor annotation", Schema: schemaEmpty, Inert: true,
			New: func() Payload { return &StickyNote{} }},
	}
}
