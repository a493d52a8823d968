package validation

import "github.com/rendis/routeflow/pkg/schema"

// Validator checks persisted route documents and block payloads.
// Uses JSON Schema Draft 2020-12.
type Validator interface {
	ValidateGraph(g *schema.RouteGraph) error
	ValidatePayload(data any, payloadSchema []byte) error
}
