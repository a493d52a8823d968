package schema

import "encoding/json"

// BlockType is the persisted identifier of a block kind.
type BlockType string

const (
	BlockEntrypoint         BlockType = "entrypoint"
	BlockIf                 BlockType = "if"
	BlockForLoop            BlockType = "forloop"
	BlockForEachLoop        BlockType = "foreachloop"
	BlockTransformer        BlockType = "transformer"
	BlockSetVar             BlockType = "setvar"
	BlockGetVar             BlockType = "getvar"
	BlockConsoleLog         BlockType = "consolelog"
	BlockJSRunner           BlockType = "jsrunner"
	BlockResponse           BlockType = "response"
	BlockArrayOps           BlockType = "arrayops"
	BlockHTTPGetHeader      BlockType = "http_get_header"
	BlockHTTPSetHeader      BlockType = "http_set_header"
	BlockHTTPGetCookie      BlockType = "http_get_cookie"
	BlockHTTPSetCookie      BlockType = "http_set_cookie"
	BlockHTTPGetParam       BlockType = "http_get_param"
	BlockHTTPGetRequestBody BlockType = "http_get_request_body"
	BlockHTTPRequest        BlockType = "httprequest"
	BlockDBGetSingle        BlockType = "db_get_single"
	BlockDBGetAll           BlockType = "db_get_all"
	BlockDBInsert           BlockType = "db_insert"
	BlockDBInsertBulk       BlockType = "db_insert_bulk"
	BlockDBUpdate           BlockType = "db_update"
	BlockDBDelete           BlockType = "db_delete"
	BlockDBNative           BlockType = "db_native"
	BlockDBTransaction      BlockType = "db_transaction"
	BlockStickyNote         BlockType = "sticky_note"
)

// AllBlockTypes lists the closed block taxonomy in declaration order.
var AllBlockTypes = []BlockType{
	BlockEntrypoint, BlockIf, BlockForLoop, BlockForEachLoop, BlockTransformer,
	BlockSetVar, BlockGetVar, BlockConsoleLog, BlockJSRunner, BlockResponse,
	BlockArrayOps, BlockHTTPGetHeader, BlockHTTPSetHeader, BlockHTTPGetCookie,
	BlockHTTPSetCookie, BlockHTTPGetParam, BlockHTTPGetRequestBody, BlockHTTPRequest,
	BlockDBGetSingle, BlockDBGetAll, BlockDBInsert, BlockDBInsertBulk, BlockDBUpdate,
	BlockDBDelete, BlockDBNative, BlockDBTransaction, BlockStickyNote,
}

// Handle names a block output port.
type Handle string

const (
	HandleDefault  Handle = "default"
	HandleSuccess  Handle = "success"
	HandleFailure  Handle = "failure"
	HandleExecutor Handle = "executor"
)

// NormalizeHandle maps editor spellings of the default port onto HandleDefault.
func NormalizeHandle(h string) Handle {
	switch h {
	case "", "default", "source", "target", "null":
		return HandleDefault
	default:
		return Handle(h)
	}
}

// Position is editor layout metadata. It is carried but never read at runtime.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Block is a persisted block row.
type Block struct {
	ID       string          `json:"id"`
	Type     BlockType       `json:"type"`
	Data     json.RawMessage `json:"data,omitempty"`
	Position Position        `json:"position"`
}

// Edge is a persisted edge row.
type Edge struct {
	ID         string `json:"id"`
	From       string `json:"from"`
	To         string `json:"to"`
	FromHandle string `json:"fromHandle,omitempty"`
	ToHandle   string `json:"toHandle,omitempty"`
}

// RouteGraph is the flat block and edge set stored for one route.
type RouteGraph struct {
	RouteID string  `json:"routeId"`
	Blocks  []Block `json:"blocks"`
	Edges   []Edge  `json:"edges"`
}
