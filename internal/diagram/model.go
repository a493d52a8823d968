package diagram

// NodeKind classifies a diagram node by the block family it renders.
type NodeKind string

const (
	NodeKindAction    NodeKind = "action"
	NodeKindCondition NodeKind = "condition"
	NodeKindLoop      NodeKind = "loop"
	NodeKindScope     NodeKind = "scope"
	NodeKindData      NodeKind = "data"
	NodeKindHTTP      NodeKind = "http"
	NodeKindScript    NodeKind = "script"
	NodeKindStart     NodeKind = "start"
	NodeKindEnd       NodeKind = "end"
)

// Status values of a node overlay.
const (
	StatusVisited = "visited"
	StatusFailed  = "failed"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node is a single block in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries what one execution did with a node.
type StatusOverlay struct {
	Status string
	Visits int
	Error  string
}

// Edge is one edge, labeled with its handle unless it is the default port.
type Edge struct {
	From  string
	To    string
	Label string
}
