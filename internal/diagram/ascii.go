package diagram

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// frame is the set of box-drawing runes for one node kind.
type frame struct {
	tl, tr, bl, br, h, v string
}

var (
	frameLight  = frame{"┌", "┐", "└", "┘", "─", "│"}
	frameRound  = frame{"╭", "╮", "╰", "╯", "─", "│"}
	frameDouble = frame{"╔", "╗", "╚", "╝", "═", "║"}
	frameBranch = frame{"◆", "◆", "◆", "◆", "─", "│"}
)

func frameFor(k NodeKind) frame {
	switch k {
	case NodeKindStart, NodeKindEnd:
		return frameRound
	case NodeKindLoop, NodeKindScope:
		return frameDouble
	case NodeKindCondition:
		return frameBranch
	default:
		return frameLight
	}
}

func statusTag(s *StatusOverlay) string {
	switch s.Status {
	case StatusFailed:
		return "[FAIL]"
	case StatusVisited:
		if s.Visits > 1 {
			return fmt.Sprintf("[OK x%d]", s.Visits)
		}
		return "[OK]"
	default:
		return ""
	}
}

// RenderASCII draws one row of boxes per level, then lists every edge that
// leaves a non-default port and the error of a failed node, if any.
func RenderASCII(model *DiagramModel) string {
	byID := make(map[string]*Node, len(model.Nodes))
	for _, n := range model.Nodes {
		byID[n.ID] = n
	}

	var b strings.Builder
	if model.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", model.Title)
	}

	for i, level := range model.Levels {
		var row []box
		for _, id := range level {
			if n := byID[id]; n != nil {
				row = append(row, newBox(n))
			}
		}
		if len(row) == 0 {
			continue
		}
		if i > 0 {
			b.WriteString("   │\n   ▼\n")
		}
		writeRow(&b, row)
	}

	var ports []string
	for _, e := range model.Edges {
		if e.Label != "" {
			ports = append(ports, fmt.Sprintf("  %s ─%s→ %s", e.From, e.Label, e.To))
		}
	}
	if len(ports) > 0 {
		b.WriteString("\n--- ports ---\n")
		b.WriteString(strings.Join(ports, "\n"))
		b.WriteByte('\n')
	}

	for _, n := range model.Nodes {
		if n.Status != nil && n.Status.Status == StatusFailed && n.Status.Error != "" {
			fmt.Fprintf(&b, "\n--- error at %s ---\n  %s\n", n.ID, n.Status.Error)
		}
	}
	return b.String()
}

type box struct {
	lines []string
	width int
}

func newBox(n *Node) box {
	content := strings.Split(n.Label, "\n")
	if n.Status != nil {
		if tag := statusTag(n.Status); tag != "" {
			content = append(content, tag)
		}
	}
	inner := 0
	for _, c := range content {
		inner = max(inner, utf8.RuneCountInString(c))
	}

	f := frameFor(n.Kind)
	bar := strings.Repeat(f.h, inner+2)
	lines := make([]string, 0, len(content)+2)
	lines = append(lines, f.tl+bar+f.tr)
	for _, c := range content {
		pad := strings.Repeat(" ", inner-utf8.RuneCountInString(c))
		lines = append(lines, f.v+" "+c+pad+" "+f.v)
	}
	lines = append(lines, f.bl+bar+f.br)
	return box{lines: lines, width: inner + 4}
}

func writeRow(b *strings.Builder, row []box) {
	height := 0
	for _, bx := range row {
		height = max(height, len(bx.lines))
	}
	for line := 0; line < height; line++ {
		for i, bx := range row {
			if i > 0 {
				b.WriteString("  ")
			}
			if line < len(bx.lines) {
				b.WriteString(bx.lines[line])
			} else {
				b.WriteString(strings.Repeat(" ", bx.width))
			}
		}
		b.WriteByte('\n')
	}
}

func findNode(nodes []*Node, id string) *Node {
	for _, n := range nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
