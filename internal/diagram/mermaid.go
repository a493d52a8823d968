package diagram

import (
	"fmt"
	"strconv"
	"strings"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart. Nodes that
// carry an overlay get the visited or failed class, and edges between two
// overlaid nodes are drawn bold.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder
	b.WriteString("graph TD\n")
	if model.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", model.Title)
	}

	touched := map[string]bool{}
	for _, n := range model.Nodes {
		fmt.Fprintf(&b, "    %s\n", mermaidNodeDef(n))
		if n.Status != nil {
			touched[n.ID] = true
		}
	}

	var walked []string
	for i, e := range model.Edges {
		arrow := "-->"
		if e.Label != "" {
			arrow = "-->|" + e.Label + "|"
		}
		fmt.Fprintf(&b, "    %s %s %s\n", mermaidSafeID(e.From), arrow, mermaidSafeID(e.To))
		if touched[e.From] && touched[e.To] {
			walked = append(walked, strconv.Itoa(i))
		}
	}

	if len(touched) == 0 {
		return b.String()
	}
	b.WriteString("\n    classDef visited fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef failed fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	for _, n := range model.Nodes {
		if n.Status != nil {
			fmt.Fprintf(&b, "    class %s %s\n", mermaidSafeID(n.ID), n.Status.Status)
		}
	}
	if len(walked) > 0 {
		fmt.Fprintf(&b, "    linkStyle %s stroke:#2d6a2d,stroke-width:3px\n", strings.Join(walked, ","))
	}
	return b.String()
}

// mermaidNodeDef returns a Mermaid node definition with the appropriate shape.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := mermaidEscapeLabel(node.Label)
	if node.Status != nil && node.Status.Visits > 1 {
		label += fmt.Sprintf("<br/>x%d", node.Status.Visits)
	}

	switch node.Kind {
	case NodeKindCondition:
		return fmt.Sprintf("%s{%q}", id, label)
	case NodeKindLoop, NodeKindScope:
		return fmt.Sprintf("%s[[%q]]", id, label)
	case NodeKindData:
		return fmt.Sprintf("%s[(%q)]", id, label)
	case NodeKindHTTP:
		return fmt.Sprintf("%s>%q]", id, label)
	case NodeKindScript:
		return fmt.Sprintf("%s{{%q}}", id, label)
	case NodeKindStart, NodeKindEnd:
		return fmt.Sprintf("%s((%q))", id, label)
	default:
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// mermaidSafeID converts a block ID to a Mermaid-safe identifier.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_", ":", "_")
	return "n_" + r.Replace(id)
}

// mermaidEscapeLabel turns label line breaks into Mermaid breaks and drops
// quotes, which %q would otherwise escape into Mermaid syntax errors.
func mermaidEscapeLabel(s string) string {
	s = strings.ReplaceAll(s, `"`, "'")
	return strings.ReplaceAll(s, "\n", "<br/>")
}
