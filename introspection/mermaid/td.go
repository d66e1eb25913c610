package mermaid

import (
	"fmt"
	"sort"
	"strings"
)

// NodeType represents the type of a node in the graph.
type NodeType int

const (
	// NodeManager is the manager root node.
	NodeManager NodeType = iota
	// NodeContext is an execution context.
	NodeContext
	// NodeComponent is a component instance.
	NodeComponent
	// NodePort is a data port, drawn inside its component.
	NodePort
	// NodeConfig is a configuration key.
	NodeConfig
	// NodeCaller is the code location that read a configuration key.
	NodeCaller
	// NodeName is a naming registry path.
	NodeName
)

// layers is the order node types are emitted in.
var layers = []NodeType{NodeManager, NodeContext, NodeComponent, NodePort, NodeName, NodeConfig, NodeCaller}

// Node represents a node in the Mermaid graph.
type Node struct {
	ID    string
	Label string
	Type  NodeType
	Style Style
	Shape Shape
}

// Shape selects the Mermaid bracket pair a node is drawn with.
type Shape int

const (
	ShapeBox Shape = iota
	ShapeRound
	ShapeStadium
	ShapeHexagon
)

func (s Shape) wrap(id, label string) string {
	switch s {
	case ShapeRound:
		return fmt.Sprintf("%s(\"%s\")", id, label)
	case ShapeStadium:
		return fmt.Sprintf("%s([\"%s\"])", id, label)
	case ShapeHexagon:
		return fmt.Sprintf("%s{{\"%s\"}}", id, label)
	default:
		return fmt.Sprintf("%s[\"%s\"]", id, label)
	}
}

// Edge represents a directed edge in the Mermaid graph.
// It connects two nodes by their IDs.
type Edge struct {
	From  string
	To    string
	Arrow string // defaults to "-->"
	Label string
}

// Subgraph groups nodes in a titled box.
type Subgraph struct {
	ID      string
	Label   string
	NodeIDs []string
	Style   Style
}

// Graph represents a Mermaid graph with nodes, edges and subgraphs.
type Graph struct {
	Nodes     []Node
	Edges     []Edge
	Subgraphs []Subgraph
}

// Style represents the style of a node in the graph.
type Style struct {
	Fill        string
	Stroke      string
	StrokeWidth string
	// Color applies to text color.
	Color      string
	FontWeight string
	FontSize   string
	IsHtml     bool
}

func (s Style) ToCSS() string {
	var parts []string
	if s.Fill != "" {
		parts = append(parts, "fill:"+s.Fill)
	}
	if s.Stroke != "" {
		parts = append(parts, "stroke:"+s.Stroke)
	}
	if s.StrokeWidth != "" {
		parts = append(parts, "stroke-width:"+s.StrokeWidth)
	}
	if s.Color != "" {
		parts = append(parts, "color:"+s.Color)
	}
	if s.FontWeight != "" {
		parts = append(parts, "font-weight:"+s.FontWeight)
	}
	if s.FontSize != "" {
		parts = append(parts, "font-size:"+s.FontSize)
	}
	if len(parts) == 0 {
		return ""
	}
	if s.IsHtml {
		return strings.Join(parts, ";") + ";"
	}
	return strings.Join(parts, ",")
}

// LabelBuilder helps build HTML labels for nodes in a declarative way.
type LabelBuilder struct {
	Label     string
	FontSize  int
	FontColor string
	Bold      bool
	SubLines  []string
}

func (l LabelBuilder) ToHTML() string {
	var styleParts []string
	if l.FontSize > 0 {
		styleParts = append(styleParts, fmt.Sprintf("font-size:%dpx", l.FontSize))
	}
	if l.FontColor != "" {
		styleParts = append(styleParts, "color:"+l.FontColor)
	}
	styleAttr := ""
	if len(styleParts) > 0 {
		styleAttr = fmt.Sprintf(" style='%s'", strings.Join(styleParts, ";"))
	}

	main := fmt.Sprintf("<span%s>%s</span>", styleAttr, escape(l.Label))
	if l.Bold {
		main = "<b>" + main + "</b>"
	}
	if len(l.SubLines) == 0 {
		return main
	}
	return main + "<br/>" + strings.Join(l.SubLines, "<br/>")
}

// Subline creates a subline for a node label with the given text and style.
func Subline(style Style, format string, args ...any) string {
	content := escape(fmt.Sprintf(format, args...))
	if css := style.ToCSS(); css != "" {
		return fmt.Sprintf("<span style='%s'>%s</span>", css, content)
	}
	return fmt.Sprintf("<span>%s</span>", content)
}

// escape keeps label text from closing the quoted Mermaid label.
func escape(s string) string {
	return strings.NewReplacer(`"`, "#quot;", "<", "#lt;", ">", "#gt;").Replace(s)
}

// RenderTD renders the graph in Mermaid TD (top-down) format.
func (g *Graph) RenderTD() string {
	var b strings.Builder
	b.WriteString("---\n  config:\n    layout: elk\n---\ngraph TD\n")

	grouped := make(map[string]bool)
	for _, sg := range g.Subgraphs {
		for _, id := range sg.NodeIDs {
			grouped[id] = true
		}
	}
	byID := make(map[string]Node, len(g.Nodes))
	for _, n := range g.Nodes {
		byID[n.ID] = n
	}

	for _, layer := range layers {
		for _, n := range g.Nodes {
			if n.Type == layer && !grouped[n.ID] {
				fmt.Fprintf(&b, "\t%s\n", n.Shape.wrap(sanitizeID(n.ID), n.Label))
			}
		}
	}
	for _, sg := range g.Subgraphs {
		fmt.Fprintf(&b, "\tsubgraph %s[\"%s\"]\n", sanitizeID(sg.ID), sg.Label)
		for _, id := range sg.NodeIDs {
			if n, ok := byID[id]; ok {
				fmt.Fprintf(&b, "\t\t%s\n", n.Shape.wrap(sanitizeID(n.ID), n.Label))
			}
		}
		b.WriteString("\tend\n")
	}

	// Edges are sorted for deterministic output.
	edges := make([]Edge, len(g.Edges))
	copy(edges, g.Edges)
	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].From == edges[j].From {
			return edges[i].To < edges[j].To
		}
		return edges[i].From < edges[j].From
	})
	for _, e := range edges {
		arrow := e.Arrow
		if arrow == "" {
			arrow = "-->"
		}
		if e.Label != "" {
			arrow += "|" + escape(e.Label) + "|"
		}
		fmt.Fprintf(&b, "    %s %s %s\n", sanitizeID(e.From), arrow, sanitizeID(e.To))
	}

	for _, n := range g.Nodes {
		if css := n.Style.ToCSS(); css != "" {
			fmt.Fprintf(&b, "    style %s %s\n", sanitizeID(n.ID), css)
		}
	}
	for _, sg := range g.Subgraphs {
		if css := sg.Style.ToCSS(); css != "" {
			fmt.Fprintf(&b, "    style %s %s\n", sanitizeID(sg.ID), css)
		}
	}
	return b.String()
}

// sanitizeID replaces characters in a string to make it suitable for use as an ID in Mermaid graphs.
func sanitizeID(s string) string {
	replacer := strings.NewReplacer(
		" ", "_",
		".", "_",
		"(", "_",
		")", "_",
		":", "_",
		"*", "ptr_",
		",", "_",
		"[", "_",
		"]", "_",
		"-", "_",
		"/", "_",
		"#", "_",
		"%", "_",
		"?", "_",
		"=", "_",
		"&", "_",
	)
	return replacer.Replace(s)
}
