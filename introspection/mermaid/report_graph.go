package mermaid

import (
	"fmt"
	"slices"

	"github.com/n-ando/OpenRTM-aist-sub001/introspection"
)

const (
	emojiCodeLocation = "📍"
	emojiComponent    = "🧩"
	emojiManager      = "🕷️"
	emojiContext      = "⏱️"
	emojiConfig       = "🗝️"
	emojiName         = "🔖"
)

var (
	// node styles
	styleManager      = Style{Fill: "#0525f5", Stroke: "black", StrokeWidth: "3px", Color: "#ffffff", FontWeight: "bold"}
	styleContext      = Style{Fill: "#e3e0fc", Stroke: "#6c47a6", StrokeWidth: "2px", Color: "#222222"}
	styleContextIdle  = Style{Fill: "#f0f0f0", Stroke: "#888888", StrokeWidth: "1px", Color: "#222222"}
	styleComponent    = Style{Fill: "#e0f7fa", Stroke: "#00838f", StrokeWidth: "2px", Color: "#222222"}
	styleComponentBad = Style{Fill: "#fce1e1", Stroke: "#a60202", StrokeWidth: "2px", Color: "#b26a00"}
	stylePort         = Style{Fill: "#fff3e0", Stroke: "#f57c00", StrokeWidth: "1px", Color: "#222222"}
	styleConfig       = Style{Fill: "#e8f5e9", Stroke: "#388e3c", StrokeWidth: "2px", Color: "#222222"}
	styleCaller       = Style{Fill: "#fff3e0", Stroke: "#f57c00", StrokeWidth: "2px", Color: "#222222"}
	styleName         = Style{Fill: "#fffde7", Stroke: "#b28704", StrokeWidth: "1px", Color: "#222222"}
	styleHost         = Style{Fill: "#fafafa", Stroke: "#00838f", StrokeWidth: "1px"}

	// sublines styles
	styleKind           = Style{Color: "#b26a00", FontSize: "12px", IsHtml: true}
	styleDetail         = Style{Color: "darkgray", FontSize: "11px", IsHtml: true}
	styleCodeLoc        = Style{Color: "gray", FontSize: "11px", IsHtml: true}
	styleConfigProvider = Style{FontSize: "11px", Color: "green", IsHtml: true}
)

func managerID(name string) string   { return "mgr:" + name }
func contextID(name string) string   { return "ec:" + name }
func componentID(name string) string { return "rtc:" + name }
func portID(owner, name string) string {
	return "port:" + owner + "." + name
}

// GenerateIntrospectionGraph generates a Mermaid graph representation of the introspection report.
func GenerateIntrospectionGraph(r introspection.Report) string {
	g := Graph{}
	manager := r.Manager
	if manager == "" {
		manager = "manager"
	}
	g.Nodes = append(g.Nodes, Node{
		ID:    managerID(manager),
		Label: LabelBuilder{Label: fmt.Sprintf("%s %s", manager, emojiManager), FontSize: 20, FontColor: "white", Bold: true}.ToHTML(),
		Type:  NodeManager,
		Style: styleManager,
	})

	fatal := fatalComponents(r)
	buildComponentGraph(&g, r.Components, managerID(manager), fatal)
	buildContextGraph(&g, r.Contexts)
	buildConnectorGraph(&g, r)
	buildNamingGraph(&g, r)
	buildConfigGraph(&g, r.Configs)
	return g.RenderTD()
}

func fatalComponents(r introspection.Report) map[string]bool {
	out := make(map[string]bool)
	for _, x := range r.Contexts {
		for _, p := range x.Participants {
			if p.Fatal {
				out[p.Component] = true
			}
		}
	}
	for _, f := range r.Fatal {
		out[f.Component] = true
	}
	return out
}

// buildComponentGraph draws each component with its ports in a subgraph.
func buildComponentGraph(g *Graph, components []introspection.ComponentInfo, manager string, fatal map[string]bool) {
	for _, c := range components {
		id := componentID(c.Name)
		sublines := []string{
			Subline(styleKind, "%s %s", emojiComponent, c.Type),
			Subline(styleDetail, "%s", c.State),
		}
		if c.ConfigSet != "" {
			sublines = append(sublines, Subline(styleConfigProvider, "%s %s", emojiConfig, c.ConfigSet))
		}
		style := styleComponent
		if fatal[c.Name] {
			style = styleComponentBad
			sublines = append(sublines, Subline(styleKind, "FATAL"))
		}
		g.Nodes = append(g.Nodes, Node{
			ID:    id,
			Label: LabelBuilder{Label: c.Name, FontSize: 16, Bold: true, SubLines: sublines}.ToHTML(),
			Type:  NodeComponent,
			Style: style,
			Shape: ShapeRound,
		})
		g.Edges = append(g.Edges, Edge{From: id, To: manager, Arrow: "---"})

		members := []string{id}
		for _, p := range c.Ports {
			pid := portID(c.Name, p.Name)
			g.Nodes = append(g.Nodes, Node{
				ID: pid,
				Label: LabelBuilder{Label: p.Name, FontSize: 14, Bold: true, SubLines: []string{
					Subline(styleKind, "%s", p.Kind),
					Subline(styleDetail, "%s", p.DataType),
				}}.ToHTML(),
				Type:  NodePort,
				Style: stylePort,
				Shape: ShapeStadium,
			})
			members = append(members, pid)
		}
		g.Subgraphs = append(g.Subgraphs, Subgraph{ID: "host:" + c.Name, Label: c.Category, NodeIDs: members, Style: styleHost})
	}
}

// buildContextGraph draws every context and an edge to each participant,
// labelled with the participant's id and state. Owned bindings are solid.
func buildContextGraph(g *Graph, contexts []introspection.ContextInfo) {
	for _, x := range contexts {
		id := contextID(x.Name)
		sublines := []string{Subline(styleKind, "%s %s", emojiContext, x.Kind)}
		if x.Rate > 0 {
			sublines = append(sublines, Subline(styleDetail, "%g Hz", x.Rate))
		}
		style := styleContext
		if !x.Running {
			style = styleContextIdle
			sublines = append(sublines, Subline(styleDetail, "stopped"))
		}
		g.Nodes = append(g.Nodes, Node{
			ID:    id,
			Label: LabelBuilder{Label: x.Name, FontSize: 15, Bold: true, SubLines: sublines}.ToHTML(),
			Type:  NodeContext,
			Style: style,
			Shape: ShapeHexagon,
		})
		for _, p := range x.Participants {
			arrow := "-.->"
			if p.Component == x.Owner {
				arrow = "-->"
			}
			g.Edges = append(g.Edges, Edge{
				From:  id,
				To:    componentID(p.Component),
				Arrow: arrow,
				Label: fmt.Sprintf("%d: %s", p.ID, p.State),
			})
		}
	}
}

// buildConnectorGraph draws one thick edge per connector from its output
// port to each input port.
func buildConnectorGraph(g *Graph, r introspection.Report) {
	type end struct {
		id  string
		out bool
	}
	byRef := make(map[string]end)
	for _, c := range r.Components {
		for _, p := range c.Ports {
			if p.Ref != "" {
				byRef[p.Ref] = end{id: portID(c.Name, p.Name), out: p.Kind == "DataOutPort"}
			}
		}
	}

	conns := r.Connectors()
	ids := make([]string, 0, len(conns))
	for id := range conns {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		conn := conns[id]
		var from string
		var to []string
		for _, ref := range conn.Ports {
			e, ok := byRef[ref]
			switch {
			case !ok:
				continue
			case e.out:
				from = e.id
			default:
				to = append(to, e.id)
			}
		}
		if from == "" {
			continue
		}
		label := conn.Subscription
		if conn.Name != "" {
			label = conn.Name + ": " + label
		}
		for _, t := range to {
			g.Edges = append(g.Edges, Edge{From: from, To: t, Arrow: "==>", Label: label})
		}
	}
}

// buildNamingGraph draws the names still bound at the end of the event log.
func buildNamingGraph(g *Graph, r introspection.Report) {
	bound := make(map[string]string)
	var order []string
	for _, ev := range r.Naming {
		switch ev.Kind {
		case introspection.NamingBound:
			if _, ok := bound[ev.Path]; !ok {
				order = append(order, ev.Path)
			}
			bound[ev.Path] = ev.Ref
		case introspection.NamingUnbound:
			delete(bound, ev.Path)
		}
	}
	owners := make(map[string]string)
	for _, c := range r.Components {
		if c.Ref != "" {
			owners[c.Ref] = componentID(c.Name)
		}
	}
	for _, path := range order {
		ref, ok := bound[path]
		if !ok {
			continue
		}
		id := "name:" + path
		g.Nodes = append(g.Nodes, Node{
			ID:    id,
			Label: LabelBuilder{Label: fmt.Sprintf("%s %s", emojiName, path), FontSize: 13}.ToHTML(),
			Type:  NodeName,
			Style: styleName,
		})
		if owner, ok := owners[ref]; ok {
			g.Edges = append(g.Edges, Edge{From: id, To: owner, Arrow: "-.-"})
		}
	}
}

// buildConfigGraph links every configuration key to the code that read it.
func buildConfigGraph(g *Graph, configs []introspection.ConfigAccess) {
	seen := make(map[string]bool)
	for _, k := range configs {
		keyID := "cfg:" + k.Key
		if !seen[keyID] {
			seen[keyID] = true
			var sublines []string
			if k.Provider != "" {
				sublines = append(sublines, Subline(styleConfigProvider, "%s %s", emojiConfig, k.Provider))
			}
			if k.UsedDefault {
				sublines = append(sublines, Subline(styleConfigProvider, "default"))
			}
			g.Nodes = append(g.Nodes, Node{
				ID:    keyID,
				Label: LabelBuilder{Label: k.Key, FontSize: 14, Bold: true, SubLines: sublines}.ToHTML(),
				Type:  NodeConfig,
				Style: styleConfig,
			})
		}

		caller := k.Caller.Func
		if caller == "" {
			caller = k.Component
		}
		if caller == "" {
			caller = "unknown caller"
		}
		callerID := "caller:" + caller
		if !seen[callerID] {
			seen[callerID] = true
			g.Nodes = append(g.Nodes, Node{
				ID: callerID,
				Label: LabelBuilder{Label: caller, FontSize: 13, Bold: true, SubLines: []string{
					Subline(styleCodeLoc, "%s(%s:%d)", emojiCodeLocation, k.Caller.File, k.Caller.Line),
				}}.ToHTML(),
				Type:  NodeCaller,
				Style: styleCaller,
			})
		}
		if edge := keyID + "->" + callerID; !seen[edge] {
			seen[edge] = true
			g.Edges = append(g.Edges, Edge{From: keyID, To: callerID, Arrow: "-.->"})
		}
	}
}
