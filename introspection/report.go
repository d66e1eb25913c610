// Package introspection holds the plain-data report a Manager produces about
// its components, execution contexts, ports, connectors, configuration reads
// and naming bindings. It has no dependencies on the rest of the module so
// renderers and the daemon can consume it freely.
package introspection

import (
	"encoding/json"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Report is a point-in-time snapshot of a Manager.
type Report struct {
	Manager    string          `json:"manager" yaml:"manager"`
	Components []ComponentInfo `json:"components" yaml:"components"`
	Contexts   []ContextInfo   `json:"contexts" yaml:"contexts"`
	Configs    []ConfigAccess  `json:"configs" yaml:"configs"`
	Naming     []NamingEvent   `json:"naming" yaml:"naming"`
	Fatal      []FatalEvent    `json:"fatal" yaml:"fatal"`
}

// ComponentInfo describes one component instance.
type ComponentInfo struct {
	Name      string        `json:"name" yaml:"name"`
	Type      string        `json:"type" yaml:"type"`
	Category  string        `json:"category" yaml:"category"`
	State     string        `json:"state" yaml:"state"`
	Ref       string        `json:"ref,omitempty" yaml:"ref,omitempty"`
	ConfigSet string        `json:"configSet,omitempty" yaml:"config_set,omitempty"`
	Contexts  []BindingInfo `json:"contexts" yaml:"contexts"`
	Ports     []PortInfo    `json:"ports" yaml:"ports"`
}

// BindingInfo is one entry of a component's context binding table.
type BindingInfo struct {
	ID      int    `json:"id" yaml:"id"`
	Context string `json:"context" yaml:"context"`
	Owned   bool   `json:"owned" yaml:"owned"`
	State   string `json:"state" yaml:"state"`
}

// PortInfo describes one data port.
type PortInfo struct {
	Name       string          `json:"name" yaml:"name"`
	Kind       string          `json:"kind" yaml:"kind"`
	DataType   string          `json:"dataType" yaml:"data_type"`
	Ref        string          `json:"ref" yaml:"ref"`
	Connectors []ConnectorInfo `json:"connectors" yaml:"connectors"`
}

// ConnectorInfo describes one connector held by a port.
type ConnectorInfo struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	Subscription string   `json:"subscription" yaml:"subscription"`
	Ports        []string `json:"ports" yaml:"ports"`
}

// ContextInfo describes one execution context.
type ContextInfo struct {
	Name         string            `json:"name" yaml:"name"`
	Kind         string            `json:"kind" yaml:"kind"`
	Owner        string            `json:"owner" yaml:"owner"`
	Rate         float64           `json:"rate" yaml:"rate"`
	Running      bool              `json:"running" yaml:"running"`
	Participants []ParticipantInfo `json:"participants" yaml:"participants"`
}

// ParticipantInfo is the per-context state of one participant.
type ParticipantInfo struct {
	Component string `json:"component" yaml:"component"`
	ID        int    `json:"id" yaml:"id"`
	State     string `json:"state" yaml:"state"`
	Fatal     bool   `json:"fatal" yaml:"fatal"`
}

// ConfigAccess captures a single configuration key access.
type ConfigAccess struct {
	Key         string `json:"key" yaml:"key"`
	Provider    string `json:"provider" yaml:"provider"`
	UsedDefault bool   `json:"usedDefault" yaml:"used_default"`
	Caller      Caller `json:"caller" yaml:"caller"`
	Component   string `json:"component" yaml:"component"`
	Order       int    `json:"order" yaml:"order"`
}

// NamingEventKind describes what happened to a naming binding.
type NamingEventKind string

const (
	NamingBound    NamingEventKind = "bind"
	NamingUnbound  NamingEventKind = "unbind"
	NamingResolved NamingEventKind = "resolve"
)

// NamingEvent records one naming registry operation.
type NamingEvent struct {
	Kind   NamingEventKind `json:"kind" yaml:"kind"`
	Path   string          `json:"path" yaml:"path"`
	Ref    string          `json:"ref" yaml:"ref"`
	Caller Caller          `json:"caller" yaml:"caller"`
	Order  int             `json:"order" yaml:"order"` // monotonic within the registry
}

// FatalEvent records a participant excluded after returning FATAL.
type FatalEvent struct {
	Context   string    `json:"context" yaml:"context"`
	Component string    `json:"component" yaml:"component"`
	Callback  string    `json:"callback" yaml:"callback"`
	At        time.Time `json:"at" yaml:"at"`
}

// Caller identifies the code location that produced an event.
type Caller struct {
	Func string `json:"func" yaml:"func"`
	File string `json:"file" yaml:"file"`
	Line int    `json:"line" yaml:"line"`
}

// String renders "func (file:line)", or "" for an unknown caller.
func (c Caller) String() string {
	if c.Func == "" && c.File == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString(c.Func)
	if c.File != "" {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteByte('(')
		b.WriteString(c.File)
		if c.Line > 0 {
			b.WriteByte(':')
			b.WriteString(strconv.Itoa(c.Line))
		}
		b.WriteByte(')')
	}
	return b.String()
}

// Component returns the named component entry.
func (r Report) Component(name string) (ComponentInfo, bool) {
	i := slices.IndexFunc(r.Components, func(c ComponentInfo) bool { return c.Name == name })
	if i < 0 {
		return ComponentInfo{}, false
	}
	return r.Components[i], true
}

// Context returns the named context entry.
func (r Report) Context(name string) (ContextInfo, bool) {
	i := slices.IndexFunc(r.Contexts, func(c ContextInfo) bool { return c.Name == name })
	if i < 0 {
		return ContextInfo{}, false
	}
	return r.Contexts[i], true
}

// Connectors returns every distinct connector in the report, keyed by id.
// Both ends of a connector hold a copy, so each id appears once.
func (r Report) Connectors() map[string]ConnectorInfo {
	out := make(map[string]ConnectorInfo)
	for _, c := range r.Components {
		for _, p := range c.Ports {
			for _, conn := range p.Connectors {
				if _, seen := out[conn.ID]; !seen {
					out[conn.ID] = conn
				}
			}
		}
	}
	return out
}

// Normalize replaces nil slices with empty ones so JSON renders "[]".
func (r Report) Normalize() Report {
	r.Components = orEmpty(r.Components)
	r.Contexts = orEmpty(r.Contexts)
	r.Configs = orEmpty(r.Configs)
	r.Naming = orEmpty(r.Naming)
	r.Fatal = orEmpty(r.Fatal)
	return r
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// MarshalJSON implements the json.Marshaler interface for Report.
func (r Report) MarshalJSON() ([]byte, error) {
	type plain Report
	return json.Marshal(plain(r.Normalize()))
}
