package openrtm

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/n-ando/OpenRTM-aist-sub001/ec"
	"github.com/n-ando/OpenRTM-aist-sub001/introspection"
	"github.com/n-ando/OpenRTM-aist-sub001/port"
	"github.com/n-ando/OpenRTM-aist-sub001/rtc"
)

// Introspector receives the manager report once initialization is done.
type Introspector interface {
	Introspect(context.Context, introspection.Report) error
}

// IntrospectorFunc adapts a function to the Introspector interface.
type IntrospectorFunc func(context.Context, introspection.Report) error

// Introspect calls f.
func (f IntrospectorFunc) Introspect(ctx context.Context, r introspection.Report) error {
	return f(ctx, r)
}

// Introspect registers an introspector (fluent method). Introspectors are
// called in registration order after the initializers and before the
// runnables start.
func (m *Manager) Introspect(i Introspector) *Manager {
	if i == nil {
		return m
	}
	m.introspectors = append(m.introspectors, i)
	return m
}

// introspectSafe calls an introspector with panic recovery.
func introspectSafe(ctx context.Context, i Introspector, r introspection.Report) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewError(fmt.Errorf("panic in Introspect func: %v", r), i)
		}
	}()
	err = i.Introspect(ctx, r)
	if err != nil {
		err = NewError(err, i)
	}
	return err
}

// Report returns a snapshot of the components, their ports and connectors,
// the execution contexts they take part in, every configuration read, the
// naming log and the FATAL exclusions.
func (m *Manager) Report() introspection.Report {
	r := introspection.Report{Manager: m.name}
	seen := make(map[string]bool)

	for _, c := range m.Components() {
		r.Components = append(r.Components, componentInfo(c))
		r.Configs = append(r.Configs, c.Accesses()...)
		for _, x := range slices.Concat(c.OwnedContexts(), c.ParticipatingContexts()) {
			if seen[x.Name()] {
				continue
			}
			seen[x.Name()] = true
			r.Contexts = append(r.Contexts, contextInfo(x.Profile()))
		}
	}
	slices.SortFunc(r.Contexts, func(a, b introspection.ContextInfo) int { return strings.Compare(a.Name, b.Name) })

	r.Configs = append(r.Configs, m.loader.Accesses()...)
	r.Naming = m.naming.Events()
	r.Fatal = m.FatalEvents()
	return r
}

func componentInfo(c *rtc.Component) introspection.ComponentInfo {
	p := c.Profile()
	info := introspection.ComponentInfo{
		Name:      p.InstanceName,
		Type:      p.TypeName,
		Category:  p.Category,
		State:     c.State().String(),
		Ref:       string(c.Ref()),
		ConfigSet: c.ActiveConfigSet(),
	}
	for _, s := range c.ContextStates() {
		info.Contexts = append(info.Contexts, introspection.BindingInfo{
			ID:      int(s.ID),
			Context: s.Context,
			Owned:   s.Owned,
			State:   s.State.String(),
		})
	}
	for _, pp := range c.Ports().Profiles() {
		info.Ports = append(info.Ports, portInfo(pp))
	}
	return info
}

func portInfo(p port.Profile) introspection.PortInfo {
	info := introspection.PortInfo{
		Name:     p.Name,
		Kind:     string(p.Kind),
		DataType: p.DataType,
		Ref:      string(p.Ref),
	}
	for _, cp := range p.Connectors {
		ci := introspection.ConnectorInfo{
			ID:           cp.ID,
			Name:         cp.Name,
			Subscription: cp.Properties[port.PropSubscription],
		}
		for _, ref := range cp.Ports {
			ci.Ports = append(ci.Ports, string(ref))
		}
		info.Connectors = append(info.Connectors, ci)
	}
	return info
}

func contextInfo(p ec.Profile) introspection.ContextInfo {
	info := introspection.ContextInfo{
		Name:    p.Name,
		Kind:    p.Kind,
		Owner:   p.Owner,
		Rate:    p.Rate,
		Running: p.Running,
	}
	for _, pp := range p.Participants {
		info.Participants = append(info.Participants, introspection.ParticipantInfo{
			Component: pp.Name,
			ID:        int(pp.ID),
			State:     pp.State,
			Fatal:     pp.Fatal,
		})
	}
	return info
}
