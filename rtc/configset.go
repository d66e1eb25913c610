package rtc

import (
	"context"
	"slices"
	"strings"

	"github.com/n-ando/OpenRTM-aist-sub001/config"
	"github.com/n-ando/OpenRTM-aist-sub001/introspection"
	"github.com/n-ando/OpenRTM-aist-sub001/lifecycle"
	"github.com/n-ando/OpenRTM-aist-sub001/rterr"
)

// Property keys of the configuration-set layer. Set "s" lives under
// "conf.s.*"; keys missing from a set fall back to "conf.default.*".
const (
	PropActiveConfig = "configuration.active_config"
	PropConfActive   = "conf.__active__"
	DefaultConfigSet = "default"
)

// paramBinding is the struct bound by BindParameters and the set its fields
// were last loaded from. pmu guards it.
type paramBinding struct {
	loader  *config.Loader
	target  any
	applied string
	pending bool
}

// activeSetProvider serves keys of the configuration set last applied to the
// bound parameters. It is only consulted by LoadStruct calls made with pmu held.
type activeSetProvider struct {
	c *Component
}

func (p activeSetProvider) Get(ctx context.Context, key string) (string, error) {
	name := p.c.params.applied
	if name == "" {
		name = p.c.ActiveConfigSet()
	}
	return p.c.ConfigSet(name).Get(ctx, key)
}

// ActiveConfigSet returns the name of the selected configuration set.
func (c *Component) ActiveConfigSet() string {
	if v, ok := c.props.Lookup(PropActiveConfig); ok && v != "" {
		return v
	}
	if v, ok := c.props.Lookup(PropConfActive); ok && v != "" {
		return v
	}
	return DefaultConfigSet
}

// ConfigSets returns the names of the defined configuration sets, sorted.
// The default set is always listed.
func (c *Component) ConfigSets() []string {
	names := []string{DefaultConfigSet}
	for _, name := range c.props.Children("conf") {
		if !strings.HasPrefix(name, "__") && name != DefaultConfigSet {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// ConfigSet returns the parameters of set name layered over the default set.
func (c *Component) ConfigSet(name string) *config.Properties {
	set := c.props.Node("conf." + name)
	if name != DefaultConfigSet {
		set.SetDefaults(c.props.Node("conf." + DefaultConfigSet))
	}
	return set
}

// BindParameters loads the fields of target, a struct pointer tagged with
// config:"name" and optional default:"value", from the active configuration
// set. The binding is kept: later set switches reload target.
func (c *Component) BindParameters(ctx context.Context, target any) error {
	c.pmu.Lock()
	defer c.pmu.Unlock()
	c.params.target = target
	c.params.applied = c.ActiveConfigSet()
	c.params.pending = false
	if err := c.params.loader.LoadStruct(ctx, target); err != nil {
		c.params.target = nil
		return rterr.Wrap(rterr.KindBadParameter, "bind_parameters", c.profile.InstanceName, err)
	}
	return nil
}

// ActivateConfigurationSet selects set name. While the component is ALIVE
// and has a running context the bound parameters are reloaded on the context
// goroutine just before the next on_execute; otherwise they are reloaded
// immediately.
func (c *Component) ActivateConfigurationSet(ctx context.Context, name string) error {
	if !slices.Contains(c.ConfigSets(), name) {
		return rterr.NotFound("activate_configuration_set", c.profile.InstanceName, "no configuration set %q", name)
	}
	c.props.Set(PropActiveConfig, name)

	c.pmu.Lock()
	c.params.pending = true
	c.pmu.Unlock()

	if c.State() == lifecycle.Alive && c.hasRunningContext() {
		return nil
	}
	return c.applyPending(ctx)
}

// UpdateParameters applies a pending configuration-set switch now.
func (c *Component) UpdateParameters(ctx context.Context) error {
	return c.applyPending(ctx)
}

func (c *Component) applyPending(ctx context.Context) error {
	c.pmu.Lock()
	defer c.pmu.Unlock()
	if !c.params.pending {
		return nil
	}
	c.params.pending = false
	c.params.applied = c.ActiveConfigSet()
	if c.params.target == nil {
		return nil
	}
	if err := c.params.loader.LoadStruct(ctx, c.params.target); err != nil {
		return rterr.Wrap(rterr.KindBadParameter, "update_parameters", c.profile.InstanceName, err)
	}
	c.logger.Info("configuration set applied", "set", c.params.applied)
	return nil
}

func (c *Component) hasRunningContext() bool {
	for _, x := range slices.Concat(c.OwnedContexts(), c.ParticipatingContexts()) {
		if x.IsRunning() {
			return true
		}
	}
	return false
}

// Accesses returns the configuration keys read by the component, both
// from its properties and from its configuration sets.
func (c *Component) Accesses() []introspection.ConfigAccess {
	return slices.Concat(c.loader.Accesses(), c.params.loader.Accesses())
}
