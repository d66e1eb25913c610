// Package rtc implements RT components: the CREATED/ALIVE/FINALIZED
// progression, the binding table of owned and participating execution
// contexts, the action-table dispatch the contexts call into, the
// read-all/write-all port steps and configuration-set parameter binding.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/n-ando/OpenRTM-aist-sub001/config"
	"github.com/n-ando/OpenRTM-aist-sub001/ec"
	"github.com/n-ando/OpenRTM-aist-sub001/lifecycle"
	"github.com/n-ando/OpenRTM-aist-sub001/metric"
	"github.com/n-ando/OpenRTM-aist-sub001/port"
	"github.com/n-ando/OpenRTM-aist-sub001/rpc"
	"github.com/n-ando/OpenRTM-aist-sub001/rpc/local"
	"github.com/n-ando/OpenRTM-aist-sub001/rterr"
)

// Profile holds the identity of a component. It is fixed at creation.
type Profile struct {
	InstanceName string `json:"instanceName" yaml:"instance_name"`
	TypeName     string `json:"typeName" yaml:"type_name"`
	Category     string `json:"category" yaml:"category"`
	Vendor       string `json:"vendor,omitempty" yaml:"vendor,omitempty"`
	Version      string `json:"version,omitempty" yaml:"version,omitempty"`
	Description  string `json:"description,omitempty" yaml:"description,omitempty"`
}

// ContextStatus is one row of ContextStates.
type ContextStatus struct {
	ID      ec.ID                  `json:"id" yaml:"id"`
	Context string                 `json:"context" yaml:"context"`
	Owned   bool                   `json:"owned" yaml:"owned"`
	State   lifecycle.ContextState `json:"state" yaml:"state"`
}

// contextSettings is read from the component properties by Initialize.
type contextSettings struct {
	Contexts           []string      `config:"execution_contexts" default:"PeriodicExecutionContext"`
	Rate               float64       `config:"exec_cxt.periodic.rate" default:"1000"`
	SyncTransition     bool          `config:"exec_cxt.sync_transition" default:"true"`
	TransitionTimeout  time.Duration `config:"exec_cxt.transition_timeout" default:"500ms"`
	LockOSThread       bool          `config:"exec_cxt.lock_os_thread" default:"false"`
	ReadAll            bool          `config:"rtc.read_all" default:"false"`
	WriteAll           bool          `config:"rtc.write_all" default:"false"`
	ReadAllCompletion  bool          `config:"rtc.read_all_completion" default:"false"`
	WriteAllCompletion bool          `config:"rtc.write_all_completion" default:"false"`
}

var kindAliases = map[string]string{
	"periodic":     ec.KindPeriodic,
	"event_driven": ec.KindEventDriven,
	"eventdriven":  ec.KindEventDriven,
}

func contextKind(name string) string {
	if kind, ok := kindAliases[strings.ToLower(name)]; ok {
		return kind
	}
	return name
}

// Option configures a component.
type Option func(*Component)

// WithLogger sets the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Component) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records port and context metrics in r.
func WithMetrics(r *metric.Registry) Option {
	return func(c *Component) { c.metrics = r }
}

// WithSubstrate exports ports through s. Defaults to a private in-process substrate.
func WithSubstrate(s rpc.Substrate) Option {
	return func(c *Component) {
		if s != nil {
			c.sub = s
		}
	}
}

// WithContextRegistry creates owned contexts from r. Defaults to ec.NewRegistry().
func WithContextRegistry(r *ec.Registry) Option {
	return func(c *Component) {
		if r != nil {
			c.registry = r
		}
	}
}

// WithContextOptions adds options to every owned context the component creates.
func WithContextOptions(opts ...ec.Option) Option {
	return func(c *Component) { c.ecOptions = append(c.ecOptions, opts...) }
}

// Component is an RT component. It implements ec.Participant.
type Component struct {
	profile  Profile
	props    *config.Properties
	loader   *config.Loader
	ports    *port.Admin
	sub      rpc.Substrate
	registry *ec.Registry
	logger   *slog.Logger
	metrics  *metric.Registry

	ecOptions []ec.Option

	mu            sync.Mutex
	logic         Logic
	state         lifecycle.ComponentState
	initializing  bool
	finalizing    bool
	exiting       bool
	ref           rpc.Ref
	settings      contextSettings
	owned         []ec.ExecutionContext
	participating []ec.ExecutionContext

	params paramBinding
	pmu    sync.Mutex
}

var (
	_ ec.Participant     = (*Component)(nil)
	_ ec.ActivationGuard = (*Component)(nil)
)

// New creates a component in the CREATED state. props is the component's
// property bag; it is kept, not copied. A nil bag starts empty.
func New(profile Profile, props *config.Properties, opts ...Option) (*Component, error) {
	if strings.TrimSpace(profile.InstanceName) == "" {
		return nil, rterr.BadParameter("create", profile.TypeName, "instance name is empty")
	}
	if props == nil {
		props = config.NewProperties(nil)
	}
	c := &Component{
		profile: profile,
		props:   props,
		logger:  slog.Default(),
		logic:   NopLogic{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.sub == nil {
		c.sub = local.New(local.WithLogger(c.logger))
	}
	if c.registry == nil {
		c.registry = ec.NewRegistry()
	}
	c.logger = c.logger.With("component", profile.InstanceName)
	c.loader = config.NewLoader(props)
	c.params.loader = config.NewLoader(activeSetProvider{c})
	c.ports = port.NewAdmin(profile.InstanceName, c.sub, c.logger)
	return c, nil
}

// SetLogic installs the action table. It must be called before Initialize.
func (c *Component) SetLogic(l Logic) error {
	if l == nil {
		return rterr.BadParameter("set_logic", c.profile.InstanceName, "nil logic")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != lifecycle.Created || c.initializing {
		return rterr.Precondition("set_logic", c.profile.InstanceName, "component is %s", c.state)
	}
	c.logic = l
	return nil
}

// Logic returns the installed action table.
func (c *Component) Logic() Logic {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logic
}

// InstanceName implements ec.Participant.
func (c *Component) InstanceName() string { return c.profile.InstanceName }

// Profile returns the component identity.
func (c *Component) Profile() Profile { return c.profile }

// Properties returns the component property bag.
func (c *Component) Properties() *config.Properties { return c.props }

// Loader returns the loader reading the property bag.
func (c *Component) Loader() *config.Loader { return c.loader }

// Ports returns the port registry.
func (c *Component) Ports() *port.Admin { return c.ports }

// Substrate returns the substrate ports are exported through.
func (c *Component) Substrate() rpc.Substrate { return c.sub }

// AddPort registers p with the component.
func (c *Component) AddPort(ctx context.Context, p port.Port) error {
	return c.ports.AddPort(ctx, p)
}

// PortOptions returns the options components should pass to new ports: the
// component logger and metrics, and every "dataport.*" property as a port
// default.
func (c *Component) PortOptions() []port.Option {
	defaults := make(map[string]string)
	for k, v := range c.props.Map() {
		if strings.HasPrefix(k, "dataport.") {
			defaults[k] = v
		}
	}
	return []port.Option{port.WithLogger(c.logger), port.WithMetrics(c.metrics), port.WithProperties(defaults)}
}

// State returns the component-level state.
func (c *Component) State() lifecycle.ComponentState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Initialize creates and binds the owned execution contexts requested by the
// properties, runs on_initialize and, on success, moves to ALIVE and starts
// the owned contexts. On failure the contexts are disposed and the component
// stays CREATED, so Initialize may be retried. A call made while another
// Initialize is in progress fails with PreconditionNotMet.
func (c *Component) Initialize(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.state != lifecycle.Created:
		defer c.mu.Unlock()
		return rterr.Precondition("initialize", c.profile.InstanceName, "component is %s", c.state)
	case c.initializing:
		defer c.mu.Unlock()
		return rterr.Precondition("initialize", c.profile.InstanceName, "initialization already in progress")
	}
	c.initializing = true
	logic := c.logic
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.initializing = false
		c.mu.Unlock()
	}()

	var s contextSettings
	if err := c.loader.LoadStruct(ctx, &s); err != nil {
		return rterr.Wrap(rterr.KindBadParameter, "initialize", c.profile.InstanceName, err)
	}
	c.mu.Lock()
	c.settings = s
	c.mu.Unlock()

	contexts, err := c.createContexts(ctx, s)
	if err != nil {
		c.dispose(ctx, contexts)
		return err
	}

	if rc := c.invokeOnce(ctx, logic, lifecycle.OnInitialize); rc != lifecycle.OK {
		c.dispose(ctx, contexts)
		return rterr.Transition("initialize", c.profile.InstanceName, "on_initialize returned %s", rc)
	}

	c.mu.Lock()
	c.state = lifecycle.Alive
	c.mu.Unlock()
	c.logger.Info("component initialized", "contexts", len(contexts))

	var errs []error
	for _, x := range contexts {
		if err := x.Start(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Component) createContexts(ctx context.Context, s contextSettings) ([]ec.ExecutionContext, error) {
	var kinds []string
	for _, k := range s.Contexts {
		if !strings.EqualFold(k, "none") {
			kinds = append(kinds, contextKind(k))
		}
	}

	contexts := make([]ec.ExecutionContext, 0, len(kinds))
	for i, kind := range kinds {
		rate := config.GetWithDefault(ctx, c.loader, fmt.Sprintf("ec%d.rate", i), s.Rate)
		opts := append([]ec.Option{
			ec.WithLogger(c.logger),
			ec.WithMetrics(c.metrics),
		}, c.ecOptions...)
		opts = append(opts,
			ec.WithOwner(c),
			ec.WithSyncTransition(s.SyncTransition),
			ec.WithTransitionTimeout(s.TransitionTimeout),
			ec.WithLockOSThread(s.LockOSThread),
		)
		x, err := c.registry.New(kind, ec.Config{
			Name:    fmt.Sprintf("%s.ec%d", c.profile.InstanceName, i),
			Rate:    rate,
			Options: opts,
		})
		if err != nil {
			return contexts, err
		}
		if err := x.AddComponent(ctx, c); err != nil {
			return contexts, err
		}
		contexts = append(contexts, x)
	}
	return contexts, nil
}

// dispose detaches contexts created by a failed Initialize and releases
// their ids, so a retry binds from id zero again.
func (c *Component) dispose(ctx context.Context, contexts []ec.ExecutionContext) {
	for _, x := range contexts {
		if err := x.RemoveComponent(ctx, c); err != nil {
			c.logger.Warn("context disposal failed", "ec", x.Name(), "error", err)
		}
	}
	c.mu.Lock()
	c.owned = nil
	c.mu.Unlock()
}

// Finalize runs on_finalize, withdraws every port and stops and detaches
// every context. The component must be ALIVE, must not be ACTIVE in any
// running context and must not take part in any running context it does not
// own. on_finalize returning ERROR leaves the component ALIVE.
//
// From the start of Finalize until it returns, activations and new context
// attachments are refused.
func (c *Component) Finalize(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.state != lifecycle.Alive:
		defer c.mu.Unlock()
		return rterr.Precondition("finalize", c.profile.InstanceName, "component is %s", c.state)
	case c.finalizing:
		defer c.mu.Unlock()
		return rterr.Precondition("finalize", c.profile.InstanceName, "finalization already in progress")
	}
	c.finalizing = true
	logic := c.logic
	c.mu.Unlock()

	// Cleared on every return; once the state is FINALIZED activation stays refused.
	defer func() {
		c.mu.Lock()
		c.finalizing = false
		c.mu.Unlock()
	}()

	if err := c.quiescent(); err != nil {
		return err
	}
	if rc := c.invokeOnce(ctx, logic, lifecycle.OnFinalize); rc != lifecycle.OK {
		return rterr.Transition("finalize", c.profile.InstanceName, "on_finalize returned %s", rc)
	}
	// An activation admitted just before Finalize started may have landed meanwhile.
	if err := c.quiescent(); err != nil {
		return err
	}

	owned := c.OwnedContexts()
	participating := c.ParticipatingContexts()

	var errs []error
	if err := c.ports.Deactivate(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.unexport(ctx); err != nil {
		errs = append(errs, err)
	}
	for _, x := range owned {
		if x.IsRunning() {
			if err := x.Stop(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for _, x := range slices.Concat(owned, participating) {
		if err := x.RemoveComponent(ctx, c); err != nil && !errors.Is(err, rterr.ErrNotFound) {
			errs = append(errs, err)
		}
	}

	c.mu.Lock()
	c.state = lifecycle.Finalized
	c.mu.Unlock()
	if len(errs) > 0 {
		c.logger.Warn("finalize released resources with errors", "error", errors.Join(errs...))
	}
	c.logger.Info("component finalized")
	return nil
}

// Exit deactivates the component everywhere, leaves every context it does
// not own, stops its owned contexts and finalizes. Calling Exit on a component
// that is already exiting or finalized does nothing.
func (c *Component) Exit(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.exiting || c.state == lifecycle.Finalized:
		c.mu.Unlock()
		return nil
	case c.state != lifecycle.Alive:
		defer c.mu.Unlock()
		return rterr.Precondition("exit", c.profile.InstanceName, "component is %s", c.state)
	}
	c.exiting = true
	owned := compact(c.owned)
	participating := compact(c.participating)
	c.mu.Unlock()

	var errs []error
	for _, x := range slices.Concat(participating, owned) {
		if !x.IsRunning() {
			continue
		}
		if st, err := x.ComponentState(c); err == nil && st == lifecycle.StateActive {
			if err := x.DeactivateComponent(ctx, c); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for _, x := range participating {
		if err := x.RemoveComponent(ctx, c); err != nil && !errors.Is(err, rterr.ErrNotFound) {
			errs = append(errs, err)
		}
	}

	var g errgroup.Group
	for _, x := range owned {
		if x.IsRunning() {
			g.Go(func() error { return x.Stop(ctx) })
		}
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	if err := c.Finalize(ctx); err != nil {
		c.mu.Lock()
		c.exiting = false
		c.mu.Unlock()
		return errors.Join(append(errs, err)...)
	}
	if len(errs) > 0 {
		c.logger.Warn("exit completed with errors", "error", errors.Join(errs...))
	}
	return nil
}

// quiescent reports PreconditionNotMet while the component is ACTIVE in a
// running owned context or takes part in a running context it does not own.
func (c *Component) quiescent() error {
	for _, x := range c.OwnedContexts() {
		if !x.IsRunning() {
			continue
		}
		if st, err := x.ComponentState(c); err == nil && st == lifecycle.StateActive {
			return rterr.Precondition("finalize", c.profile.InstanceName, "component is ACTIVE in running context %s", x.Name())
		}
	}
	for _, x := range c.ParticipatingContexts() {
		if x.IsRunning() {
			return rterr.Precondition("finalize", c.profile.InstanceName, "component participates in running context %s", x.Name())
		}
	}
	return nil
}

// AdmitActivation implements ec.ActivationGuard. Activation is refused
// unless the component is ALIVE and neither finalizing nor exiting.
func (c *Component) AdmitActivation() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.state != lifecycle.Alive:
		return rterr.Precondition("activate", c.profile.InstanceName, "component is %s", c.state)
	case c.finalizing || c.exiting:
		return rterr.Precondition("activate", c.profile.InstanceName, "component is being finalized")
	}
	return nil
}

func compact(xs []ec.ExecutionContext) []ec.ExecutionContext {
	return slices.DeleteFunc(slices.Clone(xs), func(x ec.ExecutionContext) bool { return x == nil })
}

// BindContext implements ec.Participant. Owned ids count up from zero.
func (c *Component) BindContext(x ec.ExecutionContext) (ec.ID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == lifecycle.Finalized {
		return ec.NoID, rterr.Precondition("bind_context", c.profile.InstanceName, "component is FINALIZED")
	}
	if slices.Contains(c.owned, x) {
		return ec.NoID, rterr.Precondition("bind_context", c.profile.InstanceName, "context %s already bound", x.Name())
	}
	c.owned = append(c.owned, x)
	return ec.ID(len(c.owned) - 1), nil
}

// AttachContext implements ec.Participant. Participating ids count up from
// ec.ParticipatingOffset. The component must be ALIVE.
func (c *Component) AttachContext(x ec.ExecutionContext) (ec.ID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.state != lifecycle.Alive:
		return ec.NoID, rterr.Precondition("attach_context", c.profile.InstanceName, "component is %s", c.state)
	case c.finalizing || c.exiting:
		return ec.NoID, rterr.Precondition("attach_context", c.profile.InstanceName, "component is being finalized")
	}
	if slices.Contains(c.participating, x) || slices.Contains(c.owned, x) {
		return ec.NoID, rterr.Precondition("attach_context", c.profile.InstanceName, "context %s already bound", x.Name())
	}
	c.participating = append(c.participating, x)
	return ec.ParticipatingOffset + ec.ID(len(c.participating)-1), nil
}

// DetachContext implements ec.Participant. Ids are not reused.
func (c *Component) DetachContext(id ec.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot, err := c.slot(id)
	if err != nil {
		return err
	}
	*slot = nil
	return nil
}

func (c *Component) slot(id ec.ID) (*ec.ExecutionContext, error) {
	var list []ec.ExecutionContext
	i := int(id)
	if id.Owned() {
		list = c.owned
	} else {
		list = c.participating
		i -= int(ec.ParticipatingOffset)
	}
	if i < 0 || i >= len(list) || list[i] == nil {
		return nil, rterr.NotFound("context", c.profile.InstanceName, "no context bound under id %d", id)
	}
	return &list[i], nil
}

// Invoke implements ec.Participant. A pending configuration-set switch is
// applied before on_execute, which is wrapped by the read-all and write-all
// port steps when rtc.read_all / rtc.write_all are set. Without read-all the
// periodic connectors of input ports are still pulled once per tick.
func (c *Component) Invoke(ctx context.Context, id ec.ID, cb lifecycle.Callback) lifecycle.ReturnCode {
	c.mu.Lock()
	logic, s := c.logic, c.settings
	c.mu.Unlock()

	if cb != lifecycle.OnExecute {
		return dispatch(ctx, logic, id, cb)
	}
	if err := c.applyPending(ctx); err != nil {
		c.logger.Warn("configuration update failed", "ec_id", id, "error", err)
	}
	// Read-all already pulls periodic connectors that have nothing buffered.
	if s.ReadAll {
		if err := c.ports.UpdateAll(ctx, s.ReadAllCompletion); err != nil {
			c.logger.Warn("read-all failed", "ec_id", id, "error", err)
		}
	} else if err := c.ports.PullPeriodic(ctx, true); err != nil {
		c.logger.Warn("periodic pull failed", "ec_id", id, "error", err)
	}
	rc := dispatch(ctx, logic, id, cb)
	if rc == lifecycle.OK && s.WriteAll {
		if err := c.ports.PublishAll(ctx, s.WriteAllCompletion); err != nil {
			c.logger.Warn("write-all failed", "ec_id", id, "error", err)
		}
	}
	return rc
}

// invokeOnce runs on_initialize or on_finalize, treating a panic as ERROR.
func (c *Component) invokeOnce(ctx context.Context, l Logic, cb lifecycle.Callback) (rc lifecycle.ReturnCode) {
	defer func() {
		if r := recover(); r != nil {
			rc = lifecycle.Error
			c.logger.Warn("callback panicked", "callback", cb, "error", fmt.Sprintf("%v", r))
		}
	}()
	if cb == lifecycle.OnInitialize {
		rc = l.OnInitialize(ctx)
	} else {
		rc = l.OnFinalize(ctx)
	}
	if rc != lifecycle.OK {
		c.logger.Warn("callback failed", "callback", cb, "result", rc)
	}
	return rc
}

// OwnedContexts returns the bound owned contexts in id order.
func (c *Component) OwnedContexts() []ec.ExecutionContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return compact(c.owned)
}

// ParticipatingContexts returns the contexts the component joined, in id order.
func (c *Component) ParticipatingContexts() []ec.ExecutionContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return compact(c.participating)
}

// Context returns the context bound under id.
func (c *Component) Context(id ec.ID) (ec.ExecutionContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot, err := c.slot(id)
	if err != nil {
		return nil, err
	}
	return *slot, nil
}

// ContextID returns the id x is bound under.
func (c *Component) ContextID(x ec.ExecutionContext) (ec.ID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := slices.Index(c.owned, x); i >= 0 && x != nil {
		return ec.ID(i), nil
	}
	if i := slices.Index(c.participating, x); i >= 0 && x != nil {
		return ec.ParticipatingOffset + ec.ID(i), nil
	}
	return ec.NoID, rterr.NotFound("context_id", c.profile.InstanceName, "context is not bound")
}

// IsAlive reports whether the component is ALIVE and bound to x.
func (c *Component) IsAlive(x ec.ExecutionContext) bool {
	if c.State() != lifecycle.Alive {
		return false
	}
	_, err := c.ContextID(x)
	return err == nil
}

// ContextStates lists the component's state in every bound context.
func (c *Component) ContextStates() []ContextStatus {
	c.mu.Lock()
	owned := slices.Clone(c.owned)
	participating := slices.Clone(c.participating)
	c.mu.Unlock()

	var out []ContextStatus
	add := func(id ec.ID, x ec.ExecutionContext) {
		if x == nil {
			return
		}
		st, err := x.ComponentState(c)
		if err != nil {
			st = lifecycle.StateNone
		}
		out = append(out, ContextStatus{ID: id, Context: x.Name(), Owned: id.Owned(), State: st})
	}
	for i, x := range owned {
		add(ec.ID(i), x)
	}
	for i, x := range participating {
		add(ec.ParticipatingOffset+ec.ID(i), x)
	}
	return out
}

// Activate asks the context bound under id to activate the component.
func (c *Component) Activate(ctx context.Context, id ec.ID) error {
	x, err := c.Context(id)
	if err != nil {
		return err
	}
	return x.ActivateComponent(ctx, c)
}

// Deactivate asks the context bound under id to deactivate the component.
func (c *Component) Deactivate(ctx context.Context, id ec.ID) error {
	x, err := c.Context(id)
	if err != nil {
		return err
	}
	return x.DeactivateComponent(ctx, c)
}

// Reset asks the context bound under id to reset the component from ERROR.
func (c *Component) Reset(ctx context.Context, id ec.ID) error {
	x, err := c.Context(id)
	if err != nil {
		return err
	}
	return x.ResetComponent(ctx, c)
}
