// Package openrtm hosts RT components: it keeps the table of component
// factories, creates and destroys component instances, binds them in the
// naming registry, runs hosted runnables next to them and shuts everything
// down gracefully.
package openrtm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/n-ando/OpenRTM-aist-sub001/config"
	"github.com/n-ando/OpenRTM-aist-sub001/ec"
	"github.com/n-ando/OpenRTM-aist-sub001/introspection"
	"github.com/n-ando/OpenRTM-aist-sub001/lifecycle"
	"github.com/n-ando/OpenRTM-aist-sub001/metric"
	"github.com/n-ando/OpenRTM-aist-sub001/naming"
	"github.com/n-ando/OpenRTM-aist-sub001/port"
	"github.com/n-ando/OpenRTM-aist-sub001/rpc"
	"github.com/n-ando/OpenRTM-aist-sub001/rpc/local"
	"github.com/n-ando/OpenRTM-aist-sub001/rtc"
	"github.com/n-ando/OpenRTM-aist-sub001/rterr"
)

// runnableSpecs bundles a runnable with its executor and ready checker.
// The executor may wrap the original runnable with a default ready checker.
type runnableSpecs struct {
	executor     Runnable
	original     Runnable
	readyChecker ReadyChecker
}

// closerFunc is a function that performs cleanup operations.
type closerFunc func()

type registeredFactory struct {
	profile FactoryProfile
	build   Factory
}

// managerSettings is read from the manager properties.
type managerSettings struct {
	ShutdownTimeout time.Duration `config:"manager.shutdown_timeout" default:"5s"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithName names the manager in logs and introspection.
func WithName(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.name = name
		}
	}
}

// WithLogger sets the manager logger. Components inherit it.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics records component, context and port metrics in r.
func WithMetrics(r *metric.Registry) Option {
	return func(m *Manager) { m.metrics = r }
}

// WithSubstrate exports ports and components through s. Defaults to an
// in-process substrate.
func WithSubstrate(s rpc.Substrate) Option {
	return func(m *Manager) {
		if s != nil {
			m.sub = s
		}
	}
}

// WithNaming binds created components in r. Defaults to a private registry.
func WithNaming(r *naming.Registry) Option {
	return func(m *Manager) {
		if r != nil {
			m.naming = r
		}
	}
}

// WithProperties sets the manager-wide properties every component falls back to.
func WithProperties(p *config.Properties) Option {
	return func(m *Manager) {
		if p != nil {
			m.props = p
		}
	}
}

// WithContextRegistry sets the execution context factories components use.
func WithContextRegistry(r *ec.Registry) Option {
	return func(m *Manager) {
		if r != nil {
			m.contexts = r
		}
	}
}

// Manager owns the component factories and instances of one process.
type Manager struct {
	name     string
	logger   *slog.Logger
	metrics  *metric.Registry
	sub      rpc.Substrate
	naming   *naming.Registry
	props    *config.Properties
	loader   *config.Loader
	contexts *ec.Registry

	mu         sync.Mutex
	factories  map[string]registeredFactory
	counters   map[string]int
	components []*rtc.Component
	names      map[string][]string
	fatal      []introspection.FatalEvent

	initializers      []Initializer
	runnableSpecsList []runnableSpecs
	introspectors     []Introspector
	errCh             chan error
}

// NewManager creates a manager with no factories or components.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		name:      "manager",
		logger:    slog.Default(),
		props:     config.NewProperties(nil),
		contexts:  ec.NewRegistry(),
		factories: make(map[string]registeredFactory),
		counters:  make(map[string]int),
		names:     make(map[string][]string),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.sub == nil {
		m.sub = local.New(local.WithLogger(m.logger))
	}
	if m.naming == nil {
		m.naming = naming.New(naming.WithLogger(m.logger))
	}
	m.logger = m.logger.With("manager", m.name)
	m.loader = config.NewLoader(m.props)
	return m
}

// Name returns the manager name.
func (m *Manager) Name() string { return m.name }

// Substrate returns the substrate components are exported through.
func (m *Manager) Substrate() rpc.Substrate { return m.sub }

// Naming returns the naming registry.
func (m *Manager) Naming() *naming.Registry { return m.naming }

// Properties returns the manager-wide properties.
func (m *Manager) Properties() *config.Properties { return m.props }

// Metrics returns the metrics registry, or nil.
func (m *Manager) Metrics() *metric.Registry { return m.metrics }

// RegisterFactory adds a component type.
func (m *Manager) RegisterFactory(profile FactoryProfile, build Factory) error {
	if strings.TrimSpace(profile.TypeName) == "" {
		return rterr.BadParameter("register_factory", "", "type name is empty")
	}
	if build == nil {
		return rterr.BadParameter("register_factory", profile.TypeName, "nil factory")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.factories[profile.TypeName]; ok {
		return rterr.Precondition("register_factory", profile.TypeName, "factory already registered")
	}
	profile.Properties = maps.Clone(profile.Properties)
	m.factories[profile.TypeName] = registeredFactory{profile: profile, build: build}
	return nil
}

// Factories returns the registered factory profiles sorted by type name.
func (m *Manager) Factories() []FactoryProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FactoryProfile, 0, len(m.factories))
	for _, name := range slices.Sorted(maps.Keys(m.factories)) {
		out = append(out, m.factories[name].profile)
	}
	return out
}

// ParseComponentSpec splits "Type?key=value&..." into the type name and the
// query properties.
func ParseComponentSpec(spec string) (string, *config.Properties, error) {
	typeName, query, _ := strings.Cut(spec, "?")
	typeName = strings.TrimSpace(typeName)
	if typeName == "" {
		return "", nil, rterr.BadParameter("create_component", spec, "type name is empty")
	}
	props, err := config.ParseQuery(query)
	if err != nil {
		return "", nil, rterr.Wrap(rterr.KindBadParameter, "create_component", spec, err)
	}
	return typeName, props, nil
}

// CreateComponent creates, initializes and registers a component from
// "Type?key=value&...". Properties resolve from the query, then the
// manager's "components.<Type>" subtree, then the factory defaults, then the
// manager properties. The instance name is "instance_name" when given and
// "<Type><N>" otherwise.
func (m *Manager) CreateComponent(ctx context.Context, spec string) (*rtc.Component, error) {
	typeName, props, err := ParseComponentSpec(spec)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	f, ok := m.factories[typeName]
	if !ok {
		m.mu.Unlock()
		return nil, rterr.NotFound("create_component", typeName, "no factory registered")
	}
	instance := props.Value("instance_name", "")
	if instance == "" {
		instance = m.nextInstanceName(typeName)
	}
	if m.indexOf(instance) >= 0 {
		m.mu.Unlock()
		return nil, rterr.Precondition("create_component", instance, "instance name already in use")
	}
	m.mu.Unlock()

	typeDefaults := config.NewProperties(f.profile.Properties).SetDefaults(m.props)
	props.SetDefaults(m.props.Node("components." + typeName).SetDefaults(typeDefaults))
	props.Set("instance_name", instance)

	c, err := rtc.New(rtc.Profile{
		InstanceName: instance,
		TypeName:     f.profile.TypeName,
		Category:     f.profile.Category,
		Vendor:       f.profile.Vendor,
		Version:      f.profile.Version,
		Description:  f.profile.Description,
	}, props,
		rtc.WithLogger(m.logger),
		rtc.WithMetrics(m.metrics),
		rtc.WithSubstrate(m.sub),
		rtc.WithContextRegistry(m.contexts),
		rtc.WithContextOptions(ec.WithFatalHandler(m.onFatal)),
	)
	if err != nil {
		return nil, NewError(err, typeName)
	}

	logic, err := buildSafe(f.build, c)
	if err != nil {
		_ = c.Ports().Deactivate(ctx)
		return nil, err
	}
	if logic != nil {
		if err := c.SetLogic(logic); err != nil {
			return nil, NewError(err, typeName)
		}
	}
	if err := c.Initialize(ctx); err != nil {
		_ = c.Ports().Deactivate(ctx)
		return nil, NewError(err, typeName)
	}
	if _, err := c.Export(ctx); err != nil {
		_ = c.Exit(ctx)
		return nil, NewError(err, typeName)
	}

	m.mu.Lock()
	if m.indexOf(instance) >= 0 {
		m.mu.Unlock()
		_ = c.Exit(ctx)
		return nil, rterr.Precondition("create_component", instance, "instance name already in use")
	}
	m.components = append(m.components, c)
	n := len(m.components)
	m.mu.Unlock()
	m.metrics.SetComponents(n)

	if err := m.bindName(ctx, c); err != nil {
		m.logger.Warn("naming bind failed", "component", instance, "error", err)
	}
	m.logger.Info("component created", "component", instance, "type", typeName)
	return c, nil
}

// nextInstanceName returns "<Type><N>" for the next free N. m.mu must be held.
func (m *Manager) nextInstanceName(typeName string) string {
	for {
		n := m.counters[typeName]
		m.counters[typeName] = n + 1
		name := typeName + strconv.Itoa(n)
		if m.indexOf(name) < 0 {
			return name
		}
	}
}

// indexOf finds a component by instance name. m.mu must be held.
func (m *Manager) indexOf(name string) int {
	return slices.IndexFunc(m.components, func(c *rtc.Component) bool { return c.InstanceName() == name })
}

func (m *Manager) bindName(ctx context.Context, c *rtc.Component) error {
	cfg := c.Loader()
	if !config.GetWithDefault(ctx, cfg, "naming.enable", false) {
		return nil
	}
	format := config.GetWithDefault(ctx, cfg, "naming.format", naming.DefaultFormat)
	p := c.Profile()
	path := naming.Expand(format, naming.Fields{
		Instance: p.InstanceName,
		Type:     p.TypeName,
		Category: p.Category,
		Vendor:   p.Vendor,
		Version:  p.Version,
	})
	if err := m.naming.Bind(path, c.Ref()); err != nil {
		return err
	}
	m.mu.Lock()
	m.names[p.InstanceName] = append(m.names[p.InstanceName], naming.Clean(path))
	m.mu.Unlock()
	return nil
}

// buildSafe calls a factory with panic recovery.
func buildSafe(build Factory, c *rtc.Component) (logic rtc.Logic, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewError(fmt.Errorf("panic in factory: %v", r), build)
		}
	}()
	logic, err = build(c)
	if err != nil {
		err = NewError(err, build)
	}
	return logic, err
}

// Component returns the component with the given instance name.
func (m *Manager) Component(name string) (*rtc.Component, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(name)
	if i < 0 {
		return nil, rterr.NotFound("component", name, "no such component")
	}
	return m.components[i], nil
}

// Components returns the components in creation order.
func (m *Manager) Components() []*rtc.Component {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.components)
}

// DestroyComponent exits the component, unbinds its names and forgets it.
func (m *Manager) DestroyComponent(ctx context.Context, name string) error {
	c, err := m.Component(name)
	if err != nil {
		return err
	}
	if err := c.Exit(ctx); err != nil {
		return NewError(err, name)
	}

	m.mu.Lock()
	if i := m.indexOf(name); i >= 0 {
		m.components = slices.Delete(m.components, i, i+1)
	}
	paths := m.names[name]
	delete(m.names, name)
	n := len(m.components)
	m.mu.Unlock()

	for _, path := range paths {
		if err := m.naming.Unbind(path); err != nil && !errors.Is(err, rterr.ErrNotFound) {
			m.logger.Warn("naming unbind failed", "path", path, "error", err)
		}
	}
	m.metrics.SetComponents(n)
	m.logger.Info("component destroyed", "component", name)
	return nil
}

// Shutdown destroys every component, newest first.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error
	components := m.Components()
	for i := len(components) - 1; i >= 0; i-- {
		if err := m.DestroyComponent(ctx, components[i].InstanceName()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PortByPath returns the port named "Instance.port".
func (m *Manager) PortByPath(path string) (port.Port, error) {
	instance, name, ok := strings.Cut(path, ".")
	if !ok {
		return nil, rterr.BadParameter("port", path, "expected <instance>.<port>")
	}
	c, err := m.Component(instance)
	if err != nil {
		return nil, err
	}
	return c.Ports().Port(name)
}

// Connect connects the ports named "Instance.port" with one connector.
func (m *Manager) Connect(ctx context.Context, name string, props map[string]string, paths ...string) (port.ConnectorProfile, error) {
	cp := port.ConnectorProfile{Name: name, Properties: props}
	for _, path := range paths {
		p, err := m.PortByPath(path)
		if err != nil {
			return port.ConnectorProfile{}, err
		}
		cp.Ports = append(cp.Ports, p.Ref())
	}
	return port.Connect(ctx, m.sub, cp)
}

// onFatal records a participant excluded after returning FATAL. It runs on
// the context goroutine.
func (m *Manager) onFatal(x ec.ExecutionContext, p ec.Participant, cb lifecycle.Callback) {
	ev := introspection.FatalEvent{
		Context:   x.Name(),
		Component: p.InstanceName(),
		Callback:  string(cb),
		At:        time.Now(),
	}
	m.mu.Lock()
	m.fatal = append(m.fatal, ev)
	m.mu.Unlock()
	m.logger.Error("component excluded after FATAL; destroy it explicitly",
		"component", ev.Component, "ec", ev.Context, "callback", cb)
}

// FatalEvents returns the FATAL exclusions seen so far.
func (m *Manager) FatalEvents() []introspection.FatalEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.fatal)
}

// Initialize adds initializers to the manager (fluent method).
// Initializers run sequentially before runnables.
func (m *Manager) Initialize(init ...Initializer) *Manager {
	m.initializers = append(m.initializers, init...)
	return m
}

// Host adds runnables to the manager (fluent method).
// Runnables execute concurrently after all initializers complete.
func (m *Manager) Host(runnable ...Runnable) *Manager {
	for _, r := range runnable {
		var (
			readyChecker ReadyChecker
			executor     Runnable
		)
		if rc, ok := r.(ReadyChecker); ok {
			readyChecker = rc
			executor = r
		} else {
			rc := &defaultReadyChecker{runable: r}
			executor = rc
			readyChecker = rc
		}
		m.runnableSpecsList = append(m.runnableSpecsList, runnableSpecs{
			original:     r,
			executor:     executor,
			readyChecker: readyChecker,
		})
	}
	return m
}

// Run runs the manager until SIGINT or SIGTERM, or until a runnable fails.
func (m *Manager) Run() error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	return m.runWithContext(ctx)
}

// RunWithContext runs the manager until ctx is canceled or a runnable fails.
// Without components it also returns once every runnable has returned.
func (m *Manager) RunWithContext(ctx context.Context) error {
	return m.runWithContext(ctx)
}

// RunAsync runs the manager in a background goroutine.
// Returns a channel that receives the final error (or nil) when execution completes.
func (m *Manager) RunAsync(ctx context.Context) chan error {
	m.errCh = make(chan error, 1)
	go func() {
		m.errCh <- m.runWithContext(ctx)
		close(m.errCh)
	}()
	return m.errCh
}

// runWithContext initializes, hosts the runnables next to the components and
// finally destroys every component and runs the closers.
func (m *Manager) runWithContext(ctx context.Context) (err error) {
	var settings managerSettings
	if err := m.loader.LoadStruct(ctx, &settings); err != nil {
		return NewError(err, m)
	}

	var closers []closerFunc
	defer func() { combineClosers(closers)() }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settings.ShutdownTimeout)
		defer cancel()
		if serr := m.Shutdown(shutdownCtx); serr != nil {
			err = errors.Join(err, serr)
		}
	}()

	for _, initializer := range m.initializers {
		newCtx, err := initializeSafe(ctx, m, initializer)
		if err != nil {
			return err
		}
		if newCtx != nil {
			ctx = newCtx
		}
		if closer, ok := initializer.(Closer); ok {
			closers = append(closers, closer.Close)
		}
	}
	for _, rs := range m.runnableSpecsList {
		if closer, ok := rs.original.(Closer); ok {
			closers = append(closers, closer.Close)
		}
	}

	if len(m.introspectors) > 0 {
		report := m.Report()
		for _, i := range m.introspectors {
			if err := introspectSafe(ctx, i, report); err != nil {
				return err
			}
		}
	}

	errGroup, groupCtx := errgroup.WithContext(ctx)
	for _, rs := range m.runnableSpecsList {
		errGroup.Go(func() error {
			return runSafe(groupCtx, rs)
		})
	}
	// Components run on their context goroutines; keep them until shutdown.
	if len(m.Components()) > 0 {
		errGroup.Go(func() error {
			<-groupCtx.Done()
			return nil
		})
	}
	return errGroup.Wait()
}

// combineClosers returns a function that invokes all closers in LIFO (reverse) order.
func combineClosers(closers []closerFunc) closerFunc {
	return func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
}

// initializeSafe calls an initializer with panic recovery.
func initializeSafe(ctx context.Context, m *Manager, init Initializer) (newCtx context.Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewError(fmt.Errorf("panic in Initialize func: %v", r), init)
		}
	}()
	newCtx, err = init.Initialize(ctx, m)
	if err != nil {
		var me Error
		if !errors.As(err, &me) {
			err = NewError(err, init)
		}
	}
	return newCtx, err
}

// runSafe calls a runnable's Run method with panic recovery.
func runSafe(ctx context.Context, rs runnableSpecs) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewError(fmt.Errorf("panic in Run func: %v", r), rs.original)
		}
	}()
	err = rs.executor.Run(ctx)
	if err != nil {
		err = NewError(err, rs.original.Run)
	}
	return err
}
