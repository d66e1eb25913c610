package openrtm

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n-ando/OpenRTM-aist-sub001/config"
	"github.com/n-ando/OpenRTM-aist-sub001/ec"
	"github.com/n-ando/OpenRTM-aist-sub001/lifecycle"
	"github.com/n-ando/OpenRTM-aist-sub001/metric"
	"github.com/n-ando/OpenRTM-aist-sub001/port"
	"github.com/n-ando/OpenRTM-aist-sub001/rtc"
	"github.com/n-ando/OpenRTM-aist-sub001/rterr"
)

// hookLogic lets a test override single callbacks.
type hookLogic struct {
	rtc.NopLogic
	initialize func() lifecycle.ReturnCode
	execute    func() lifecycle.ReturnCode
}

func (h *hookLogic) OnInitialize(context.Context) lifecycle.ReturnCode {
	if h.initialize != nil {
		return h.initialize()
	}
	return lifecycle.OK
}

func (h *hookLogic) OnExecute(context.Context, ec.ID) lifecycle.ReturnCode {
	if h.execute != nil {
		return h.execute()
	}
	return lifecycle.OK
}

func nopFactory(*rtc.Component) (rtc.Logic, error) { return nil, nil }

// newTestManager registers "Nop" with no owned contexts.
func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	props := config.NewProperties(map[string]string{"execution_contexts": "none"})
	m := NewManager(append([]Option{WithProperties(props)}, opts...)...)
	require.NoError(t, m.RegisterFactory(FactoryProfile{TypeName: "Nop", Category: "test"}, nopFactory))
	return m
}

func TestManager_RegisterFactory(t *testing.T) {
	tests := map[string]struct {
		profile FactoryProfile
		build   Factory
		errIs   error
	}{
		"empty_type":  {profile: FactoryProfile{TypeName: " "}, build: nopFactory, errIs: rterr.ErrBadParameter},
		"nil_factory": {profile: FactoryProfile{TypeName: "X"}, errIs: rterr.ErrBadParameter},
		"duplicate":   {profile: FactoryProfile{TypeName: "Nop"}, build: nopFactory, errIs: rterr.ErrPreconditionNotMet},
		"new_type":    {profile: FactoryProfile{TypeName: "Other"}, build: nopFactory},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			m := newTestManager(t)
			err := m.RegisterFactory(tt.profile, tt.build)
			if tt.errIs != nil {
				assert.ErrorIs(t, err, tt.errIs)
				return
			}
			require.NoError(t, err)
			assert.Len(t, m.Factories(), 2)
		})
	}
}

func TestManager_CreateComponentNames(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	c0, err := m.CreateComponent(ctx, "Nop")
	require.NoError(t, err)
	named, err := m.CreateComponent(ctx, "Nop?instance_name=Nop1")
	require.NoError(t, err)
	c2, err := m.CreateComponent(ctx, "Nop")
	require.NoError(t, err)

	assert.Equal(t, "Nop0", c0.InstanceName())
	assert.Equal(t, "Nop1", named.InstanceName())
	assert.Equal(t, "Nop2", c2.InstanceName(), "counter skips names in use")
	assert.Equal(t, lifecycle.Alive, c0.State())
	assert.NotEmpty(t, c0.Ref())

	_, err = m.CreateComponent(ctx, "Nop?instance_name=Nop0")
	assert.ErrorIs(t, err, rterr.ErrPreconditionNotMet)
	_, err = m.CreateComponent(ctx, "Missing")
	assert.ErrorIs(t, err, rterr.ErrNotFound)
	_, err = m.CreateComponent(ctx, "?a=b")
	assert.ErrorIs(t, err, rterr.ErrBadParameter)

	names := make([]string, 0, 3)
	for _, c := range m.Components() {
		names = append(names, c.InstanceName())
	}
	assert.Equal(t, []string{"Nop0", "Nop1", "Nop2"}, names)
}

func TestManager_PropertyLayering(t *testing.T) {
	ctx := context.Background()
	props := config.NewProperties(map[string]string{
		"execution_contexts":   "none",
		"a":                    "manager",
		"b":                    "manager",
		"c":                    "manager",
		"d":                    "manager",
		"components.Layered.c": "components",
		"components.Layered.d": "components",
	})
	m := NewManager(WithProperties(props))
	var got *config.Properties
	require.NoError(t, m.RegisterFactory(FactoryProfile{
		TypeName:   "Layered",
		Properties: map[string]string{"b": "factory", "c": "factory", "d": "factory"},
	}, func(c *rtc.Component) (rtc.Logic, error) {
		got = c.Properties()
		return nil, nil
	}))

	_, err := m.CreateComponent(ctx, "Layered?d=query")
	require.NoError(t, err)
	require.NotNil(t, got)

	want := map[string]string{"a": "manager", "b": "factory", "c": "components", "d": "query", "instance_name": "Layered0"}
	for k, v := range want {
		assert.Equal(t, v, got.Value(k, ""), k)
	}
}

func TestManager_CreateComponentFailures(t *testing.T) {
	ctx := context.Background()
	tests := map[string]struct {
		build Factory
		errIs error
		msg   string
	}{
		"factory_error": {
			build: func(*rtc.Component) (rtc.Logic, error) { return nil, rterr.BadParameter("build", "x", "boom") },
			errIs: rterr.ErrBadParameter,
			msg:   "boom",
		},
		"factory_panic": {
			build: func(*rtc.Component) (rtc.Logic, error) { panic("kaboom") },
			msg:   "panic in factory: kaboom",
		},
		"initialize_error": {
			build: func(*rtc.Component) (rtc.Logic, error) {
				return &hookLogic{initialize: func() lifecycle.ReturnCode { return lifecycle.Error }}, nil
			},
			errIs: rterr.ErrTransition,
			msg:   "component: Broken",
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			m := newTestManager(t)
			require.NoError(t, m.RegisterFactory(FactoryProfile{TypeName: "Broken"}, tt.build))

			c, err := m.CreateComponent(ctx, "Broken")
			require.Error(t, err)
			assert.Nil(t, c)
			var me Error
			require.ErrorAs(t, err, &me)
			if tt.errIs != nil {
				assert.ErrorIs(t, err, tt.errIs)
			}
			assert.Contains(t, err.Error(), tt.msg)
			assert.Empty(t, m.Components())
		})
	}
}

func TestManager_DestroyComponent(t *testing.T) {
	ctx := context.Background()
	reg := metric.NewRegistry()
	m := newTestManager(t, WithMetrics(reg))

	_, err := m.CreateComponent(ctx, "Nop")
	require.NoError(t, err)
	c1, err := m.CreateComponent(ctx, "Nop")
	require.NoError(t, err)
	assert.NoError(t, testutil.GatherAndCompare(reg.Prometheus(), strings.NewReader(componentsGauge(2)), "rtc_manager_components"))

	require.NoError(t, m.DestroyComponent(ctx, "Nop1"))
	assert.Equal(t, lifecycle.Finalized, c1.State())
	_, err = m.Component("Nop1")
	assert.ErrorIs(t, err, rterr.ErrNotFound)
	assert.ErrorIs(t, m.DestroyComponent(ctx, "Nop1"), rterr.ErrNotFound)
	assert.Len(t, m.Components(), 1)
	assert.NoError(t, testutil.GatherAndCompare(reg.Prometheus(), strings.NewReader(componentsGauge(1)), "rtc_manager_components"))
}

func componentsGauge(n int) string {
	return "# HELP rtc_manager_components Components currently owned by the manager.\n" +
		"# TYPE rtc_manager_components gauge\n" +
		"rtc_manager_components " + strconv.Itoa(n) + "\n"
}

func TestManager_Naming(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	m.Properties().Set("naming.enable", "true")

	c, err := m.CreateComponent(ctx, "Nop")
	require.NoError(t, err)
	ref, err := m.Naming().Resolve("test/Nop0.rtc")
	require.NoError(t, err)
	assert.Equal(t, c.Ref(), ref)

	_, err = m.CreateComponent(ctx, "Nop?naming.format=%25t/%25n.rtc&instance_name=custom")
	require.NoError(t, err)
	_, err = m.Naming().Resolve("Nop/custom.rtc")
	require.NoError(t, err)

	require.NoError(t, m.DestroyComponent(ctx, "Nop0"))
	_, err = m.Naming().Resolve("test/Nop0.rtc")
	assert.ErrorIs(t, err, rterr.ErrNotFound)
	assert.Len(t, m.Naming().List(""), 1)
}

func TestManager_Connect(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	var out *port.OutPort[string]
	var in *port.InPort[string]
	require.NoError(t, m.RegisterFactory(FactoryProfile{TypeName: "Writer"}, func(c *rtc.Component) (rtc.Logic, error) {
		out = port.NewOutPort[string]("out", c.PortOptions()...)
		return nil, c.AddPort(context.Background(), out)
	}))
	require.NoError(t, m.RegisterFactory(FactoryProfile{TypeName: "Reader"}, func(c *rtc.Component) (rtc.Logic, error) {
		in = port.NewInPort[string]("in", c.PortOptions()...)
		return nil, c.AddPort(context.Background(), in)
	}))
	_, err := m.CreateComponent(ctx, "Writer")
	require.NoError(t, err)
	_, err = m.CreateComponent(ctx, "Reader")
	require.NoError(t, err)

	cp, err := m.Connect(ctx, "w2r", map[string]string{port.PropSubscription: "new"}, "Writer0.out", "Reader0.in")
	require.NoError(t, err)
	assert.NotEmpty(t, cp.ID)

	require.NoError(t, out.Write(ctx, "hello"))
	v, ok, err := in.Read(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello", v)

	_, err = m.Connect(ctx, "bad", nil, "Writer0")
	assert.ErrorIs(t, err, rterr.ErrBadParameter)
	_, err = m.Connect(ctx, "bad", nil, "Writer0.missing", "Reader0.in")
	assert.ErrorIs(t, err, rterr.ErrNotFound)

	report := m.Report()
	assert.Len(t, report.Connectors(), 1)
}

func TestManager_FatalParticipant(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	require.NoError(t, m.RegisterFactory(FactoryProfile{TypeName: "Fatal"}, func(*rtc.Component) (rtc.Logic, error) {
		return &hookLogic{execute: func() lifecycle.ReturnCode { return lifecycle.Fatal }}, nil
	}))
	c, err := m.CreateComponent(ctx, "Fatal?execution_contexts=event_driven&exec_cxt.sync_transition=false")
	require.NoError(t, err)
	x, ok := c.OwnedContexts()[0].(*ec.EventDriven)
	require.True(t, ok)

	require.NoError(t, c.Activate(ctx, 0))
	require.NoError(t, x.Tick(ctx))
	require.NoError(t, x.Tick(ctx))

	events := m.FatalEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "Fatal0", events[0].Component)
	assert.Equal(t, "Fatal0.ec0", events[0].Context)
	assert.Equal(t, string(lifecycle.OnExecute), events[0].Callback)

	report := m.Report()
	assert.Len(t, report.Fatal, 1)
	ctxInfo, ok := report.Context("Fatal0.ec0")
	require.True(t, ok)
	require.Len(t, ctxInfo.Participants, 1)
	assert.True(t, ctxInfo.Participants[0].Fatal)

	require.NoError(t, m.DestroyComponent(ctx, "Fatal0"))
}

type componentInitializer struct {
	specs []string
}

func (ci componentInitializer) Initialize(ctx context.Context, m *Manager) (context.Context, error) {
	for _, spec := range ci.specs {
		if _, err := m.CreateComponent(ctx, spec); err != nil {
			return ctx, err
		}
	}
	return ctx, nil
}

type blockingRunnable struct {
	mu     sync.Mutex
	closed bool
}

func (b *blockingRunnable) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (b *blockingRunnable) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

func TestManager_RunHostsComponentsUntilCanceled(t *testing.T) {
	m := newTestManager(t)
	m.Properties().Set("execution_contexts", "periodic")
	m.Properties().Set("exec_cxt.periodic.rate", "100")
	r := &blockingRunnable{}
	m.Initialize(componentInitializer{specs: []string{"Nop", "Nop"}}).Host(r)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := m.RunAsync(ctx)
	require.NoError(t, m.WaitForReadiness(ctx, time.Second))

	components := m.Components()
	require.Len(t, components, 2)
	require.NoError(t, components[0].Activate(ctx, 0))

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not stop")
	}
	assert.Empty(t, m.Components())
	for _, c := range components {
		assert.Equal(t, lifecycle.Finalized, c.State())
	}
	r.mu.Lock()
	assert.True(t, r.closed)
	r.mu.Unlock()
}

func TestManager_RunInitializerFailure(t *testing.T) {
	m := newTestManager(t)
	m.Initialize(componentInitializer{specs: []string{"Nop", "Missing"}})

	err := m.RunWithContext(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, rterr.ErrNotFound)
	var me Error
	require.True(t, errors.As(err, &me))
	assert.True(t, strings.Contains(me.ComponentName, "componentInitializer"), me.ComponentName)
	assert.Empty(t, m.Components(), "components created before the failure are destroyed")
}

func TestManager_RunnableErrorStopsManager(t *testing.T) {
	m := newTestManager(t)
	m.Initialize(componentInitializer{specs: []string{"Nop"}}).
		Host(runnableFunc(func(context.Context) error { return assert.AnError }))

	err := m.RunWithContext(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, m.Components())
}

type runnableFunc func(context.Context) error

func (f runnableFunc) Run(ctx context.Context) error { return f(ctx) }
