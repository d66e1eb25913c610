package openrtm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eventuallyReady becomes ready after N IsReady calls.
type eventuallyReady struct {
	readyAfter int32
	calls      atomic.Int32
}

func (e *eventuallyReady) Run(ctx context.Context) error { <-ctx.Done(); return nil }
func (e *eventuallyReady) IsReady(ctx context.Context) error {
	if e.calls.Add(1) >= e.readyAfter {
		return nil
	}
	return errors.New("not ready yet")
}

type alwaysNotReady struct{}

func (a *alwaysNotReady) Run(ctx context.Context) error     { <-ctx.Done(); return nil }
func (a *alwaysNotReady) IsReady(ctx context.Context) error { return errors.New("never ready") }

type immediatelyReady struct{}

func (i *immediatelyReady) Run(ctx context.Context) error     { <-ctx.Done(); return nil }
func (i *immediatelyReady) IsReady(ctx context.Context) error { return nil }

func TestManager_WaitForReadiness(t *testing.T) {
	tests := map[string]struct {
		runnables   []Runnable
		specs       []string
		timeout     time.Duration
		canceled    bool
		expectErr   bool
		expectErrIs error
		expectMsg   string
	}{
		"no_runnables": {
			timeout: 50 * time.Millisecond,
		},
		"all_ready_immediately": {
			runnables: []Runnable{&immediatelyReady{}},
			timeout:   100 * time.Millisecond,
		},
		"eventually_ready": {
			runnables: []Runnable{&eventuallyReady{readyAfter: 2}},
			timeout:   500 * time.Millisecond,
		},
		"components_alive": {
			runnables: []Runnable{&immediatelyReady{}},
			specs:     []string{"Nop?execution_contexts=periodic&exec_cxt.periodic.rate=100"},
			timeout:   500 * time.Millisecond,
		},
		"times_out": {
			runnables: []Runnable{&alwaysNotReady{}},
			timeout:   150 * time.Millisecond,
			expectErr: true,
			expectMsg: "never ready",
		},
		"context_canceled": {
			runnables:   []Runnable{&alwaysNotReady{}},
			timeout:     500 * time.Millisecond,
			canceled:    true,
			expectErr:   true,
			expectErrIs: context.Canceled,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			m := newTestManager(t)
			if len(tt.specs) > 0 {
				m.Initialize(componentInitializer{specs: tt.specs})
			}
			m.Host(tt.runnables...)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			errCh := m.RunAsync(ctx)
			if tt.canceled {
				cancel()
			}

			err := m.WaitForReadiness(ctx, tt.timeout)
			if tt.expectErr {
				require.Error(t, err)
				if tt.expectErrIs != nil {
					assert.ErrorIs(t, err, tt.expectErrIs)
				}
				if tt.expectMsg != "" {
					var me Error
					require.ErrorAs(t, err, &me)
					assert.Contains(t, me.Error(), tt.expectMsg)
				}
			} else {
				assert.NoError(t, err)
			}

			cancel()
			select {
			case <-errCh:
			case <-time.After(2 * time.Second):
				t.Fatal("RunAsync did not complete")
			}
		})
	}
}

func TestManager_ComponentsReady(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	c, err := m.CreateComponent(ctx, "Nop?execution_contexts=periodic&exec_cxt.periodic.rate=100")
	require.NoError(t, err)

	name, err := m.componentsReady()
	require.NoError(t, err)
	assert.Empty(t, name)

	require.NoError(t, c.OwnedContexts()[0].Stop(ctx))
	name, err = m.componentsReady()
	assert.Error(t, err)
	assert.Equal(t, "Nop0", name)

	require.NoError(t, m.Shutdown(ctx))
}
