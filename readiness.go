package openrtm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/n-ando/OpenRTM-aist-sub001/lifecycle"
)

// defaultReadyChecker marks a runnable ready once its Run method has been called.
type defaultReadyChecker struct {
	started atomic.Bool
	runable Runnable
}

func (d *defaultReadyChecker) Run(ctx context.Context) error {
	d.started.Store(true)
	return d.runable.Run(ctx)
}

func (d *defaultReadyChecker) IsReady(ctx context.Context) error {
	if d.started.Load() {
		return nil
	}
	return errors.New("not ready")
}

// componentsReady reports the first component that is not ALIVE or whose
// owned contexts are not all running.
func (m *Manager) componentsReady() (string, error) {
	for _, c := range m.Components() {
		if s := c.State(); s != lifecycle.Alive {
			return c.InstanceName(), fmt.Errorf("component is %s", s)
		}
		for _, x := range c.OwnedContexts() {
			if !x.IsRunning() {
				return c.InstanceName(), fmt.Errorf("execution context %s is not running", x.Name())
			}
		}
	}
	return "", nil
}

// WaitForReadiness polls the hosted runnables and the components until every
// runnable reports ready and every component is ALIVE with its owned contexts
// running, the timeout elapses, or the context is canceled.
//
// On timeout it returns the last readiness error wrapped via NewError with
// the failing runnable or component. If the manager stops running first, its
// final error is returned.
func (m *Manager) WaitForReadiness(ctx context.Context, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var lastErr error
	var lastFailing any

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		allReady := true
		for _, rs := range m.runnableSpecsList {
			if err := rs.readyChecker.IsReady(waitCtx); err != nil {
				lastErr = err
				lastFailing = rs.original
				allReady = false
				break
			}
		}
		if allReady {
			if name, err := m.componentsReady(); err != nil {
				lastErr = err
				lastFailing = name
				allReady = false
			}
		}
		if allReady {
			return nil
		}

		select {
		case err := <-m.errCh:
			return err
		case <-waitCtx.Done():
			if errors.Is(waitCtx.Err(), context.Canceled) {
				return waitCtx.Err()
			}
			if lastFailing != nil && lastErr != nil {
				return NewError(lastErr, lastFailing)
			}
			return waitCtx.Err()
		case <-ticker.C:
		}
	}
}
