package ec

import (
	"context"

	"github.com/n-ando/OpenRTM-aist-sub001/lifecycle"
	"github.com/n-ando/OpenRTM-aist-sub001/rterr"
)

// EventDriven is an execution context that ticks only when Tick is called.
// Transitions are asynchronous by default: a request is applied by the next
// Tick.
type EventDriven struct {
	w       *worker
	trigger chan chan struct{}
}

// NewEventDriven creates a stopped event-driven context.
func NewEventDriven(name string, opts ...Option) *EventDriven {
	e := &EventDriven{trigger: make(chan chan struct{})}
	e.w = newWorker(e, name, KindEventDriven, false, opts)
	return e
}

func (e *EventDriven) Name() string       { return e.w.name }
func (e *EventDriven) Kind() string       { return KindEventDriven }
func (e *EventDriven) Owner() Participant { return e.w.owner }
func (e *EventDriven) IsRunning() bool    { return e.w.isRunning() }

// Rate is always zero.
func (e *EventDriven) Rate() float64 { return 0 }

// SetRate is not supported.
func (e *EventDriven) SetRate(float64) error {
	return rterr.Precondition("set_rate", e.w.name, "event-driven contexts have no rate")
}

// Start runs on_startup for every participant.
func (e *EventDriven) Start(ctx context.Context) error {
	return e.w.start(ctx, e.run)
}

func (e *EventDriven) run(ctx context.Context, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case done := <-e.trigger:
			e.w.tick(ctx)
			close(done)
		}
	}
}

// Tick runs one tick and blocks until it completes.
func (e *EventDriven) Tick(ctx context.Context) error {
	stop := e.w.stopSignal()
	if stop == nil {
		return rterr.Precondition("tick", e.w.name, "not running")
	}
	done := make(chan struct{})
	select {
	case e.trigger <- done:
	case <-stop:
		return rterr.Precondition("tick", e.w.name, "stopped")
	case <-ctx.Done():
		return rterr.Wrap(rterr.KindTimeout, "tick", e.w.name, ctx.Err())
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return rterr.Wrap(rterr.KindTimeout, "tick", e.w.name, ctx.Err())
	}
}

// Stop finishes the in-flight tick and runs on_shutdown.
func (e *EventDriven) Stop(ctx context.Context) error {
	return e.w.stopLoop(ctx)
}

func (e *EventDriven) AddComponent(_ context.Context, c Participant) error {
	return e.w.add(c)
}

func (e *EventDriven) RemoveComponent(_ context.Context, c Participant) error {
	return e.w.remove(c)
}

func (e *EventDriven) ActivateComponent(ctx context.Context, c Participant) error {
	return e.w.request(ctx, c, lifecycle.RequestActivate)
}

func (e *EventDriven) DeactivateComponent(ctx context.Context, c Participant) error {
	return e.w.request(ctx, c, lifecycle.RequestDeactivate)
}

func (e *EventDriven) ResetComponent(ctx context.Context, c Participant) error {
	return e.w.request(ctx, c, lifecycle.RequestReset)
}

func (e *EventDriven) ComponentState(c Participant) (lifecycle.ContextState, error) {
	return e.w.state(c)
}

func (e *EventDriven) Participants() []Participant {
	return e.w.participants()
}

func (e *EventDriven) Profile() Profile {
	return e.w.profile(0)
}
