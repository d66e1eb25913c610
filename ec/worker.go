package ec

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/n-ando/OpenRTM-aist-sub001/lifecycle"
	"github.com/n-ando/OpenRTM-aist-sub001/rterr"
)

// entry is one participant of a context.
type entry struct {
	p    Participant
	id   ID
	cell lifecycle.Cell
}

// worker holds the membership and tick algorithm shared by all kinds.
type worker struct {
	settings
	name string
	kind string
	self ExecutionContext
	wait bool

	mu      sync.Mutex
	entries []*entry
	running bool
	stop    chan struct{}
	done    chan struct{}

	rateChanged atomic.Bool
}

func newWorker(self ExecutionContext, name, kind string, syncDefault bool, opts []Option) *worker {
	w := &worker{
		settings: newSettings(opts),
		name:     name,
		kind:     kind,
		self:     self,
	}
	if w.name == "" {
		w.name = kind
	}
	w.wait = syncDefault
	if w.syncTransition != nil {
		w.wait = *w.syncTransition
	}
	w.logger = w.logger.With("ec", w.name)
	return w
}

// start launches the context goroutine: startup pass, then run until stop is
// closed, then shutdown pass. It returns once the startup pass is complete.
func (w *worker) start(ctx context.Context, run func(ctx context.Context, stop <-chan struct{})) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return rterr.Precondition("start", w.name, "already running")
	}
	if w.done != nil {
		// A previous Stop may have timed out; the old goroutine must be gone first.
		select {
		case <-w.done:
		default:
			w.mu.Unlock()
			return rterr.Precondition("start", w.name, "previous run still shutting down")
		}
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	w.running = true
	w.stop = stop
	w.done = done
	w.mu.Unlock()

	loopCtx := context.WithoutCancel(ctx)
	started := make(chan struct{})
	go func() {
		defer close(done)
		if w.lockOSThread {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
		}
		w.startupPass(loopCtx)
		close(started)
		run(loopCtx, stop)
		w.shutdownPass(loopCtx)
	}()

	select {
	case <-started:
		w.logger.Debug("execution context started")
		return nil
	case <-ctx.Done():
		return rterr.Wrap(rterr.KindTimeout, "start", w.name, ctx.Err())
	}
}

// stopLoop signals the goroutine and waits for it to exit.
func (w *worker) stopLoop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return rterr.Precondition("stop", w.name, "not running")
	}
	w.running = false
	close(w.stop)
	done := w.done
	w.mu.Unlock()

	select {
	case <-done:
		w.logger.Debug("execution context stopped")
		return nil
	case <-ctx.Done():
		return rterr.Wrap(rterr.KindTimeout, "stop", w.name, ctx.Err())
	}
}

func (w *worker) isRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// stopSignal returns the stop channel of the current run, or nil.
func (w *worker) stopSignal() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	return w.stop
}

func (w *worker) snapshot() []*entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.entries)
}

func (w *worker) find(p Participant) (*entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range w.entries {
		if e.p == p {
			return e, nil
		}
	}
	return nil, rterr.NotFound("lookup", w.name, "component %s is not a participant", nameOf(p))
}

func (w *worker) add(p Participant) error {
	if p == nil {
		return rterr.BadParameter("add_component", w.name, "nil participant")
	}
	if _, err := w.find(p); err == nil {
		return rterr.Precondition("add_component", w.name, "component %s already participates", p.InstanceName())
	}

	var (
		id  ID
		err error
	)
	if w.owner != nil && w.owner == p {
		id, err = p.BindContext(w.self)
	} else {
		id, err = p.AttachContext(w.self)
	}
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.entries = append(w.entries, &entry{p: p, id: id})
	w.mu.Unlock()

	w.logger.Debug("component added", "component", p.InstanceName(), "ec_id", id)
	return nil
}

func (w *worker) remove(p Participant) error {
	e, err := w.find(p)
	if err != nil {
		return err
	}
	if err := e.cell.Retire(); err != nil {
		var re *rterr.Error
		if errors.As(err, &re) {
			re.Subject = p.InstanceName()
		}
		return err
	}
	if err := p.DetachContext(e.id); err != nil {
		e.cell.Restore()
		return err
	}

	w.mu.Lock()
	w.entries = slices.DeleteFunc(w.entries, func(x *entry) bool { return x == e })
	w.mu.Unlock()

	w.metrics.ForgetParticipant(w.name, p.InstanceName())
	w.logger.Debug("component removed", "component", p.InstanceName(), "ec_id", e.id)
	return nil
}

// request posts req for p and, for synchronous contexts, waits until the
// scheduler has consumed it.
func (w *worker) request(ctx context.Context, p Participant, req lifecycle.Request) error {
	e, err := w.find(p)
	if err != nil {
		return err
	}
	if req == lifecycle.RequestActivate {
		if err := admit(p); err != nil {
			return err
		}
	}
	done, err := e.cell.Post(req)
	if err != nil {
		var re *rterr.Error
		if errors.As(err, &re) {
			re.Subject = p.InstanceName()
		}
		return err
	}
	if !w.wait {
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, w.transitionTimeout)
	defer cancel()
	select {
	case <-done:
	case <-waitCtx.Done():
		return rterr.Timeout(req.String(), p.InstanceName(), "not applied by %s within %s", w.name, w.transitionTimeout)
	}

	switch st := e.cell.State(); {
	case req == lifecycle.RequestActivate && st == lifecycle.StateInactive:
		// Refused by the participant at the tick, or superseded by a later request.
		return admit(p)
	case st == lifecycle.StateNone:
		return rterr.Precondition(req.String(), p.InstanceName(), "%s stopped before the request was applied", w.name)
	case st == lifecycle.StateError:
		return rterr.Transition(req.String(), p.InstanceName(), "component is in ERROR in %s", w.name)
	default:
		return nil
	}
}

// admit asks p whether it may be activated now.
func admit(p Participant) error {
	if g, ok := p.(ActivationGuard); ok {
		return g.AdmitActivation()
	}
	return nil
}

func (w *worker) state(p Participant) (lifecycle.ContextState, error) {
	e, err := w.find(p)
	if err != nil {
		return lifecycle.StateNone, err
	}
	return e.cell.State(), nil
}

func (w *worker) participants() []Participant {
	entries := w.snapshot()
	out := make([]Participant, len(entries))
	for i, e := range entries {
		out[i] = e.p
	}
	return out
}

func (w *worker) profile(rate float64) Profile {
	prof := Profile{
		Name:    w.name,
		Kind:    w.kind,
		Rate:    rate,
		Running: w.isRunning(),
	}
	if w.owner != nil {
		prof.Owner = w.owner.InstanceName()
	}
	for _, e := range w.snapshot() {
		state, _, fatal := e.cell.Snapshot()
		prof.Participants = append(prof.Participants, ParticipantProfile{
			Name:  e.p.InstanceName(),
			ID:    e.id,
			State: state.String(),
			Fatal: fatal,
		})
	}
	return prof
}

func (w *worker) startupPass(ctx context.Context) {
	for _, e := range w.snapshot() {
		state, _, fatal := e.cell.Snapshot()
		if fatal || state != lifecycle.StateNone {
			continue
		}
		rc := w.invoke(ctx, e, lifecycle.OnStartup)
		w.settle(e, lifecycle.Startup, rc)
	}
}

func (w *worker) shutdownPass(ctx context.Context) {
	for _, e := range w.snapshot() {
		state, _, fatal := e.cell.Snapshot()
		if !fatal && state != lifecycle.StateNone {
			if rc := w.invoke(ctx, e, lifecycle.OnShutdown); rc == lifecycle.Fatal {
				w.markFatal(e, lifecycle.OnShutdown)
			}
		}
		e.cell.Clear()
		if s := e.cell.State(); s != state {
			w.metrics.SetState(w.name, e.p.InstanceName(), int(s), s.String())
		}
	}
}

// tick runs one pass over every participant.
func (w *worker) tick(ctx context.Context) {
	begin := time.Now()
	rateChanged := w.rateChanged.Swap(false)

	for _, e := range w.snapshot() {
		if _, _, fatal := e.cell.Snapshot(); fatal {
			continue
		}
		state, req, release := e.cell.Take()
		w.step(ctx, e, state, req, rateChanged)
		release()
	}

	w.metrics.ObserveTick(w.name, time.Since(begin))
}

func (w *worker) step(ctx context.Context, e *entry, state lifecycle.ContextState, req lifecycle.Request, rateChanged bool) {
	if state == lifecycle.StateNone {
		return
	}

	if rateChanged {
		rc := w.invoke(ctx, e, lifecycle.OnRateChanged)
		switch {
		case rc == lifecycle.Fatal:
			w.markFatal(e, lifecycle.OnRateChanged)
			return
		case rc == lifecycle.Error && state == lifecycle.StateActive:
			w.abort(ctx, e)
			return
		case rc == lifecycle.Error && state == lifecycle.StateInactive:
			w.setState(e, lifecycle.StateError)
			return
		}
	}

	if req != lifecycle.RequestNone {
		tr, ok := lifecycle.Lookup(state, req)
		if !ok {
			w.logger.Debug("request dropped", "component", e.p.InstanceName(), "request", req, "state", state)
			return
		}
		if req == lifecycle.RequestActivate {
			if err := admit(e.p); err != nil {
				w.logger.Debug("activation refused", "component", e.p.InstanceName(), "error", err)
				return
			}
		}
		rc := w.invoke(ctx, e, tr.Callback)
		w.settle(e, tr, rc)
		return
	}

	switch state {
	case lifecycle.StateActive:
		cb := lifecycle.OnExecute
		rc := w.invoke(ctx, e, cb)
		if rc == lifecycle.OK {
			cb = lifecycle.OnStateUpdate
			rc = w.invoke(ctx, e, cb)
		}
		switch rc {
		case lifecycle.Fatal:
			w.markFatal(e, cb)
		case lifecycle.Error:
			w.abort(ctx, e)
		}
	case lifecycle.StateError:
		if rc := w.invoke(ctx, e, lifecycle.OnError); rc == lifecycle.Fatal {
			w.markFatal(e, lifecycle.OnError)
		}
	}
}

// abort runs on_aborting and lands the participant in ERROR.
func (w *worker) abort(ctx context.Context, e *entry) {
	rc := w.invoke(ctx, e, lifecycle.Abort.Callback)
	w.settle(e, lifecycle.Abort, rc)
}

// settle applies the outcome of a transition callback.
func (w *worker) settle(e *entry, tr lifecycle.Transition, rc lifecycle.ReturnCode) {
	if rc == lifecycle.Fatal {
		w.markFatal(e, tr.Callback)
		return
	}
	w.setState(e, tr.Next(rc))
}

func (w *worker) setState(e *entry, s lifecycle.ContextState) {
	e.cell.Set(s)
	w.metrics.SetState(w.name, e.p.InstanceName(), int(s), s.String())
	w.logger.Debug("state changed", "component", e.p.InstanceName(), "state", s)
}

func (w *worker) markFatal(e *entry, cb lifecycle.Callback) {
	e.cell.MarkFatal()
	w.metrics.SetState(w.name, e.p.InstanceName(), int(lifecycle.StateError), "FATAL")
	w.logger.Error("component returned FATAL; excluded from scheduling",
		"component", e.p.InstanceName(), "callback", cb)
	if w.onFatal != nil {
		w.onFatal(w.self, e.p, cb)
	}
}

// invoke runs one callback, converting a panic into ERROR.
func (w *worker) invoke(ctx context.Context, e *entry, cb lifecycle.Callback) (rc lifecycle.ReturnCode) {
	defer func() {
		if r := recover(); r != nil {
			rc = lifecycle.Error
			w.logger.Warn("callback panicked", "component", e.p.InstanceName(), "callback", cb,
				"error", fmt.Sprintf("%v", r))
		}
		if rc != lifecycle.OK {
			w.metrics.CallbackFailed(w.name, e.p.InstanceName(), string(cb), rc.String())
		}
	}()

	rc = e.p.Invoke(ctx, e.id, cb)
	if rc != lifecycle.OK {
		w.logger.Warn("callback failed", "component", e.p.InstanceName(), "callback", cb, "result", rc)
	}
	return rc
}

func nameOf(p Participant) string {
	if p == nil {
		return "<nil>"
	}
	return p.InstanceName()
}
