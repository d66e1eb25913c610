package ec

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/n-ando/OpenRTM-aist-sub001/lifecycle"
	"github.com/n-ando/OpenRTM-aist-sub001/rterr"
)

// DefaultRate is the tick rate of a periodic context when none is configured.
const DefaultRate = 1000.0

// MinRate is the slowest rate whose period still fits in a time.Duration.
const MinRate = float64(time.Second) / float64(math.MaxInt64)

// Periodic is an execution context that ticks at a fixed rate. A slow tick
// delays the next one; missed ticks are not replayed.
type Periodic struct {
	w *worker

	rateMu sync.Mutex
	rate   float64
	retime chan struct{}
}

// NewPeriodic creates a stopped periodic context ticking at hz.
func NewPeriodic(name string, hz float64, opts ...Option) (*Periodic, error) {
	if err := checkRate(name, hz); err != nil {
		return nil, err
	}
	p := &Periodic{
		rate:   hz,
		retime: make(chan struct{}, 1),
	}
	p.w = newWorker(p, name, KindPeriodic, true, opts)
	return p, nil
}

func checkRate(name string, hz float64) error {
	if hz <= 0 || math.IsNaN(hz) || math.IsInf(hz, 0) {
		return rterr.BadParameter("set_rate", name, "rate must be a positive number of Hz, got %v", hz)
	}
	if hz < MinRate {
		return rterr.BadParameter("set_rate", name, "rate %v Hz is below the minimum of %v Hz", hz, MinRate)
	}
	return nil
}

func (p *Periodic) Name() string       { return p.w.name }
func (p *Periodic) Kind() string       { return KindPeriodic }
func (p *Periodic) Owner() Participant { return p.w.owner }
func (p *Periodic) IsRunning() bool    { return p.w.isRunning() }

// Rate returns the tick rate in Hz.
func (p *Periodic) Rate() float64 {
	p.rateMu.Lock()
	defer p.rateMu.Unlock()
	return p.rate
}

// Period returns the tick period.
func (p *Periodic) Period() time.Duration {
	ns := float64(time.Second) / p.Rate()
	switch {
	case ns >= float64(math.MaxInt64):
		return time.Duration(math.MaxInt64)
	case ns < 1:
		return time.Nanosecond
	}
	return time.Duration(ns)
}

// SetRate changes the tick rate. A running context retimes its ticker and
// delivers on_rate_changed to every started participant at the next tick.
func (p *Periodic) SetRate(hz float64) error {
	if err := checkRate(p.w.name, hz); err != nil {
		return err
	}
	p.rateMu.Lock()
	p.rate = hz
	p.rateMu.Unlock()

	if p.w.isRunning() {
		p.w.rateChanged.Store(true)
		select {
		case p.retime <- struct{}{}:
		default:
		}
	}
	p.w.logger.Debug("rate changed", "rate", hz)
	return nil
}

// Start runs on_startup for every participant and begins ticking.
func (p *Periodic) Start(ctx context.Context) error {
	return p.w.start(ctx, p.run)
}

func (p *Periodic) run(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(p.Period())
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-p.retime:
			ticker.Reset(p.Period())
		case <-ticker.C:
			select {
			case <-stop:
				return
			default:
			}
			p.w.tick(ctx)
		}
	}
}

// Stop finishes the in-flight tick, runs on_shutdown and stops ticking.
func (p *Periodic) Stop(ctx context.Context) error {
	return p.w.stopLoop(ctx)
}

func (p *Periodic) AddComponent(_ context.Context, c Participant) error {
	return p.w.add(c)
}

func (p *Periodic) RemoveComponent(_ context.Context, c Participant) error {
	return p.w.remove(c)
}

func (p *Periodic) ActivateComponent(ctx context.Context, c Participant) error {
	return p.w.request(ctx, c, lifecycle.RequestActivate)
}

func (p *Periodic) DeactivateComponent(ctx context.Context, c Participant) error {
	return p.w.request(ctx, c, lifecycle.RequestDeactivate)
}

func (p *Periodic) ResetComponent(ctx context.Context, c Participant) error {
	return p.w.request(ctx, c, lifecycle.RequestReset)
}

func (p *Periodic) ComponentState(c Participant) (lifecycle.ContextState, error) {
	return p.w.state(c)
}

func (p *Periodic) Participants() []Participant {
	return p.w.participants()
}

func (p *Periodic) Profile() Profile {
	return p.w.profile(p.Rate())
}
