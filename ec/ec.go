// Package ec implements execution contexts: schedulers that own one goroutine
// each, tick their participants in insertion order and drive the per-context
// lifecycle transitions of every participant.
//
// Two kinds are provided. Periodic ticks at a configured rate; EventDriven
// ticks only when Tick is called. Both share the same tick algorithm:
//
//  1. the participant's pending request is read and cleared under its state lock;
//  2. a pending request runs the matching entry callback and ends the
//     participant's turn;
//  3. otherwise ACTIVE participants run on_execute then on_state_update, and
//     ERROR participants run on_error. INACTIVE participants are skipped.
//
// Faults raised by callbacks are recovered at the tick boundary and treated as
// ERROR. A FATAL result excludes the participant from further callbacks.
package ec

import (
	"context"
	"log/slog"
	"time"

	"github.com/n-ando/OpenRTM-aist-sub001/lifecycle"
	"github.com/n-ando/OpenRTM-aist-sub001/metric"
)

// Kind names accepted by the factory registry.
const (
	KindPeriodic    = "PeriodicExecutionContext"
	KindEventDriven = "EventDrivenExecutionContext"
)

// ID identifies an execution context from the point of view of one
// component. Owned contexts take ids below ParticipatingOffset, contexts the
// component merely participates in take ids from ParticipatingOffset up.
type ID int

// ParticipatingOffset is the first id of the participating id space.
const ParticipatingOffset ID = 1000

// NoID is returned alongside errors.
const NoID ID = -1

// Owned reports whether id belongs to the owned id space.
func (id ID) Owned() bool {
	return id >= 0 && id < ParticipatingOffset
}

// Participant is the component side of the scheduler contract.
type Participant interface {
	// InstanceName identifies the participant in logs, metrics and errors.
	InstanceName() string
	// BindContext records ec as owned by the participant and returns its id.
	BindContext(ec ExecutionContext) (ID, error)
	// AttachContext records ec as a context the participant joins and returns its id.
	AttachContext(ec ExecutionContext) (ID, error)
	// DetachContext forgets the binding with the given id.
	DetachContext(id ID) error
	// Invoke runs the named callback for the context known to the participant as id.
	Invoke(ctx context.Context, id ID, cb lifecycle.Callback) lifecycle.ReturnCode
}

// ActivationGuard is implemented by participants that can refuse activation,
// for instance while they are being finalized. A context consults it when an
// activation is requested and again right before on_activated runs.
type ActivationGuard interface {
	AdmitActivation() error
}

// ExecutionContext is the operation set shared by every context kind.
type ExecutionContext interface {
	Name() string
	Kind() string
	// Owner returns the participant the context was created for, or nil.
	Owner() Participant

	// Start runs on_startup for every participant on the context goroutine and
	// returns once that pass is complete.
	Start(ctx context.Context) error
	// Stop lets the in-flight tick finish, runs on_shutdown for every started
	// participant and returns once the context goroutine has exited.
	Stop(ctx context.Context) error
	IsRunning() bool

	// Rate returns the tick rate in Hz; zero for contexts without a cadence.
	Rate() float64
	SetRate(hz float64) error

	AddComponent(ctx context.Context, p Participant) error
	RemoveComponent(ctx context.Context, p Participant) error
	ActivateComponent(ctx context.Context, p Participant) error
	DeactivateComponent(ctx context.Context, p Participant) error
	ResetComponent(ctx context.Context, p Participant) error
	ComponentState(p Participant) (lifecycle.ContextState, error)
	Participants() []Participant

	Profile() Profile
}

// Profile is a point-in-time description of a context.
type Profile struct {
	Name         string               `json:"name" yaml:"name"`
	Kind         string               `json:"kind" yaml:"kind"`
	Owner        string               `json:"owner,omitempty" yaml:"owner,omitempty"`
	Rate         float64              `json:"rate" yaml:"rate"`
	Running      bool                 `json:"running" yaml:"running"`
	Participants []ParticipantProfile `json:"participants" yaml:"participants"`
}

// ParticipantProfile describes one participant of a context.
type ParticipantProfile struct {
	Name  string `json:"name" yaml:"name"`
	ID    ID     `json:"id" yaml:"id"`
	State string `json:"state" yaml:"state"`
	Fatal bool   `json:"fatal,omitempty" yaml:"fatal,omitempty"`
}

// FatalHandler is called on the context goroutine when a participant returns
// FATAL. It must not call back into the context synchronously.
type FatalHandler func(ec ExecutionContext, p Participant, cb lifecycle.Callback)

// Option configures a context.
type Option func(*settings)

type settings struct {
	logger            *slog.Logger
	metrics           *metric.Registry
	owner             Participant
	syncTransition    *bool
	transitionTimeout time.Duration
	lockOSThread      bool
	onFatal           FatalHandler
}

func newSettings(opts []Option) settings {
	s := settings{
		logger:            slog.Default(),
		transitionTimeout: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records ticks, states and callback failures in m.
func WithMetrics(m *metric.Registry) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

// WithOwner marks the participant the context is created for. Adding that
// participant binds the context into its owned id space.
func WithOwner(p Participant) Option {
	return func(s *settings) {
		s.owner = p
	}
}

// WithSyncTransition makes Activate/Deactivate/Reset wait for the scheduler
// to apply the request. Periodic contexts default to true, EventDriven
// contexts to false.
func WithSyncTransition(sync bool) Option {
	return func(s *settings) {
		s.syncTransition = &sync
	}
}

// WithTransitionTimeout bounds synchronous transitions. Defaults to 500ms.
func WithTransitionTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.transitionTimeout = d
		}
	}
}

// WithLockOSThread pins the context goroutine to its OS thread.
func WithLockOSThread(lock bool) Option {
	return func(s *settings) {
		s.lockOSThread = lock
	}
}

// WithFatalHandler is notified when a participant returns FATAL.
func WithFatalHandler(h FatalHandler) Option {
	return func(s *settings) {
		s.onFatal = h
	}
}
