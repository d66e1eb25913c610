package openrtm

import (
	"context"

	"github.com/n-ando/OpenRTM-aist-sub001/rtc"
)

// Runnable executes a long-lived process hosted next to the components, such
// as an HTTP endpoint or an embedded broker. The context is canceled on
// manager shutdown or when the first runnable returns an error.
type Runnable interface {
	Run(context.Context) error
}

// Closer releases resources and is called during graceful shutdown.
// Closers are invoked in LIFO (reverse registration) order.
type Closer interface {
	Close()
}

// Initializer runs once before any runnable starts. Initializers typically
// create components, connect their ports and activate them. Errors halt
// startup immediately; panics are recovered and reported.
type Initializer interface {
	Initialize(context.Context, *Manager) (context.Context, error)
}

// InitializerFunc adapts a function to the Initializer interface.
type InitializerFunc func(context.Context, *Manager) (context.Context, error)

// Initialize calls f.
func (f InitializerFunc) Initialize(ctx context.Context, m *Manager) (context.Context, error) {
	return f(ctx, m)
}

// ReadyChecker reports whether a runnable is ready to serve traffic.
// If not implemented, a default ReadyChecker marks ready once the runnable's Run method starts.
type ReadyChecker interface {
	IsReady(ctx context.Context) error
}

// Factory builds the action table of a new component. It receives the
// component in the CREATED state so it can register ports and bind
// parameters. A nil Logic keeps rtc.NopLogic.
type Factory func(c *rtc.Component) (rtc.Logic, error)

// FactoryProfile describes a component type. Properties are the type's
// defaults, overridden by the manager file and the creation query.
type FactoryProfile struct {
	TypeName    string            `json:"typeName" yaml:"type_name"`
	Category    string            `json:"category" yaml:"category"`
	Vendor      string            `json:"vendor,omitempty" yaml:"vendor,omitempty"`
	Version     string            `json:"version,omitempty" yaml:"version,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Properties  map[string]string `json:"properties,omitempty" yaml:"properties,omitempty"`
}
