package rtc

import (
	"context"

	"github.com/n-ando/OpenRTM-aist-sub001/ec"
	"github.com/n-ando/OpenRTM-aist-sub001/port"
	"github.com/n-ando/OpenRTM-aist-sub001/rpc"
	"github.com/n-ando/OpenRTM-aist-sub001/rterr"
)

// Description is what a component reports about itself over the substrate.
type Description struct {
	Profile  Profile         `json:"profile" yaml:"profile"`
	State    string          `json:"state" yaml:"state"`
	Ports    []port.Profile  `json:"ports" yaml:"ports"`
	Contexts []ContextStatus `json:"contexts" yaml:"contexts"`
}

type idRequest struct {
	ID ec.ID `json:"id"`
}

// Describe returns the component's profile, state, ports and context states.
func (c *Component) Describe() Description {
	return Description{
		Profile:  c.profile,
		State:    c.State().String(),
		Ports:    c.ports.Profiles(),
		Contexts: c.ContextStates(),
	}
}

// Handler returns the servant exported for this component.
func (c *Component) Handler() rpc.Handler {
	return rpc.Mux{
		"describe": rpc.Method(func(context.Context, rpc.Empty) (Description, error) {
			return c.Describe(), nil
		}),
		"activate": rpc.Method(func(ctx context.Context, req idRequest) (rpc.Empty, error) {
			return rpc.Empty{}, c.Activate(ctx, req.ID)
		}),
		"deactivate": rpc.Method(func(ctx context.Context, req idRequest) (rpc.Empty, error) {
			return rpc.Empty{}, c.Deactivate(ctx, req.ID)
		}),
		"reset": rpc.Method(func(ctx context.Context, req idRequest) (rpc.Empty, error) {
			return rpc.Empty{}, c.Reset(ctx, req.ID)
		}),
		"exit": rpc.Method(func(ctx context.Context, _ rpc.Empty) (rpc.Empty, error) {
			return rpc.Empty{}, c.Exit(ctx)
		}),
	}
}

// Export makes the component remotely callable and returns its reference.
// Exporting twice returns the existing reference.
func (c *Component) Export(ctx context.Context) (rpc.Ref, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ref != "" {
		return c.ref, nil
	}
	ref, err := c.sub.Export(ctx, c.profile.InstanceName, c.Handler())
	if err != nil {
		return "", rterr.Wrap(rterr.KindConnection, "export", c.profile.InstanceName, err)
	}
	c.ref = ref
	return ref, nil
}

// Ref returns the exported reference, or "" when the component is not exported.
func (c *Component) Ref() rpc.Ref {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ref
}

func (c *Component) unexport(ctx context.Context) error {
	c.mu.Lock()
	ref := c.ref
	c.ref = ""
	c.mu.Unlock()
	if ref == "" {
		return nil
	}
	return c.sub.Unexport(ctx, ref)
}

// Stub calls a component through the substrate.
type Stub struct {
	sub rpc.Substrate
	ref rpc.Ref
}

// NewStub returns a stub for the component exported as ref.
func NewStub(sub rpc.Substrate, ref rpc.Ref) Stub {
	return Stub{sub: sub, ref: ref}
}

// Ref returns the remote reference.
func (s Stub) Ref() rpc.Ref { return s.ref }

// Describe fetches the remote component's description.
func (s Stub) Describe(ctx context.Context) (Description, error) {
	return rpc.Invoke[rpc.Empty, Description](ctx, s.sub, s.ref, "describe", rpc.Empty{})
}

// Activate activates the remote component in its context id.
func (s Stub) Activate(ctx context.Context, id ec.ID) error {
	_, err := rpc.Invoke[idRequest, rpc.Empty](ctx, s.sub, s.ref, "activate", idRequest{ID: id})
	return err
}

// Deactivate deactivates the remote component in its context id.
func (s Stub) Deactivate(ctx context.Context, id ec.ID) error {
	_, err := rpc.Invoke[idRequest, rpc.Empty](ctx, s.sub, s.ref, "deactivate", idRequest{ID: id})
	return err
}

// Reset resets the remote component in its context id.
func (s Stub) Reset(ctx context.Context, id ec.ID) error {
	_, err := rpc.Invoke[idRequest, rpc.Empty](ctx, s.sub, s.ref, "reset", idRequest{ID: id})
	return err
}

// Exit asks the remote component to exit.
func (s Stub) Exit(ctx context.Context) error {
	_, err := rpc.Invoke[rpc.Empty, rpc.Empty](ctx, s.sub, s.ref, "exit", rpc.Empty{})
	return err
}
