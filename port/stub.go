package port

import (
	"context"

	"github.com/google/uuid"

	"github.com/n-ando/OpenRTM-aist-sub001/rpc"
	"github.com/n-ando/OpenRTM-aist-sub001/rterr"
)

// Stub calls a port through its reference.
type Stub struct {
	sub rpc.Substrate
	ref rpc.Ref
}

// NewStub returns a stub for the port exported under ref.
func NewStub(sub rpc.Substrate, ref rpc.Ref) Stub {
	return Stub{sub: sub, ref: ref}
}

// Ref returns the port reference.
func (s Stub) Ref() rpc.Ref { return s.ref }

// Profile fetches the port profile.
func (s Stub) Profile(ctx context.Context) (Profile, error) {
	return rpc.Invoke[rpc.Empty, Profile](ctx, s.sub, s.ref, "get_profile", rpc.Empty{})
}

// Connect asks the port to initiate cp. The id is filled in before the call
// so the caller can always disconnect, even after a partial failure.
func (s Stub) Connect(ctx context.Context, cp ConnectorProfile) (ConnectorProfile, error) {
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	out, err := rpc.Invoke[ConnectorProfile, ConnectorProfile](ctx, s.sub, s.ref, "connect", cp)
	if err != nil {
		return cp, err
	}
	return out, nil
}

// Disconnect asks the port to disconnect id.
func (s Stub) Disconnect(ctx context.Context, id string) error {
	_, err := rpc.Invoke[disconnectRequest, rpc.Empty](ctx, s.sub, s.ref, "disconnect", disconnectRequest{ID: id})
	return err
}

// DisconnectAll asks the port to disconnect every connector.
func (s Stub) DisconnectAll(ctx context.Context) error {
	_, err := rpc.Invoke[rpc.Empty, rpc.Empty](ctx, s.sub, s.ref, "disconnect_all", rpc.Empty{})
	return err
}

// Connect establishes cp with the first listed port as initiator.
func Connect(ctx context.Context, sub rpc.Substrate, cp ConnectorProfile) (ConnectorProfile, error) {
	if len(cp.Ports) == 0 {
		return cp, rterr.Connection("connect", cp.ID, "connector profile lists no ports")
	}
	return NewStub(sub, cp.Ports[0]).Connect(ctx, cp)
}
