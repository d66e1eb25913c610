// Package rpc defines the contract any remote-procedure-call substrate must
// satisfy to carry port and component operations between processes.
//
// A substrate exports local handlers under object references, invokes
// methods on references and reports whether a reference is reachable.
// Classified errors returned by a handler reach the caller with their kind
// intact; transport failures are reported as ErrRemoteCallFailed.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Ref is an opaque remote object reference.
type Ref string

// ErrRemoteCallFailed signals that the substrate could not deliver a call or its reply.
var ErrRemoteCallFailed = errors.New("remote call failed")

// Handler serves method invocations on an exported object.
type Handler interface {
	Serve(ctx context.Context, method string, payload []byte) ([]byte, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, method string, payload []byte) ([]byte, error)

// Serve calls f.
func (f HandlerFunc) Serve(ctx context.Context, method string, payload []byte) ([]byte, error) {
	return f(ctx, method, payload)
}

// Substrate exports handlers and carries calls to them.
type Substrate interface {
	// Export makes h remotely callable. name is a hint used to build the reference.
	Export(ctx context.Context, name string, h Handler) (Ref, error)
	// Unexport withdraws a reference. Unknown references are a NotFound error.
	Unexport(ctx context.Context, ref Ref) error
	// Call invokes method on ref and returns the reply payload.
	Call(ctx context.Context, ref Ref, method string, payload []byte) ([]byte, error)
	// IsReachable reports whether ref currently answers calls.
	IsReachable(ctx context.Context, ref Ref) bool
}

// MethodFunc serves one method of a Mux.
type MethodFunc func(ctx context.Context, payload []byte) ([]byte, error)

// Mux routes invocations to per-method functions.
type Mux map[string]MethodFunc

// Serve dispatches to the registered method.
func (m Mux) Serve(ctx context.Context, method string, payload []byte) ([]byte, error) {
	fn, ok := m[method]
	if !ok {
		return nil, notFoundMethod(method)
	}
	return fn(ctx, payload)
}

// Methods returns the registered method names in sorted order.
func (m Mux) Methods() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke marshals req as JSON, calls method on ref and unmarshals the reply into Resp.
func Invoke[Req, Resp any](ctx context.Context, s Substrate, ref Ref, method string, req Req) (Resp, error) {
	var resp Resp
	payload, err := json.Marshal(req)
	if err != nil {
		return resp, fmt.Errorf("rpc: encode %s request: %w", method, err)
	}
	reply, err := s.Call(ctx, ref, method, payload)
	if err != nil {
		return resp, err
	}
	if len(reply) == 0 {
		return resp, nil
	}
	if err := json.Unmarshal(reply, &resp); err != nil {
		return resp, fmt.Errorf("rpc: decode %s reply: %w", method, err)
	}
	return resp, nil
}

// Method adapts a typed function to a MethodFunc using JSON payloads.
func Method[Req, Resp any](fn func(ctx context.Context, req Req) (Resp, error)) MethodFunc {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		var req Req
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, badPayload(err)
			}
		}
		resp, err := fn(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	}
}

// Empty is the request or reply of methods that carry no data.
type Empty struct{}
