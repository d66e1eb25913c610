// Package local provides an in-process RPC substrate.
//
// Calls are dispatched directly to the exported handler, but results travel
// through the same reply envelope a networked substrate uses, so callers see
// identical error semantics whichever substrate is wired.
package local

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/n-ando/OpenRTM-aist-sub001/rpc"
	"github.com/n-ando/OpenRTM-aist-sub001/rterr"
)

// Substrate is an in-process rpc.Substrate.
type Substrate struct {
	mu       sync.RWMutex
	handlers map[rpc.Ref]rpc.Handler
	logger   *slog.Logger
}

// Option configures a Substrate.
type Option func(*Substrate)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Substrate) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates an empty substrate.
func New(opts ...Option) *Substrate {
	s := &Substrate{
		handlers: make(map[rpc.Ref]rpc.Handler),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Export registers h under a fresh reference of the form local://<name>#<uuid>.
func (s *Substrate) Export(_ context.Context, name string, h rpc.Handler) (rpc.Ref, error) {
	if h == nil {
		return "", rterr.BadParameter("export", name, "nil handler")
	}
	ref := rpc.Ref(fmt.Sprintf("local://%s#%s", strings.Trim(name, "/"), uuid.NewString()))

	s.mu.Lock()
	s.handlers[ref] = h
	s.mu.Unlock()

	s.logger.Debug("object exported", "ref", ref)
	return ref, nil
}

// Unexport removes ref.
func (s *Substrate) Unexport(_ context.Context, ref rpc.Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handlers[ref]; !ok {
		return rterr.NotFound("unexport", string(ref), "unknown reference")
	}
	delete(s.handlers, ref)
	return nil
}

// Call invokes method on the handler exported under ref.
func (s *Substrate) Call(ctx context.Context, ref rpc.Ref, method string, payload []byte) ([]byte, error) {
	s.mu.RLock()
	h, ok := s.handlers[ref]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s: object not exported", rpc.ErrRemoteCallFailed, ref)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", rpc.ErrRemoteCallFailed, err)
	}
	reply, err := h.Serve(ctx, method, payload)
	return rpc.DecodeReply(rpc.EncodeReply(reply, err))
}

// IsReachable reports whether ref is exported.
func (s *Substrate) IsReachable(_ context.Context, ref rpc.Ref) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.handlers[ref]
	return ok
}

// Refs returns the number of exported objects.
func (s *Substrate) Refs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers)
}
