// Package natsrpc implements the RPC substrate over NATS request/reply.
//
// Every exported object subscribes to its own subject. The method name
// travels in a message header, W3C trace context is propagated through the
// remaining headers, and replies use the rpc envelope so error kinds survive.
package natsrpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/n-ando/OpenRTM-aist-sub001/rpc"
	"github.com/n-ando/OpenRTM-aist-sub001/rterr"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	// MethodHeader carries the invoked method name.
	MethodHeader = "Rtc-Method"
	// RefScheme prefixes references handed out by this substrate.
	RefScheme = "nats://"

	pingMethod     = "_ping"
	defaultPrefix  = "rtc.rpc"
	defaultTimeout = 2 * time.Second
	pingTimeout    = 250 * time.Millisecond
	tracerName     = "github.com/n-ando/OpenRTM-aist-sub001/rpc/natsrpc"
)

// Substrate is an rpc.Substrate backed by a NATS connection.
type Substrate struct {
	nc         *nats.Conn
	prefix     string
	timeout    time.Duration
	logger     *slog.Logger
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator

	mu   sync.Mutex
	subs map[rpc.Ref]*nats.Subscription
}

// Option configures a Substrate.
type Option func(*Substrate)

// WithSubjectPrefix sets the subject prefix of exported objects. Defaults to "rtc.rpc".
func WithSubjectPrefix(prefix string) Option {
	return func(s *Substrate) {
		if prefix = strings.Trim(prefix, "."); prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithTimeout bounds calls whose context carries no deadline. Defaults to 2s.
func WithTimeout(d time.Duration) Option {
	return func(s *Substrate) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Substrate) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTracerProvider sets the tracer provider. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Substrate) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithPropagator sets the header propagator. Defaults to W3C trace context.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(s *Substrate) {
		if p != nil {
			s.propagator = p
		}
	}
}

// New creates a substrate on an established connection. The caller keeps
// ownership of nc.
func New(nc *nats.Conn, opts ...Option) (*Substrate, error) {
	if nc == nil {
		return nil, errors.New("natsrpc: nil connection")
	}
	s := &Substrate{
		nc:         nc,
		prefix:     defaultPrefix,
		timeout:    defaultTimeout,
		logger:     slog.Default(),
		tracer:     otel.Tracer(tracerName),
		propagator: propagation.TraceContext{},
		subs:       make(map[rpc.Ref]*nats.Subscription),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Export subscribes h on a fresh subject derived from name.
func (s *Substrate) Export(_ context.Context, name string, h rpc.Handler) (rpc.Ref, error) {
	if h == nil {
		return "", rterr.BadParameter("export", name, "nil handler")
	}
	subject := fmt.Sprintf("%s.%s.%s", s.prefix, subjectToken(name), uuid.NewString())
	ref := rpc.Ref(RefScheme + subject)

	sub, err := s.nc.Subscribe(subject, func(msg *nats.Msg) {
		// Handlers may block (flush hand-off), so each message gets its own goroutine.
		go s.serve(h, msg)
	})
	if err != nil {
		return "", fmt.Errorf("%w: subscribe %s: %v", rpc.ErrRemoteCallFailed, subject, err)
	}
	if err := s.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return "", fmt.Errorf("%w: flush subscription %s: %v", rpc.ErrRemoteCallFailed, subject, err)
	}

	s.mu.Lock()
	s.subs[ref] = sub
	s.mu.Unlock()

	s.logger.Debug("object exported", "ref", ref)
	return ref, nil
}

func (s *Substrate) serve(h rpc.Handler, msg *nats.Msg) {
	method := msg.Header.Get(MethodHeader)
	ctx := s.propagator.Extract(context.Background(), propagation.HeaderCarrier(msg.Header))
	ctx, span := s.tracer.Start(ctx, "rtc.rpc "+method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("rpc.system", "nats"),
			attribute.String("rpc.method", method),
			attribute.String("messaging.destination", msg.Subject),
		),
	)
	defer span.End()

	var (
		reply []byte
		err   error
	)
	if method != pingMethod {
		reply, err = h.Serve(ctx, method, msg.Data)
	}
	recordStatus(span, err)

	if rErr := msg.Respond(rpc.EncodeReply(reply, err)); rErr != nil {
		s.logger.Warn("reply failed", "subject", msg.Subject, "method", method, "error", rErr)
	}
}

// Unexport unsubscribes ref.
func (s *Substrate) Unexport(_ context.Context, ref rpc.Ref) error {
	s.mu.Lock()
	sub, ok := s.subs[ref]
	delete(s.subs, ref)
	s.mu.Unlock()
	if !ok {
		return rterr.NotFound("unexport", string(ref), "unknown reference")
	}
	return sub.Unsubscribe()
}

// Call sends method to ref and waits for the reply.
func (s *Substrate) Call(ctx context.Context, ref rpc.Ref, method string, payload []byte) ([]byte, error) {
	subject, err := subjectOf(ref)
	if err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	ctx, span := s.tracer.Start(ctx, "rtc.rpc "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rpc.system", "nats"),
			attribute.String("rpc.method", method),
			attribute.String("messaging.destination", subject),
		),
	)
	defer span.End()

	msg := nats.NewMsg(subject)
	msg.Data = payload
	msg.Header.Set(MethodHeader, method)
	s.propagator.Inject(ctx, propagation.HeaderCarrier(msg.Header))

	resp, err := s.nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		err = fmt.Errorf("%w: %s %s: %v", rpc.ErrRemoteCallFailed, ref, method, err)
		recordStatus(span, err)
		return nil, err
	}
	out, err := rpc.DecodeReply(resp.Data)
	recordStatus(span, err)
	return out, err
}

// IsReachable pings ref.
func (s *Substrate) IsReachable(ctx context.Context, ref rpc.Ref) bool {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	_, err := s.Call(ctx, ref, pingMethod, nil)
	return err == nil
}

// Close unsubscribes every exported object.
func (s *Substrate) Close() error {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[rpc.Ref]*nats.Subscription)
	s.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func recordStatus(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "OK")
}

func subjectOf(ref rpc.Ref) (string, error) {
	subject, ok := strings.CutPrefix(string(ref), RefScheme)
	if !ok || subject == "" {
		return "", rterr.BadParameter("call", string(ref), "not a nats reference")
	}
	return subject, nil
}

// subjectToken turns a free-form name into dot-separated subject tokens.
func subjectToken(name string) string {
	var b strings.Builder
	for _, r := range strings.Trim(name, "/.") {
		switch r {
		case '/':
			b.WriteByte('.')
		case '*', '>', ' ', '\t', '\n', '\r':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "obj"
	}
	return strings.ReplaceAll(b.String(), "..", ".")
}
