// Package port implements data ports: the connect/disconnect protocol shared
// by every port, the flush/new/periodic connectors that move data between an
// output port and its inputs, typed InPort and OutPort wrappers and the
// per-component Admin that exports ports through an rpc.Substrate.
//
// Connector lists are guarded by a per-port mutex held only while the list
// is mutated, never across a call to a peer.
package port

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/n-ando/OpenRTM-aist-sub001/buffer"
	"github.com/n-ando/OpenRTM-aist-sub001/metric"
	"github.com/n-ando/OpenRTM-aist-sub001/rpc"
	"github.com/n-ando/OpenRTM-aist-sub001/rterr"
)

// Option configures a port.
type Option func(*Base)

// WithLogger sets the port logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Base) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithMetrics records port writes and connector overwrites in r.
func WithMetrics(r *metric.Registry) Option {
	return func(b *Base) { b.metrics = r }
}

// WithProperties sets port properties. Connector properties missing from a
// ConnectorProfile are taken from here, so "dataport.subscription_type" on
// the port sets the default subscription of its connectors.
func WithProperties(props map[string]string) Option {
	return func(b *Base) {
		maps.Copy(b.props, props)
	}
}

type disconnectRequest struct {
	ID string `json:"id"`
}

// Base carries the identity, connector list and protocol common to every
// port. Typed ports embed it.
type Base struct {
	name     string
	kind     Kind
	dataType string
	props    map[string]string
	logger   *slog.Logger
	metrics  *metric.Registry

	mu         sync.Mutex
	owner      string
	sub        rpc.Substrate
	ref        rpc.Ref
	connectors []*connector

	// handoff receives values from flush connectors; unbuffered so the writer
	// blocks until a reader takes the value.
	handoff chan []byte
	// notify wakes Await after a "new" connector stored a value.
	notify chan struct{}
}

func newBase(name string, kind Kind, dataType string, opts ...Option) *Base {
	b := &Base{
		name:     name,
		kind:     kind,
		dataType: dataType,
		props:    make(map[string]string),
		logger:   slog.Default(),
		handoff:  make(chan []byte),
		notify:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	b.logger = b.logger.With("port", name)
	return b
}

func (b *Base) base() *Base { return b }

// Name returns the port name, unique within its component.
func (b *Base) Name() string { return b.name }

// Kind returns whether this is an input or an output port.
func (b *Base) Kind() Kind { return b.kind }

// DataType returns the declared data type name.
func (b *Base) DataType() string { return b.dataType }

// Ref returns the exported reference, or "" while the port is inactive.
func (b *Base) Ref() rpc.Ref {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ref
}

// IsActive reports whether the port is exported.
func (b *Base) IsActive() bool { return b.Ref() != "" }

// Profile returns a snapshot of the port profile.
func (b *Base) Profile() Profile {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := Profile{
		Name:       b.name,
		Owner:      b.owner,
		Kind:       b.kind,
		DataType:   b.dataType,
		Ref:        b.ref,
		Properties: maps.Clone(b.props),
		Connectors: make([]ConnectorProfile, 0, len(b.connectors)),
	}
	for _, c := range b.connectors {
		p.Connectors = append(p.Connectors, c.profile.Clone())
	}
	return p
}

// ConnectorProfiles returns the profiles of every connector the port holds.
func (b *Base) ConnectorProfiles() []ConnectorProfile {
	return b.Profile().Connectors
}

func (b *Base) binding() (rpc.Ref, rpc.Substrate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ref, b.sub
}

func (b *Base) activate(owner string, sub rpc.Substrate, ref rpc.Ref) {
	b.mu.Lock()
	b.owner, b.sub, b.ref = owner, sub, ref
	b.mu.Unlock()
	b.logger.Debug("port activated", "component", owner, "ref", ref)
}

func (b *Base) deactivate() rpc.Ref {
	b.mu.Lock()
	defer b.mu.Unlock()
	ref := b.ref
	b.ref = ""
	return ref
}

// Connect establishes a connector described by cp, with this port as the
// initiator. cp must list this port and its peers: exactly one output port
// and at least one input port, all declaring the same data type. Every peer
// must be reachable. An empty ID is replaced by a fresh UUID.
//
// The connector is stored locally first, then every peer is told to store
// the same profile. When a peer fails, the error is reported but peers that
// already stored the connector keep it; Disconnect with the returned ID
// restores a clean state.
func (b *Base) Connect(ctx context.Context, cp ConnectorProfile) (ConnectorProfile, error) {
	self, sub := b.binding()
	if self == "" {
		return cp, rterr.Precondition("connect", b.name, "port is not active")
	}
	cp = cp.withDefaults(b.props)
	if cp.Properties == nil {
		cp.Properties = make(map[string]string)
	}
	if !cp.Includes(self) {
		return cp, rterr.Connection("connect", b.name, "connector profile does not list this port")
	}
	peers := cp.Peers(self)
	if len(peers) == 0 {
		return cp, rterr.Connection("connect", b.name, "connector needs at least two ports")
	}
	if _, err := cp.Subscription(); err != nil {
		return cp, err
	}
	if _, err := cp.BufferLength(); err != nil {
		return cp, err
	}
	outRef, err := b.resolve(ctx, sub, self, peers)
	if err != nil {
		return cp, err
	}
	cp.Properties[PropOutPort] = string(outRef)
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}

	if err := b.attach(cp); err != nil {
		return cp, err
	}
	var errs []error
	for _, peer := range peers {
		if _, err := rpc.Invoke[ConnectorProfile, rpc.Empty](ctx, sub, peer, "notify_connect", cp); err != nil {
			errs = append(errs, remoteErr("connect", string(peer), err))
		}
	}
	if len(errs) > 0 {
		b.logger.Warn("connect partially failed", "connector_id", cp.ID, "error", errors.Join(errs...))
	}
	return cp, errors.Join(errs...)
}

// resolve checks that every peer answers and agrees on the data type, and
// returns the reference of the single output port.
func (b *Base) resolve(ctx context.Context, sub rpc.Substrate, self rpc.Ref, peers []rpc.Ref) (rpc.Ref, error) {
	var outRef rpc.Ref
	outs := 0
	if b.kind == KindOut {
		outRef, outs = self, 1
	}
	for _, peer := range peers {
		if !sub.IsReachable(ctx, peer) {
			return "", rterr.Connection("connect", string(peer), "peer unreachable")
		}
		prof, err := rpc.Invoke[rpc.Empty, Profile](ctx, sub, peer, "get_profile", rpc.Empty{})
		if err != nil {
			return "", remoteErr("connect", string(peer), err)
		}
		if prof.DataType != b.dataType {
			return "", rterr.Connection("connect", string(peer), "data type mismatch: %s carries %s, %s carries %s",
				b.name, b.dataType, prof.Name, prof.DataType)
		}
		if prof.Kind == KindOut {
			outRef = peer
			outs++
		}
	}
	if outs != 1 {
		return "", rterr.Connection("connect", b.name, "connector needs exactly one output port, got %d", outs)
	}
	return outRef, nil
}

// attach stores cp locally and sets up its data path.
func (b *Base) attach(cp ConnectorProfile) error {
	sub, err := cp.Subscription()
	if err != nil {
		return err
	}
	length, err := cp.BufferLength()
	if err != nil {
		return err
	}
	outRef := rpc.Ref(cp.Property(PropOutPort, ""))

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ref == "" {
		return rterr.Precondition("connect", b.name, "port is not active")
	}
	if cp.ID == "" {
		return rterr.Connection("connect", b.name, "connector id is empty")
	}
	if !cp.Includes(b.ref) {
		return rterr.Connection("connect", cp.ID, "connector profile does not list port %s", b.name)
	}
	if slices.ContainsFunc(b.connectors, func(c *connector) bool { return c.id() == cp.ID }) {
		return rterr.Connection("connect", cp.ID, "duplicate connector id")
	}

	c := newConnector(cp.Clone(), sub, outRef, nil)
	switch {
	case b.kind == KindOut:
		c.targets = cp.Peers(b.ref)
		if sub != SubscriptionFlush {
			c.ring = buffer.New[[]byte](length)
		}
		if sub == SubscriptionNew {
			c.done = make(chan struct{})
			go c.push(b.sub, b.logger)
		}
	case sub == SubscriptionNew:
		c.ring = buffer.New(length,
			buffer.WithOverflowCounter[[]byte](b.metrics.ConnectorOverwrites(b.owner, b.name, cp.ID)))
	case sub == SubscriptionPeriodic:
		if outRef == "" {
			return rterr.BadParameter("connect", cp.ID, "periodic connector without %s", PropOutPort)
		}
	}
	b.connectors = append(b.connectors, c)
	b.logger.Debug("connector attached", "connector_id", cp.ID, "subscription", sub)
	return nil
}

// detach removes and closes the connector with the given id.
func (b *Base) detach(id string) (*connector, error) {
	b.mu.Lock()
	i := slices.IndexFunc(b.connectors, func(c *connector) bool { return c.id() == id })
	if i < 0 {
		b.mu.Unlock()
		return nil, rterr.NotFound("disconnect", id, "no such connector on port %s", b.name)
	}
	c := b.connectors[i]
	b.connectors = slices.Delete(b.connectors, i, i+1)
	owner := b.owner
	b.mu.Unlock()

	c.close()
	b.metrics.ForgetConnector(owner, b.name, id)
	b.logger.Debug("connector detached", "connector_id", id)
	return c, nil
}

func (b *Base) lookup(op, id string) (*connector, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := slices.IndexFunc(b.connectors, func(c *connector) bool { return c.id() == id })
	if i < 0 {
		return nil, rterr.NotFound(op, id, "no such connector on port %s", b.name)
	}
	return b.connectors[i], nil
}

func (b *Base) snapshot() []*connector {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.connectors)
}

// Disconnect removes the connector with the given id and tells every peer
// listed in its profile to do the same. Peers that no longer hold it are
// ignored. An unknown id is a NotFound error.
func (b *Base) Disconnect(ctx context.Context, id string) error {
	c, err := b.detach(id)
	if err != nil {
		return err
	}
	self, sub := b.binding()
	if self == "" {
		return nil
	}
	var errs []error
	for _, peer := range c.profile.Peers(self) {
		_, err := rpc.Invoke[disconnectRequest, rpc.Empty](ctx, sub, peer, "notify_disconnect", disconnectRequest{ID: id})
		if err != nil && !errors.Is(err, rterr.ErrNotFound) {
			errs = append(errs, remoteErr("disconnect", string(peer), err))
		}
	}
	return errors.Join(errs...)
}

// DisconnectAll disconnects every connector the port holds.
func (b *Base) DisconnectAll(ctx context.Context) error {
	var errs []error
	for _, c := range b.snapshot() {
		if err := b.Disconnect(ctx, c.id()); err != nil && !errors.Is(err, rterr.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// write sends data through every connector of an output port.
func (b *Base) write(ctx context.Context, data []byte) error {
	b.mu.Lock()
	owner, sub := b.owner, b.sub
	b.mu.Unlock()
	b.metrics.PortWrite(owner, b.name)

	var flushes []*connector
	for _, c := range b.snapshot() {
		if c.sub == SubscriptionFlush {
			flushes = append(flushes, c)
			continue
		}
		c.ring.Write(data)
	}
	if len(flushes) == 0 {
		return nil
	}
	errs := make([]error, len(flushes))
	var wg sync.WaitGroup
	for i, c := range flushes {
		wg.Go(func() { errs[i] = c.flushTo(ctx, sub, data) })
	}
	wg.Wait()
	return errors.Join(errs...)
}

// read returns the next value available to an input port without blocking:
// a waiting flush writer first, then "new" buffers, then periodic pulls.
func (b *Base) read(ctx context.Context) ([]byte, bool, error) {
	select {
	case data := <-b.handoff:
		return data, true, nil
	default:
	}
	conns := b.snapshot()
	for _, c := range conns {
		if c.sub != SubscriptionNew {
			continue
		}
		if data, ok := c.ring.Read(); ok {
			return data, true, nil
		}
	}
	var errs []error
	for _, c := range conns {
		if c.sub != SubscriptionPeriodic {
			continue
		}
		data, ok, err := b.pull(ctx, c)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return data, true, nil
		}
	}
	return nil, false, errors.Join(errs...)
}

func (b *Base) pull(ctx context.Context, c *connector) ([]byte, bool, error) {
	_, sub := b.binding()
	reply, err := rpc.Invoke[pullRequest, pullReply](ctx, sub, c.outRef, "pull", pullRequest{Connector: c.id()})
	if err != nil {
		return nil, false, remoteErr("read", c.id(), err)
	}
	return reply.Data, reply.OK, nil
}

// pullPeriodic pulls once from every periodic connector and returns the
// values received, in connector order.
func (b *Base) pullPeriodic(ctx context.Context) ([][]byte, error) {
	var (
		out  [][]byte
		errs []error
	)
	for _, c := range b.snapshot() {
		if c.sub != SubscriptionPeriodic {
			continue
		}
		data, ok, err := b.pull(ctx, c)
		switch {
		case err != nil:
			errs = append(errs, err)
		case ok:
			out = append(out, data)
		}
	}
	return out, errors.Join(errs...)
}

// await blocks until a pushed value arrives or ctx ends.
func (b *Base) await(ctx context.Context) ([]byte, error) {
	for {
		data, ok, err := b.read(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			return data, nil
		}
		select {
		case data := <-b.handoff:
			return data, nil
		case <-b.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (b *Base) signal() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *Base) servePut(ctx context.Context, req putRequest) error {
	if b.kind != KindIn {
		return rterr.BadParameter("put", b.name, "not an input port")
	}
	c, err := b.lookup("put", req.Connector)
	if err != nil {
		return err
	}
	switch c.sub {
	case SubscriptionFlush:
		return c.handOver(ctx, b.handoff, req.Data)
	case SubscriptionNew:
		c.ring.Write(req.Data)
		b.signal()
		return nil
	default:
		return rterr.BadParameter("put", req.Connector, "%s connectors are pulled", c.sub)
	}
}

func (b *Base) servePull(_ context.Context, req pullRequest) (pullReply, error) {
	if b.kind != KindOut {
		return pullReply{}, rterr.BadParameter("pull", b.name, "not an output port")
	}
	c, err := b.lookup("pull", req.Connector)
	if err != nil {
		return pullReply{}, err
	}
	if c.sub != SubscriptionPeriodic {
		return pullReply{}, rterr.BadParameter("pull", req.Connector, "%s connectors are pushed", c.sub)
	}
	data, ok := c.ring.Read()
	return pullReply{Data: data, OK: ok}, nil
}

// Handler returns the servant exported for this port.
func (b *Base) Handler() rpc.Handler {
	return rpc.Mux{
		"get_profile": rpc.Method(func(context.Context, rpc.Empty) (Profile, error) {
			return b.Profile(), nil
		}),
		"connect": rpc.Method(func(ctx context.Context, cp ConnectorProfile) (ConnectorProfile, error) {
			return b.Connect(ctx, cp)
		}),
		"disconnect": rpc.Method(func(ctx context.Context, req disconnectRequest) (rpc.Empty, error) {
			return rpc.Empty{}, b.Disconnect(ctx, req.ID)
		}),
		"disconnect_all": rpc.Method(func(ctx context.Context, _ rpc.Empty) (rpc.Empty, error) {
			return rpc.Empty{}, b.DisconnectAll(ctx)
		}),
		"notify_connect": rpc.Method(func(_ context.Context, cp ConnectorProfile) (rpc.Empty, error) {
			return rpc.Empty{}, b.attach(cp)
		}),
		"notify_disconnect": rpc.Method(func(_ context.Context, req disconnectRequest) (rpc.Empty, error) {
			_, err := b.detach(req.ID)
			return rpc.Empty{}, err
		}),
		"put": rpc.Method(func(ctx context.Context, req putRequest) (rpc.Empty, error) {
			return rpc.Empty{}, b.servePut(ctx, req)
		}),
		"pull": rpc.Method(b.servePull),
	}
}

// remoteErr classifies a failed call to a peer. Transport failures become
// Connection errors; classified errors keep their kind.
func remoteErr(op, subject string, err error) error {
	kind := rterr.KindOf(err)
	if kind == rterr.KindUnknown {
		kind = rterr.KindConnection
	}
	return rterr.Wrap(kind, op, subject, err)
}
