package port

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/n-ando/OpenRTM-aist-sub001/internal/reflectx"
	"github.com/n-ando/OpenRTM-aist-sub001/rpc"
	"github.com/n-ando/OpenRTM-aist-sub001/rterr"
)

// Codec turns port values into bytes and back.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// JSONCodec encodes values with encoding/json.
type JSONCodec[T any] struct{}

// Encode implements Codec.
func (JSONCodec[T]) Encode(v T) ([]byte, error) { return json.Marshal(v) }

// Decode implements Codec.
func (JSONCodec[T]) Decode(data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}

// Port is the view of a port the Admin and components work with.
type Port interface {
	Name() string
	Kind() Kind
	Profile() Profile
	Ref() rpc.Ref
	Connect(ctx context.Context, cp ConnectorProfile) (ConnectorProfile, error)
	Disconnect(ctx context.Context, id string) error
	DisconnectAll(ctx context.Context) error
	base() *Base
}

// Updater is implemented by input ports taking part in the read-all step.
type Updater interface {
	Update(ctx context.Context) error
}

// Puller is implemented by input ports that pull their periodic connectors
// on every tick, whether or not read-all is enabled.
type Puller interface {
	PullPeriodic(ctx context.Context) error
}

// Publisher is implemented by output ports taking part in the write-all step.
type Publisher interface {
	Publish(ctx context.Context) error
}

// InPort is a typed input port.
type InPort[T any] struct {
	*Base
	codec Codec[T]

	mu    sync.Mutex
	value T
	fresh bool
}

// NewInPort creates an input port for values of type T using JSONCodec.
func NewInPort[T any](name string, opts ...Option) *InPort[T] {
	return NewInPortWithCodec[T](name, JSONCodec[T]{}, opts...)
}

// NewInPortWithCodec creates an input port with a custom codec.
func NewInPortWithCodec[T any](name string, codec Codec[T], opts ...Option) *InPort[T] {
	return &InPort[T]{Base: newBase(name, KindIn, reflectx.TypeNameFor[T](), opts...), codec: codec}
}

// Read returns the next available value without blocking. ok is false when
// no connector has data. A read also releases the writer of a flush connector
// that is waiting on this port.
func (p *InPort[T]) Read(ctx context.Context) (v T, ok bool, err error) {
	data, ok, err := p.read(ctx)
	if !ok {
		return v, false, err
	}
	return p.decode(data)
}

// Await blocks until a flush or new connector delivers a value.
func (p *InPort[T]) Await(ctx context.Context) (T, error) {
	data, err := p.await(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	v, _, err := p.decode(data)
	return v, err
}

func (p *InPort[T]) decode(data []byte) (T, bool, error) {
	v, err := p.codec.Decode(data)
	if err != nil {
		var zero T
		return zero, false, rterr.Wrap(rterr.KindBadParameter, "read", p.name, err)
	}
	p.mu.Lock()
	p.value, p.fresh = v, true
	p.mu.Unlock()
	return v, true, nil
}

// Update reads one value, if any, into Value. It is the read-all step run
// before on_execute.
func (p *InPort[T]) Update(ctx context.Context) error {
	_, _, err := p.Read(ctx)
	return err
}

// PullPeriodic pulls once from every periodic connector. The last value
// pulled becomes Value; ports without periodic connectors are left alone.
func (p *InPort[T]) PullPeriodic(ctx context.Context) error {
	vals, err := p.pullPeriodic(ctx)
	for _, data := range vals {
		if _, _, derr := p.decode(data); derr != nil {
			err = errors.Join(err, derr)
		}
	}
	return err
}

// Value returns the last value read.
func (p *InPort[T]) Value() T {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}

// IsNew reports whether a value was read since the last call to Take.
func (p *InPort[T]) IsNew() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fresh
}

// Take returns the last value read and clears the new-data flag.
func (p *InPort[T]) Take() (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fresh := p.fresh
	p.fresh = false
	return p.value, fresh
}

// Buffered returns the number of values waiting in "new" connector buffers.
func (p *InPort[T]) Buffered() int {
	n := 0
	for _, c := range p.snapshot() {
		if c.ring != nil {
			n += c.ring.Len()
		}
	}
	return n
}

// Pending returns the buffered values of the connector with the given id,
// oldest first, without consuming them.
func (p *InPort[T]) Pending(id string) ([]T, error) {
	c, err := p.lookup("pending", id)
	if err != nil {
		return nil, err
	}
	if c.ring == nil {
		return nil, nil
	}
	raw := c.ring.Snapshot()
	out := make([]T, 0, len(raw))
	for _, data := range raw {
		v, err := p.codec.Decode(data)
		if err != nil {
			return nil, rterr.Wrap(rterr.KindBadParameter, "pending", id, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// OutPort is a typed output port.
type OutPort[T any] struct {
	*Base
	codec Codec[T]

	mu     sync.Mutex
	staged T
	dirty  bool
}

// NewOutPort creates an output port for values of type T using JSONCodec.
func NewOutPort[T any](name string, opts ...Option) *OutPort[T] {
	return NewOutPortWithCodec[T](name, JSONCodec[T]{}, opts...)
}

// NewOutPortWithCodec creates an output port with a custom codec.
func NewOutPortWithCodec[T any](name string, codec Codec[T], opts ...Option) *OutPort[T] {
	return &OutPort[T]{Base: newBase(name, KindOut, reflectx.TypeNameFor[T](), opts...), codec: codec}
}

// Write sends v through every connector. Flush connectors block until every
// connected reader took the value; new and periodic connectors return at once.
func (p *OutPort[T]) Write(ctx context.Context, v T) error {
	data, err := p.codec.Encode(v)
	if err != nil {
		return rterr.Wrap(rterr.KindBadParameter, "write", p.name, err)
	}
	return p.write(ctx, data)
}

// Set stages v for the next Publish.
func (p *OutPort[T]) Set(v T) {
	p.mu.Lock()
	p.staged, p.dirty = v, true
	p.mu.Unlock()
}

// Publish writes the staged value, if any. It is the write-all step run
// after on_execute.
func (p *OutPort[T]) Publish(ctx context.Context) error {
	p.mu.Lock()
	v, dirty := p.staged, p.dirty
	p.dirty = false
	p.mu.Unlock()
	if !dirty {
		return nil
	}
	return p.Write(ctx, v)
}
