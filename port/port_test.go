package port

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n-ando/OpenRTM-aist-sub001/rpc"
	"github.com/n-ando/OpenRTM-aist-sub001/rpc/local"
	"github.com/n-ando/OpenRTM-aist-sub001/rterr"
)

type pair struct {
	sub *local.Substrate
	out *OutPort[int64]
	in  *InPort[int64]
}

func newPair(t *testing.T, opts ...Option) pair {
	t.Helper()
	sub := local.New()
	ctx := context.Background()
	out := NewOutPort[int64]("out", opts...)
	in := NewInPort[int64]("in", opts...)
	require.NoError(t, NewAdmin("A", sub, nil).AddPort(ctx, out))
	require.NoError(t, NewAdmin("B", sub, nil).AddPort(ctx, in))
	return pair{sub: sub, out: out, in: in}
}

func (p pair) profile(sub Subscription) ConnectorProfile {
	return ConnectorProfile{
		Name:       "link",
		Ports:      []rpc.Ref{p.out.Ref(), p.in.Ref()},
		Properties: map[string]string{PropSubscription: string(sub)},
	}
}

func TestParseSubscription(t *testing.T) {
	tests := map[string]struct {
		in      string
		want    Subscription
		wantErr bool
	}{
		"default":      {in: "", want: SubscriptionFlush},
		"flush":        {in: "flush", want: SubscriptionFlush},
		"new":          {in: " New ", want: SubscriptionNew},
		"periodic":     {in: "periodic", want: SubscriptionPeriodic},
		"combined":     {in: "periodic+new", wantErr: true},
		"combined_rev": {in: "new+periodic", wantErr: true},
		"unknown":      {in: "broadcast", wantErr: true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := ParseSubscription(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, rterr.ErrBadParameter)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConnectorProfile_BufferLength(t *testing.T) {
	tests := map[string]struct {
		value   string
		want    int
		wantErr bool
	}{
		"default":  {value: "", want: DefaultBufferLength},
		"explicit": {value: "3", want: 3},
		"zero":     {value: "0", wantErr: true},
		"garbage":  {value: "many", wantErr: true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			cp := ConnectorProfile{Properties: map[string]string{}}
			if tt.value != "" {
				cp.Properties[PropBufferLength] = tt.value
			}
			got, err := cp.BufferLength()
			if tt.wantErr {
				assert.ErrorIs(t, err, rterr.ErrBadParameter)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConnectorProfile_Peers(t *testing.T) {
	cp := ConnectorProfile{Ports: []rpc.Ref{"a", "b", "a", "c", "b"}}
	assert.Equal(t, []rpc.Ref{"b", "c"}, cp.Peers("a"))
	assert.True(t, cp.Includes("c"))
	assert.False(t, cp.Includes("d"))
}

func TestConnectDisconnect_RoundTrip(t *testing.T) {
	for _, sub := range []Subscription{SubscriptionFlush, SubscriptionNew, SubscriptionPeriodic} {
		t.Run(string(sub), func(t *testing.T) {
			p := newPair(t)
			ctx := context.Background()

			cp, err := p.out.Connect(ctx, p.profile(sub))
			require.NoError(t, err)
			require.NotEmpty(t, cp.ID)
			assert.Equal(t, string(p.out.Ref()), cp.Properties[PropOutPort])

			outCP, ok := p.out.Profile().Connector(cp.ID)
			require.True(t, ok)
			inCP, ok := p.in.Profile().Connector(cp.ID)
			require.True(t, ok)
			assert.Equal(t, outCP, inCP, "both ends hold the same profile")

			require.NoError(t, p.out.Disconnect(ctx, cp.ID))
			assert.Empty(t, p.out.ConnectorProfiles())
			assert.Empty(t, p.in.ConnectorProfiles())
		})
	}
}

func TestConnect_FromInputSide(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()

	cp := p.profile(SubscriptionNew)
	cp.ID = "fixed-id"
	got, err := p.in.Connect(ctx, cp)
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", got.ID)
	assert.Len(t, p.out.ConnectorProfiles(), 1)

	// the peer already removed it when notified, so a second disconnect finds nothing
	require.NoError(t, p.in.Disconnect(ctx, "fixed-id"))
	assert.ErrorIs(t, p.out.Disconnect(ctx, "fixed-id"), rterr.ErrNotFound)
}

func TestConnect_Validation(t *testing.T) {
	ctx := context.Background()

	tests := map[string]struct {
		build   func(t *testing.T, p pair) (Port, ConnectorProfile)
		wantErr error
	}{
		"inactive_port": {
			build: func(t *testing.T, p pair) (Port, ConnectorProfile) {
				return NewOutPort[int64]("loose"), p.profile(SubscriptionFlush)
			},
			wantErr: rterr.ErrPreconditionNotMet,
		},
		"self_not_listed": {
			build: func(t *testing.T, p pair) (Port, ConnectorProfile) {
				cp := p.profile(SubscriptionFlush)
				cp.Ports = []rpc.Ref{p.in.Ref()}
				return p.out, cp
			},
			wantErr: rterr.ErrConnection,
		},
		"single_port": {
			build: func(t *testing.T, p pair) (Port, ConnectorProfile) {
				cp := p.profile(SubscriptionFlush)
				cp.Ports = []rpc.Ref{p.out.Ref()}
				return p.out, cp
			},
			wantErr: rterr.ErrConnection,
		},
		"unreachable_peer": {
			build: func(t *testing.T, p pair) (Port, ConnectorProfile) {
				cp := p.profile(SubscriptionFlush)
				cp.Ports = append(cp.Ports, "local://gone#1")
				return p.out, cp
			},
			wantErr: rterr.ErrConnection,
		},
		"data_type_mismatch": {
			build: func(t *testing.T, p pair) (Port, ConnectorProfile) {
				other := NewInPort[string]("text")
				require.NoError(t, NewAdmin("C", p.sub, nil).AddPort(ctx, other))
				return p.out, ConnectorProfile{Ports: []rpc.Ref{p.out.Ref(), other.Ref()}}
			},
			wantErr: rterr.ErrConnection,
		},
		"two_outputs": {
			build: func(t *testing.T, p pair) (Port, ConnectorProfile) {
				other := NewOutPort[int64]("out2")
				require.NoError(t, NewAdmin("C", p.sub, nil).AddPort(ctx, other))
				return p.out, ConnectorProfile{Ports: []rpc.Ref{p.out.Ref(), other.Ref(), p.in.Ref()}}
			},
			wantErr: rterr.ErrConnection,
		},
		"no_output": {
			build: func(t *testing.T, p pair) (Port, ConnectorProfile) {
				other := NewInPort[int64]("in2")
				require.NoError(t, NewAdmin("C", p.sub, nil).AddPort(ctx, other))
				return p.in, ConnectorProfile{Ports: []rpc.Ref{p.in.Ref(), other.Ref()}}
			},
			wantErr: rterr.ErrConnection,
		},
		"combined_subscription": {
			build: func(t *testing.T, p pair) (Port, ConnectorProfile) {
				return p.out, p.profile("periodic+new")
			},
			wantErr: rterr.ErrBadParameter,
		},
		"bad_buffer_length": {
			build: func(t *testing.T, p pair) (Port, ConnectorProfile) {
				cp := p.profile(SubscriptionNew)
				cp.Properties[PropBufferLength] = "-1"
				return p.out, cp
			},
			wantErr: rterr.ErrBadParameter,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			p := newPair(t)
			initiator, cp := tt.build(t, p)
			_, err := initiator.Connect(ctx, cp)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, p.out.ConnectorProfiles())
			assert.Empty(t, p.in.ConnectorProfiles())
		})
	}
}

func TestConnect_DuplicateID(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()
	cp := p.profile(SubscriptionFlush)
	cp.ID = "dup"

	_, err := p.out.Connect(ctx, cp)
	require.NoError(t, err)
	_, err = p.out.Connect(ctx, cp)
	assert.ErrorIs(t, err, rterr.ErrConnection)
	assert.Len(t, p.out.ConnectorProfiles(), 1)
}

func TestConnect_PartialFailureKeepsUpdatedPeers(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()

	// the input already holds a connector with this id, so only its notify fails
	first, err := p.out.Connect(ctx, p.profile(SubscriptionFlush))
	require.NoError(t, err)
	extra := NewOutPort[int64]("out2")
	require.NoError(t, NewAdmin("C", p.sub, nil).AddPort(ctx, extra))

	cp := ConnectorProfile{ID: first.ID, Ports: []rpc.Ref{extra.Ref(), p.in.Ref()}}
	_, err = extra.Connect(ctx, cp)
	assert.ErrorIs(t, err, rterr.ErrConnection)
	assert.Len(t, extra.ConnectorProfiles(), 1, "initiator is not rolled back")

	require.NoError(t, extra.DisconnectAll(ctx))
	assert.Empty(t, extra.ConnectorProfiles())
}

func TestDisconnect_UnknownID(t *testing.T) {
	p := newPair(t)
	err := p.in.Disconnect(context.Background(), "nope")
	assert.ErrorIs(t, err, rterr.ErrNotFound)
}

func TestFlush_WriterBlocksUntilRead(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()
	_, err := p.out.Connect(ctx, p.profile(SubscriptionFlush))
	require.NoError(t, err)

	var written atomic.Bool
	errCh := make(chan error, 1)
	go func() {
		err := p.out.Write(ctx, 42)
		written.Store(true)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, written.Load(), "write returned before the reader consumed")

	var got int64
	require.Eventually(t, func() bool {
		v, ok, err := p.in.Read(ctx)
		got = v
		return err == nil && ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(42), got)
	assert.Equal(t, int64(42), p.in.Value())
	require.NoError(t, <-errCh)
	assert.True(t, written.Load())
}

func TestFlush_FanOutWaitsForEveryReader(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()
	second := NewInPort[int64]("in2")
	require.NoError(t, NewAdmin("C", p.sub, nil).AddPort(ctx, second))

	_, err := p.out.Connect(ctx, ConnectorProfile{Ports: []rpc.Ref{p.out.Ref(), p.in.Ref(), second.Ref()}})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- p.out.Write(ctx, 7) }()

	v, err := p.in.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)
	select {
	case <-done:
		t.Fatal("write returned before every reader consumed")
	case <-time.After(30 * time.Millisecond):
	}

	v, err = second.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)
	require.NoError(t, <-done)
}

func TestFlush_DisconnectReleasesWriter(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()
	cp, err := p.out.Connect(ctx, p.profile(SubscriptionFlush))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- p.out.Write(ctx, 1) }()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, p.in.Disconnect(ctx, cp.ID))
	select {
	case err := <-done:
		assert.ErrorIs(t, err, rterr.ErrConnection)
	case <-time.After(time.Second):
		t.Fatal("writer still blocked after disconnect")
	}
}

func TestNew_OverwriteOldest(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()
	cp := p.profile(SubscriptionNew)
	cp.Properties[PropBufferLength] = "4"
	cp, err := p.out.Connect(ctx, cp)
	require.NoError(t, err)

	start := time.Now()
	for i := range int64(10) {
		require.NoError(t, p.out.Write(ctx, i))
	}
	assert.Less(t, time.Since(start), time.Second, "writer is never blocked")

	require.Eventually(t, func() bool {
		got, err := p.in.Pending(cp.ID)
		return err == nil && assert.ObjectsAreEqual([]int64{6, 7, 8, 9}, got)
	}, time.Second, 5*time.Millisecond)

	for _, want := range []int64{6, 7, 8, 9} {
		v, ok, err := p.in.Read(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, v)
	}
	_, ok, err := p.in.Read(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNew_AwaitWakesOnPush(t *testing.T) {
	p := newPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := p.out.Connect(ctx, p.profile(SubscriptionNew))
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = p.out.Write(context.Background(), 5)
	}()
	v, err := p.in.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)
}

func TestPeriodic_ReaderPulls(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()
	cp := p.profile(SubscriptionPeriodic)
	cp.Properties[PropBufferLength] = "2"
	_, err := p.out.Connect(ctx, cp)
	require.NoError(t, err)

	for _, v := range []int64{1, 2, 3} {
		require.NoError(t, p.out.Write(ctx, v))
	}
	assert.Zero(t, p.in.Buffered(), "nothing is pushed to the reader")

	for _, want := range []int64{2, 3} {
		v, ok, err := p.in.Read(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, v)
	}
	_, ok, err := p.in.Read(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInPort_PullPeriodicLeavesPushedData(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()
	_, err := p.out.Connect(ctx, p.profile(SubscriptionPeriodic))
	require.NoError(t, err)

	pusher := NewOutPort[int64]("pusher")
	require.NoError(t, NewAdmin("C", p.sub, nil).AddPort(ctx, pusher))
	_, err = pusher.Connect(ctx, ConnectorProfile{
		Name:       "pushed",
		Ports:      []rpc.Ref{pusher.Ref(), p.in.Ref()},
		Properties: map[string]string{PropSubscription: string(SubscriptionNew)},
	})
	require.NoError(t, err)

	require.NoError(t, pusher.Write(ctx, 7))
	require.NoError(t, p.out.Write(ctx, 5))

	require.NoError(t, p.in.PullPeriodic(ctx))
	v, fresh := p.in.Take()
	assert.True(t, fresh)
	assert.Equal(t, int64(5), v)
	assert.Equal(t, 1, p.in.Buffered(), "new connector data waits for Read")

	require.NoError(t, p.in.PullPeriodic(ctx))
	assert.False(t, p.in.IsNew(), "nothing left to pull")
	assert.Equal(t, int64(5), p.in.Value())
}

func TestInPort_TakeAndIsNew(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()
	_, err := p.out.Connect(ctx, p.profile(SubscriptionPeriodic))
	require.NoError(t, err)

	assert.False(t, p.in.IsNew())
	require.NoError(t, p.out.Write(ctx, 9))
	require.NoError(t, p.in.Update(ctx))
	assert.True(t, p.in.IsNew())

	v, fresh := p.in.Take()
	assert.True(t, fresh)
	assert.Equal(t, int64(9), v)
	assert.False(t, p.in.IsNew())
}

func TestPortProperties_DefaultSubscription(t *testing.T) {
	p := newPair(t, WithProperties(map[string]string{PropSubscription: "periodic"}))
	cp, err := p.out.Connect(context.Background(), ConnectorProfile{Ports: []rpc.Ref{p.out.Ref(), p.in.Ref()}})
	require.NoError(t, err)
	assert.Equal(t, "periodic", cp.Properties[PropSubscription])
}

func TestHandler_Methods(t *testing.T) {
	mux, ok := NewInPort[int64]("in").Handler().(rpc.Mux)
	require.True(t, ok)
	assert.Equal(t, []string{
		"connect", "disconnect", "disconnect_all", "get_profile",
		"notify_connect", "notify_disconnect", "pull", "put",
	}, mux.Methods())
}
