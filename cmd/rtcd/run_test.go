package main

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n-ando/OpenRTM-aist-sub001/internal/sample"
	"github.com/n-ando/OpenRTM-aist-sub001/rpc"
	"github.com/n-ando/OpenRTM-aist-sub001/rpc/local"
)

func TestLoadDaemonSettings(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, demoFile)

	s, err := loadDaemonSettings(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, daemonSettings{Addr: "127.0.0.1:0", Substrate: substrateLocal, NATSURL: "nats://127.0.0.1:4222", Watch: true}, s)

	t.Setenv("RTCD_DAEMON_SUBSTRATE", substrateEmbedded)
	t.Setenv("RTCD_DAEMON_WATCH", "false")
	s, err = loadDaemonSettings(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, substrateEmbedded, s.Substrate)
	assert.False(t, s.Watch)

	_, err = loadDaemonSettings(ctx, path+".missing")
	assert.Error(t, err)
}

func TestOpenSubstrate(t *testing.T) {
	tests := map[string]struct {
		kind      string
		expectErr bool
	}{
		"local":    {kind: substrateLocal},
		"embedded": {kind: substrateEmbedded},
		"unknown":  {kind: "carrier-pigeon", expectErr: true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			sub, release, err := openSubstrate(daemonSettings{Substrate: tt.kind}, discardLogger())
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer release()

			ctx := context.Background()
			ref, err := sub.Export(ctx, "echo", rpc.HandlerFunc(func(_ context.Context, _ string, payload []byte) ([]byte, error) {
				return payload, nil
			}))
			require.NoError(t, err)
			reply, err := sub.Call(ctx, ref, "echo", []byte(`"hi"`))
			require.NoError(t, err)
			assert.Equal(t, `"hi"`, string(reply))
			require.NoError(t, sub.Unexport(ctx, ref))
		})
	}
}

func TestRateWatcher_ReappliesRates(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, "rates: {SeqIn0.ec0: 50}\n")
	mf := &ManagerFile{}
	m, err := newDaemonManager(mf, local.New(), nil, discardLogger())
	require.NoError(t, err)
	c, err := m.CreateComponent(ctx, sample.SeqInType+"?exec_cxt.periodic.rate=50")
	require.NoError(t, err)
	defer func() { assert.NoError(t, m.Shutdown(ctx)) }()

	w := newRateWatcher(path, m, discardLogger())
	w.debounce = 10 * time.Millisecond
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- w.Run(runCtx) }()
	require.Eventually(t, func() bool { return w.IsReady(runCtx) == nil }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("rates: {SeqIn0.ec0: 20}\n"), 0o600))
	assert.Eventually(t, func() bool { return c.OwnedContexts()[0].Rate() == 20 }, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, w.applied.Load(), int64(1))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
