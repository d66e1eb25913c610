package naming

import (
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n-ando/OpenRTM-aist-sub001/introspection"
	"github.com/n-ando/OpenRTM-aist-sub001/rpc"
	"github.com/n-ando/OpenRTM-aist-sub001/rterr"
)

func TestRegistry_BindResolve(t *testing.T) {
	r := New()
	require.NoError(t, r.Bind("/example//SeqIn0.rtc/", "local://SeqIn0#1"))

	tests := map[string]struct {
		path    string
		want    rpc.Ref
		wantErr error
	}{
		"clean_path":  {path: "example/SeqIn0.rtc", want: "local://SeqIn0#1"},
		"messy_path":  {path: "//example/SeqIn0.rtc", want: "local://SeqIn0#1"},
		"not_bound":   {path: "example/SeqOut0.rtc", wantErr: rterr.ErrNotFound},
		"prefix_only": {path: "example", wantErr: rterr.ErrNotFound},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := r.Resolve(tt.path)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegistry_BindReplacesBindOnceRefuses(t *testing.T) {
	r := New()
	require.NoError(t, r.BindOnce("a/x.rtc", "ref1"))
	assert.ErrorIs(t, r.BindOnce("a/x.rtc", "ref2"), rterr.ErrPreconditionNotMet)

	require.NoError(t, r.Bind("a/x.rtc", "ref2"))
	ref, err := r.Resolve("a/x.rtc")
	require.NoError(t, err)
	assert.Equal(t, rpc.Ref("ref2"), ref)

	assert.ErrorIs(t, r.Bind("", "ref"), rterr.ErrBadParameter)
	assert.ErrorIs(t, r.Bind("a/y.rtc", ""), rterr.ErrBadParameter)
}

func TestRegistry_Unbind(t *testing.T) {
	r := New()
	require.NoError(t, r.Bind("a/x.rtc", "ref1"))
	require.NoError(t, r.Unbind("a/x.rtc"))
	assert.ErrorIs(t, r.Unbind("a/x.rtc"), rterr.ErrNotFound)
	_, err := r.Resolve("a/x.rtc")
	assert.ErrorIs(t, err, rterr.ErrNotFound)
}

func TestRegistry_List(t *testing.T) {
	r := New()
	for _, p := range []string{"b/z.rtc", "a/y.rtc", "a/x.rtc", "ab/w.rtc"} {
		require.NoError(t, r.Bind(p, rpc.Ref("ref:"+p)))
	}

	tests := map[string]struct {
		prefix string
		want   []string
	}{
		"all":          {prefix: "", want: []string{"a/x.rtc", "a/y.rtc", "ab/w.rtc", "b/z.rtc"}},
		"segment":      {prefix: "a", want: []string{"a/x.rtc", "a/y.rtc"}},
		"exact":        {prefix: "/b/z.rtc", want: []string{"b/z.rtc"}},
		"no_match":     {prefix: "c", want: []string{}},
		"partial_word": {prefix: "a/x", want: []string{}},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			paths := []string{}
			for _, b := range r.List(tt.prefix) {
				paths = append(paths, b.Path)
				assert.Equal(t, rpc.Ref("ref:"+b.Path), b.Ref)
			}
			assert.Equal(t, tt.want, paths)
		})
	}
}

func TestRegistry_Events(t *testing.T) {
	r := New()
	require.NoError(t, r.Bind("a/x.rtc", "ref1"))
	_, err := r.Resolve("a/x.rtc")
	require.NoError(t, err)
	require.NoError(t, r.Unbind("a/x.rtc"))
	_, err = r.Resolve("a/x.rtc")
	require.Error(t, err)

	events := r.Events()
	require.Len(t, events, 3)
	kinds := []introspection.NamingEventKind{events[0].Kind, events[1].Kind, events[2].Kind}
	assert.Equal(t, []introspection.NamingEventKind{introspection.NamingBound, introspection.NamingResolved, introspection.NamingUnbound}, kinds)
	for i, e := range events {
		assert.Equal(t, i+1, e.Order)
		assert.Equal(t, "a/x.rtc", e.Path)
		assert.Equal(t, "ref1", e.Ref)
		assert.Equal(t, "naming/naming_test.go", e.Caller.File)
		assert.Contains(t, e.Caller.Func, "TestRegistry_Events")
	}
}

func TestExpand(t *testing.T) {
	host, _ := os.Hostname()
	f := Fields{Instance: "SeqIn0", Type: "SeqIn", Category: "example", Vendor: "AIST", Version: "1.0"}
	tests := map[string]struct {
		format string
		want   string
	}{
		"default":  {format: DefaultFormat, want: "example/SeqIn0.rtc"},
		"all":      {format: "%v/%t/%V/%n", want: "AIST/SeqIn/1.0/SeqIn0"},
		"host_pid": {format: "%h/%p", want: host + "/" + strconv.Itoa(os.Getpid())},
		"escape":   {format: "100%%/%n", want: "100%/SeqIn0"},
		"unknown":  {format: "%q/%n", want: "%q/SeqIn0"},
		"trailing": {format: "%n%", want: "SeqIn0%"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, Expand(tt.format, f))
		})
	}
}
