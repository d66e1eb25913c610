package introspection

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() Report {
	conn := ConnectorInfo{ID: "c1", Name: "seq", Subscription: "flush", Ports: []string{"local://SeqOut0.out", "local://SeqIn0.in"}}
	return Report{
		Manager: "rtcd",
		Components: []ComponentInfo{
			{
				Name: "SeqOut0", Type: "SeqOut", Category: "example", State: "ALIVE",
				Ports: []PortInfo{{Name: "out", Kind: "DataOutPort", DataType: "int64", Connectors: []ConnectorInfo{conn}}},
			},
			{
				Name: "SeqIn0", Type: "SeqIn", Category: "example", State: "ALIVE",
				Ports: []PortInfo{{Name: "in", Kind: "DataInPort", DataType: "int64", Connectors: []ConnectorInfo{conn}}},
			},
		},
		Contexts: []ContextInfo{{Name: "SeqOut0.ec0", Kind: "PeriodicExecutionContext", Owner: "SeqOut0", Rate: 10, Running: true}},
	}
}

func TestReport_MarshalJSON(t *testing.T) {
	tests := map[string]struct {
		report Report
		want   string
	}{
		"empty": {
			report: Report{},
			want:   `{"manager":"","components":[],"contexts":[],"configs":[],"naming":[],"fatal":[]}`,
		},
		"config_and_naming": {
			report: Report{
				Manager: "m",
				Configs: []ConfigAccess{{Key: "exec_cxt.periodic.rate", Provider: "prov", Order: 1}},
				Naming:  []NamingEvent{{Kind: NamingBound, Path: "example/SeqIn0.rtc", Ref: "local://x", Order: 1}},
			},
			want: `{"manager":"m","components":[],"contexts":[],"fatal":[],
				"configs":[{"key":"exec_cxt.periodic.rate","provider":"prov","usedDefault":false,"caller":{"func":"","file":"","line":0},"component":"","order":1}],
				"naming":[{"kind":"bind","path":"example/SeqIn0.rtc","ref":"local://x","caller":{"func":"","file":"","line":0},"order":1}]}`,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			data, err := json.Marshal(tt.report)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestReport_Lookups(t *testing.T) {
	r := sampleReport()

	c, ok := r.Component("SeqIn0")
	require.True(t, ok)
	assert.Equal(t, "SeqIn", c.Type)
	_, ok = r.Component("nope")
	assert.False(t, ok)

	ec, ok := r.Context("SeqOut0.ec0")
	require.True(t, ok)
	assert.Equal(t, 10.0, ec.Rate)
	_, ok = r.Context("nope")
	assert.False(t, ok)

	conns := r.Connectors()
	require.Len(t, conns, 1)
	assert.Equal(t, "flush", conns["c1"].Subscription)
}

func TestCaller_String(t *testing.T) {
	tests := map[string]struct {
		c    Caller
		want string
	}{
		"empty":     {c: Caller{}, want: ""},
		"full":      {c: Caller{Func: "rtc.(*Component).Initialize", File: "rtc/component.go", Line: 12}, want: "rtc.(*Component).Initialize (rtc/component.go:12)"},
		"file_only": {c: Caller{File: "a/b.go"}, want: "(a/b.go)"},
		"func_only": {c: Caller{Func: "main.main"}, want: "main.main"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.c.String())
		})
	}
}
