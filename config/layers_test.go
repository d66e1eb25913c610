package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayers_GetWithSource(t *testing.T) {
	overrides := MapProvider{"exec_cxt.periodic.rate": "50"}
	file := NewProperties(map[string]string{
		"exec_cxt.periodic.rate": "20",
		"naming.enable":          "yes",
	})

	tests := map[string]struct {
		layers     Layers
		key        string
		wantValue  string
		wantSource string
		wantErr    string
	}{
		"top_layer_wins": {
			layers:     Stack(overrides, file),
			key:        "exec_cxt.periodic.rate",
			wantValue:  "50",
			wantSource: "config.MapProvider",
		},
		"falls_through": {
			layers:     Stack(overrides, file),
			key:        "naming.enable",
			wantValue:  "yes",
			wantSource: "*config.Properties",
		},
		"nil_skipped": {
			layers:     Stack(nil, file),
			key:        "naming.enable",
			wantValue:  "yes",
			wantSource: "*config.Properties",
		},
		"over_shadows": {
			layers:     Stack(file).Over("cli", MapProvider{"naming.enable": "no"}),
			key:        "naming.enable",
			wantValue:  "no",
			wantSource: "cli",
		},
		"over_nil_keeps_stack": {
			layers:     Stack(file).Over("cli", nil),
			key:        "naming.enable",
			wantValue:  "yes",
			wantSource: "*config.Properties",
		},
		"missing_everywhere": {
			layers: Stack(overrides, file),
			key:    "absent",
			wantErr: "config.MapProvider: key 'absent' is not set: key not found\n" +
				"*config.Properties: property 'absent' is not set: key not found",
		},
		"empty": {
			key:     "absent",
			wantErr: "no layers for 'absent': key not found",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			value, source, err := tt.layers.GetWithSource(context.Background(), tt.key)
			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
				assert.ErrorIs(t, err, ErrKeyNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantValue, value)
			assert.Equal(t, tt.wantSource, source)

			plain, err := tt.layers.Get(context.Background(), tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.wantValue, plain)
		})
	}
}

func TestLayers_OverDoesNotAlias(t *testing.T) {
	base := Stack(MapProvider{"k": "base"})
	top := base.Over("top", MapProvider{"k": "top"})
	require.Len(t, base, 1)
	require.Len(t, top, 2)

	v, err := base.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "base", v)
}
