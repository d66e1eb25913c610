package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// MapProvider serves values from a fixed map.
type MapProvider map[string]string

// Get returns the value of name.
func (m MapProvider) Get(_ context.Context, name string) (string, error) {
	v, ok := m[name]
	if !ok {
		return "", fmt.Errorf("key '%s' is not set: %w", name, ErrKeyNotFound)
	}
	return v, nil
}

// ViperProvider serves values from a viper instance. Nested file sections map
// to dotted keys, so "exec_cxt: {periodic: {rate: 100}}" answers
// "exec_cxt.periodic.rate". Viper keys are case-insensitive.
type ViperProvider struct {
	v *viper.Viper
}

// NewViperProvider wraps v.
func NewViperProvider(v *viper.Viper) *ViperProvider {
	return &ViperProvider{v: v}
}

// NewViperFileProvider reads path (YAML, JSON or TOML, by extension) into a
// fresh viper instance and wraps it.
func NewViperFileProvider(path string) (*ViperProvider, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return NewViperProvider(v), nil
}

// Viper returns the wrapped instance.
func (p *ViperProvider) Viper() *viper.Viper {
	return p.v
}

// Get returns the value of name rendered as a string. Lists are joined with commas.
func (p *ViperProvider) Get(_ context.Context, name string) (string, error) {
	if !p.v.IsSet(name) {
		return "", fmt.Errorf("key '%s' is not set: %w", name, ErrKeyNotFound)
	}
	if list, ok := p.v.Get(name).([]any); ok {
		items := make([]string, 0, len(list))
		for _, item := range list {
			items = append(items, fmt.Sprint(item))
		}
		return strings.Join(items, ","), nil
	}
	return p.v.GetString(name), nil
}

// Properties flattens every leaf key of the viper instance under prefix into a
// property bag, with the prefix stripped. An empty prefix takes every key.
func (p *ViperProvider) Properties(prefix string) *Properties {
	props := NewProperties(nil)
	prefix = strings.ToLower(normalizeKey(prefix))
	ctx := context.Background()
	for _, key := range p.v.AllKeys() {
		rest := key
		if prefix != "" {
			var ok bool
			if rest, ok = strings.CutPrefix(key, prefix+"."); !ok {
				continue
			}
		}
		if v, err := p.Get(ctx, key); err == nil {
			props.Set(rest, v)
		}
	}
	return props
}
