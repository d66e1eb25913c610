package config

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/n-ando/OpenRTM-aist-sub001/internal/reflectx"
)

// Layer is one named provider in a Layers stack.
type Layer struct {
	Name string
	Provider
}

// Layers resolves a key against each layer in turn. Earlier layers shadow
// later ones, the way a Properties node shadows its defaults. The manager
// stacks environment overrides over a manager file over built-in defaults.
type Layers []Layer

// Stack returns the non-nil providers as Layers, each named after its type.
func Stack(providers ...Provider) Layers {
	ls := make(Layers, 0, len(providers))
	for _, p := range providers {
		if p != nil {
			ls = append(ls, Layer{Name: reflectx.TypeNameOf(p), Provider: p})
		}
	}
	return ls
}

// Over returns a copy of ls with p on top under name.
func (ls Layers) Over(name string, p Provider) Layers {
	if p == nil {
		return slices.Clone(ls)
	}
	return slices.Insert(slices.Clone(ls), 0, Layer{Name: name, Provider: p})
}

// Get implements Provider.
func (ls Layers) Get(ctx context.Context, key string) (string, error) {
	v, _, err := ls.GetWithSource(ctx, key)
	return v, err
}

// GetWithSource implements ProviderWithSource with the name of the layer that
// answered. A miss in every layer joins each layer's error.
func (ls Layers) GetWithSource(ctx context.Context, key string) (string, string, error) {
	if len(ls) == 0 {
		return "", "", fmt.Errorf("no layers for '%s': %w", key, ErrKeyNotFound)
	}
	errs := make([]error, 0, len(ls))
	for _, l := range ls {
		v, err := l.Provider.Get(ctx, key)
		if err == nil {
			return v, l.Name, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", l.Name, err))
	}
	return "", "", errors.Join(errs...)
}
