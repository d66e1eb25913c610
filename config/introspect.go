package config

import (
	"cmp"
	"context"
	"reflect"
	"slices"
	"sync"

	"github.com/n-ando/OpenRTM-aist-sub001/internal/reflectx"
	"github.com/n-ando/OpenRTM-aist-sub001/introspection"
)

// ProviderWithSource is implemented by providers that can name the source of a value.
// Layers reports the layer that answered.
type ProviderWithSource interface {
	GetWithSource(ctx context.Context, key string) (string, string, error)
}

// readSite identifies one read of a key from one call site.
type readSite struct {
	key      string
	file     string
	line     int
	fallback bool
}

// accessLog reads through a Provider and remembers where each key was read from.
// Values are never cached: Properties change at runtime.
type accessLog struct {
	provider Provider
	name     string

	mu      sync.Mutex
	entries []introspection.ConfigAccess
	seen    map[readSite]struct{}
}

func newAccessLog(p Provider) *accessLog {
	return &accessLog{
		provider: p,
		name:     reflectx.TypeNameOf(p),
		seen:     make(map[readSite]struct{}),
	}
}

// lookup resolves key. A miss is only recorded when the caller falls back to
// a default. skip counts the frames between the reading call site and lookup.
func (a *accessLog) lookup(ctx context.Context, key string, fallback bool, owner reflect.Type, skip int) (string, error) {
	source := a.name
	var (
		val string
		err error
	)
	if sp, ok := a.provider.(ProviderWithSource); ok {
		val, source, err = sp.GetWithSource(ctx, key)
	} else {
		val, err = a.provider.Get(ctx, key)
	}

	switch {
	case err == nil:
		a.record(key, source, false, owner, skip)
		return val, nil
	case fallback:
		a.record(key, "", true, owner, skip)
	}
	return "", err
}

func (a *accessLog) record(key, source string, fallback bool, owner reflect.Type, skip int) {
	fn, file, line := reflectx.GetCallerName(skip + 1)
	site := readSite{key: key, file: reflectx.FormatFileName(file), line: line, fallback: fallback}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, dup := a.seen[site]; dup {
		return
	}
	a.seen[site] = struct{}{}

	entry := introspection.ConfigAccess{
		Key:         key,
		Provider:    source,
		UsedDefault: fallback,
		Caller:      introspection.Caller{Func: reflectx.FormatFunctionName(fn), File: site.file, Line: line},
	}
	if owner != nil {
		entry.Component = reflectx.GetTypeName(owner)
	}
	a.entries = append(a.entries, entry)
}

// snapshot returns the recorded reads ordered by key, file and line, numbered from 1.
func (a *accessLog) snapshot() []introspection.ConfigAccess {
	a.mu.Lock()
	out := slices.Clone(a.entries)
	a.mu.Unlock()

	slices.SortFunc(out, func(x, y introspection.ConfigAccess) int {
		return cmp.Or(
			cmp.Compare(x.Key, y.Key),
			cmp.Compare(x.Caller.File, y.Caller.File),
			cmp.Compare(x.Caller.Line, y.Caller.Line),
		)
	})
	for i := range out {
		out[i].Order = i + 1
	}
	if out == nil {
		out = []introspection.ConfigAccess{}
	}
	return out
}
