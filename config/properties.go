package config

import (
	"context"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
	"sync"
)

// Properties is a string-keyed, string-valued map with dot-separated
// hierarchical keys and a chain of defaults consulted for missing keys.
// It is safe for concurrent use and implements Provider.
type Properties struct {
	mu       sync.RWMutex
	values   map[string]string
	defaults *Properties
}

// NewProperties creates a property bag holding a copy of kv.
func NewProperties(kv map[string]string) *Properties {
	p := &Properties{values: make(map[string]string, len(kv))}
	for k, v := range kv {
		p.values[normalizeKey(k)] = v
	}
	return p
}

// ParseQuery reads "k1=v1&k2=v2" into a property bag. Keys and values are query-unescaped.
func ParseQuery(query string) (*Properties, error) {
	values, err := url.ParseQuery(query)
	if err != nil {
		return nil, fmt.Errorf("config: parse properties %q: %w", query, err)
	}
	p := NewProperties(nil)
	for k, vs := range values {
		if len(vs) > 0 {
			p.Set(k, vs[len(vs)-1])
		}
	}
	return p, nil
}

func normalizeKey(key string) string {
	return strings.Trim(strings.TrimSpace(key), ".")
}

// SetDefaults sets the fallback bag consulted for missing keys and returns p.
func (p *Properties) SetDefaults(d *Properties) *Properties {
	if d == p {
		return p
	}
	p.mu.Lock()
	p.defaults = d
	p.mu.Unlock()
	return p
}

// Defaults returns the fallback bag, or nil.
func (p *Properties) Defaults() *Properties {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.defaults
}

// Set stores value under key.
func (p *Properties) Set(key, value string) {
	p.mu.Lock()
	if p.values == nil {
		p.values = make(map[string]string)
	}
	p.values[normalizeKey(key)] = value
	p.mu.Unlock()
}

// Delete removes key from p. Defaults are untouched.
func (p *Properties) Delete(key string) {
	p.mu.Lock()
	delete(p.values, normalizeKey(key))
	p.mu.Unlock()
}

// Lookup returns the value of key, consulting the defaults chain.
func (p *Properties) Lookup(key string) (string, bool) {
	key = normalizeKey(key)
	for cur := p; cur != nil; {
		cur.mu.RLock()
		v, ok := cur.values[key]
		next := cur.defaults
		cur.mu.RUnlock()
		if ok {
			return v, true
		}
		cur = next
	}
	return "", false
}

// Value returns the value of key, or def when it is missing.
func (p *Properties) Value(key, def string) string {
	if v, ok := p.Lookup(key); ok {
		return v
	}
	return def
}

// Get implements Provider.
func (p *Properties) Get(_ context.Context, key string) (string, error) {
	if v, ok := p.Lookup(key); ok {
		return v, nil
	}
	return "", fmt.Errorf("property '%s' is not set: %w", key, ErrKeyNotFound)
}

// Map returns a flattened copy: defaults first, overridden by own values.
func (p *Properties) Map() map[string]string {
	out := make(map[string]string)
	if d := p.Defaults(); d != nil {
		maps.Copy(out, d.Map())
	}
	p.mu.RLock()
	maps.Copy(out, p.values)
	p.mu.RUnlock()
	return out
}

// Keys returns every key visible through p, including defaults, sorted.
func (p *Properties) Keys() []string {
	return slices.Sorted(maps.Keys(p.Map()))
}

// Len returns the number of visible keys.
func (p *Properties) Len() int {
	return len(p.Map())
}

// Node returns the subtree under prefix with the prefix stripped. The
// defaults of the subtree are the same subtree of p's defaults.
func (p *Properties) Node(prefix string) *Properties {
	prefix = normalizeKey(prefix)
	node := NewProperties(nil)
	p.mu.RLock()
	for k, v := range p.values {
		if rest, ok := strings.CutPrefix(k, prefix+"."); ok && prefix != "" {
			node.values[rest] = v
		} else if prefix == "" {
			node.values[k] = v
		}
	}
	d := p.defaults
	p.mu.RUnlock()
	if d != nil {
		node.defaults = d.Node(prefix)
	}
	return node
}

// Children returns the distinct first key segments under prefix, sorted.
func (p *Properties) Children(prefix string) []string {
	seen := make(map[string]struct{})
	for k := range p.Node(prefix).Map() {
		head, _, _ := strings.Cut(k, ".")
		seen[head] = struct{}{}
	}
	return slices.Sorted(maps.Keys(seen))
}

// Merge copies every visible key of other into p, overriding existing values.
func (p *Properties) Merge(other *Properties) *Properties {
	if other == nil || other == p {
		return p
	}
	values := other.Map()
	p.mu.Lock()
	if p.values == nil {
		p.values = make(map[string]string, len(values))
	}
	maps.Copy(p.values, values)
	p.mu.Unlock()
	return p
}

// Clone returns a copy of own values sharing the same defaults.
func (p *Properties) Clone() *Properties {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return &Properties{values: maps.Clone(p.values), defaults: p.defaults}
}

// String renders the visible keys as sorted "k=v" lines.
func (p *Properties) String() string {
	m := p.Map()
	var b strings.Builder
	for _, k := range slices.Sorted(maps.Keys(m)) {
		fmt.Fprintf(&b, "%s=%s\n", k, m[k])
	}
	return b.String()
}
