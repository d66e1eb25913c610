// Package naming provides an in-process naming registry binding
// slash-separated paths such as "example/SeqIn0.rtc" to object references.
// Every bind, unbind and resolve is recorded for introspection.
package naming

import (
	"log/slog"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/n-ando/OpenRTM-aist-sub001/internal/reflectx"
	"github.com/n-ando/OpenRTM-aist-sub001/introspection"
	"github.com/n-ando/OpenRTM-aist-sub001/rpc"
	"github.com/n-ando/OpenRTM-aist-sub001/rterr"
)

// DefaultFormat is the path format used when "naming.format" is unset.
const DefaultFormat = "%c/%n.rtc"

// Binding is one entry of the registry.
type Binding struct {
	Path string  `json:"path" yaml:"path"`
	Ref  rpc.Ref `json:"ref" yaml:"ref"`
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// Registry maps paths to references. The zero value is not usable; call New.
type Registry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	bindings map[string]rpc.Ref

	eventMu sync.Mutex
	events  []introspection.NamingEvent
	order   int
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		logger:   slog.Default(),
		bindings: make(map[string]rpc.Ref),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Clean normalizes a path: surrounding slashes are dropped and repeated
// slashes collapse.
func Clean(path string) string {
	parts := strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
	return strings.Join(parts, "/")
}

// Bind binds path to ref, replacing any previous binding.
func (r *Registry) Bind(path string, ref rpc.Ref) error {
	path = Clean(path)
	if path == "" || ref == "" {
		return rterr.BadParameter("bind", path, "empty path or reference")
	}
	r.mu.Lock()
	r.bindings[path] = ref
	r.mu.Unlock()
	r.record(introspection.NamingBound, path, ref, 2)
	r.logger.Debug("name bound", "path", path, "ref", ref)
	return nil
}

// BindOnce binds path to ref unless path is already bound.
func (r *Registry) BindOnce(path string, ref rpc.Ref) error {
	path = Clean(path)
	if path == "" || ref == "" {
		return rterr.BadParameter("bind", path, "empty path or reference")
	}
	r.mu.Lock()
	if prev, ok := r.bindings[path]; ok {
		r.mu.Unlock()
		return rterr.Precondition("bind", path, "already bound to %s", prev)
	}
	r.bindings[path] = ref
	r.mu.Unlock()
	r.record(introspection.NamingBound, path, ref, 2)
	r.logger.Debug("name bound", "path", path, "ref", ref)
	return nil
}

// Unbind removes the binding of path.
func (r *Registry) Unbind(path string) error {
	path = Clean(path)
	r.mu.Lock()
	ref, ok := r.bindings[path]
	delete(r.bindings, path)
	r.mu.Unlock()
	if !ok {
		return rterr.NotFound("unbind", path, "not bound")
	}
	r.record(introspection.NamingUnbound, path, ref, 2)
	r.logger.Debug("name unbound", "path", path)
	return nil
}

// Resolve returns the reference bound to path.
func (r *Registry) Resolve(path string) (rpc.Ref, error) {
	path = Clean(path)
	r.mu.RLock()
	ref, ok := r.bindings[path]
	r.mu.RUnlock()
	if !ok {
		return "", rterr.NotFound("resolve", path, "not bound")
	}
	r.record(introspection.NamingResolved, path, ref, 2)
	return ref, nil
}

// List returns the bindings under prefix, sorted by path. An empty prefix
// lists everything; otherwise only whole path segments match.
func (r *Registry) List(prefix string) []Binding {
	prefix = Clean(prefix)
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Binding, 0, len(r.bindings))
	for _, path := range slices.Sorted(maps.Keys(r.bindings)) {
		if prefix == "" || path == prefix || strings.HasPrefix(path, prefix+"/") {
			out = append(out, Binding{Path: path, Ref: r.bindings[path]})
		}
	}
	return out
}

// Events returns a copy of the recorded registry operations in order.
func (r *Registry) Events() []introspection.NamingEvent {
	r.eventMu.Lock()
	defer r.eventMu.Unlock()
	return slices.Clone(r.events)
}

func (r *Registry) record(kind introspection.NamingEventKind, path string, ref rpc.Ref, level int) {
	callerFunc, file, line := reflectx.GetCallerName(level + 1)

	r.eventMu.Lock()
	defer r.eventMu.Unlock()
	r.order++
	r.events = append(r.events, introspection.NamingEvent{
		Kind: kind,
		Path: path,
		Ref:  string(ref),
		Caller: introspection.Caller{
			Func: reflectx.FormatFunctionName(callerFunc),
			File: reflectx.FormatFileName(file),
			Line: line,
		},
		Order: r.order,
	})
}

// Fields holds the values substituted into a path format.
type Fields struct {
	Instance string
	Type     string
	Category string
	Vendor   string
	Version  string
}

// Expand renders format with %n (instance), %t (type), %c (category),
// %v (vendor), %V (version), %h (host name), %p (process id) and %% (a
// literal percent sign). Unknown verbs are kept as written.
func Expand(format string, f Fields) string {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		ch := format[i]
		if ch != '%' || i == len(format)-1 {
			b.WriteByte(ch)
			continue
		}
		i++
		switch format[i] {
		case 'n':
			b.WriteString(f.Instance)
		case 't':
			b.WriteString(f.Type)
		case 'c':
			b.WriteString(f.Category)
		case 'v':
			b.WriteString(f.Vendor)
		case 'V':
			b.WriteString(f.Version)
		case 'h':
			host, _ := os.Hostname()
			b.WriteString(host)
		case 'p':
			b.WriteString(strconv.Itoa(os.Getpid()))
		case '%':
			b.WriteByte('%')
		default:
			b.WriteByte('%')
			b.WriteByte(format[i])
		}
	}
	return b.String()
}
