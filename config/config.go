// Package config provides the property machinery consumed by the execution
// contexts, components and ports: hierarchical Properties with default
// fallback, pluggable providers, typed getters, struct-tag binding and
// key-access introspection.
//
// Nothing here is process-global. A Loader wraps one Provider and records the
// keys read through it.
package config

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/n-ando/OpenRTM-aist-sub001/internal/reflectx"
	"github.com/n-ando/OpenRTM-aist-sub001/introspection"
)

const (
	// tagName is the struct tag key for configuration value names
	tagName = "config"
	// defaultTagName is the struct tag key for default values
	defaultTagName = "default"
)

// ErrKeyNotFound is wrapped by providers when a key has no value.
var ErrKeyNotFound = errors.New("key not found")

// Provider retrieves configuration values by key.
type Provider interface {
	// Get retrieves the configuration value for the given key.
	Get(ctx context.Context, name string) (string, error)
}

// ParseFunc is a function that parses a string value into type T.
type ParseFunc[T any] func(value string) (T, error)

type anyParser func(value string) (any, error)

func builtinParsers() map[reflect.Type]anyParser {
	return map[reflect.Type]anyParser{
		reflect.TypeFor[string]():        func(value string) (any, error) { return value, nil },
		reflect.TypeFor[bool]():          func(value string) (any, error) { return strconv.ParseBool(value) },
		reflect.TypeFor[int]():           func(value string) (any, error) { return strconv.Atoi(value) },
		reflect.TypeFor[int64]():         func(value string) (any, error) { return strconv.ParseInt(value, 10, 64) },
		reflect.TypeFor[float64]():       func(value string) (any, error) { return strconv.ParseFloat(value, 64) },
		reflect.TypeFor[time.Duration](): func(value string) (any, error) { return time.ParseDuration(value) },
		reflect.TypeFor[[]string]():      func(value string) (any, error) { return SplitList(value), nil },
	}
}

// SplitList splits a comma separated value, trimming blanks and dropping empty items.
func SplitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Loader reads typed values from a Provider and records every access.
type Loader struct {
	reads *accessLog

	mu      sync.RWMutex
	parsers map[reflect.Type]anyParser
}

// NewLoader creates a loader over p. A nil provider reads environment variables.
func NewLoader(p Provider) *Loader {
	if p == nil {
		p = NewEnvVarProvider()
	}
	return &Loader{
		reads:   newAccessLog(p),
		parsers: builtinParsers(),
	}
}

// Provider returns the wrapped provider.
func (l *Loader) Provider() Provider {
	return l.reads.provider
}

// RegisterParser registers a custom parser for type T on l.
// Built-in parsers exist for string, bool, int, int64, float64, time.Duration and []string.
func RegisterParser[T any](l *Loader, parser ParseFunc[T]) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.parsers[reflect.TypeFor[T]()] = func(value string) (any, error) {
		return parser(value)
	}
}

func (l *Loader) parser(t reflect.Type) (anyParser, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.parsers[t]
	return p, ok
}

// getParsedConfigValue retrieves and parses a configuration value.
func getParsedConfigValue[T any](ctx context.Context, l *Loader, name string, useDefault bool) (T, error) {
	emptyType := reflectx.EmptyValue[T]()
	typeOfT := reflect.TypeFor[T]()
	parser, exist := l.parser(typeOfT)
	if !exist {
		return emptyType, fmt.Errorf("parser for type '%s' does not exist", reflectx.GetTypeName(typeOfT))
	}
	configValue, err := l.reads.lookup(ctx, name, useDefault, nil, 4)
	if err != nil {
		return emptyType, err
	}
	value, err := parser(configValue)
	if err != nil {
		return emptyType, err
	}
	return value.(T), nil
}

// Get retrieves and parses a configuration value by key and type.
// Returns an error if the key is not found or parsing fails.
func Get[T any](ctx context.Context, l *Loader, name string) (T, error) {
	value, err := getParsedConfigValue[T](ctx, l, name, false)
	if err != nil {
		return value, fmt.Errorf("config: %w", err)
	}
	return value, nil
}

// GetWithDefault retrieves a configuration value or returns the default if
// the key is missing or does not parse.
func GetWithDefault[T any](ctx context.Context, l *Loader, name string, defaultValue T) T {
	value, err := getParsedConfigValue[T](ctx, l, name, true)
	if err != nil {
		return defaultValue
	}
	return value
}

// LoadStruct injects configuration values into all fields of the struct
// pointed to by target that are tagged with config:"key". The default tag
// supplies a value for missing keys; an untagged-default missing key is an error.
func (l *Loader) LoadStruct(ctx context.Context, target any) error {
	return reflectx.IterateStructFields(target, l.loadStructFieldValue(ctx))
}

func (l *Loader) loadStructFieldValue(ctx context.Context) reflectx.StructFieldIteratorFunc {
	return func(fieldValue reflect.Value, structField reflect.StructField, targetType reflect.Type) error {
		configName, ok := structField.Tag.Lookup(tagName)
		if !ok {
			return nil
		}

		defaultValue, hasDefault := structField.Tag.Lookup(defaultTagName)
		parser, exists := l.parser(structField.Type)
		if !exists {
			return fmt.Errorf("config: parser for type '%s' does not exist", reflectx.GetTypeName(structField.Type))
		}

		var (
			valueStr string
			err      error
		)
		if hasDefault {
			valueStr, err = l.reads.lookup(ctx, configName, true, targetType, 5)
			if err != nil {
				valueStr = defaultValue
			}
		} else {
			valueStr, err = l.reads.lookup(ctx, configName, false, targetType, 5)
			if err != nil {
				return fmt.Errorf("config: error getting value for field '%s': %w", structField.Name, err)
			}
		}

		value, parseErr := parser(valueStr)
		if parseErr != nil {
			return fmt.Errorf("config: error parsing value for field '%s': %s", structField.Name, parseErr)
		}

		if err := reflectx.SetFieldValue(fieldValue, structField, value); err != nil {
			return fmt.Errorf("config: %s", err)
		}
		return nil
	}
}

// Accesses returns every key read through l, sorted by key, file and line.
func (l *Loader) Accesses() []introspection.ConfigAccess {
	return l.reads.snapshot()
}
