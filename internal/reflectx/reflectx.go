// Package reflectx holds the reflection helpers shared by the config loader
// and the port layer: type naming, zero values, call-site lookup and walking
// the tagged fields of a struct.
package reflectx

import (
	"fmt"
	"path"
	"reflect"
	"runtime"
	"strings"
)

// EmptyValue returns the zero value of T. Nullable kinds come back as nil.
func EmptyValue[T any]() T {
	var zero T
	return zero
}

// GetTypeName renders t as "pkg.Name", or the bare name for predeclared and
// unnamed types ("int", "[]string", "*config.Settings").
func GetTypeName(t reflect.Type) string {
	if t == nil {
		return "nil"
	}
	if t.PkgPath() == "" {
		if t.Name() == "" {
			return t.String()
		}
		return t.Name()
	}
	return path.Base(t.PkgPath()) + "." + t.Name()
}

// TypeNameOf returns the %T rendering of v.
func TypeNameOf(v any) string {
	return fmt.Sprintf("%T", v)
}

// TypeNameFor returns GetTypeName of T. Port profiles use it as the declared
// data type, so two ports carrying the same Go type agree on the name.
func TypeNameFor[T any]() string {
	return GetTypeName(reflect.TypeFor[T]())
}

// StructFieldIteratorFunc is called once per field of the walked struct.
// targetType is the pointer type that was passed to IterateStructFields.
type StructFieldIteratorFunc func(fieldValue reflect.Value, structField reflect.StructField, targetType reflect.Type) error

// IterateStructFields walks every field of the struct target points to,
// calling each fn in order. The first error stops the walk.
func IterateStructFields(target any, fns ...StructFieldIteratorFunc) error {
	v := reflect.ValueOf(target)
	if !IsPointerStruct(v) {
		return fmt.Errorf("target must be a struct pointer, got '%s'", GetTypeName(v.Type()))
	}
	ptrType := v.Type()
	elem := v.Elem()
	for i := range elem.NumField() {
		field, sf := elem.Field(i), ptrType.Elem().Field(i)
		for _, fn := range fns {
			if err := fn(field, sf, ptrType); err != nil {
				return err
			}
		}
	}
	return nil
}

// SetFieldValue assigns value to field. Unexported fields are refused.
func SetFieldValue(field reflect.Value, structField reflect.StructField, value any) error {
	if !field.CanSet() {
		return fmt.Errorf("field '%s' is not settable", structField.Name)
	}
	field.Set(reflect.ValueOf(value))
	return nil
}

// GetCallerName reports the function, file and line skip frames above the caller.
func GetCallerName(skip int) (string, string, int) {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown", "unknown", 0
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "unknown", "unknown", 0
	}
	return fn.Name(), file, line
}

// FuncLocation returns the short name and "dir/file.go:line" of a function value.
func FuncLocation(fn any) (string, string) {
	ref := runtime.FuncForPC(reflect.ValueOf(fn).Pointer())
	if ref == nil {
		return "unknown", ""
	}
	file, line := ref.FileLine(ref.Entry())
	return FormatFunctionName(ref.Name()), fmt.Sprintf("%s:%d", FormatFileName(file), line)
}

// FormatFunctionName strips the import path from a qualified function name.
func FormatFunctionName(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}

// FormatFileName keeps the last directory and the file name ("ec/worker.go").
func FormatFileName(file string) string {
	dir, base := path.Split(file)
	return path.Base(path.Clean(dir)) + "/" + base
}

// IsPointerStruct reports whether v is a non-nil pointer to a struct.
func IsPointerStruct(v reflect.Value) bool {
	return v.Kind() == reflect.Pointer && !v.IsNil() && v.Elem().Kind() == reflect.Struct
}
