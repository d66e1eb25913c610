package openrtm

import (
	"fmt"
	"reflect"

	"github.com/n-ando/OpenRTM-aist-sub001/internal/reflectx"
)

// Error represents a manager error with context about the component that failed.
// It includes the original error, component type or function name, and source location for debugging.
type Error struct {
	Err           error
	ComponentName string
	FileLine      string
}

// NewError wraps an error with component context. Strings name a component
// type or instance directly; functions report their name and source
// location; anything else reports its type name.
func NewError(err error, component any) Error {
	switch c := component.(type) {
	case string:
		return Error{Err: err, ComponentName: c}
	case nil:
		return Error{Err: err, ComponentName: "nil"}
	}
	componentType := reflect.TypeOf(component)
	if componentType.Kind() == reflect.Func {
		functionName, fileLine := reflectx.FuncLocation(component)
		return Error{
			Err:           err,
			ComponentName: functionName,
			FileLine:      fileLine,
		}
	}
	return Error{
		Err:           err,
		ComponentName: reflectx.GetTypeName(componentType),
	}
}

// Error implements the error interface, returning a formatted error message with component context.
func (e Error) Error() string {
	if e.FileLine == "" {
		return fmt.Sprintf("error: %v, component: %s", e.Err, e.ComponentName)
	}
	return fmt.Sprintf("error: %v, function: %s, location: %s", e.Err, e.ComponentName, e.FileLine)
}

// Unwrap returns the wrapped error, so errors.Is sees rterr kinds through it.
func (e Error) Unwrap() error {
	return e.Err
}
