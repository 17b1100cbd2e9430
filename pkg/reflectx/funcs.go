// Package reflectx holds the reflection helpers used to inspect and call operation handlers.
package reflectx

import (
	"reflect"
	"runtime"
	"strings"
)

// IsFunction reports whether fn is a non-nil function value.
func IsFunction(fn any) bool {
	if fn == nil {
		return false
	}
	return reflect.TypeOf(fn).Kind() == reflect.Func
}

// FunctionName returns a short, human readable name for fn: the type name for named function
// types, otherwise the symbol name without its package path and without the "-fm" suffix the
// compiler adds to method values. It returns "" for values that are not functions.
func FunctionName(fn any) string {
	if !IsFunction(fn) {
		return ""
	}

	val := reflect.ValueOf(fn)
	typ := val.Type()
	if typ.Name() != "" {
		return typ.String()
	}

	rf := runtime.FuncForPC(val.Pointer())
	if rf == nil {
		return typ.String()
	}
	name := rf.Name()
	if lastDot := strings.LastIndex(name, "."); lastDot >= 0 {
		name = name[lastDot+1:]
	}
	return strings.TrimSuffix(name, "-fm")
}

// Params returns the parameter types of a function type, expanding nothing for variadics.
func Params(fnType reflect.Type) []reflect.Type {
	if fnType == nil || fnType.Kind() != reflect.Func {
		return nil
	}
	params := make([]reflect.Type, fnType.NumIn())
	for i := range params {
		params[i] = fnType.In(i)
	}
	return params
}
