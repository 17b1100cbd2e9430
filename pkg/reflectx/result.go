package reflectx

import (
	"reflect"
)

// ResultImplements checks if any of the result arguments of a function implements the given interface type T.
// It returns true if at least one result argument implements the interface, false otherwise.
// The function parameter can be either a function value or a reflect.Type of a function.
func ResultImplements[T any](function any) bool {
	fnType := funcType(function)
	if fnType == nil {
		return false
	}

	ifaceType := reflect.TypeFor[T]()
	for i := 0; i < fnType.NumOut(); i++ {
		if fnType.Out(i).Implements(ifaceType) {
			return true
		}
	}
	return false
}

// LastResultIsError reports whether the final result of a function is declared as error.
func LastResultIsError(function any) bool {
	fnType := funcType(function)
	if fnType == nil || fnType.NumOut() == 0 {
		return false
	}
	return fnType.Out(fnType.NumOut()-1) == reflect.TypeFor[error]()
}

func funcType(function any) reflect.Type {
	if function == nil {
		return nil
	}
	var fnType reflect.Type
	switch v := function.(type) {
	case reflect.Type:
		fnType = v
	default:
		fnType = reflect.TypeOf(function)
	}
	if fnType.Kind() != reflect.Func {
		return nil
	}
	return fnType
}
