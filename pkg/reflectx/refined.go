package reflectx

import (
	"reflect"
)

// IsRefinedType checks if the provided reflect.Type is exactly the type of the generic
// parameter R. Interface types are matched by identity too, so IsRefinedType[context.Context]
// only matches parameters declared as context.Context.
func IsRefinedType[R any](value reflect.Type) bool {
	return value != nil && reflect.TypeFor[R]() == value
}
