package checks

import "reflect"

// IsNilInterface reports whether i is nil or an interface holding a nil
// pointer, map, slice, channel or func.
func IsNilInterface(i any) bool {
	if i == nil {
		return true
	}
	v := reflect.ValueOf(i)
	switch v.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	}
	return false
}
