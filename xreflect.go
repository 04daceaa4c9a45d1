package pickle

// Utilities that complement std reflect package.

import (
	"fmt"
	"reflect"
)

// fieldInterface returns value of i'th field of struct v as interface.
//
// .Interface() is not allowed if the field is private. Work around the
// protection via unsafe on an addressable copy of v.
func fieldInterface(v reflect.Value, i int) any {
	f := v.Field(i)
	if f.CanInterface() {
		return f.Interface()
	}
	if !f.CanAddr() {
		vcopy := reflect.New(v.Type()).Elem()
		vcopy.Set(v)
		v = vcopy
		f = v.Field(i)
	}
	return reflect.NewAt(f.Type(), f.Addr().UnsafePointer()).Elem().Interface()
}

// fieldByIndex is like v.FieldByIndex but reports false instead of panicking
// when index steps through nil embedded pointer.
func fieldByIndex(v reflect.Value, index []int) (reflect.Value, bool) {
	f, err := v.FieldByIndexErr(index)
	if err != nil {
		return reflect.Value{}, false
	}
	return f, true
}

// fieldByIndexAlloc is like v.FieldByIndex but allocates nil embedded
// pointers on the way. v must be settable.
func fieldByIndexAlloc(v reflect.Value, index []int) (reflect.Value, error) {
	for i, x := range index {
		if i > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				if !v.CanSet() {
					return reflect.Value{}, fmt.Errorf("cannot set embedded pointer to unexported %s", v.Type().Elem())
				}
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(x)
	}
	return v, nil
}

// derefType returns type t points to, or t itself.
func derefType(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Pointer {
		return t.Elem()
	}
	return t
}
