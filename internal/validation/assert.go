// Package validation provides helpers for contract enforcement at
// construction time. A missing mandatory dependency is a programmer error,
// so the helpers panic instead of returning errors.
package validation

import (
	"fmt"
	"reflect"
)

// AssertNotNil panics if the provided pointer is nil.
//
// Usage:
//
//	validation.AssertNotNil(cfg, "redis config")
func AssertNotNil[T any](ptr *T, name string) {
	if ptr == nil {
		panic(fmt.Sprintf("critical error: %s cannot be nil", name))
	}
}

// AssertPresent panics if dep is nil or an interface wrapping a nil
// pointer, map, slice, channel or func.
//
// Usage:
//
//	validation.AssertPresent(values, "engine: value source")
func AssertPresent(dep any, name string) {
	if isNil(dep) {
		panic(fmt.Sprintf("critical error: %s cannot be nil", name))
	}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}
