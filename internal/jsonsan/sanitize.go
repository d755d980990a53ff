// Package jsonsan recursively converts an arbitrary Go value into a form
// that is guaranteed to round-trip through encoding/json without panicking
// or returning an error — the same shape of problem platform/logger solves
// for redacting log fields: walk an arbitrary tree, transform leaves, never
// let a cycle or an unmarshalable leaf escape.
package jsonsan

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
)

// Circular is substituted for any value whose identity is already on the
// current recursion path.
const Circular = "<circular>"

// Sanitize converts v into a JSON-representable value: maps become
// string-keyed maps, slices/arrays become []any, byte slices are decoded as
// UTF-8 with replacement, and anything with a MarshalJSON method is invoked
// and re-walked. NaN and infinite floats become their string form ("NaN",
// "+Inf", "-Inf"). Cycles are broken with the Circular sentinel so Sanitize
// never fails regardless of input shape.
func Sanitize(v any) any {
	return sanitize(v, map[uintptr]bool{})
}

func sanitize(v any, seen map[uintptr]bool) any {
	if v == nil {
		return nil
	}

	switch t := v.(type) {
	case []byte:
		return string(t)
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return t
	case float32:
		if math.IsNaN(float64(t)) || math.IsInf(float64(t), 0) {
			return fmt.Sprint(t)
		}
		return t
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return fmt.Sprint(t)
		}
		return t
	case json.Marshaler:
		raw, err := t.MarshalJSON()
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return fmt.Sprintf("%v", v)
		}
		return sanitize(decoded, seen)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		ptr := rv.Pointer()
		if seen[ptr] {
			return Circular
		}
		seen[ptr] = true
		out := sanitize(rv.Elem().Interface(), seen)
		delete(seen, ptr)
		return out

	case reflect.Map:
		ptr := rv.Pointer()
		if ptr != 0 {
			if seen[ptr] {
				return Circular
			}
			seen[ptr] = true
			defer delete(seen, ptr)
		}
		out := make(map[string]any, rv.Len())
		for _, key := range rv.MapKeys() {
			out[fmt.Sprint(key.Interface())] = sanitize(rv.MapIndex(key).Interface(), seen)
		}
		return out

	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice {
			ptr := rv.Pointer()
			if ptr != 0 {
				if seen[ptr] {
					return Circular
				}
				seen[ptr] = true
				defer delete(seen, ptr)
			}
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = sanitize(rv.Index(i).Interface(), seen)
		}
		return out

	case reflect.Struct:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return fmt.Sprintf("%v", v)
		}
		return sanitize(decoded, seen)

	default:
		return fmt.Sprintf("%v", v)
	}
}

// SanitizeJSON sanitizes v and then marshals it; this is the call the Task
// Store makes before handing a record to the cache or disk mirror, and it
// cannot fail on cyclic or unserializable input by construction of Sanitize.
func SanitizeJSON(v any) ([]byte, error) {
	return json.Marshal(Sanitize(v))
}
