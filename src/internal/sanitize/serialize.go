// FILE: src/internal/sanitize/serialize.go
package sanitize

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// maxSerializeDepth bounds recursion through nested values; anything
// deeper is cut off with CircularMarker.
const maxSerializeDepth = 16

// Serialize renders an arbitrary value as a JSON string, replacing
// circular references with CircularMarker and non-serializable values
// with a typed placeholder. Total: never panics, never errors.
func (s *Sanitizer) Serialize(v any) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = unserializable(v)
		}
	}()

	plain := flatten(reflect.ValueOf(v), map[uintptr]bool{}, 0)
	data, err := json.Marshal(plain)
	if err != nil {
		return unserializable(v)
	}
	return string(data)
}

func unserializable(v any) string {
	return fmt.Sprintf("[Unserializable:%T]", v)
}

// flatten walks a value into JSON-marshalable primitives, guarding
// against reference cycles via the seen set.
func flatten(v reflect.Value, seen map[uintptr]bool, depth int) any {
	if depth > maxSerializeDepth {
		return CircularMarker
	}
	if !v.IsValid() {
		return nil
	}

	switch v.Kind() {
	case reflect.Bool:
		return v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint()
	case reflect.Float32, reflect.Float64:
		return v.Float()
	case reflect.String:
		return v.String()

	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return flatten(v.Elem(), seen, depth+1)

	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		ptr := v.Pointer()
		if seen[ptr] {
			return CircularMarker
		}
		seen[ptr] = true
		out := flatten(v.Elem(), seen, depth+1)
		delete(seen, ptr)
		return out

	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		ptr := v.Pointer()
		if seen[ptr] {
			return CircularMarker
		}
		seen[ptr] = true
		defer delete(seen, ptr)
		fallthrough
	case reflect.Array:
		out := make([]any, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			out = append(out, flatten(v.Index(i), seen, depth+1))
		}
		return out

	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		ptr := v.Pointer()
		if seen[ptr] {
			return CircularMarker
		}
		seen[ptr] = true
		defer delete(seen, ptr)
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[fmt.Sprintf("%v", iter.Key().Interface())] = flatten(iter.Value(), seen, depth+1)
		}
		return out

	case reflect.Struct:
		t := v.Type()
		out := make(map[string]any, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			out[field.Name] = flatten(v.Field(i), seen, depth+1)
		}
		return out

	default:
		// chan, func, unsafe pointer
		return fmt.Sprintf("[Unserializable:%s]", v.Kind())
	}
}
