package registry

import (
	"reflect"
	"strconv"

	"wspreset/connection"
)

// Filter picks connections out of a registry snapshot.
type Filter interface {
	Select(all []*connection.Connection) []*connection.Connection
}

// ID selects the connection with exactly this identifier.
type ID string

func (id ID) Select(all []*connection.Connection) []*connection.Connection {
	for _, c := range all {
		if c.ID() == string(id) {
			return []*connection.Connection{c}
		}
	}
	return nil
}

// Attrs selects connections whose cached custom data contains every key of
// the filter with a matching value. Nested maps match recursively.
//
// Slices are matched like maps keyed by index, so Attrs{"tags": []any{"a"}}
// also matches a connection tagged ["a", "b"].
type Attrs map[string]any

func (a Attrs) Select(all []*connection.Connection) []*connection.Connection {
	var out []*connection.Connection
	for _, c := range all {
		if Match(a, c.CustomData()) {
			out = append(out, c)
		}
	}
	return out
}

// Union concatenates the selections of its filters in order. A connection
// selected by two entries appears twice.
type Union []Filter

func (u Union) Select(all []*connection.Connection) []*connection.Connection {
	var out []*connection.Connection
	for _, f := range u {
		if f == nil {
			out = append(out, all...)
			continue
		}
		out = append(out, f.Select(all)...)
	}
	return out
}

// Match reports whether have contains everything in want.
func Match(want map[string]any, have map[string]any) bool {
	return matchValue(map[string]any(want), have)
}

func matchValue(want, have any) bool {
	if wantObj, ok := asObject(want); ok {
		haveObj, ok := asObject(have)
		if !ok {
			return false
		}
		for k, wv := range wantObj {
			hv, ok := haveObj[k]
			if !ok || !matchValue(wv, hv) {
				return false
			}
		}
		return true
	}
	if _, ok := asObject(have); ok {
		return false
	}

	wn, wantNum := asNumber(want)
	hn, haveNum := asNumber(have)
	if wantNum || haveNum {
		return wantNum && haveNum && wn == hn
	}
	return reflect.DeepEqual(want, have)
}

// asObject views maps with string keys and slices/arrays as key → value.
func asObject(v any) (map[string]any, bool) {
	switch x := v.(type) {
	case map[string]any:
		return x, true
	case Attrs:
		return x, true
	case nil:
		return nil, false
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}
		return out, true
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return nil, false
		}
		out := make(map[string]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[strconv.Itoa(i)] = rv.Index(i).Interface()
		}
		return out, true
	}
	return nil, false
}

func asNumber(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}
