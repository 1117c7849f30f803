package codec

import (
	"encoding/json"
	"reflect"
	"time"

	"wspreset/message"
)

// JSONCodec uses encoding/json for serialization.
//
// With ReviveDates set, time.Time values inside envelope content, struct
// fields included, are written as message.TimeLayout strings and, on decode, every string in that exact
// layout comes back as a time.Time. With it unset both directions leave
// strings untouched and time.Time uses its default JSON form.
type JSONCodec struct {
	ReviveDates bool
}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	if c.ReviveDates {
		v = renderValue(v)
	}
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return err
	}
	if c.ReviveDates {
		reviveValue(v)
	}
	return nil
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}

// renderValue rewrites the dates of an outgoing value without touching the caller's copy.
func renderValue(v any) any {
	switch x := v.(type) {
	case *message.Envelope:
		if x == nil {
			return x
		}
		cp := *x
		cp.Content = renderDates(cp.Content)
		return &cp
	case message.Envelope:
		x.Content = renderDates(x.Content)
		return x
	}
	return renderDates(v)
}

func renderDates(v any) any {
	switch x := v.(type) {
	case time.Time:
		return message.FormatTime(x)
	case *time.Time:
		if x == nil {
			return nil
		}
		return message.FormatTime(*x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = renderDates(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = renderDates(val)
		}
		return out
	case nil, string, bool, float64, float32, int, int64, int32, uint, uint64, uint32, json.Number:
		return v
	}
	return renderComposite(v)
}

// renderComposite flattens structs, pointers and typed maps or slices into
// their JSON shape, so time fields hidden inside them get the wire layout too.
// time.Time marshals as RFC3339, which is how those fields are found again.
func renderComposite(v any) any {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Struct, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Array, reflect.Interface:
	default:
		return v
	}
	raw, err := json.Marshal(v)
	if err != nil {
		// the outer Marshal reports it
		return v
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return v
	}
	return renderRFC3339(generic)
}

func renderRFC3339(v any) any {
	switch x := v.(type) {
	case string:
		if t, err := time.Parse(time.RFC3339Nano, x); err == nil {
			return message.FormatTime(t)
		}
	case map[string]any:
		for k, val := range x {
			x[k] = renderRFC3339(val)
		}
	case []any:
		for i, val := range x {
			x[i] = renderRFC3339(val)
		}
	}
	return v
}

func reviveValue(v any) {
	switch x := v.(type) {
	case *message.Envelope:
		x.Content = reviveDates(x.Content)
	case *any:
		*x = reviveDates(*x)
	case *map[string]any:
		for k, val := range *x {
			(*x)[k] = reviveDates(val)
		}
	}
}

func reviveDates(v any) any {
	switch x := v.(type) {
	case string:
		if t, ok := message.ParseTime(x); ok {
			return t
		}
	case map[string]any:
		for k, val := range x {
			x[k] = reviveDates(val)
		}
	case []any:
		for i, val := range x {
			x[i] = reviveDates(val)
		}
	}
	return v
}
