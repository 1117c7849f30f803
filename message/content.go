package message

import (
	"encoding/json"
	"fmt"
)

// As converts decoded content into T. Content decoded from JSON arrives as
// maps, slices, float64 and strings; As re-marshals it into the target type.
func As[T any](v any) (T, error) {
	var out T
	if typed, ok := v.(T); ok {
		return typed, nil
	}
	if v == nil {
		return out, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("message: encode content: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("message: decode content into %T: %w", out, err)
	}
	return out, nil
}
