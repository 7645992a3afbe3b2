// Package profile accumulates extracted insight data into customer profiles
// and keeps their running summaries current.
package profile

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// DeepMerge merges src into a copy of dst. Nested maps merge recursively,
// slices concatenate without duplicates, and other values from src replace
// those in dst. Nil values in src never overwrite.
func DeepMerge(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		if v == nil {
			continue
		}
		cur, ok := out[k]
		if !ok || cur == nil {
			out[k] = v
			continue
		}
		switch sv := v.(type) {
		case map[string]any:
			if cm, ok := cur.(map[string]any); ok {
				out[k] = DeepMerge(cm, sv)
				continue
			}
		case []any:
			if cs, ok := cur.([]any); ok {
				out[k] = unionSlices(cs, sv)
				continue
			}
		}
		out[k] = v
	}
	return out
}

func unionSlices(a, b []any) []any {
	out := make([]any, 0, len(a)+len(b))
	for _, v := range append(append([]any(nil), a...), b...) {
		dup := false
		for _, e := range out {
			if reflect.DeepEqual(e, v) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	return out
}

// formatValue renders a preference value for the audit log.
func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	default:
		return fmt.Sprint(x)
	}
}
