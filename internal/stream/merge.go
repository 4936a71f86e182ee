package stream

// Merge folds delta into acc and returns the result. Both values are JSON
// decoded (string, float64, bool, nil, []any, map[string]any). Strings
// concatenate, arrays append, objects merge key by key, and any other
// combination takes the delta. acc may be modified.
func Merge(acc, delta any) any {
	if acc == nil {
		return clone(delta)
	}

	switch d := delta.(type) {
	case string:
		if a, ok := acc.(string); ok {
			return a + d
		}
	case []any:
		if a, ok := acc.([]any); ok {
			return append(a, clone(d).([]any)...)
		}
	case map[string]any:
		if a, ok := acc.(map[string]any); ok {
			for k, v := range d {
				a[k] = Merge(a[k], v)
			}
			return a
		}
	}
	return clone(delta)
}

// MergeAll merges deltas in order.
func MergeAll(deltas []any) any {
	var acc any
	for _, d := range deltas {
		acc = Merge(acc, d)
	}
	return acc
}

func clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = clone(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = clone(val)
		}
		return out
	default:
		return v
	}
}
