package internal

import "fmt"

// Flatten takes a nested map and returns a new map with the keys flattened
// into a single level. Nested map keys are joined with a ".", array elements
// get an indexed key. For example, `{"a": {"b": 1}}` becomes `{"a.b": 1}`.
// Trigger rules evaluate against the flattened form.
func Flatten(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for key, value := range data {
		flattenInto(out, key, value)
	}
	return out
}

func flattenInto(out map[string]interface{}, path string, value interface{}) {
	switch typed := value.(type) {
	case map[string]interface{}:
		for key, child := range typed {
			flattenInto(out, fmt.Sprintf("%s.%s", path, key), child)
		}
	case []interface{}:
		out[path] = typed
		for i, child := range typed {
			flattenInto(out, fmt.Sprintf("%s[%d]", path, i), child)
		}
	default:
		out[path] = value
	}
}
