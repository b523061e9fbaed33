package tooling

import (
	"encoding/json"
	"fmt"
	"sort"
)

// CanonicalJSON produces RFC 8785 JCS-style canonical JSON: object keys
// sorted, integral float64 values rendered without a decimal point.
func CanonicalJSON(v interface{}) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("initial marshal failed: %w", err)
	}

	var parsed interface{}
	if err := json.Unmarshal(intermediate, &parsed); err != nil {
		return nil, fmt.Errorf("intermediate unmarshal failed: %w", err)
	}

	canonical, err := canonicalize(parsed)
	if err != nil {
		return nil, err
	}
	return json.Marshal(canonical)
}

func canonicalize(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		return canonicalizeObject(val)
	case []interface{}:
		return canonicalizeArray(val)
	case float64:
		if val == float64(int64(val)) {
			return int64(val), nil
		}
		return val, nil
	case string, bool, nil:
		return val, nil
	default:
		return val, nil
	}
}

func canonicalizeObject(m map[string]interface{}) (map[string]interface{}, error) {
	result := make(map[string]interface{}, len(m))
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		canon, err := canonicalize(m[k])
		if err != nil {
			return nil, fmt.Errorf("failed to canonicalize key %q: %w", k, err)
		}
		result[k] = canon
	}
	return result, nil
}

func canonicalizeArray(arr []interface{}) ([]interface{}, error) {
	result := make([]interface{}, len(arr))
	for i, v := range arr {
		canon, err := canonicalize(v)
		if err != nil {
			return nil, fmt.Errorf("failed to canonicalize array index %d: %w", i, err)
		}
		result[i] = canon
	}
	return result, nil
}

// NormalizeResponse coerces an arbitrary provider response into a
// JSON-plain value: scalars, arrays, and objects pass through (with
// nested normalization); anything else (custom structs that don't
// round-trip through JSON, channels, funcs) is stringified with
// fmt.Sprintf("%v", ...) rather than rejected (spec §4.9 step 6: "other
// shapes stringified"). raw must already be the result of json.Marshal +
// json.Unmarshal into `any`, or a Go-native scalar/map/slice.
func NormalizeResponse(raw interface{}) interface{} {
	switch v := raw.(type) {
	case nil, bool, string:
		return v
	case float64, int, int64, int32:
		return v
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[k] = NormalizeResponse(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = NormalizeResponse(val)
		}
		return out
	default:
		return fmt.Sprintf("%v", v)
	}
}
