package client

import (
	"strconv"
	"strings"
)

// candidates is an ordered list of keys that may hold one field of an API
// object. A dotted key addresses a nested object, "_id.device_id" reads
// obj["_id"]["device_id"]. The first present, non-empty value wins.
type candidates []string

func (c candidates) lookup(obj map[string]any) (any, bool) {
	for _, key := range c {
		v, ok := lookupPath(obj, key)
		if !ok || v == nil {
			continue
		}

		if s, isString := v.(string); isString && s == "" {
			continue
		}

		return v, true
	}

	return nil, false
}

func (c candidates) str(obj map[string]any) (string, bool) {
	v, ok := c.lookup(obj)
	if !ok {
		return "", false
	}

	return stringValue(v)
}

func (c candidates) strOr(obj map[string]any, fallback string) string {
	if s, ok := c.str(obj); ok {
		return s
	}

	return fallback
}

func (c candidates) boolOr(obj map[string]any, fallback bool) bool {
	v, ok := c.lookup(obj)
	if !ok {
		return fallback
	}

	if b, isBool := v.(bool); isBool {
		return b
	}

	return fallback
}

func (c candidates) intPtr(obj map[string]any) *int {
	v, ok := c.lookup(obj)
	if !ok {
		return nil
	}

	f, ok := floatValue(v)
	if !ok {
		return nil
	}

	i := int(f)

	return &i
}

func lookupPath(obj map[string]any, path string) (any, bool) {
	var cur any = obj

	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}

		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return cur, true
}

// stringValue renders scalar JSON values as strings. Objects and arrays are
// not identifiers and yield false.
func stringValue(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

func floatValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
