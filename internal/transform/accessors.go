package transform

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rohankatakam/devgraph/internal/errors"
)

// String returns the string form of record[key], or "" when absent
func String(record map[string]any, key string) string {
	return ToString(record[key])
}

// ToString renders a scalar as a string. Integral floats lose their fraction so
// upstream ids decoded as float64 keep their natural form.
func ToString(v any) string {
	if IsAbsent(v) {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

// Int64 returns record[key] as an integer
func Int64(record map[string]any, key string) (int64, bool) {
	v, ok := record[key]
	if !ok || IsAbsent(v) {
		return 0, false
	}
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case float64:
		return int64(val), true
	case json.Number:
		i, err := val.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// Map returns record[key] as a nested map, decoding embedded JSON strings.
// A missing or null field returns (nil, nil).
func Map(record map[string]any, key string) (map[string]any, error) {
	v, ok := record[key]
	if !ok || IsAbsent(v) {
		return nil, nil
	}
	switch val := v.(type) {
	case map[string]any:
		return val, nil
	case string:
		if strings.TrimSpace(val) == "" {
			return nil, nil
		}
		decoded, err := ParseEmbedded(val)
		if err != nil {
			return nil, err
		}
		m, ok := decoded.(map[string]any)
		if !ok {
			return nil, errors.MalformedRecordErrorf("field %q: expected object, got %T", key, decoded)
		}
		return m, nil
	default:
		return nil, errors.MalformedRecordErrorf("field %q: expected object, got %T", key, v)
	}
}

// Slice returns record[key] as a list of maps, decoding embedded JSON strings.
// A single object is returned as a one-element list.
func Slice(record map[string]any, key string) ([]map[string]any, error) {
	v, ok := record[key]
	if !ok || IsAbsent(v) {
		return nil, nil
	}
	if s, ok := v.(string); ok {
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		decoded, err := ParseEmbedded(s)
		if err != nil {
			return nil, err
		}
		v = decoded
	}
	switch val := v.(type) {
	case map[string]any:
		return []map[string]any{val}, nil
	case []map[string]any:
		return val, nil
	case []any:
		out := make([]map[string]any, 0, len(val))
		for i, item := range val {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, errors.MalformedRecordErrorf("field %q[%d]: expected object, got %T", key, i, item)
			}
			out = append(out, m)
		}
		return out, nil
	default:
		return nil, errors.MalformedRecordErrorf("field %q: expected list, got %T", key, v)
	}
}

// ParseEmbedded decodes a JSON document stored as a string column
func ParseEmbedded(raw string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(raw)))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, errors.MalformedRecordError(err, "invalid embedded JSON")
	}
	return normalizeNumbers(out), nil
}

// normalizeNumbers turns json.Number values into int64 or float64
func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		return Scalar(val)
	case map[string]any:
		for k, item := range val {
			val[k] = normalizeNumbers(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = normalizeNumbers(item)
		}
		return val
	default:
		return val
	}
}
