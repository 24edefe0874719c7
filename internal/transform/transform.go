// Package transform normalizes raw connector records into flat, property-graph safe maps.
package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Separator joins parent and child keys of flattened nested maps
const Separator = "."

// metadataPrefixes mark connector-internal bookkeeping fields
var metadataPrefixes = []string{"_airbyte", "_connector"}

// Record is one raw connector row
type Record = map[string]any

// IsMetadataKey reports whether key carries connector-internal metadata
func IsMetadataKey(key string) bool {
	for _, p := range metadataPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// IsAbsent reports whether v is a missing-value sentinel that must become an explicit null
func IsAbsent(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(val) || math.IsInf(val, 0)
	case float32:
		f := float64(val)
		return math.IsNaN(f) || math.IsInf(f, 0)
	case json.Number:
		_, err := val.Float64()
		return err != nil
	case *string:
		return val == nil
	case *time.Time:
		return val == nil
	default:
		return false
	}
}

// Transform returns a flat map of scalars for one raw record.
// Metadata keys are dropped, nested maps flattened with Separator, lists kept as
// []any for the caller to iterate, absent values nulled and anything else stringified.
// Transforming an already flat record returns an equal map.
func Transform(raw Record) map[string]any {
	out := make(map[string]any, len(raw))
	flatten(out, "", raw)
	return out
}

func flatten(out map[string]any, prefix string, in map[string]any) {
	for k, v := range in {
		if prefix == "" && IsMetadataKey(k) {
			continue
		}
		key := k
		if prefix != "" {
			key = prefix + Separator + k
		}
		if nested, ok := v.(map[string]any); ok {
			flatten(out, key, nested)
			continue
		}
		out[key] = Scalar(v)
	}
}

// Scalar converts one value to its property-safe form
func Scalar(v any) any {
	if IsAbsent(v) {
		return nil
	}
	switch val := v.(type) {
	case string, bool, int, int32, int64, float64:
		return val
	case float32:
		return float64(val)
	case uint:
		return int64(val)
	case uint32:
		return int64(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case *time.Time:
		return val.UTC().Format(time.RFC3339)
	case *string:
		return *val
	case []any:
		list := make([]any, len(val))
		for i, item := range val {
			if IsAbsent(item) {
				list[i] = nil
				continue
			}
			list[i] = item
		}
		return list
	case []string:
		list := make([]any, len(val))
		for i, s := range val {
			list[i] = s
		}
		return list
	case []map[string]any:
		list := make([]any, len(val))
		for i, m := range val {
			list[i] = m
		}
		return list
	default:
		return fmt.Sprint(val)
	}
}

// Properties returns only the values of a transformed record that a store can hold
// as node properties: lists of maps are dropped, since they describe relationships.
func Properties(flat map[string]any) map[string]any {
	props := make(map[string]any, len(flat))
	for k, v := range flat {
		list, ok := v.([]any)
		if !ok {
			props[k] = v
			continue
		}
		scalars := make([]any, 0, len(list))
		keep := true
		for _, item := range list {
			switch item.(type) {
			case nil:
				continue
			case map[string]any, []any:
				keep = false
			default:
				scalars = append(scalars, item)
			}
			if !keep {
				break
			}
		}
		if keep {
			props[k] = scalars
		}
	}
	return props
}
