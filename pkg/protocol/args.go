package protocol

import (
	"encoding/json"
	"fmt"
	"math"
)

// Argument maps arrive either as Go values (in-process channels) or as
// decoded JSON (float64 numbers, []any lists). These helpers accept both.

func stringArg(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func requireString(m map[string]any, key string) (string, error) {
	s, ok := stringArg(m, key)
	if !ok {
		return "", fmt.Errorf("protocol: missing string argument %q", key)
	}
	return s, nil
}

func intArg(m map[string]any, key string) (int, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false
	}
	return toInt(v)
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	}
	return 0, false
}

func uint32Arg(m map[string]any, key string) (uint32, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case uint32:
		return n, true
	case int:
		if n < 0 || n > math.MaxUint32 {
			return 0, false
		}
		return uint32(n), true
	case int64:
		if n < 0 || n > math.MaxUint32 {
			return 0, false
		}
		return uint32(n), true
	case uint64:
		if n > math.MaxUint32 {
			return 0, false
		}
		return uint32(n), true
	case float64:
		if n < 0 || n > math.MaxUint32 || n != math.Trunc(n) {
			return 0, false
		}
		return uint32(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil || i < 0 || i > math.MaxUint32 {
			return 0, false
		}
		return uint32(i), true
	}
	return 0, false
}

func boolArg(m map[string]any, key string) (bool, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func floatArg(m map[string]any, key string) (float64, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func mapArg(m map[string]any, key string) (map[string]any, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, false
	}
	mm, ok := v.(map[string]any)
	return mm, ok
}

// ToBool interprets a reply value as a boolean confirmation.
func ToBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case nil:
		return false
	}
	if n, ok := toInt(v); ok {
		return n != 0
	}
	return false
}
