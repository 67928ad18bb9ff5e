// Package delta computes and applies minimal diffs between nested state
// maps, so high-frequency state sync only carries changed fields.
//
// A delta is a map holding changed or added keys, plus two reserved marker
// keys: RemovedKey lists keys deleted from the previous state and NullKey
// lists keys whose value became nil. Removal and nil assignment are distinct
// states and are never folded together. Nested maps are diffed recursively
// up to MaxDepth levels; below that they are replaced wholesale.
//
// For any current and previous map and the same depth limit:
//
//	Apply(previous, Compute(current, previous)) deep-equals current
package delta

import (
	"fmt"
	"reflect"
	"slices"
)

// Reserved marker keys.
const (
	RemovedKey = "_removed"
	NullKey    = "_null"
)

// DefaultMaxDepth bounds recursion into nested maps.
const DefaultMaxDepth = 5

// ErrReservedKey is returned when state uses a marker key as a data key.
var ErrReservedKey = fmt.Errorf("delta: %q and %q are reserved keys", RemovedKey, NullKey)

// Compute returns the delta that turns previous into current, diffing at
// most maxDepth levels. A non-positive maxDepth uses DefaultMaxDepth.
func Compute(current, previous map[string]any, maxDepth int) (map[string]any, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if err := checkReserved(current, 0, maxDepth); err != nil {
		return nil, err
	}
	if err := checkReserved(previous, 0, maxDepth); err != nil {
		return nil, err
	}
	return compute(current, previous, 0, maxDepth), nil
}

func compute(current, previous map[string]any, depth, maxDepth int) map[string]any {
	out := make(map[string]any)
	var nulls, removed []string

	for k, cur := range current {
		prev, had := previous[k]
		if cur == nil {
			if !had || prev != nil {
				nulls = append(nulls, k)
			}
			continue
		}
		if had {
			cm, curIsMap := cur.(map[string]any)
			pm, prevIsMap := prev.(map[string]any)
			if curIsMap && prevIsMap && depth+1 < maxDepth {
				if sub := compute(cm, pm, depth+1, maxDepth); len(sub) > 0 {
					out[k] = sub
				}
				continue
			}
			if reflect.DeepEqual(cur, prev) {
				continue
			}
		}
		out[k] = cur
	}
	for k := range previous {
		if _, ok := current[k]; !ok {
			removed = append(removed, k)
		}
	}

	if len(removed) > 0 {
		slices.Sort(removed)
		out[RemovedKey] = removed
	}
	if len(nulls) > 0 {
		slices.Sort(nulls)
		out[NullKey] = nulls
	}
	return out
}

// Apply returns base with delta applied. base is not modified.
func Apply(base, delta map[string]any, maxDepth int) (map[string]any, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return apply(base, delta, 0, maxDepth)
}

func apply(base, delta map[string]any, depth, maxDepth int) (map[string]any, error) {
	out := make(map[string]any, len(base)+len(delta))
	for k, v := range base {
		out[k] = v
	}

	removed, err := markerKeys(delta, RemovedKey)
	if err != nil {
		return nil, err
	}
	for _, k := range removed {
		delete(out, k)
	}
	nulls, err := markerKeys(delta, NullKey)
	if err != nil {
		return nil, err
	}
	for _, k := range nulls {
		out[k] = nil
	}

	for k, v := range delta {
		if k == RemovedKey || k == NullKey {
			continue
		}
		dm, deltaIsMap := v.(map[string]any)
		bm, baseIsMap := out[k].(map[string]any)
		if deltaIsMap && baseIsMap && depth+1 < maxDepth {
			merged, err := apply(bm, dm, depth+1, maxDepth)
			if err != nil {
				return nil, fmt.Errorf("delta: key %q: %w", k, err)
			}
			out[k] = merged
			continue
		}
		out[k] = v
	}
	return out, nil
}

func markerKeys(delta map[string]any, marker string) ([]string, error) {
	raw, ok := delta[marker]
	if !ok {
		return nil, nil
	}
	switch keys := raw.(type) {
	case []string:
		return keys, nil
	case []any:
		out := make([]string, 0, len(keys))
		for _, k := range keys {
			s, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("delta: %s entry %v is not a string", marker, k)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("delta: %s has type %T", marker, raw)
}

func checkReserved(m map[string]any, depth, maxDepth int) error {
	for k, v := range m {
		if k == RemovedKey || k == NullKey {
			return ErrReservedKey
		}
		if sub, ok := v.(map[string]any); ok && depth+1 < maxDepth {
			if err := checkReserved(sub, depth+1, maxDepth); err != nil {
				return err
			}
		}
	}
	return nil
}

// IsEmpty reports whether a delta carries no changes.
func IsEmpty(delta map[string]any) bool {
	return len(delta) == 0
}
