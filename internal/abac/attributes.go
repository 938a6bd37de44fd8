package abac

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Attributes is one bundle of named values. A nil bundle is valid and empty.
type Attributes map[string]any

// EvaluationContext carries the four attribute bundles a policy reads.
type EvaluationContext struct {
	User        Attributes `json:"user,omitempty"`
	Resource    Attributes `json:"resource,omitempty"`
	Environment Attributes `json:"environment,omitempty"`
	Action      Attributes `json:"action,omitempty"`
	// Now is the evaluation instant. Zero means the evaluator clock.
	Now time.Time `json:"-"`
}

// Lookup returns the raw value stored under key. Explicit nil counts as absent.
func (a Attributes) Lookup(key string) (any, bool) {
	if a == nil {
		return nil, false
	}
	v, ok := a[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Has reports whether key carries a non-nil value.
func (a Attributes) Has(key string) bool {
	_, ok := a.Lookup(key)
	return ok
}

// Int64 returns key as an integer. Strings holding digits and integral floats are
// accepted; anything else is a type error.
func (a Attributes) Int64(key string) (int64, bool, error) {
	v, ok := a.Lookup(key)
	if !ok {
		return 0, false, nil
	}
	n, err := toInt64(v)
	if err != nil {
		return 0, true, fmt.Errorf("attribute %s: %w", key, err)
	}
	return n, true, nil
}

// Bool returns key as a boolean.
func (a Attributes) Bool(key string) (bool, bool, error) {
	v, ok := a.Lookup(key)
	if !ok {
		return false, false, nil
	}
	switch t := v.(type) {
	case bool:
		return t, true, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, true, fmt.Errorf("attribute %s: %w", key, err)
		}
		return b, true, nil
	default:
		return false, true, fmt.Errorf("attribute %s: unsupported bool type %T", key, v)
	}
}

// String returns key as a string.
func (a Attributes) String(key string) (string, bool, error) {
	v, ok := a.Lookup(key)
	if !ok {
		return "", false, nil
	}
	switch t := v.(type) {
	case string:
		return t, true, nil
	case fmt.Stringer:
		return t.String(), true, nil
	default:
		return "", true, fmt.Errorf("attribute %s: unsupported string type %T", key, v)
	}
}

// Time returns key as an instant. RFC 3339 strings are parsed.
func (a Attributes) Time(key string) (time.Time, bool, error) {
	v, ok := a.Lookup(key)
	if !ok {
		return time.Time{}, false, nil
	}
	switch t := v.(type) {
	case time.Time:
		return t, true, nil
	case *time.Time:
		if t == nil {
			return time.Time{}, false, nil
		}
		return *t, true, nil
	case string:
		parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(t))
		if err != nil {
			return time.Time{}, true, fmt.Errorf("attribute %s: %w", key, err)
		}
		return parsed, true, nil
	default:
		return time.Time{}, true, fmt.Errorf("attribute %s: unsupported time type %T", key, v)
	}
}

// Int64Set returns key as a set of integers. Slices of any numeric element type and
// map-backed sets are accepted.
func (a Attributes) Int64Set(key string) (map[int64]struct{}, bool, error) {
	v, ok := a.Lookup(key)
	if !ok {
		return nil, false, nil
	}
	set := make(map[int64]struct{})
	add := func(item any) error {
		n, err := toInt64(item)
		if err != nil {
			return fmt.Errorf("attribute %s: %w", key, err)
		}
		set[n] = struct{}{}
		return nil
	}
	switch t := v.(type) {
	case []int64:
		for _, n := range t {
			set[n] = struct{}{}
		}
	case []int:
		for _, n := range t {
			set[int64(n)] = struct{}{}
		}
	case map[int64]struct{}:
		for n := range t {
			set[n] = struct{}{}
		}
	case map[int64]bool:
		for n, in := range t {
			if in {
				set[n] = struct{}{}
			}
		}
	case []any:
		for _, item := range t {
			if err := add(item); err != nil {
				return nil, true, err
			}
		}
	default:
		return nil, true, fmt.Errorf("attribute %s: unsupported set type %T", key, v)
	}
	return set, true, nil
}

func toInt64(v any) (int64, error) {
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case uint:
		return uintToInt64(uint64(t))
	case uint32:
		return int64(t), nil
	case uint64:
		return uintToInt64(t)
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) {
			return 0, fmt.Errorf("non-integral number %v", t)
		}
		// 2^63 is exactly representable; anything at or beyond it has no int64 value.
		if t >= 1<<63 || t < -(1<<63) {
			return 0, fmt.Errorf("number %v out of int64 range", t)
		}
		return int64(t), nil
	case json.Number:
		return t.Int64()
	case string:
		return strconv.ParseInt(strings.TrimSpace(t), 10, 64)
	default:
		return 0, fmt.Errorf("unsupported integer type %T", v)
	}
}

func uintToInt64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("number %d out of int64 range", v)
	}
	return int64(v), nil
}
