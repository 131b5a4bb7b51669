// Package convert normalizes persisted field values so they can be compared
// regardless of how they were produced. Values written in memory keep their
// Go types while values read back from storage arrive as JSON numbers and
// strings, and sort keys must order both the same way.
//
// Example:
//
//	convert.Compare(int32(3), 2.5)          // 1
//	convert.Compare("apple", "banana")      // -1
//	convert.Compare(nil, 0)                 // -1 (nil sorts first)
package convert

import (
	"strconv"
)

// ToFloat64 converts numeric values and numeric strings to float64.
// Returns (value, true) on success, (0, false) on failure.
//
// Example:
//
//	f, ok := ToFloat64(42)      // (42.0, true)
//	f, ok := ToFloat64("1e-3")  // (0.001, true)
//	f, ok := ToFloat64("hello") // (0, false)
func ToFloat64(v any) (float64, bool) {
	if f, ok := number(v); ok {
		return f, true
	}
	if s, ok := v.(string); ok {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// ToInt64 converts numeric values and integer strings to int64. Floats are
// truncated toward zero.
func ToInt64(v any) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	case int32:
		return int64(val), true
	case uint:
		return int64(val), true
	case uint32:
		return int64(val), true
	case uint64:
		return int64(val), true
	case float64:
		return int64(val), true
	case float32:
		return int64(val), true
	case string:
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return int64(f), true
		}
	}
	return 0, false
}

// number accepts only Go numeric types; strings are not numbers here.
func number(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case int16:
		return float64(val), true
	case int8:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint64:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint8:
		return float64(val), true
	}
	return 0, false
}
