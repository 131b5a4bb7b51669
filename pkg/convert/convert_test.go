package convert

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestToFloat64(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected float64
		ok       bool
	}{
		{"float64", 3.14, 3.14, true},
		{"float32", float32(2.5), 2.5, true},
		{"int", 42, 42.0, true},
		{"int64", int64(99), 99.0, true},
		{"uint8", uint8(7), 7.0, true},
		{"string decimal", "3.14", 3.14, true},
		{"string scientific", "1.5e-3", 0.0015, true},
		{"string invalid", "hello", 0, false},
		{"nil", nil, 0, false},
		{"bool", true, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToFloat64(tt.input)
			assert.Equal(t, tt.ok, ok, "ok mismatch")
			if ok {
				assert.InDelta(t, tt.expected, got, 0.0001, "value mismatch")
			}
		})
	}
}

func TestToInt64(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected int64
		ok       bool
	}{
		{"int64", int64(5), 5, true},
		{"float truncates", 3.7, 3, true},
		{"string int", "123", 123, true},
		{"string float", "12.9", 12, true},
		{"string invalid", "x", 0, false},
		{"nil", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToInt64(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestCompare(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		a, b any
		want int
	}{
		{"nil nil", nil, nil, 0},
		{"nil first", nil, 0, -1},
		{"nil last", "a", nil, 1},
		{"mixed numeric types", int32(3), 2.5, 1},
		{"json float vs int", float64(2), 2, 0},
		{"strings", "apple", "banana", -1},
		{"numeric strings stay strings", "10", "9", -1},
		{"bools", false, true, -1},
		{"times", now, now.Add(time.Second), -1},
		{"numbers before strings", 10, "9", -1},
		{"numbers before numeric strings", 9, "9", -1},
		{"strings before bools", "z", false, -1},
		{"bools before times", true, now, -1},
		{"times before other kinds", now, []int{1}, -1},
		{"other kinds by type name", []int{1}, struct{}{}, -1},
		{"other kinds by text", []int{1}, []int{2}, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.a, tt.b))
			assert.Equal(t, -tt.want, Compare(tt.b, tt.a), "antisymmetric")
		})
	}
}

func TestCompare_MixedKindsSortConsistently(t *testing.T) {
	values := []any{"9", true, 10, nil, "10", 9.5, false}
	slices.SortFunc(values, Compare)
	assert.Equal(t, []any{nil, 9.5, 10, "10", "9", false, true}, values)
}

func BenchmarkCompare_Numbers(b *testing.B) {
	for i := 0; i < b.N; i++ {
		Compare(i, 42.0)
	}
}
