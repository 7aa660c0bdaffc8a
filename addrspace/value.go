package addrspace

import (
	"encoding/json"
	"math"
)

// DefaultColor is published for color arguments without a value.
const DefaultColor = "#FFFFFFFF"

// EffectiveValue returns the value the encoder publishes for arg: its own
// value when set, a generated default otherwise.
func EffectiveValue(arg Argument) any {
	if arg.Value != nil {
		return arg.Value
	}
	return defaultValue(arg.Type, arg.Range)
}

// defaultValue picks a plausible value for t. Numbers prefer the range
// minimum, then maximum, then the first enumerated value; strings prefer the
// first enumerated value. Types without a payload default to nil.
func defaultValue(t Type, r *Range) any {
	if t.IsArray() {
		out := make([]any, len(t.elems))
		for i, elem := range t.elems {
			var er *Range
			if r != nil && i < len(r.Elems) {
				er = r.Elems[i]
			}
			out[i] = defaultValue(elem, er)
		}
		return out
	}
	switch t.tag {
	case TagInt32, TagInt64, TagTimeTag:
		if v, ok := rangeNumber(r); ok {
			return int64(v)
		}
		return int64(1)
	case TagFloat32, TagFloat64:
		if v, ok := rangeNumber(r); ok {
			return v
		}
		return float64(1)
	case TagString, TagAltString, TagChar:
		if r != nil && len(r.Vals) > 0 {
			return r.Vals[0]
		}
		return "a"
	case TagColor:
		return DefaultColor
	case TagTrue:
		return true
	case TagFalse:
		return false
	}
	return nil
}

func rangeNumber(r *Range) (float64, bool) {
	if r == nil {
		return 0, false
	}
	if r.Min != nil {
		return *r.Min, true
	}
	if r.Max != nil {
		return *r.Max, true
	}
	if len(r.Vals) > 0 {
		return toFloat(r.Vals[0])
	}
	return 0, false
}

// CoerceValue converts a decoded JSON or YAML value to the Go type matching t.
// Values that do not fit t are returned unchanged.
func CoerceValue(t Type, v any) any {
	if v == nil {
		return nil
	}
	if t.IsArray() {
		items, ok := v.([]any)
		if !ok {
			return v
		}
		out := make([]any, len(items))
		for i, item := range items {
			if i < len(t.elems) {
				out[i] = CoerceValue(t.elems[i], item)
			} else {
				out[i] = item
			}
		}
		return out
	}
	switch t.tag {
	case TagInt32, TagInt64, TagTimeTag:
		if f, ok := toFloat(v); ok && f == math.Trunc(f) {
			return int64(f)
		}
	case TagFloat32, TagFloat64:
		if f, ok := toFloat(v); ok {
			return f
		}
	}
	return v
}

// coerceRange converts enumerated range values to the Go type matching t,
// recursing into per-element ranges of array types.
func coerceRange(t Type, r *Range) {
	if r == nil {
		return
	}
	for i, v := range r.Vals {
		r.Vals[i] = CoerceValue(t, v)
	}
	for i, elem := range r.Elems {
		if i < len(t.elems) {
			coerceRange(t.elems[i], elem)
		}
	}
}

func coerceArguments(args []Argument) {
	for i := range args {
		coerceRange(args[i].Type, args[i].Range)
		args[i].Value = CoerceValue(args[i].Type, args[i].Value)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
