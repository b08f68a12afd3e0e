package builtin

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// ToNumber coerces a sampled value to a number using the loose rules data
// feeds tend to rely on:
//   - numbers convert directly; json.Number is parsed
//   - strings are trimmed; "" is 0; decimal, hex (0x), octal (0o) and binary
//     (0b) literals parse; "Infinity" and "-Infinity" are accepted
//   - booleans are 1 and 0
//   - time.Time is its Unix millisecond timestamp
//   - nil and anything else is not a number
//
// ok is false whenever the result would be NaN.
func ToNumber(v any) (n float64, ok bool) {
	switch t := v.(type) {
	case nil:
		return math.NaN(), false
	case float64:
		return t, !math.IsNaN(t)
	case float32:
		f := float64(t)
		return f, !math.IsNaN(f)
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case json.Number:
		return parseNumber(string(t))
	case string:
		return parseNumber(t)
	case []byte:
		return parseNumber(string(t))
	case time.Time:
		return float64(t.UnixMilli()), true
	default:
		return math.NaN(), false
	}
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, true
	}
	switch s {
	case "Infinity", "+Infinity":
		return math.Inf(1), true
	case "-Infinity":
		return math.Inf(-1), true
	}
	if len(s) > 2 && s[0] == '0' {
		base := 0
		switch s[1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 0 {
			u, err := strconv.ParseUint(s[2:], base, 64)
			if err != nil {
				return math.NaN(), false
			}
			return float64(u), true
		}
	}
	// ParseFloat accepts forms ("inf", "nan", "1_000", "0x1p-2") that are
	// not plain decimal numbers.
	for _, r := range s {
		if !strings.ContainsRune("0123456789+-.eE", r) {
			return math.NaN(), false
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN(), false
	}
	return f, true
}

// SameValue is strict equality between two sampled values.
//
// Values of different dynamic types are never equal, except that numbers of
// any Go numeric type compare by numeric value. NaN is not equal to itself.
// Uncomparable values (slices, maps) are equal only when they are the same
// underlying object; arrays and structs holding them are never equal.
func SameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if isNumeric(a) && isNumeric(b) {
		x, _ := ToNumber(a)
		y, _ := ToNumber(b)
		return x == y
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	// Arrays and structs may hold uncomparable values behind interface
	// fields; == on those panics.
	if va.Comparable() && vb.Comparable() {
		return a == b
	}
	switch va.Kind() {
	case reflect.Slice, reflect.Map, reflect.Func:
		if va.IsNil() || vb.IsNil() {
			return va.IsNil() && vb.IsNil() && va.Kind() != reflect.Func
		}
		if va.Kind() == reflect.Slice && va.Len() != vb.Len() {
			return false
		}
		return va.Pointer() == vb.Pointer()
	}
	return false
}

// IndexOf returns the position of the first element of self strictly equal
// to v, or -1.
func IndexOf(self []any, v any) int {
	for i, e := range self {
		if SameValue(e, v) {
			return i
		}
	}
	return -1
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}
