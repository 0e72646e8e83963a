package document

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// MaxUint32 bounds the values accepted by CollapseUint32 and EnsureValidDate.
const MaxUint32 = math.MaxUint32

// Unicodify renders a value as a string. Objects and arrays are rendered as
// JSON. It returns false only for nil.
func Unicodify(v interface{}) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case bool:
		return strconv.FormatBool(x), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case []byte:
		return string(x), true
	case Object, []interface{}:
		b, err := Marshal(x)
		if err != nil {
			return "", false
		}
		return string(b), true
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}

// NullableString is Unicodify for nullable columns: nil stays nil.
func NullableString(v interface{}) interface{} {
	if s, ok := Unicodify(v); ok {
		return s
	}
	return nil
}

// IsScalar reports whether a value can be stored as a single string cell.
func IsScalar(v interface{}) bool {
	switch v.(type) {
	case string, json.Number, bool, int, int64, uint64, float64:
		return true
	default:
		return false
	}
}

// Boolify interprets a value as a boolean. Unrecognised values report false
// in the second result.
func Boolify(v interface{}) (bool, bool) {
	switch x := v.(type) {
	case nil:
		return false, false
	case bool:
		return x, true
	}
	s, ok := Unicodify(v)
	if !ok {
		return false, false
	}
	switch strings.ToLower(s) {
	case "yes", "true", "1":
		return true, true
	case "no", "false", "0":
		return false, true
	default:
		return false, false
	}
}

// NullableBool is Boolify for nullable columns.
func NullableBool(v interface{}) interface{} {
	if b, ok := Boolify(v); ok {
		if b {
			return uint8(1)
		}
		return uint8(0)
	}
	return nil
}

// CollapseUint32 returns the value as a uint32 when it is a number within
// [0, MaxUint32]. Fractions are truncated; strings and containers are
// rejected.
func CollapseUint32(v interface{}) (uint32, bool) {
	var f float64
	switch x := v.(type) {
	case json.Number:
		n, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint32:
		return x, true
	case uint64:
		if x > MaxUint32 {
			return 0, false
		}
		return uint32(x), true
	case float64:
		f = x
	default:
		return 0, false
	}
	if math.IsNaN(f) || f < 0 || f > MaxUint32 {
		return 0, false
	}
	return uint32(f), true
}

// NullableUint32 is CollapseUint32 for nullable columns.
func NullableUint32(v interface{}) interface{} {
	if n, ok := CollapseUint32(v); ok {
		return n
	}
	return nil
}

// EnsureValidDate accepts t only when its unix time fits in a uint32.
func EnsureValidDate(t time.Time) (time.Time, bool) {
	secs := t.Unix()
	if secs < 0 || secs > MaxUint32 {
		return time.Time{}, false
	}
	return t, true
}

// AsDictSafe converts any value into an Object without failing. Objects are
// returned as is; arrays of [key, value] pairs are folded into an object,
// skipping entries that are not pairs or whose key is not a scalar. Every
// other input, including nil, yields an empty Object.
func AsDictSafe(v interface{}) Object {
	switch x := v.(type) {
	case Object:
		return x
	case []interface{}:
		out := Object{}
		for _, item := range x {
			pair, ok := item.([]interface{})
			if !ok || len(pair) != 2 || !IsScalar(pair[0]) {
				continue
			}
			key, _ := Unicodify(pair[0])
			out.Set(key, pair[1])
		}
		return out
	default:
		return Object{}
	}
}

// AsScalarDict is AsDictSafe restricted to entries whose value is a scalar.
// Nil values and nested containers are dropped.
func AsScalarDict(v interface{}) Object {
	in := AsDictSafe(v)
	out := make(Object, 0, len(in))
	for _, f := range in {
		if IsScalar(f.Value) {
			out = append(out, f)
		}
	}
	return out
}
