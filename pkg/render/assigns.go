package render

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Assigns is the mutable, JSON-serializable state of a session's view.
// Values are expected to be JSON compatible: nil, bool, numbers, string,
// []any and map[string]any.
type Assigns map[string]any

// Clone returns a deep copy of the assigns. Nested maps and slices are
// copied so that a handler mutating the clone never reaches the original.
func (a Assigns) Clone() Assigns {
	if a == nil {
		return Assigns{}
	}
	c := make(Assigns, len(a))
	for k, v := range a {
		c[k] = cloneValue(v)
	}
	return c
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, v := range t {
			m[k] = cloneValue(v)
		}
		return m
	case Assigns:
		return t.Clone()
	case []any:
		s := make([]any, len(t))
		for i, v := range t {
			s[i] = cloneValue(v)
		}
		return s
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// Int returns the value under key as an int. Numbers decoded from JSON
// (float64 or json.Number) are accepted when they hold a whole value.
func (a Assigns) Int(key string) (int, bool) {
	return toInt(a[key])
}

// IntOr returns the value under key as an int, or def when absent.
func (a Assigns) IntOr(key string, def int) int {
	if n, ok := a.Int(key); ok {
		return n
	}
	return def
}

// String returns the value under key formatted as text.
func (a Assigns) String(key string) string {
	return Format(a[key])
}

// Bool returns the value under key as a bool.
func (a Assigns) Bool(key string) bool {
	b, _ := a[key].(bool)
	return b
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// Format renders an assigns value as placeholder text. nil renders empty.
func Format(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case fmt.Stringer:
		return t.String()
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}
