// Package toolargs holds the decoded arguments of a model tool call with
// lenient typed accessors: models send numbers as strings and vice versa.
package toolargs

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Args is a tool call's argument object.
type Args map[string]any

// Parse decodes a JSON object. Empty input yields empty Args.
func Parse(raw string) (Args, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return Args{}, nil
	}
	var a Args
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, fmt.Errorf("decode tool arguments: %w", err)
	}
	if a == nil {
		a = Args{}
	}
	return a, nil
}

// JSON encodes the arguments.
func (a Args) JSON() string {
	b, err := json.Marshal(a)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func (a Args) Clone() Args {
	out := make(Args, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Has reports whether key is present with a non-null value.
func (a Args) Has(key string) bool {
	v, ok := a[key]
	return ok && v != nil
}

func (a Args) Set(key string, v any) { a[key] = v }

func (a Args) Delete(keys ...string) {
	for _, k := range keys {
		delete(a, k)
	}
}

// Int returns an integer value; numeric strings are accepted.
func (a Args) Int(key string) (int, bool) {
	return toInt(a[key])
}

// IntOr returns Int or def when absent or not numeric.
func (a Args) IntOr(key string, def int) int {
	if n, ok := a.Int(key); ok {
		return n
	}
	return def
}

// Float returns a floating point value; numeric strings are accepted.
func (a Args) Float(key string) (float64, bool) {
	switch v := a[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

// Str returns the value rendered as text; numbers are formatted without a
// fractional part when integral.
func (a Args) Str(key string) string {
	switch v := a[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		if v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	case json.Number:
		return v.String()
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// IsList reports whether the value carries several items: a JSON array or
// a comma separated string.
func (a Args) IsList(key string) bool {
	switch v := a[key].(type) {
	case []any:
		return len(v) > 1
	case string:
		return strings.Contains(v, ",")
	}
	return false
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			return int(f), ferr == nil
		}
		return int(i), true
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.Atoi(s); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int(f), true
		}
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
