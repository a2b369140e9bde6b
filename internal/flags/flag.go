package flags

import (
	"math"
	"strconv"
	"strings"
)

// Flag is a single entry of a category. A scalar only has Key set, a pair also
// carries Value: int64, float64 or string for defines (NAME=VALUE), string
// for option pairs such as "-include <path>".
type Flag struct {
	Key   string
	Value any
}

// Scalar creates a flag without a value
func Scalar(key string) Flag { return Flag{Key: key} }

// Pair creates a flag with a value
func Pair(key string, value any) Flag { return Flag{Key: key, Value: value} }

func (f Flag) IsPair() bool { return f.Value != nil }

// Equal reports exact equality, both key and value
func (f Flag) Equal(o Flag) bool {
	if f.Key != o.Key || f.IsPair() != o.IsPair() {
		return false
	}
	return !f.IsPair() || f.Value == o.Value
}

// ValueString renders the value part of a pair
func (f Flag) ValueString() string {
	switch v := f.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return formatFloat(v)
	default:
		return ""
	}
}

// String renders the flag as it was written: "key" or "key value"
func (f Flag) String() string {
	if !f.IsPair() {
		return f.Key
	}
	return f.Key + " " + f.ValueString()
}

// Args renders the flag as separate argv elements
func (f Flag) Args() []string {
	if !f.IsPair() {
		return []string{f.Key}
	}
	return []string{f.Key, f.ValueString()}
}

// DefineString renders a define as NAME or NAME=VALUE
func (f Flag) DefineString() string {
	if !f.IsPair() {
		return f.Key
	}
	return f.Key + "=" + f.ValueString()
}

// formatFloat keeps a decimal point so that 1.0 stays a floating literal
func formatFloat(v float64) string {
	abs := math.Abs(v)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// normalizeDefineValue applies the value rules of -DNAME=VALUE, first match
// wins: quoted values get their quotes escaped, digit strings become int64,
// digit strings with a single dot become float64, anything else stays a string
func normalizeDefineValue(value string) any {
	if strings.Contains(value, `"`) {
		return strings.ReplaceAll(value, `"`, `\"`)
	}
	if isDigits(value) {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
		return value
	}
	if isDigits(strings.Replace(value, ".", "", 1)) {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return value
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
