package normalize

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// The upstream API renames fields between camelCase and snake_case
// variants and drops them freely. Every logical field is read through
// field() with its known alias set, and every value goes through one of
// the coercers below; missing or invalid values become absent, never a
// panic or an aborted payload.

// field returns the first present key from the alias set.
func field(m map[string]any, names ...string) (any, bool) {
	for _, name := range names {
		if v, ok := m[name]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// finiteNumber coerces v to a finite float64. Numeric strings are
// accepted; NaN and infinities are not.
func finiteNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func finiteInt(v any) (int64, bool) {
	f, ok := finiteNumber(v)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

// timeFromEpoch converts upstream epoch seconds to an absolute UTC
// time. Only strictly positive epochs are valid.
func timeFromEpoch(v any) (time.Time, bool) {
	f, ok := finiteNumber(v)
	if !ok || f <= 0 {
		return time.Time{}, false
	}
	return time.Unix(int64(f), 0).UTC(), true
}

// nonEmptyString coerces v to a trimmed non-empty string.
func nonEmptyString(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return s, true
}

// stringID canonicalizes an identifier that may arrive as a number or a
// string into its decimal string form, avoiding precision loss on the
// relational side.
func stringID(v any) (string, bool) {
	if s, ok := nonEmptyString(v); ok {
		return s, true
	}
	if f, ok := finiteNumber(v); ok {
		return strconv.FormatInt(int64(f), 10), true
	}
	return "", false
}

func boolish(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case float64:
		return b != 0, true
	case string:
		parsed, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(b)))
		if err != nil {
			return false, false
		}
		return parsed, true
	}
	return false, false
}
