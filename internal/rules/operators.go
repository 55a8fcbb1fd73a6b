// internal/rules/operators.go
package rules

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/rcwatch/rcwatch/internal/types"
)

/*
 * Comparison logic shared by =, !=, <, <=, >, >= and LIKE.
 *
 * Equality never fails: values of different kinds are simply unequal, numbers
 * compare numerically across int/float representations, regex literals are
 * equal when their source and flags are. Ordering is defined for number pairs
 * and string pairs only; any other pair is ErrTypeMismatch, which the
 * enclosing call turns into false.
 *
 * LIKE compares one pair at a time: if exactly one side is a regex, the other
 * side must be a string matching it; otherwise the pair is compared with
 * equality.
 */

// compareEqual performs equality comparison with numeric type coercion.
func compareEqual(a, b any) bool {
	if na, nb, ok := asNumbers(a, b); ok {
		return na == nb
	}
	switch av := a.(type) {
	case nil:
		return b == nil
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case *regexp.Regexp:
		bv, ok := b.(*regexp.Regexp)
		return ok && av.String() == bv.String()
	case map[string]any, []any:
		return reflect.DeepEqual(a, b)
	default:
		return false
	}
}

// compareOrder performs three-way comparison (-1/0/1) of two numbers or two
// strings. Returns ErrTypeMismatch for any other pair.
func compareOrder(a, b any) (int, error) {
	if na, nb, ok := asNumbers(a, b); ok {
		switch {
		case na < nb:
			return -1, nil
		case na > nb:
			return 1, nil
		default:
			return 0, nil
		}
	}
	as, ok1 := a.(string)
	bs, ok2 := b.(string)
	if ok1 && ok2 {
		return strings.Compare(as, bs), nil
	}
	return 0, types.ErrTypeMismatch
}

// compareLike compares one LIKE pair.
func compareLike(a, b any) bool {
	ra, aIsRegex := a.(*regexp.Regexp)
	rb, bIsRegex := b.(*regexp.Regexp)
	switch {
	case aIsRegex && !bIsRegex:
		s, ok := b.(string)
		return ok && ra.MatchString(s)
	case bIsRegex && !aIsRegex:
		s, ok := a.(string)
		return ok && rb.MatchString(s)
	default:
		return compareEqual(a, b)
	}
}

// asNumbers attempts to convert both values to float64 for numeric comparison.
func asNumbers(a, b any) (float64, float64, bool) {
	na, oka := toFloat64(a)
	nb, okb := toFloat64(b)
	return na, nb, oka && okb
}

// toFloat64 converts value to float64 if it's a numeric type.
// Handles float64 from JSON decoding and int/int64 from Go callers.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
