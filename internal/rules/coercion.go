// internal/rules/coercion.go
package rules

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rcwatch/rcwatch/internal/types"
)

/*
 * Value coercion for rule evaluation and template rendering.
 *
 * Values flowing through an evaluation are the decoded JSON kinds (nil, bool,
 * float64, string, map[string]any, []any) plus *regexp.Regexp for regex
 * literals.
 *
 * Truthiness: nil and false are false, everything else (0 and "" included)
 * is true.
 *
 * Numeric operands are strict: strings are not parsed as numbers, so
 * (< "5" 10) fails and evaluates to false rather than guessing.
 */

// Truthy reports whether v counts as true in a boolean position.
func Truthy(v any) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	default:
		return true
	}
}

// asNumber returns v as float64 or ErrTypeMismatch.
func asNumber(v any) (float64, error) {
	if n, ok := toFloat64(v); ok {
		return n, nil
	}
	return 0, types.ErrTypeMismatch
}

// sizeOf returns the length of a string (in characters) or a collection.
func sizeOf(v any) (int, error) {
	switch c := v.(type) {
	case string:
		return utf8.RuneCountInString(c), nil
	case []any:
		return len(c), nil
	case map[string]any:
		return len(c), nil
	default:
		return 0, types.ErrTypeMismatch
	}
}

// Text converts all value kinds to their textual representation, the way an
// event value is shown in a notification. nil renders as "".
func Text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		if t {
			return "true"
		}
		return "false"
	case *regexp.Regexp:
		return "/" + t.String() + "/"
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// parseDecimal interprets a decimal token: leading minus signs each negate,
// underscores are separators.
func parseDecimal(text string) (float64, error) {
	neg := false
	for strings.HasPrefix(text, "-") {
		neg = !neg
		text = text[1:]
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(text, "_", ""), 64)
	if err != nil {
		return 0, err
	}
	if neg {
		f = -f
	}
	return f, nil
}

// parseHex interprets a hexadecimal token such as -0x_dead_beef.
func parseHex(text string) (float64, error) {
	neg := false
	for strings.HasPrefix(text, "-") {
		neg = !neg
		text = text[1:]
	}
	u, err := strconv.ParseUint(strings.ReplaceAll(strings.TrimPrefix(text, "0x"), "_", ""), 16, 64)
	if err != nil {
		return 0, err
	}
	f := float64(u)
	if neg {
		f = -f
	}
	return f, nil
}
