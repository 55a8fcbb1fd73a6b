package watch

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"

	"github.com/rcwatch/rcwatch/internal/rules"
)

// DefaultTemplate is used when a registration carries no output template.
const DefaultTemplate = "[[${title}]] by ${user}: ${comment}"

var placeholderPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Render substitutes every ${path} in template with the value found at that
// '/'-separated path in record. Unresolved paths render as "".
func Render(template string, record any) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(m string) string {
		v, err := rules.Lookup(m[2:len(m)-1], record)
		if err != nil {
			return ""
		}
		return rules.Text(v)
	})
}

// FormatNotification builds the message posted for a matching watch.
func FormatNotification(name, text string) string {
	if text == "" {
		return "[watch] " + name
	}
	return "[watch] " + name + " - " + text
}

// UnescapeUnicode replaces literal \uXXXX sequences left in the string values
// of a decoded record. Surrogate pairs combine into one character. Objects and
// arrays are rewritten in place.
func UnescapeUnicode(v any) any {
	switch t := v.(type) {
	case string:
		return unescapeString(t)
	case []any:
		for i := range t {
			t[i] = UnescapeUnicode(t[i])
		}
		return t
	case map[string]any:
		for k, val := range t {
			t[k] = UnescapeUnicode(val)
		}
		return t
	default:
		return v
	}
}

func unescapeString(s string) string {
	if !strings.Contains(s, `\u`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, ok := hexEscape(s, i)
		if !ok {
			b.WriteByte(s[i])
			i++
			continue
		}
		if utf16.IsSurrogate(r) {
			if low, ok := hexEscape(s, i+6); ok {
				if c := utf16.DecodeRune(r, low); c != unicode.ReplacementChar {
					b.WriteRune(c)
					i += 12
					continue
				}
			}
		}
		b.WriteRune(r)
		i += 6
	}
	return b.String()
}

// hexEscape decodes a \uXXXX sequence starting at s[i].
func hexEscape(s string, i int) (rune, bool) {
	if i+6 > len(s) || s[i] != '\\' || s[i+1] != 'u' {
		return 0, false
	}
	n, err := strconv.ParseUint(s[i+2:i+6], 16, 32)
	if err != nil {
		return 0, false
	}
	return rune(n), true
}
