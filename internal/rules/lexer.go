// internal/rules/lexer.go
package rules

import (
	"fmt"
	"strings"

	"github.com/rcwatch/rcwatch/internal/types"
)

/*
 * Lexer for the rule language.
 *
 * Turns rule source text into a flat token sequence. Lexemes are tried in a
 * fixed priority order at the current position; the first one that matches
 * wins. Most lexemes must end on a boundary (whitespace, a parenthesis, or end
 * of input) so that "12abc" is rejected instead of splitting into "12" "abc".
 *
 * Priority:
 *   whitespace (skipped), truth, decimal, hex, string, regex, field,
 *   '(' ')' ':', identifier
 *
 * Field references may also end right before ':' so that "title:foo" lexes
 * as field, colon, field. The parser turns that into (LIKE title "foo").
 *
 * Ambiguity: "/" opens a regex, but "(/ a b)" is a division. Directly after
 * '(' a lone "/" followed by a boundary is lexed as the function name.
 */

// TokenKind classifies a token.
type TokenKind int

const (
	TokenTruth TokenKind = iota + 1
	TokenDecimal
	TokenHex
	TokenString
	TokenRegex
	TokenField
	TokenOpenParen
	TokenCloseParen
	TokenColon
	TokenIdent
)

var tokenKindNames = map[TokenKind]string{
	TokenTruth:      "truth",
	TokenDecimal:    "decimal",
	TokenHex:        "hex",
	TokenString:     "string",
	TokenRegex:      "regex",
	TokenField:      "field",
	TokenOpenParen:  "open-paren",
	TokenCloseParen: "close-paren",
	TokenColon:      "colon",
	TokenIdent:      "identifier",
}

func (k TokenKind) String() string {
	if name, ok := tokenKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("TokenKind(%d)", int(k))
}

// Token is one lexeme of rule source text. Text is the exact source slice,
// quotes and regex delimiters included.
type Token struct {
	Kind TokenKind
	Text string
}

func (t Token) String() string {
	return fmt.Sprintf("‹%s›(%s)", t.Text, t.Kind)
}

// TokenError reports the non-space run at which no lexeme matched.
type TokenError struct {
	Text string
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("unrecognized token ‹%s›", e.Text)
}

func (e *TokenError) Unwrap() error {
	return types.ErrUnrecognizedToken
}

// Tokenize splits input into tokens.
// Returns *TokenError (wrapping ErrUnrecognizedToken) when no lexeme matches.
func Tokenize(input string) ([]Token, error) {
	if i := strings.IndexByte(input, 0); i >= 0 {
		return nil, &TokenError{Text: strings.ReplaceAll(firstField(input[i:]), "\x00", `\0`)}
	}

	var tokens []Token
	pos := 0
	for pos < len(input) {
		rest := input[pos:]
		if n := scanSpace(rest); n > 0 {
			pos += n
			continue
		}

		afterParen := len(tokens) > 0 && tokens[len(tokens)-1].Kind == TokenOpenParen
		kind, n := scanToken(rest, afterParen)
		if n == 0 {
			return nil, &TokenError{Text: firstField(rest)}
		}
		tokens = append(tokens, Token{Kind: kind, Text: rest[:n]})
		pos += n
	}
	return tokens, nil
}

// scanToken returns the kind and byte length of the lexeme at the start of s,
// or length 0 if nothing matches.
func scanToken(s string, afterParen bool) (TokenKind, int) {
	if n := scanTruth(s); n > 0 {
		return TokenTruth, n
	}
	if n := scanDecimal(s); n > 0 {
		return TokenDecimal, n
	}
	if n := scanHex(s); n > 0 {
		return TokenHex, n
	}
	if n := scanString(s); n > 0 {
		return TokenString, n
	}
	if afterParen && s[0] == '/' && boundaryAt(s, 1) {
		return TokenIdent, 1
	}
	if n := scanRegex(s); n > 0 {
		return TokenRegex, n
	}
	if n := scanField(s); n > 0 {
		return TokenField, n
	}
	switch s[0] {
	case '(':
		return TokenOpenParen, 1
	case ')':
		return TokenCloseParen, 1
	case ':':
		return TokenColon, 1
	}
	if n := scanIdent(s); n > 0 {
		return TokenIdent, n
	}
	return 0, 0
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	}
	return false
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isLower(c byte) bool { return c >= 'a' && c <= 'z' }

func isLetter(c byte) bool { return isLower(c) || (c >= 'A' && c <= 'Z') }

func isWord(c byte) bool { return isLetter(c) || isDigit(c) || c == '_' }

// boundaryAt reports whether position i of s ends a lexeme.
func boundaryAt(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	c := s[i]
	return isSpace(c) || c == '(' || c == ')'
}

func scanSpace(s string) int {
	i := 0
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	return i
}

// firstField returns the leading run of non-space bytes, used in error messages.
func firstField(s string) string {
	i := 0
	for i < len(s) && !isSpace(s[i]) {
		i++
	}
	return s[:i]
}

func scanTruth(s string) int {
	if len(s) >= 2 && s[0] == '#' && (s[1] == 't' || s[1] == 'f') && boundaryAt(s, 2) {
		return 2
	}
	return 0
}

// scanMinus skips the optional run of leading minus signs.
func scanMinus(s string) int {
	i := 0
	for i < len(s) && s[i] == '-' {
		i++
	}
	return i
}

// scanDigits consumes [0-9_]* and reports whether at least one digit was seen.
func scanDigits(s string, i int) (int, bool) {
	digit := false
	for i < len(s) && (isDigit(s[i]) || s[i] == '_') {
		if s[i] != '_' {
			digit = true
		}
		i++
	}
	return i, digit
}

func scanDecimal(s string) int {
	start := scanMinus(s)
	i, ok := scanDigits(s, start)
	if !ok || i == start {
		return 0
	}
	if i < len(s) && s[i] == '.' {
		j, _ := scanDigits(s, i+1)
		if j > i+1 {
			i = j
		}
	}
	if !boundaryAt(s, i) {
		return 0
	}
	return i
}

func scanHex(s string) int {
	i := scanMinus(s)
	if !strings.HasPrefix(s[i:], "0x") {
		return 0
	}
	i += 2
	digits := false
	for i < len(s) && (isDigit(s[i]) || (s[i] >= 'a' && s[i] <= 'f') || s[i] == '_') {
		if s[i] != '_' {
			digits = true
		}
		i++
	}
	if !digits || !boundaryAt(s, i) {
		return 0
	}
	return i
}

// scanDelimited consumes a delim-enclosed run in which backslash escapes the
// next byte. Returns 0 if the closing delimiter is missing.
func scanDelimited(s string, delim byte) int {
	if len(s) == 0 || s[0] != delim {
		return 0
	}
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case delim:
			return i + 1
		}
	}
	return 0
}

func scanString(s string) int {
	return scanDelimited(s, '"')
}

func scanRegex(s string) int {
	i := scanDelimited(s, '/')
	if i == 0 {
		return 0
	}
	for i < len(s) && isLetter(s[i]) {
		i++
	}
	if !boundaryAt(s, i) {
		return 0
	}
	return i
}

func isFieldChar(c byte) bool {
	return isLower(c) || isDigit(c) || c == '_' || c == '/' || c == '-'
}

// scanField matches [a-z][a-z0-9_/-]* not ending in '-' or '/'. Because every
// field byte is a non-boundary, only the maximal run can be followed by a
// boundary or ':', so no shorter candidate needs to be tried.
func scanField(s string) int {
	if !isLower(s[0]) {
		return 0
	}
	i := 1
	for i < len(s) && isFieldChar(s[i]) {
		i++
	}
	if last := s[i-1]; last == '-' || last == '/' {
		return 0
	}
	if i < len(s) && s[i] == ':' {
		return i
	}
	if !boundaryAt(s, i) {
		return 0
	}
	return i
}

func isIdentChar(c byte) bool {
	switch c {
	case '"', '/', '.', '(', ')', ':', 0:
		return false
	}
	return !isSpace(c)
}

func isSymbolChar(c byte) bool {
	switch c {
	case '"', '(', ')', 0:
		return false
	}
	return !isSpace(c) && !isWord(c)
}

// scanIdent matches function names: either a run not starting with a digit
// (AND, EMPTY?, >=) or a pure punctuation run (/, ..).
func scanIdent(s string) int {
	if !isDigit(s[0]) {
		i := 0
		for i < len(s) && isIdentChar(s[i]) {
			i++
		}
		if i > 0 && boundaryAt(s, i) {
			return i
		}
	}
	i := 0
	for i < len(s) && isSymbolChar(s[i]) {
		i++
	}
	if i > 0 && boundaryAt(s, i) {
		return i
	}
	return 0
}
