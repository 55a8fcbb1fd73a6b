package types

import "errors"

// Sentinel errors for rcwatch operations.
var (
	// ErrUnrecognizedToken indicates rule text containing no known lexeme.
	ErrUnrecognizedToken = errors.New("unrecognized token")

	// ErrUnexpectedEndOfInput indicates the token stream ended inside an expression.
	ErrUnexpectedEndOfInput = errors.New("unexpected end of input")

	// ErrUnexpectedClosingParen indicates a ')' where an expression was expected.
	ErrUnexpectedClosingParen = errors.New("unexpected closing parenthesis")

	// ErrUnexpectedColon indicates a ':' not preceded by a field reference.
	ErrUnexpectedColon = errors.New("unexpected colon")

	// ErrUnknownFunction indicates a call to a name outside the function table.
	ErrUnknownFunction = errors.New("unknown function")

	// ErrUnterminatedCall indicates input exhausted before a call's ')'.
	ErrUnterminatedCall = errors.New("unterminated call")

	// ErrInvalidArity indicates a call with the wrong number of arguments.
	ErrInvalidArity = errors.New("invalid arity")

	// ErrUnexpectedToken indicates a token that cannot stand where it occurs,
	// such as a bare identifier outside a call head.
	ErrUnexpectedToken = errors.New("unexpected token")

	// ErrInvalidRegex indicates a regex literal the regexp engine rejects.
	ErrInvalidRegex = errors.New("invalid regular expression")

	// ErrExprTooDeep indicates nesting beyond MaxExprDepth.
	ErrExprTooDeep = errors.New("expression exceeds maximum depth")

	// ErrRuleTooLong indicates rule text longer than MaxRuleLength.
	ErrRuleTooLong = errors.New("rule text exceeds maximum length")

	// ErrAlwaysTrue indicates a well-formed rule that matches every event.
	ErrAlwaysTrue = errors.New("rule is always true")

	// ErrAlwaysFalse indicates a well-formed rule that matches no event.
	ErrAlwaysFalse = errors.New("rule is always false")

	// ErrFieldNotFound indicates a field path could not be resolved.
	ErrFieldNotFound = errors.New("field not found")

	// ErrPathTooDeep indicates a field path exceeds MaxPathDepth.
	ErrPathTooDeep = errors.New("field path exceeds maximum depth")

	// ErrTypeMismatch indicates an operand of the wrong kind during evaluation.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrDivisionByZero indicates a '/' call with a zero divisor.
	ErrDivisionByZero = errors.New("division by zero")

	// ErrAbsentRecord is returned by field lookups during dead-rule detection.
	ErrAbsentRecord = errors.New("no event record")

	// ErrEmptyName indicates a watch registration without a name.
	ErrEmptyName = errors.New("watch name is empty")

	// ErrEmptySource indicates a watch registration without a source constraint.
	ErrEmptySource = errors.New("watch source is empty")
)
