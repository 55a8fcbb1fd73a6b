// internal/rules/parser.go
package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rcwatch/rcwatch/internal/types"
)

/*
 * Parser for the rule language.
 *
 * Builds an expression tree from a token sequence, consuming tokens from the
 * front. Two node kinds exist: Atom (a literal or field reference) and Call
 * (a function from the fixed table applied to arguments).
 *
 * Sugar: "field:value" becomes (LIKE field value). A bare word on the right
 * ("title:Foo") is read as the string "Foo", so quoting is optional for
 * single words.
 *
 * Parse wraps submitted rule text in (AND ...) so several space-separated
 * expressions mean their conjunction.
 */

// Expr is a node of the rule expression tree. Implemented by *Atom and *Call.
type Expr interface {
	// String renders the node back as rule source in canonical form.
	String() string
	isExpr()
}

// Atom is a leaf: truth, number, string, regex, field reference or
// identifier token.
type Atom struct {
	Token Token
}

func (*Atom) isExpr() {}

func (a *Atom) String() string { return a.Token.Text }

// Call applies a function from the fixed table to its arguments.
type Call struct {
	Func Function
	Args []Expr
}

func (*Call) isExpr() {}

func (c *Call) String() string {
	var b strings.Builder
	b.WriteByte('(')
	b.WriteString(c.Func.String())
	for _, arg := range c.Args {
		b.WriteByte(' ')
		b.WriteString(arg.String())
	}
	b.WriteByte(')')
	return b.String()
}

// FunctionError reports a call head that is not in the function table.
type FunctionError struct {
	Name string
}

func (e *FunctionError) Error() string {
	return fmt.Sprintf("use of unknown function %s", e.Name)
}

func (e *FunctionError) Unwrap() error {
	return types.ErrUnknownFunction
}

// Parse tokenizes text and parses every expression in it, returning their
// conjunction as a single (AND ...) call. A ')' with no open call is
// ErrUnexpectedClosingParen.
func Parse(text string) (Expr, error) {
	tokens, err := Tokenize(text)
	if err != nil {
		return nil, err
	}

	root := &Call{Func: FuncAnd}
	for len(tokens) > 0 {
		if tokens[0].Kind == TokenCloseParen {
			return nil, fmt.Errorf("%w: no call to close", types.ErrUnexpectedClosingParen)
		}
		expr, err := parseExpr(&tokens, 1)
		if err != nil {
			return nil, err
		}
		root.Args = append(root.Args, expr)
	}
	return root, nil
}

// ParseExpression parses one expression from the front of tokens, removing
// the tokens it consumed. Whatever follows the expression is left in place.
func ParseExpression(tokens *[]Token) (Expr, error) {
	return parseExpr(tokens, 0)
}

func shift(tokens *[]Token) Token {
	t := (*tokens)[0]
	*tokens = (*tokens)[1:]
	return t
}

func parseExpr(tokens *[]Token, depth int) (Expr, error) {
	if depth > types.MaxExprDepth {
		return nil, types.ErrExprTooDeep
	}
	if len(*tokens) == 0 {
		return nil, types.ErrUnexpectedEndOfInput
	}

	t := shift(tokens)
	switch t.Kind {
	case TokenCloseParen:
		return nil, types.ErrUnexpectedClosingParen
	case TokenColon:
		return nil, types.ErrUnexpectedColon
	case TokenOpenParen:
		return parseCall(tokens, depth+1)
	case TokenField:
		if len(*tokens) > 0 && (*tokens)[0].Kind == TokenColon {
			shift(tokens)
			return parseLike(t, tokens, depth+1)
		}
	}
	return &Atom{Token: t}, nil
}

// parseLike expands field:value into (LIKE field value).
func parseLike(field Token, tokens *[]Token, depth int) (Expr, error) {
	rhs, err := parseExpr(tokens, depth)
	if err != nil {
		if errors.Is(err, types.ErrUnexpectedEndOfInput) {
			return nil, fmt.Errorf("missing value for %s: %w", field.Text, err)
		}
		return nil, err
	}
	if a, ok := rhs.(*Atom); ok && (a.Token.Kind == TokenField || a.Token.Kind == TokenIdent) {
		rhs = &Atom{Token: Token{Kind: TokenString, Text: quoteString(a.Token.Text)}}
	}
	return &Call{Func: FuncLike, Args: []Expr{&Atom{Token: field}, rhs}}, nil
}

// parseCall parses the remainder of a call after its '('.
func parseCall(tokens *[]Token, depth int) (Expr, error) {
	if len(*tokens) == 0 {
		return nil, types.ErrUnterminatedCall
	}

	head := shift(tokens)
	if head.Kind == TokenCloseParen {
		return nil, fmt.Errorf("%w: empty call", types.ErrUnexpectedClosingParen)
	}
	if head.Kind != TokenIdent && head.Kind != TokenField {
		return nil, &FunctionError{Name: head.Text}
	}
	fn, ok := LookupFunction(head.Text)
	if !ok {
		return nil, &FunctionError{Name: strings.ToUpper(head.Text)}
	}

	call := &Call{Func: fn}
	for {
		if len(*tokens) == 0 {
			return nil, fmt.Errorf("%w: missing ')' for %s", types.ErrUnterminatedCall, fn)
		}
		if (*tokens)[0].Kind == TokenCloseParen {
			shift(tokens)
			return call, nil
		}
		arg, err := parseExpr(tokens, depth)
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)
	}
}

// quoteString renders s as a string literal token text.
func quoteString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	b.WriteByte('"')
	return b.String()
}

// unquoteString decodes a string literal token text. A backslash escapes the
// following byte; \n, \t and \r name control characters.
func unquoteString(text string) string {
	body := text[1 : len(text)-1]
	if strings.IndexByte(body, '\\') < 0 {
		return body
	}
	var b strings.Builder
	b.Grow(len(body))
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' || i+1 >= len(body) {
			b.WriteByte(c)
			continue
		}
		i++
		switch body[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		default:
			b.WriteByte(body[i])
		}
	}
	return b.String()
}
