// internal/rules/compile.go
package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rcwatch/rcwatch/internal/types"
)

/*
 * Rule compilation and validation.
 *
 * Compiles an expression tree into a tree of evaluation closures, one per
 * node, over a closed function table. Arity and regex syntax are checked
 * here so that every error a rule author can make surfaces at registration
 * time, never while events are flowing.
 *
 * Compilation workflow:
 *   1. Check arity of every call against the function table
 *   2. Decode literals (underscored numbers, escaped strings, regex flags)
 *   3. Wrap every call and field reference in a failure boundary
 *   4. Evaluate once against an absent record to find constant rules
 *
 * Failure boundary: an evaluation error inside a call or field lookup makes
 * that sub-expression false; the error never escapes. Events vary in shape
 * and a rule on a missing field is simply unsatisfied.
 *
 * Constant detection: if evaluating without a record never attempts a field
 * lookup, the rule's value cannot depend on any event. CompileRule rejects
 * such rules with ErrAlwaysTrue or ErrAlwaysFalse.
 */

// Function identifies an entry of the fixed function table.
type Function int

const (
	FuncAnd Function = iota + 1
	FuncOr
	FuncAdd
	FuncSub
	FuncMul
	FuncDiv
	FuncGt
	FuncGe
	FuncLt
	FuncLe
	FuncNe
	FuncEq
	FuncEmpty
	FuncSize
	FuncNot
	FuncIf
	FuncLike
)

// unbounded marks a variadic maximum arity.
const unbounded = -1

type functionSpec struct {
	name     string
	min, max int
}

var functionTable = map[Function]functionSpec{
	FuncAnd:   {"AND", 1, unbounded},
	FuncOr:    {"OR", 1, unbounded},
	FuncAdd:   {"+", 1, unbounded},
	FuncSub:   {"-", 1, unbounded},
	FuncMul:   {"*", 1, unbounded},
	FuncDiv:   {"/", 1, unbounded},
	FuncGt:    {">", 2, unbounded},
	FuncGe:    {">=", 2, unbounded},
	FuncLt:    {"<", 2, unbounded},
	FuncLe:    {"<=", 2, unbounded},
	FuncNe:    {"!=", 2, unbounded},
	FuncEq:    {"=", 2, unbounded},
	FuncEmpty: {"EMPTY?", 1, 1},
	FuncSize:  {"SIZE", 1, 1},
	FuncNot:   {"NOT", 1, unbounded},
	FuncIf:    {"IF", 3, 3},
	FuncLike:  {"LIKE", 1, unbounded},
}

var functionsByName = func() map[string]Function {
	m := make(map[string]Function, len(functionTable))
	for fn, def := range functionTable {
		m[def.name] = fn
	}
	return m
}()

// LookupFunction finds a function by name, case-insensitively.
func LookupFunction(name string) (Function, bool) {
	fn, ok := functionsByName[strings.ToUpper(name)]
	return fn, ok
}

func (f Function) String() string {
	if def, ok := functionTable[f]; ok {
		return def.name
	}
	return fmt.Sprintf("Function(%d)", int(f))
}

// Arity returns the minimum and maximum argument counts; max is -1 for
// variadic functions.
func (f Function) Arity() (min, max int) {
	def := functionTable[f]
	return def.min, def.max
}

// ArityError reports a call with the wrong number of arguments.
type ArityError struct {
	Func Function
	Got  int
}

func (e *ArityError) Error() string {
	min, max := e.Func.Arity()
	var want string
	switch {
	case max == unbounded:
		want = fmt.Sprintf("at least %d", min)
	case min == max:
		want = fmt.Sprintf("%d", min)
	default:
		want = fmt.Sprintf("%d to %d", min, max)
	}
	return fmt.Sprintf("%s expects %s arguments but was called with %d", e.Func, want, e.Got)
}

func (e *ArityError) Unwrap() error {
	return types.ErrInvalidArity
}

// CompiledRule is a rule ready for evaluation against event records.
type CompiledRule struct {
	Source   string   // rule text as submitted (empty when compiled from a tree)
	Expr     Expr     // desugared expression tree
	Warnings []string // non-fatal findings, such as ignored regex flags
	Cost     int      // estimated evaluation cost

	eval       evalFunc
	constant   bool
	isConstant bool
}

// Compiled renders the compiled form of the rule in canonical syntax, with
// sugar expanded and the top-level AND made explicit.
func (r *CompiledRule) Compiled() string {
	return r.Expr.String()
}

// Constant reports whether the rule's value is independent of any event
// record and, if so, that value.
func (r *CompiledRule) Constant() (value bool, ok bool) {
	return r.constant, r.isConstant
}

// CompileRule parses and compiles rule source text, rejecting rules that can
// never discriminate between events.
func CompileRule(text string) (*CompiledRule, error) {
	if len(text) > types.MaxRuleLength {
		return nil, types.ErrRuleTooLong
	}
	expr, err := Parse(text)
	if err != nil {
		return nil, err
	}
	rule, err := Compile(expr)
	if err != nil {
		return nil, err
	}
	rule.Source = text

	if value, ok := rule.Constant(); ok {
		if value {
			return nil, types.ErrAlwaysTrue
		}
		return nil, types.ErrAlwaysFalse
	}
	return rule, nil
}

// Compile turns an expression tree into an evaluable rule. The tree is not
// wrapped; callers wanting the (AND ...) wrapping use Parse first.
func Compile(expr Expr) (*CompiledRule, error) {
	c := &compiler{}
	eval, err := c.compile(expr)
	if err != nil {
		return nil, err
	}

	rule := &CompiledRule{
		Expr:     expr,
		Warnings: c.warnings,
		Cost:     CalculateCost(expr),
		eval:     eval,
	}
	rule.constant, rule.isConstant = detectConstant(eval)
	return rule, nil
}

// compiler accumulates warnings across one compilation.
type compiler struct {
	warnings []string
}

func (c *compiler) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	for _, w := range c.warnings {
		if w == msg {
			return
		}
	}
	c.warnings = append(c.warnings, msg)
}

func (c *compiler) compile(expr Expr) (evalFunc, error) {
	switch e := expr.(type) {
	case *Atom:
		return c.compileAtom(e.Token)
	case *Call:
		return c.compileCall(e)
	default:
		return nil, fmt.Errorf("%w: %v", types.ErrUnexpectedToken, expr)
	}
}

func (c *compiler) compileAtom(t Token) (evalFunc, error) {
	switch t.Kind {
	case TokenTruth:
		return constFunc(t.Text == "#t"), nil
	case TokenDecimal:
		f, err := parseDecimal(t.Text)
		if err != nil {
			return nil, fmt.Errorf("%w: number %s", types.ErrUnexpectedToken, t.Text)
		}
		return constFunc(f), nil
	case TokenHex:
		f, err := parseHex(t.Text)
		if err != nil {
			return nil, fmt.Errorf("%w: number %s", types.ErrUnexpectedToken, t.Text)
		}
		return constFunc(f), nil
	case TokenString:
		return constFunc(unquoteString(t.Text)), nil
	case TokenRegex:
		re, err := c.compileRegex(t.Text)
		if err != nil {
			return nil, err
		}
		return constFunc(re), nil
	case TokenField:
		return guard(lookupFunc(ParsePath(t.Text))), nil
	default:
		return nil, fmt.Errorf("%w %s", types.ErrUnexpectedToken, t)
	}
}

// compileRegex builds a regexp from /body/flags. The i flag folds case and
// the x flag strips pattern whitespace and comments; other letters are
// accepted and reported as warnings.
func (c *compiler) compileRegex(text string) (*regexp.Regexp, error) {
	end := strings.LastIndexByte(text, '/')
	body, flags := text[1:end], text[end+1:]

	prefix := ""
	for _, f := range flags {
		switch f {
		case 'i':
			prefix = "(?i)"
		case 'x':
			body = stripExtended(body)
		default:
			c.warn("regex %s: flag '%c' ignored", text, f)
		}
	}

	re, err := regexp.Compile(prefix + body)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", types.ErrInvalidRegex, text, err)
	}
	return re, nil
}

// stripExtended removes unescaped whitespace and #-comments outside
// character classes, the free-spacing syntax RE2 lacks.
func stripExtended(pattern string) string {
	var b strings.Builder
	inClass, comment := false, false
	for i := 0; i < len(pattern); i++ {
		ch := pattern[i]
		switch {
		case comment:
			if ch == '\n' {
				comment = false
			}
		case ch == '\\' && i+1 < len(pattern):
			b.WriteByte(ch)
			i++
			b.WriteByte(pattern[i])
		case inClass:
			if ch == ']' {
				inClass = false
			}
			b.WriteByte(ch)
		case ch == '[':
			inClass = true
			b.WriteByte(ch)
		case ch == '#':
			comment = true
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\f' || ch == '\v':
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

func (c *compiler) compileCall(call *Call) (evalFunc, error) {
	min, max := call.Func.Arity()
	if len(call.Args) < min || (max != unbounded && len(call.Args) > max) {
		return nil, &ArityError{Func: call.Func, Got: len(call.Args)}
	}

	args := make([]evalFunc, len(call.Args))
	for i, arg := range call.Args {
		f, err := c.compile(arg)
		if err != nil {
			return nil, err
		}
		args[i] = f
	}

	var eval evalFunc
	switch call.Func {
	case FuncAnd:
		eval = andFunc(args)
	case FuncOr:
		eval = orFunc(args)
	case FuncAdd, FuncSub, FuncMul, FuncDiv:
		eval = arithmeticFunc(call.Func, args)
	case FuncGt, FuncGe, FuncLt, FuncLe, FuncNe, FuncEq:
		eval = compareFunc(call.Func, args)
	case FuncEmpty:
		eval = emptyFunc(args[0])
	case FuncSize:
		eval = sizeFunc(args[0])
	case FuncNot:
		eval = notFunc(args)
	case FuncIf:
		eval = ifFunc(args[0], args[1], args[2])
	case FuncLike:
		eval = likeFunc(args)
	default:
		return nil, &FunctionError{Name: call.Func.String()}
	}
	return guard(eval), nil
}
