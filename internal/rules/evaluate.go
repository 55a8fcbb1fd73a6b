// internal/rules/evaluate.go
package rules

import (
	"github.com/rcwatch/rcwatch/internal/types"
)

/*
 * Rule evaluation.
 *
 * A compiled rule is a tree of closures taking an evaluation context. The
 * context holds the event record and is created per evaluation, so two rules
 * evaluated against the same event share nothing but the read-only record.
 *
 * Evaluation semantics:
 *   - AND/OR short-circuit left to right and return booleans
 *   - + - * / fold left to right; one argument to + or - is a unary sign
 *   - comparisons hold pairwise between adjacent arguments: (< a b c) is
 *     a<b AND b<c
 *   - NOT is the AND of the negation of every argument
 *   - IF evaluates only the selected branch
 *
 * Absent record: during constant detection the context has no record and
 * every field lookup fails with ErrAbsentRecord after marking the context as
 * touched. A rule that finishes without touching the record is constant.
 */

type evalContext struct {
	record  any
	absent  bool
	touched bool
}

type evalFunc func(ctx *evalContext) (any, error)

// Match evaluates the rule against an event record. Evaluation failures
// yield false; Match never panics.
func (r *CompiledRule) Match(record any) (matched bool) {
	return Truthy(r.Eval(record))
}

// Eval evaluates the rule against an event record and returns the raw value
// of the top-level expression (false on failure).
func (r *CompiledRule) Eval(record any) (value any) {
	defer func() {
		if recover() != nil {
			value = false
		}
	}()
	v, err := r.eval(&evalContext{record: record})
	if err != nil {
		return false
	}
	return v
}

// detectConstant evaluates against an absent record.
func detectConstant(eval evalFunc) (value bool, ok bool) {
	defer func() {
		if recover() != nil {
			value, ok = false, false
		}
	}()
	ctx := &evalContext{absent: true}
	v, err := eval(ctx)
	if ctx.touched {
		return false, false
	}
	return err == nil && Truthy(v), true
}

// guard is the failure boundary: any error from f becomes the value false.
func guard(f evalFunc) evalFunc {
	return func(ctx *evalContext) (any, error) {
		v, err := f(ctx)
		if err != nil {
			return false, nil
		}
		return v, nil
	}
}

func constFunc(v any) evalFunc {
	return func(*evalContext) (any, error) {
		return v, nil
	}
}

func lookupFunc(path []types.PathSegment) evalFunc {
	return func(ctx *evalContext) (any, error) {
		if ctx.absent {
			ctx.touched = true
			return nil, types.ErrAbsentRecord
		}
		return Resolve(path, ctx.record)
	}
}

func andFunc(args []evalFunc) evalFunc {
	return func(ctx *evalContext) (any, error) {
		for _, arg := range args {
			v, err := arg(ctx)
			if err != nil {
				return nil, err
			}
			if !Truthy(v) {
				return false, nil
			}
		}
		return true, nil
	}
}

func orFunc(args []evalFunc) evalFunc {
	return func(ctx *evalContext) (any, error) {
		for _, arg := range args {
			v, err := arg(ctx)
			if err != nil {
				return nil, err
			}
			if Truthy(v) {
				return true, nil
			}
		}
		return false, nil
	}
}

func notFunc(args []evalFunc) evalFunc {
	return func(ctx *evalContext) (any, error) {
		for _, arg := range args {
			v, err := arg(ctx)
			if err != nil {
				return nil, err
			}
			if Truthy(v) {
				return false, nil
			}
		}
		return true, nil
	}
}

func ifFunc(cond, then, otherwise evalFunc) evalFunc {
	return func(ctx *evalContext) (any, error) {
		v, err := cond(ctx)
		if err != nil {
			return nil, err
		}
		if Truthy(v) {
			return then(ctx)
		}
		return otherwise(ctx)
	}
}

func arithmeticFunc(fn Function, args []evalFunc) evalFunc {
	return func(ctx *evalContext) (any, error) {
		first, err := args[0](ctx)
		if err != nil {
			return nil, err
		}

		if len(args) == 1 {
			switch fn {
			case FuncAdd:
				if s, ok := first.(string); ok {
					return s, nil
				}
				return asNumber(first)
			case FuncSub:
				n, err := asNumber(first)
				if err != nil {
					return nil, err
				}
				return -n, nil
			}
		}

		// + concatenates when the accumulator is a string
		if s, ok := first.(string); ok && fn == FuncAdd {
			for _, arg := range args[1:] {
				v, err := arg(ctx)
				if err != nil {
					return nil, err
				}
				next, ok := v.(string)
				if !ok {
					return nil, types.ErrTypeMismatch
				}
				s += next
			}
			return s, nil
		}

		acc, err := asNumber(first)
		if err != nil {
			return nil, err
		}
		for _, arg := range args[1:] {
			v, err := arg(ctx)
			if err != nil {
				return nil, err
			}
			n, err := asNumber(v)
			if err != nil {
				return nil, err
			}
			switch fn {
			case FuncAdd:
				acc += n
			case FuncSub:
				acc -= n
			case FuncMul:
				acc *= n
			case FuncDiv:
				if n == 0 {
					return nil, types.ErrDivisionByZero
				}
				acc /= n
			}
		}
		return acc, nil
	}
}

// compareFunc checks every adjacent pair and stops at the first pair that
// does not hold.
func compareFunc(fn Function, args []evalFunc) evalFunc {
	return func(ctx *evalContext) (any, error) {
		prev, err := args[0](ctx)
		if err != nil {
			return nil, err
		}
		for _, arg := range args[1:] {
			next, err := arg(ctx)
			if err != nil {
				return nil, err
			}
			ok, err := comparePair(fn, prev, next)
			if err != nil {
				return nil, err
			}
			if !ok {
				return false, nil
			}
			prev = next
		}
		return true, nil
	}
}

func comparePair(fn Function, a, b any) (bool, error) {
	switch fn {
	case FuncEq:
		return compareEqual(a, b), nil
	case FuncNe:
		return !compareEqual(a, b), nil
	}

	c, err := compareOrder(a, b)
	if err != nil {
		return false, err
	}
	switch fn {
	case FuncLt:
		return c < 0, nil
	case FuncLe:
		return c <= 0, nil
	case FuncGt:
		return c > 0, nil
	case FuncGe:
		return c >= 0, nil
	default:
		return false, types.ErrTypeMismatch
	}
}

func likeFunc(args []evalFunc) evalFunc {
	return func(ctx *evalContext) (any, error) {
		prev, err := args[0](ctx)
		if err != nil {
			return nil, err
		}
		for _, arg := range args[1:] {
			next, err := arg(ctx)
			if err != nil {
				return nil, err
			}
			if !compareLike(prev, next) {
				return false, nil
			}
			prev = next
		}
		return true, nil
	}
}

func emptyFunc(arg evalFunc) evalFunc {
	return func(ctx *evalContext) (any, error) {
		v, err := arg(ctx)
		if err != nil {
			return nil, err
		}
		n, err := sizeOf(v)
		if err != nil {
			return nil, err
		}
		return n == 0, nil
	}
}

func sizeFunc(arg evalFunc) evalFunc {
	return func(ctx *evalContext) (any, error) {
		v, err := arg(ctx)
		if err != nil {
			return nil, err
		}
		n, err := sizeOf(v)
		if err != nil {
			return nil, err
		}
		return float64(n), nil
	}
}
