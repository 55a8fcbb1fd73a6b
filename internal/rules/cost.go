// internal/rules/cost.go
package rules

/*
 * Cost model for compiled rules.
 *
 * Every registered rule is evaluated against every event of its source, so
 * the cost of a rule is paid once per event. The estimate is reported by the
 * check command and logged at registration so that expensive rules stand out.
 *
 * Cost formula: sum over nodes of node cost, where field lookups pay per path
 * segment and regex matches pay the most.
 */

const (
	// Leaf costs
	CostLiteral          = 1
	CostLookupPerSegment = 8
	CostRegex            = 32

	// Call base costs
	CostLogic      = 1
	CostArithmetic = 2
	CostCompare    = 4
	CostSize       = 4
	CostLike       = 6
)

// CalculateCost estimates the evaluation cost of an expression tree.
func CalculateCost(expr Expr) int {
	switch e := expr.(type) {
	case *Atom:
		return atomCost(e.Token)
	case *Call:
		total := callCost(e.Func)
		for _, arg := range e.Args {
			total += CalculateCost(arg)
		}
		return total
	default:
		return 0
	}
}

func atomCost(t Token) int {
	switch t.Kind {
	case TokenField:
		return CostLookupPerSegment * len(ParsePath(t.Text))
	case TokenRegex:
		return CostRegex
	default:
		return CostLiteral
	}
}

func callCost(fn Function) int {
	switch fn {
	case FuncAnd, FuncOr, FuncNot, FuncIf:
		return CostLogic
	case FuncAdd, FuncSub, FuncMul, FuncDiv:
		return CostArithmetic
	case FuncGt, FuncGe, FuncLt, FuncLe, FuncNe, FuncEq:
		return CostCompare
	case FuncEmpty, FuncSize:
		return CostSize
	case FuncLike:
		return CostLike
	default:
		return CostCompare
	}
}
