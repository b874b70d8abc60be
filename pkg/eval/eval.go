// Package eval provides the minimal expression evaluator the operator
// kernels (C4) need to run a Filter predicate or Map assignment against
// a decoded row. The full UDF/expression language is an out-of-scope
// collaborator (spec.md §1); this covers field references, literals,
// comparison/arithmetic/boolean operators, and NOT/unary minus.
package eval

import (
	"fmt"

	"github.com/fluxmesh/fluxmesh/pkg/rowcodec"
	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// Row exposes field lookup by name for expression evaluation against a
// decoded rowcodec.Row under its schema.
type Row struct {
	Schema types.Schema
	Values rowcodec.Row
}

func (r Row) field(name string) (any, error) {
	idx := r.Schema.IndexOf(name)
	if idx < 0 {
		return nil, fmt.Errorf("eval: unknown field %q", name)
	}
	return r.Values[idx], nil
}

// Eval evaluates an expression tree against a row, returning a bool,
// numeric, or string value depending on the expression.
func Eval(e *types.Expr, row Row) (any, error) {
	if e == nil {
		return nil, fmt.Errorf("eval: nil expression")
	}
	switch e.Kind {
	case types.ExprField:
		return row.field(e.Field)
	case types.ExprLiteral:
		return e.Literal, nil
	case types.ExprUnary:
		return evalUnary(e, row)
	case types.ExprBinary:
		return evalBinary(e, row)
	case types.ExprCall:
		return evalCall(e, row)
	default:
		return nil, fmt.Errorf("eval: unsupported expression kind %q", e.Kind)
	}
}

// EvalBool evaluates e and asserts a boolean result, for Filter predicates.
func EvalBool(e *types.Expr, row Row) (bool, error) {
	v, err := Eval(e, row)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("eval: expression did not evaluate to bool, got %T", v)
	}
	return b, nil
}

func evalUnary(e *types.Expr, row Row) (any, error) {
	v, err := Eval(e.Left, row)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case "NOT":
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("eval: NOT requires bool operand, got %T", v)
		}
		return !b, nil
	case "-":
		f, err := asFloat(v)
		if err != nil {
			return nil, err
		}
		return -f, nil
	default:
		return nil, fmt.Errorf("eval: unsupported unary operator %q", e.Op)
	}
}

func evalBinary(e *types.Expr, row Row) (any, error) {
	l, err := Eval(e.Left, row)
	if err != nil {
		return nil, err
	}
	r, err := Eval(e.Right, row)
	if err != nil {
		return nil, err
	}

	switch e.Op {
	case "AND", "OR":
		lb, lok := l.(bool)
		rb, rok := r.(bool)
		if !lok || !rok {
			return nil, fmt.Errorf("eval: %s requires bool operands", e.Op)
		}
		if e.Op == "AND" {
			return lb && rb, nil
		}
		return lb || rb, nil
	case "=", "!=", "<", "<=", ">", ">=":
		return compare(e.Op, l, r)
	case "+", "-", "*", "/":
		return arithmetic(e.Op, l, r)
	default:
		return nil, fmt.Errorf("eval: unsupported binary operator %q", e.Op)
	}
}

func evalCall(e *types.Expr, row Row) (any, error) {
	return nil, fmt.Errorf("eval: function %q has no registered implementation", e.Func)
}

func compare(op string, l, r any) (bool, error) {
	if ls, ok := l.(string); ok {
		rs, ok := r.(string)
		if !ok {
			return false, fmt.Errorf("eval: cannot compare string to %T", r)
		}
		switch op {
		case "=":
			return ls == rs, nil
		case "!=":
			return ls != rs, nil
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		case ">":
			return ls > rs, nil
		case ">=":
			return ls >= rs, nil
		}
	}
	lf, err := asFloat(l)
	if err != nil {
		return false, err
	}
	rf, err := asFloat(r)
	if err != nil {
		return false, err
	}
	switch op {
	case "=":
		return lf == rf, nil
	case "!=":
		return lf != rf, nil
	case "<":
		return lf < rf, nil
	case "<=":
		return lf <= rf, nil
	case ">":
		return lf > rf, nil
	case ">=":
		return lf >= rf, nil
	}
	return false, fmt.Errorf("eval: unreachable comparison operator %q", op)
}

func arithmetic(op string, l, r any) (any, error) {
	lf, err := asFloat(l)
	if err != nil {
		return nil, err
	}
	rf, err := asFloat(r)
	if err != nil {
		return nil, err
	}
	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, fmt.Errorf("eval: division by zero")
		}
		return lf / rf, nil
	default:
		return nil, fmt.Errorf("eval: unsupported arithmetic operator %q", op)
	}
}

func asFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return 0, fmt.Errorf("eval: %T is not numeric", v)
	}
}
