// Package expr implements the restricted condition-expression language of
// spec §4.2: a hand-rolled lexer/parser/tree-walking evaluator operating
// only over jsonvalue.Value, exposing exactly two root names (flow_input
// and results) plus the true/false/null literals. Deliberately not built
// on a general-purpose or host-eval expression engine — see DESIGN.md.
package expr

import (
	"fmt"

	"github.com/lyzr/workflowcore/common/jsonvalue"
)

// Context is the only state an expression can observe: the workflow's
// original input and the accumulated per-module results so far.
type Context struct {
	FlowInput jsonvalue.Value
	Results   jsonvalue.Value
}

// ExpressionError wraps any parse-time or evaluation-time failure. It is
// an ordinary error to the caller: a module whose condition or input
// transform raises one fails (and is retried if it has a retry policy);
// it is not routed to the default branch.
type ExpressionError struct {
	Expr string
	Err  error
}

func (e *ExpressionError) Error() string {
	return fmt.Sprintf("expression %q: %v", e.Expr, e.Err)
}

func (e *ExpressionError) Unwrap() error { return e.Err }

// Evaluate parses and runs src against ctx, returning its truthiness.
// Pure and deterministic: it never mutates ctx and never calls out to
// anything beyond ctx itself.
func Evaluate(src string, ctx Context) (bool, error) {
	val, err := EvaluateValue(src, ctx)
	if err != nil {
		return false, err
	}
	return val.Truthy(), nil
}

// EvaluateValue parses and runs src, returning the raw resulting value
// rather than collapsing it to a boolean.
func EvaluateValue(src string, ctx Context) (jsonvalue.Value, error) {
	ast, err := parse(src)
	if err != nil {
		return jsonvalue.Value{}, &ExpressionError{Expr: src, Err: err}
	}
	v, err := evalNode(ast, ctx)
	if err != nil {
		return jsonvalue.Value{}, &ExpressionError{Expr: src, Err: err}
	}
	return v, nil
}

func evalNode(n node, ctx Context) (jsonvalue.Value, error) {
	switch t := n.(type) {
	case numberNode:
		return jsonvalue.Number(t.value), nil
	case stringNode:
		return jsonvalue.String(t.value), nil
	case boolNode:
		return jsonvalue.Bool(t.value), nil
	case nullNode:
		return jsonvalue.Null, nil
	case identNode:
		switch t.name {
		case "flow_input":
			return ctx.FlowInput, nil
		case "results":
			return ctx.Results, nil
		default:
			return jsonvalue.Value{}, fmt.Errorf("undefined name %q", t.name)
		}
	case memberNode:
		target, err := evalNode(t.target, ctx)
		if err != nil {
			return jsonvalue.Value{}, err
		}
		if target.Kind != jsonvalue.KindObject {
			return jsonvalue.Null, nil
		}
		v, ok := target.Get(t.name)
		if !ok {
			return jsonvalue.Null, nil
		}
		return v, nil
	case indexNode:
		target, err := evalNode(t.target, ctx)
		if err != nil {
			return jsonvalue.Value{}, err
		}
		idx, err := evalNode(t.index, ctx)
		if err != nil {
			return jsonvalue.Value{}, err
		}
		return indexInto(target, idx)
	case unaryNode:
		return evalUnary(t, ctx)
	case binaryNode:
		return evalBinary(t, ctx)
	default:
		return jsonvalue.Value{}, fmt.Errorf("unhandled node type %T", n)
	}
}

func indexInto(target, idx jsonvalue.Value) (jsonvalue.Value, error) {
	switch target.Kind {
	case jsonvalue.KindArray:
		if idx.Kind != jsonvalue.KindNumber {
			return jsonvalue.Value{}, fmt.Errorf("array index must be a number")
		}
		i := int(idx.Number)
		if i < 0 || i >= len(target.Arr) {
			return jsonvalue.Null, nil
		}
		return target.Arr[i], nil
	case jsonvalue.KindObject:
		if idx.Kind != jsonvalue.KindString {
			return jsonvalue.Value{}, fmt.Errorf("object key must be a string")
		}
		v, ok := target.Get(idx.Str)
		if !ok {
			return jsonvalue.Null, nil
		}
		return v, nil
	default:
		return jsonvalue.Null, nil
	}
}

func evalUnary(t unaryNode, ctx Context) (jsonvalue.Value, error) {
	arg, err := evalNode(t.arg, ctx)
	if err != nil {
		return jsonvalue.Value{}, err
	}
	switch t.op {
	case tokNot:
		return jsonvalue.Bool(!arg.Truthy()), nil
	case tokMinus:
		if arg.Kind != jsonvalue.KindNumber {
			return jsonvalue.Value{}, fmt.Errorf("unary '-' requires a number")
		}
		return jsonvalue.Number(-arg.Number), nil
	default:
		return jsonvalue.Value{}, fmt.Errorf("unhandled unary operator")
	}
}

func evalBinary(t binaryNode, ctx Context) (jsonvalue.Value, error) {
	// && and || short-circuit and never evaluate the right side unless needed.
	if t.op == tokAnd {
		left, err := evalNode(t.left, ctx)
		if err != nil {
			return jsonvalue.Value{}, err
		}
		if !left.Truthy() {
			return jsonvalue.Bool(false), nil
		}
		right, err := evalNode(t.right, ctx)
		if err != nil {
			return jsonvalue.Value{}, err
		}
		return jsonvalue.Bool(right.Truthy()), nil
	}
	if t.op == tokOr {
		left, err := evalNode(t.left, ctx)
		if err != nil {
			return jsonvalue.Value{}, err
		}
		if left.Truthy() {
			return jsonvalue.Bool(true), nil
		}
		right, err := evalNode(t.right, ctx)
		if err != nil {
			return jsonvalue.Value{}, err
		}
		return jsonvalue.Bool(right.Truthy()), nil
	}

	left, err := evalNode(t.left, ctx)
	if err != nil {
		return jsonvalue.Value{}, err
	}
	right, err := evalNode(t.right, ctx)
	if err != nil {
		return jsonvalue.Value{}, err
	}

	switch t.op {
	case tokEq:
		return jsonvalue.Bool(jsonvalue.Equal(left, right)), nil
	case tokNotEq:
		return jsonvalue.Bool(!jsonvalue.Equal(left, right)), nil
	case tokLt, tokLtEq, tokGt, tokGtEq:
		return compareNumbers(t.op, left, right)
	case tokPlus:
		return arithPlus(left, right)
	case tokMinus, tokStar, tokSlash:
		return arithNumeric(t.op, left, right)
	default:
		return jsonvalue.Value{}, fmt.Errorf("unhandled binary operator")
	}
}

func compareNumbers(op tokenKind, left, right jsonvalue.Value) (jsonvalue.Value, error) {
	if left.Kind != jsonvalue.KindNumber || right.Kind != jsonvalue.KindNumber {
		return jsonvalue.Value{}, fmt.Errorf("relational operators require numbers")
	}
	switch op {
	case tokLt:
		return jsonvalue.Bool(left.Number < right.Number), nil
	case tokLtEq:
		return jsonvalue.Bool(left.Number <= right.Number), nil
	case tokGt:
		return jsonvalue.Bool(left.Number > right.Number), nil
	case tokGtEq:
		return jsonvalue.Bool(left.Number >= right.Number), nil
	default:
		return jsonvalue.Value{}, fmt.Errorf("unhandled comparison operator")
	}
}

// arithPlus additionally allows string concatenation, since templated
// conditions frequently build keys out of string fragments.
func arithPlus(left, right jsonvalue.Value) (jsonvalue.Value, error) {
	if left.Kind == jsonvalue.KindString && right.Kind == jsonvalue.KindString {
		return jsonvalue.String(left.Str + right.Str), nil
	}
	if left.Kind != jsonvalue.KindNumber || right.Kind != jsonvalue.KindNumber {
		return jsonvalue.Value{}, fmt.Errorf("'+' requires two numbers or two strings")
	}
	return jsonvalue.Number(left.Number + right.Number), nil
}

func arithNumeric(op tokenKind, left, right jsonvalue.Value) (jsonvalue.Value, error) {
	if left.Kind != jsonvalue.KindNumber || right.Kind != jsonvalue.KindNumber {
		return jsonvalue.Value{}, fmt.Errorf("arithmetic operators require numbers")
	}
	switch op {
	case tokMinus:
		return jsonvalue.Number(left.Number - right.Number), nil
	case tokStar:
		return jsonvalue.Number(left.Number * right.Number), nil
	case tokSlash:
		if right.Number == 0 {
			return jsonvalue.Value{}, fmt.Errorf("division by zero")
		}
		return jsonvalue.Number(left.Number / right.Number), nil
	default:
		return jsonvalue.Value{}, fmt.Errorf("unhandled arithmetic operator")
	}
}
