// Package conditions evaluates boolean guard expressions against workflow
// data. The grammar is deliberately restricted so validation stays decidable
// at definition authoring time: comparisons (==, !=, >, <, >=, <=) over
// identifiers, numbers, strings and booleans, combined with and/or and
// parentheses. No function calls, no side effects.
package conditions

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownIdentifier indicates the expression references a key absent
	// from the evaluation context.
	ErrUnknownIdentifier = errors.New("unknown identifier")

	// ErrTypeMismatch indicates an operator was applied to incomparable
	// operand types.
	ErrTypeMismatch = errors.New("operand type mismatch")
)

// InvalidExpressionError reports a malformed expression or an evaluation
// failure, with the offending position where known.
type InvalidExpressionError struct {
	Expr string
	Pos  int
	Err  error
}

func (e *InvalidExpressionError) Error() string {
	return fmt.Sprintf("invalid condition expression %q at position %d: %v", e.Expr, e.Pos, e.Err)
}

func (e *InvalidExpressionError) Unwrap() error {
	return e.Err
}

// Evaluate parses and evaluates the expression against the given context.
// An empty expression evaluates to true.
func Evaluate(expr string, ctx map[string]any) (bool, error) {
	if expr == "" {
		return true, nil
	}

	node, err := parse(expr)
	if err != nil {
		return false, err
	}

	value, err := node.eval(ctx)
	if err != nil {
		var invalid *InvalidExpressionError
		if !errors.As(err, &invalid) {
			err = &InvalidExpressionError{Expr: expr, Err: err}
		}

		return false, err
	}

	result, ok := value.(bool)
	if !ok {
		return false, &InvalidExpressionError{Expr: expr, Err: fmt.Errorf("%w: expression is not boolean", ErrTypeMismatch)}
	}

	return result, nil
}

// Validate syntax-checks the expression without binding any data. Used at
// definition authoring time to catch broken guards before they reach runtime.
func Validate(expr string) error {
	if expr == "" {
		return nil
	}

	_, err := parse(expr)

	return err
}
