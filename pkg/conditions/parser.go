package conditions

import (
	"fmt"
	"strconv"
)

// node is an evaluated AST fragment. eval returns either a bool (logical and
// comparison nodes) or a raw operand value (literal and identifier nodes).
type node interface {
	eval(ctx map[string]any) (any, error)
}

type parser struct {
	lex     *lexer
	current token
}

func parse(expr string) (node, error) {
	p := &parser{lex: &lexer{input: expr}}

	if err := p.advance(); err != nil {
		return nil, err
	}

	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}

	if p.current.kind != tokenEOF {
		return nil, p.errorf("unexpected token %q", p.current.text)
	}

	return root, nil
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}

	p.current = tok

	return nil
}

// or := and { ("or" | "||") and }
func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	for p.current.kind == tokenOr {
		if err := p.advance(); err != nil {
			return nil, err
		}

		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}

		left = &logicalNode{op: tokenOr, left: left, right: right}
	}

	return left, nil
}

// and := comparison { ("and" | "&&") comparison }
func (p *parser) parseAnd() (node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}

	for p.current.kind == tokenAnd {
		if err := p.advance(); err != nil {
			return nil, err
		}

		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}

		left = &logicalNode{op: tokenAnd, left: left, right: right}
	}

	return left, nil
}

// comparison := operand [ op operand ]
func (p *parser) parseComparison() (node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	switch p.current.kind {
	case tokenEq, tokenNeq, tokenGt, tokenLt, tokenGte, tokenLte:
		op := p.current.kind
		if err := p.advance(); err != nil {
			return nil, err
		}

		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}

		return &comparisonNode{op: op, left: left, right: right}, nil
	default:
		return left, nil
	}
}

// operand := number | string | bool | identifier | "(" or ")"
func (p *parser) parseOperand() (node, error) {
	tok := p.current

	switch tok.kind {
	case tokenLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}

		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}

		if p.current.kind != tokenRParen {
			return nil, p.errorf("expected closing parenthesis")
		}

		if err := p.advance(); err != nil {
			return nil, err
		}

		return inner, nil
	case tokenNumber:
		value, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, p.errorf("invalid number %q", tok.text)
		}

		if err := p.advance(); err != nil {
			return nil, err
		}

		return &literalNode{value: value}, nil
	case tokenString:
		if err := p.advance(); err != nil {
			return nil, err
		}

		return &literalNode{value: tok.text}, nil
	case tokenBool:
		if err := p.advance(); err != nil {
			return nil, err
		}

		return &literalNode{value: tok.text == "true"}, nil
	case tokenIdent:
		if err := p.advance(); err != nil {
			return nil, err
		}

		return &identifierNode{name: tok.text}, nil
	default:
		return nil, p.errorf("unexpected token %q", tok.text)
	}
}

func (p *parser) errorf(format string, args ...any) error {
	return &InvalidExpressionError{Expr: p.lex.input, Pos: p.current.pos, Err: fmt.Errorf(format, args...)}
}

type literalNode struct {
	value any
}

func (n *literalNode) eval(_ map[string]any) (any, error) {
	return n.value, nil
}

type identifierNode struct {
	name string
}

func (n *identifierNode) eval(ctx map[string]any) (any, error) {
	value, ok := ctx[n.name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIdentifier, n.name)
	}

	return value, nil
}

type logicalNode struct {
	op    tokenKind
	left  node
	right node
}

func (n *logicalNode) eval(ctx map[string]any) (any, error) {
	left, err := evalBool(n.left, ctx)
	if err != nil {
		return nil, err
	}

	// Short-circuit evaluation.
	if n.op == tokenAnd && !left {
		return false, nil
	}

	if n.op == tokenOr && left {
		return true, nil
	}

	return evalBool(n.right, ctx)
}

func evalBool(n node, ctx map[string]any) (bool, error) {
	value, err := n.eval(ctx)
	if err != nil {
		return false, err
	}

	b, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("%w: expected boolean, got %T", ErrTypeMismatch, value)
	}

	return b, nil
}

type comparisonNode struct {
	op    tokenKind
	left  node
	right node
}

func (n *comparisonNode) eval(ctx map[string]any) (any, error) {
	left, err := n.left.eval(ctx)
	if err != nil {
		return nil, err
	}

	right, err := n.right.eval(ctx)
	if err != nil {
		return nil, err
	}

	return compare(n.op, left, right)
}

func compare(op tokenKind, left, right any) (bool, error) {
	if lf, lok := toFloat(left); lok {
		rf, rok := toFloat(right)
		if !rok {
			return false, fmt.Errorf("%w: cannot compare number with %T", ErrTypeMismatch, right)
		}

		return compareOrdered(op, lf, rf), nil
	}

	if ls, lok := left.(string); lok {
		rs, rok := right.(string)
		if !rok {
			return false, fmt.Errorf("%w: cannot compare string with %T", ErrTypeMismatch, right)
		}

		return compareOrdered(op, ls, rs), nil
	}

	if lb, lok := left.(bool); lok {
		rb, rok := right.(bool)
		if !rok {
			return false, fmt.Errorf("%w: cannot compare boolean with %T", ErrTypeMismatch, right)
		}

		switch op {
		case tokenEq:
			return lb == rb, nil
		case tokenNeq:
			return lb != rb, nil
		default:
			return false, fmt.Errorf("%w: booleans only support == and !=", ErrTypeMismatch)
		}
	}

	return false, fmt.Errorf("%w: unsupported operand type %T", ErrTypeMismatch, left)
}

func compareOrdered[T float64 | string](op tokenKind, left, right T) bool {
	switch op {
	case tokenEq:
		return left == right
	case tokenNeq:
		return left != right
	case tokenGt:
		return left > right
	case tokenLt:
		return left < right
	case tokenGte:
		return left >= right
	case tokenLte:
		return left <= right
	default:
		return false
	}
}

// toFloat normalizes the numeric types that appear in JSON-decoded workflow
// data to float64 for comparison.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
