package expr

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"
)

// The expression grammar, lowest precedence first:
//
//	or       := and ("or" and)*
//	and      := not ("and" not)*
//	not      := "not" not | cmp
//	cmp      := add (("=="|"!="|">"|">="|"<"|"<="|"in"|"contains") add)?
//	add      := mul (("+"|"-") mul)*
//	mul      := unary (("*"|"/"|"%") unary)*
//	unary    := "-" unary | postfix
//	postfix  := primary ("." ident | "[" or "]")*
//	primary  := literal | array | object | "(" or ")" | ident ("(" args ")")?
//
// Bare identifiers are resolved against the variable scope; unknown names
// evaluate to nil.

type node interface {
	eval(scope map[string]any) (any, error)
}

type literalNode struct{ value any }

func (n literalNode) eval(map[string]any) (any, error) { return n.value, nil }

type identNode struct{ name string }

func (n identNode) eval(scope map[string]any) (any, error) {
	if scope == nil {
		return nil, nil
	}
	return scope[n.name], nil
}

type fieldNode struct {
	base  node
	field string
}

func (n fieldNode) eval(scope map[string]any) (any, error) {
	base, err := n.base.eval(scope)
	if err != nil {
		return nil, err
	}
	if m, ok := base.(map[string]any); ok {
		return m[n.field], nil
	}
	return nil, nil
}

type indexNode struct {
	base node
	idx  node
}

func (n indexNode) eval(scope map[string]any) (any, error) {
	base, err := n.base.eval(scope)
	if err != nil {
		return nil, err
	}
	idx, err := n.idx.eval(scope)
	if err != nil {
		return nil, err
	}
	switch b := base.(type) {
	case []any:
		f, ok := toFloat(idx)
		if !ok {
			return nil, nil
		}
		i := int(f)
		if i < 0 {
			i += len(b)
		}
		if i < 0 || i >= len(b) {
			return nil, nil
		}
		return b[i], nil
	case map[string]any:
		if key, ok := idx.(string); ok {
			return b[key], nil
		}
		return nil, nil
	case string:
		f, ok := toFloat(idx)
		if !ok {
			return nil, nil
		}
		runes := []rune(b)
		i := int(f)
		if i < 0 {
			i += len(runes)
		}
		if i < 0 || i >= len(runes) {
			return nil, nil
		}
		return string(runes[i]), nil
	default:
		return nil, nil
	}
}

type arrayNode struct{ elems []node }

func (n arrayNode) eval(scope map[string]any) (any, error) {
	out := make([]any, len(n.elems))
	for i, e := range n.elems {
		v, err := e.eval(scope)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type objectNode struct {
	keys  []string
	elems []node
}

func (n objectNode) eval(scope map[string]any) (any, error) {
	out := make(map[string]any, len(n.keys))
	for i, k := range n.keys {
		v, err := n.elems[i].eval(scope)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

type callNode struct {
	name string
	fn   builtinFunc
	args []node
}

func (n callNode) eval(scope map[string]any) (any, error) {
	args := make([]any, len(n.args))
	for i, a := range n.args {
		v, err := a.eval(scope)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	out, err := n.fn(args)
	if err != nil {
		return nil, fmt.Errorf("%s(): %w", n.name, err)
	}
	return out, nil
}

type unaryNode struct {
	op      string
	operand node
}

func (n unaryNode) eval(scope map[string]any) (any, error) {
	v, err := n.operand.eval(scope)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "not":
		return !isTruthy(v), nil
	case "-":
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("cannot negate %T", v)
		}
		return -f, nil
	}
	return nil, fmt.Errorf("unknown unary operator %q", n.op)
}

type binaryNode struct {
	op          string
	left, right node
}

func (n binaryNode) eval(scope map[string]any) (any, error) {
	// Short-circuit logical operators.
	switch n.op {
	case "and":
		lv, err := n.left.eval(scope)
		if err != nil {
			return nil, err
		}
		if !isTruthy(lv) {
			return false, nil
		}
		rv, err := n.right.eval(scope)
		if err != nil {
			return nil, err
		}
		return isTruthy(rv), nil
	case "or":
		lv, err := n.left.eval(scope)
		if err != nil {
			return nil, err
		}
		if isTruthy(lv) {
			return true, nil
		}
		rv, err := n.right.eval(scope)
		if err != nil {
			return nil, err
		}
		return isTruthy(rv), nil
	}

	lv, err := n.left.eval(scope)
	if err != nil {
		return nil, err
	}
	rv, err := n.right.eval(scope)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==":
		return valuesEqual(lv, rv), nil
	case "!=":
		return !valuesEqual(lv, rv), nil
	case ">", ">=", "<", "<=":
		return compareOrdered(n.op, lv, rv)
	case "in":
		return contains(rv, lv), nil
	case "contains":
		return contains(lv, rv), nil
	case "+":
		if ls, ok := lv.(string); ok {
			return ls + Stringify(rv), nil
		}
		if la, ok := lv.([]any); ok {
			if ra, ok := rv.([]any); ok {
				out := make([]any, 0, len(la)+len(ra))
				out = append(out, la...)
				return append(out, ra...), nil
			}
		}
		return arith(n.op, lv, rv)
	case "-", "*", "/", "%":
		return arith(n.op, lv, rv)
	}
	return nil, fmt.Errorf("unknown operator %q", n.op)
}

func valuesEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func compareOrdered(op string, a, b any) (any, error) {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return applyOrder(op, compareFloats(af, bf)), nil
		}
	}
	if as, aok := a.(string); aok {
		if bs, bok := b.(string); bok {
			return applyOrder(op, strings.Compare(as, bs)), nil
		}
	}
	// Incomparable operands order as false, mirroring nil-path leniency.
	return false, nil
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func applyOrder(op string, cmp int) bool {
	switch op {
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	}
	return false
}

func contains(container, elem any) bool {
	switch c := container.(type) {
	case string:
		return strings.Contains(c, Stringify(elem))
	case []any:
		for _, v := range c {
			if valuesEqual(v, elem) {
				return true
			}
		}
		return false
	case map[string]any:
		key, ok := elem.(string)
		if !ok {
			return false
		}
		_, present := c[key]
		return present
	default:
		return false
	}
}

func arith(op string, a, b any) (any, error) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return nil, fmt.Errorf("operator %q requires numeric operands, got %T and %T", op, a, b)
	}
	switch op {
	case "+":
		return af + bf, nil
	case "-":
		return af - bf, nil
	case "*":
		return af * bf, nil
	case "/":
		if bf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return af / bf, nil
	case "%":
		if bf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return float64(int64(af) % int64(bf)), nil
	}
	return nil, fmt.Errorf("unknown arithmetic operator %q", op)
}

// --- lexer ---

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokOp
	tokPunct
)

type token struct {
	kind tokenKind
	text string
	num  float64
}

type parser struct {
	toks  []token
	pos   int
	funcs map[string]builtinFunc
}

func newParser(input string, funcs map[string]builtinFunc) *parser {
	return &parser{toks: lex(input), funcs: funcs}
}

func lex(input string) []token {
	var toks []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			var sb strings.Builder
			for j < len(input) && input[j] != quote {
				if input[j] == '\\' && j+1 < len(input) {
					j++
					switch input[j] {
					case 'n':
						sb.WriteByte('\n')
					case 't':
						sb.WriteByte('\t')
					default:
						sb.WriteByte(input[j])
					}
				} else {
					sb.WriteByte(input[j])
				}
				j++
			}
			toks = append(toks, token{kind: tokString, text: sb.String()})
			i = j + 1
		case c >= '0' && c <= '9':
			j := i
			for j < len(input) && (input[j] >= '0' && input[j] <= '9' || input[j] == '.') {
				j++
			}
			f, err := strconv.ParseFloat(input[i:j], 64)
			if err != nil {
				// Treat malformed numbers as zero; the parser surfaces context.
				f = 0
			}
			toks = append(toks, token{kind: tokNumber, num: f, text: input[i:j]})
			i = j
		case isIdentStart(rune(c)):
			j := i
			for j < len(input) && isIdentPart(rune(input[j])) {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: input[i:j]})
			i = j
		case strings.ContainsRune("=!<>", rune(c)):
			if i+1 < len(input) && input[i+1] == '=' {
				toks = append(toks, token{kind: tokOp, text: input[i : i+2]})
				i += 2
			} else {
				toks = append(toks, token{kind: tokOp, text: string(c)})
				i++
			}
		case strings.ContainsRune("+-*/%", rune(c)):
			toks = append(toks, token{kind: tokOp, text: string(c)})
			i++
		case strings.ContainsRune("()[]{},.:", rune(c)):
			toks = append(toks, token{kind: tokPunct, text: string(c)})
			i++
		default:
			// Skip unrecognized bytes rather than failing mid-template.
			i++
		}
	}
	toks = append(toks, token{kind: tokEOF})
	return toks
}

func isIdentStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_'
}

func isIdentPart(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func (p *parser) peek() token  { return p.toks[p.pos] }
func (p *parser) next() token  { t := p.toks[p.pos]; p.pos++; return t }
func (p *parser) backup()      { p.pos-- }
func (p *parser) atEOF() bool  { return p.peek().kind == tokEOF }
func (p *parser) accept(text string) bool {
	t := p.peek()
	if (t.kind == tokOp || t.kind == tokPunct || t.kind == tokIdent) && t.text == text {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(text string) error {
	if !p.accept(text) {
		return fmt.Errorf("expected %q, got %q", text, p.peek().text)
	}
	return nil
}

func (p *parser) parse() (node, error) {
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.atEOF() {
		return nil, fmt.Errorf("unexpected trailing token %q", p.peek().text)
	}
	return n, nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.accept("or") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.accept("and") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.accept("not") {
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: "not", operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for _, op := range []string{"==", "!=", ">=", "<=", ">", "<", "in", "contains"} {
		if p.accept(op) {
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			return binaryNode{op: op, left: left, right: right}, nil
		}
	}
	return left, nil
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.accept("+"):
			right, err := p.parseMultiplicative()
			if err != nil {
				return nil, err
			}
			left = binaryNode{op: "+", left: left, right: right}
		case p.accept("-"):
			right, err := p.parseMultiplicative()
			if err != nil {
				return nil, err
			}
			left = binaryNode{op: "-", left: left, right: right}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseMultiplicative() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		matched := false
		for _, op := range []string{"*", "/", "%"} {
			if p.accept(op) {
				right, err := p.parseUnary()
				if err != nil {
					return nil, err
				}
				left = binaryNode{op: op, left: left, right: right}
				matched = true
				break
			}
		}
		if !matched {
			return left, nil
		}
	}
}

func (p *parser) parseUnary() (node, error) {
	if p.accept("-") {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: "-", operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (node, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.accept("."):
			t := p.next()
			if t.kind != tokIdent {
				return nil, fmt.Errorf("expected field name after '.', got %q", t.text)
			}
			base = fieldNode{base: base, field: t.text}
		case p.accept("["):
			idx, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if err := p.expect("]"); err != nil {
				return nil, err
			}
			base = indexNode{base: base, idx: idx}
		default:
			return base, nil
		}
	}
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return literalNode{value: t.num}, nil
	case tokString:
		return literalNode{value: t.text}, nil
	case tokIdent:
		switch t.text {
		case "true":
			return literalNode{value: true}, nil
		case "false":
			return literalNode{value: false}, nil
		case "null", "nil":
			return literalNode{value: nil}, nil
		}
		// Function call or scope identifier.
		if p.accept("(") {
			fn, ok := p.funcs[t.text]
			if !ok {
				return nil, fmt.Errorf("unknown function %q", t.text)
			}
			var args []node
			if !p.accept(")") {
				for {
					arg, err := p.parseOr()
					if err != nil {
						return nil, err
					}
					args = append(args, arg)
					if p.accept(")") {
						break
					}
					if err := p.expect(","); err != nil {
						return nil, err
					}
				}
			}
			return callNode{name: t.text, fn: fn, args: args}, nil
		}
		return identNode{name: t.text}, nil
	case tokPunct:
		switch t.text {
		case "(":
			inner, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			return inner, nil
		case "[":
			var elems []node
			if !p.accept("]") {
				for {
					elem, err := p.parseOr()
					if err != nil {
						return nil, err
					}
					elems = append(elems, elem)
					if p.accept("]") {
						break
					}
					if err := p.expect(","); err != nil {
						return nil, err
					}
				}
			}
			return arrayNode{elems: elems}, nil
		case "{":
			var keys []string
			var elems []node
			if !p.accept("}") {
				for {
					kt := p.next()
					if kt.kind != tokString && kt.kind != tokIdent {
						return nil, fmt.Errorf("expected object key, got %q", kt.text)
					}
					if err := p.expect(":"); err != nil {
						return nil, err
					}
					val, err := p.parseOr()
					if err != nil {
						return nil, err
					}
					keys = append(keys, kt.text)
					elems = append(elems, val)
					if p.accept("}") {
						break
					}
					if err := p.expect(","); err != nil {
						return nil, err
					}
				}
			}
			return objectNode{keys: keys, elems: elems}, nil
		}
	}
	return nil, fmt.Errorf("unexpected token %q", t.text)
}
