// Package expr implements the template expression language used by workflow
// step configurations.
//
// Two evaluation surfaces are supported:
//
//   - Interpolation: text containing ${...} placeholders. Each placeholder is
//     evaluated against the variable scope and stringified in place.
//   - Bare expression: input that consists of exactly one ${...} placeholder.
//     The typed value of the expression is returned unchanged.
//
// The expression language supports dotted path access with [index] subscripts,
// literals (strings, numbers, booleans, null, arrays, objects), a fixed set of
// built-in functions, binary comparison and arithmetic operators, logical
// and/or/not, and the membership operators in/contains.
//
// Evaluation is pure: the same scope always produces the same result, and the
// scope is never mutated. Undefined paths evaluate to nil rather than raising
// an error.
package expr

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Resolver evaluates ${...} expressions against a variable scope.
//
// A single Resolver is safe for concurrent use; it carries only the immutable
// built-in function table.
type Resolver struct {
	funcs map[string]builtinFunc
}

// New creates a Resolver with the full built-in function set registered.
func New() *Resolver {
	return &Resolver{funcs: builtins()}
}

// Resolve evaluates input against scope.
//
// If the whole input is a single ${...} expression the typed result is
// returned. Otherwise every embedded ${...} is replaced by its stringified
// value and the interpolated string is returned.
func (r *Resolver) Resolve(input string, scope map[string]any) (any, error) {
	if inner, ok := bareExpression(input); ok {
		return r.Eval(inner, scope)
	}
	return r.ResolveString(input, scope)
}

// ResolveString interpolates every ${...} placeholder in input and returns
// the resulting string. Inputs without placeholders are returned unchanged.
func (r *Resolver) ResolveString(input string, scope map[string]any) (string, error) {
	var sb strings.Builder
	rest := input
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			sb.WriteString(rest)
			return sb.String(), nil
		}
		sb.WriteString(rest[:start])
		end := matchingBrace(rest, start+2)
		if end < 0 {
			// Unterminated placeholder: emit verbatim.
			sb.WriteString(rest[start:])
			return sb.String(), nil
		}
		val, err := r.Eval(rest[start+2:end], scope)
		if err != nil {
			return "", err
		}
		sb.WriteString(Stringify(val))
		rest = rest[end+1:]
	}
}

// ResolveValue resolves v recursively: strings are interpolated, maps and
// slices are walked. Other values are returned unchanged. The input is never
// mutated; containers are copied.
func (r *Resolver) ResolveValue(v any, scope map[string]any) (any, error) {
	switch tv := v.(type) {
	case string:
		return r.Resolve(tv, scope)
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, elem := range tv {
			resolved, err := r.ResolveValue(elem, scope)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(tv))
		for i, elem := range tv {
			resolved, err := r.ResolveValue(elem, scope)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// Eval evaluates a raw expression and returns its typed value. Embedded
// ${...} placeholders are treated as parenthesized subexpressions, so
// conditions may mix placeholders with operators: `${_last} == 'pos'`.
func (r *Resolver) Eval(expression string, scope map[string]any) (any, error) {
	p := newParser(unwrapPlaceholders(expression), r.funcs)
	node, err := p.parse()
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", expression, err)
	}
	return node.eval(scope)
}

// Truthy evaluates an expression and reports whether the result is truthy.
// Nil, false, zero numbers, empty strings, and empty collections are falsy.
func (r *Resolver) Truthy(expression string, scope map[string]any) (bool, error) {
	if inner, ok := bareExpression(expression); ok {
		expression = inner
	}
	val, err := r.Eval(expression, scope)
	if err != nil {
		return false, err
	}
	return isTruthy(val), nil
}

// bareExpression reports whether input is exactly one ${...} placeholder and
// returns the inner expression text.
func bareExpression(input string) (string, bool) {
	trimmed := strings.TrimSpace(input)
	if !strings.HasPrefix(trimmed, "${") {
		return "", false
	}
	end := matchingBrace(trimmed, 2)
	if end != len(trimmed)-1 {
		return "", false
	}
	return trimmed[2:end], true
}

// unwrapPlaceholders rewrites every ${...} placeholder in an expression as a
// parenthesized subexpression. Placeholders inside string literals are left
// alone; an unterminated placeholder passes through verbatim.
func unwrapPlaceholders(input string) string {
	if !strings.Contains(input, "${") {
		return input
	}
	var sb strings.Builder
	var quote byte
	i := 0
	for i < len(input) {
		c := input[i]
		if quote != 0 {
			sb.WriteByte(c)
			if c == '\\' && i+1 < len(input) {
				i++
				sb.WriteByte(input[i])
			} else if c == quote {
				quote = 0
			}
			i++
			continue
		}
		switch {
		case c == '\'' || c == '"':
			quote = c
			sb.WriteByte(c)
			i++
		case c == '$' && i+1 < len(input) && input[i+1] == '{':
			end := matchingBrace(input, i+2)
			if end < 0 {
				sb.WriteString(input[i:])
				return sb.String()
			}
			sb.WriteByte('(')
			sb.WriteString(unwrapPlaceholders(input[i+2 : end]))
			sb.WriteByte(')')
			i = end + 1
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return sb.String()
}

// matchingBrace returns the index of the brace closing the placeholder whose
// body starts at from. Braces inside string literals are ignored. Returns -1
// when unterminated.
func matchingBrace(s string, from int) int {
	depth := 1
	var quote byte
	for i := from; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// Stringify converts a value to its interpolated string form. Integral floats
// render without a decimal point; nil renders as the empty string; composite
// values render as compact JSON.
func Stringify(v any) string {
	switch tv := v.(type) {
	case nil:
		return ""
	case string:
		return tv
	case bool:
		if tv {
			return "true"
		}
		return "false"
	case float64:
		if tv == math.Trunc(tv) && math.Abs(tv) < 1e15 {
			return fmt.Sprintf("%d", int64(tv))
		}
		return fmt.Sprintf("%g", tv)
	case float32:
		return Stringify(float64(tv))
	case int:
		return fmt.Sprintf("%d", tv)
	case int64:
		return fmt.Sprintf("%d", tv)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// isTruthy implements the language's truthiness rules.
func isTruthy(v any) bool {
	switch tv := v.(type) {
	case nil:
		return false
	case bool:
		return tv
	case string:
		return tv != ""
	case []any:
		return len(tv) > 0
	case map[string]any:
		return len(tv) > 0
	default:
		if f, ok := toFloat(v); ok {
			return f != 0
		}
		return true
	}
}

// toFloat converts any numeric representation to float64.
func toFloat(v any) (float64, bool) {
	switch tv := v.(type) {
	case float64:
		return tv, true
	case float32:
		return float64(tv), true
	case int:
		return float64(tv), true
	case int8:
		return float64(tv), true
	case int16:
		return float64(tv), true
	case int32:
		return float64(tv), true
	case int64:
		return float64(tv), true
	case uint:
		return float64(tv), true
	case uint64:
		return float64(tv), true
	case json.Number:
		f, err := tv.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// LookupPath resolves a dotted path (with optional [index] subscripts)
// against a scope, returning nil when any segment is missing.
//
// Examples: "user.name", "items[0].id", "results[2]".
func LookupPath(scope map[string]any, path string) any {
	node, err := newParser(path, nil).parse()
	if err != nil {
		return nil
	}
	val, err := node.eval(scope)
	if err != nil {
		return nil
	}
	return val
}
