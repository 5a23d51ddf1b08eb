// Package resolve implements the value-resolution substrate: parsing
// `${type arg}` lookup expressions (spec §4.1) and dispatching to named
// handlers, in both planner mode and execution mode.
package resolve

import (
	"strings"
)

// Token is one piece of a parsed value: either literal text or a parsed
// expression.
type Token struct {
	Literal    string
	IsExpr     bool
	Type       string
	Arg        string
}

// Parse splits a raw string into literal and expression tokens. `type`
// matches `[A-Za-z_][A-Za-z0-9_-]*`; `arg` is the raw text up to the
// *matching* closing brace, brace-balanced to permit nesting (spec §4.1).
func Parse(raw string) []Token {
	var tokens []Token
	i := 0
	n := len(raw)
	for i < n {
		start := strings.Index(raw[i:], "${")
		if start < 0 {
			tokens = append(tokens, Token{Literal: raw[i:]})
			break
		}
		start += i
		if start > i {
			tokens = append(tokens, Token{Literal: raw[i:start]})
		}
		end, ok := matchingBrace(raw, start+2)
		if !ok {
			// unterminated expression: treat the rest as literal
			tokens = append(tokens, Token{Literal: raw[start:]})
			break
		}
		inner := raw[start+2 : end]
		typ, arg := splitTypeArg(inner)
		tokens = append(tokens, Token{IsExpr: true, Type: typ, Arg: arg})
		i = end + 1
	}
	return tokens
}

// matchingBrace finds the index of the `}` matching the `{` implicitly
// opened at from-2 (the caller already consumed "${"), counting nested
// "${" occurrences.
func matchingBrace(raw string, from int) (int, bool) {
	depth := 1
	i := from
	for i < len(raw) {
		switch {
		case strings.HasPrefix(raw[i:], "${"):
			depth++
			i += 2
		case raw[i] == '}':
			depth--
			if depth == 0 {
				return i, true
			}
			i++
		default:
			i++
		}
	}
	return 0, false
}

// splitTypeArg separates "type arg" on the first whitespace run; a body
// with no whitespace and no recognized type defaults to type "output"
// (spec §4.1: "type defaults to output").
func splitTypeArg(inner string) (string, string) {
	trimmed := strings.TrimSpace(inner)
	idx := strings.IndexAny(trimmed, " \t")
	if idx < 0 {
		if isValidType(trimmed) && hasRegisteredShape(trimmed) {
			return trimmed, ""
		}
		return "output", trimmed
	}
	candidate := trimmed[:idx]
	if !isValidType(candidate) {
		return "output", trimmed
	}
	return candidate, strings.TrimSpace(trimmed[idx+1:])
}

func isValidType(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r == '_':
		case r >= '0' && r <= '9' || r == '-':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// hasRegisteredShape is a conservative heuristic: a bare identifier with
// no argument is only treated as a handler name (rather than an implicit
// output arg) when it matches a known zero-shape handler name. Today none
// of the built-ins take zero arguments, so this always reports false,
// leaving single-token expressions to the "output" default.
func hasRegisteredShape(string) bool { return false }

// IsSingleExpression reports whether tokens represent exactly one
// top-level expression with no surrounding literal text (spec §4.1: "a
// value consisting of a single top-level expression returns the handler's
// native payload").
func IsSingleExpression(tokens []Token) (Token, bool) {
	if len(tokens) == 1 && tokens[0].IsExpr {
		return tokens[0], true
	}
	return Token{}, false
}
