package resolve

import (
	"context"
	"fmt"
	"strings"

	"github.com/stackctl/stackctl/internal/domain/stackset"
)

// Mode selects planner-time vs execution-time resolution semantics
// (spec §4.1 "Planner vs. execution-time resolution").
type Mode int

const (
	// ModePlanner: unresolved `output` references raise
	// UnresolvedDependency, which the planner turns into graph edges
	// instead of failing.
	ModePlanner Mode = iota
	// ModeExecution: every consumer's expressions are re-resolved after a
	// producing step completes; failures now propagate as step failures.
	ModeExecution
)

// Handler resolves one lookup's argument string into a value. Handlers
// that can run eagerly at plan time should do so; a handler that cannot
// yet resolve (because its input transitively depends on another stack's
// not-yet-known output) should return an UnresolvedDependencyError.
type Handler func(ctx context.Context, rc *Context, arg string) (interface{}, error)

// Context carries everything a Handler needs: the execution-wide state,
// the config directory (for file:// relative paths), and which stack is
// asking (for error attribution).
type Context struct {
	Mode        Mode
	Namespace   string
	ConfigDir   string
	Exec        *stackset.ExecContext
	RxRefCache  map[string]map[string]string // namespace-qualified prior-build outputs
	Consumer    string                       // logical_name of the stack being resolved
	Provider    interface{}                  // optional capability bundle (kms/ssm/dynamodb/ami), type-asserted by handlers
}

// Resolver parses and resolves `${type arg}` expressions against a handler
// registry (spec §4.1).
type Resolver struct {
	handlers map[string]Handler
}

// NewResolver returns a Resolver with the given handler registry. Built-in
// handlers are installed by NewDefaultRegistry (handlers.go); callers may
// add `custom` registrations on top.
func NewResolver(handlers map[string]Handler) *Resolver {
	r := &Resolver{handlers: make(map[string]Handler, len(handlers))}
	for k, v := range handlers {
		r.handlers[k] = v
	}
	return r
}

// Register adds or overrides a handler by name, used for the `custom`
// lookup type and for tests.
func (r *Resolver) Register(name string, h Handler) {
	r.handlers[name] = h
}

// ResolveValue recursively resolves a raw config value: a string is
// parsed for `${…}` expressions, a list/map is resolved element-wise
// (spec §4.1: "Parses a raw value (scalar, list, or map — recursively)").
func (r *Resolver) ResolveValue(ctx context.Context, rc *Context, raw interface{}) (interface{}, error) {
	switch v := raw.(type) {
	case string:
		return r.resolveString(ctx, rc, v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			resolved, err := r.ResolveValue(ctx, rc, item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			resolved, err := r.ResolveValue(ctx, rc, item)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

func (r *Resolver) resolveString(ctx context.Context, rc *Context, raw string) (interface{}, error) {
	tokens := Parse(raw)
	if len(tokens) == 0 {
		return "", nil
	}
	if single, ok := IsSingleExpression(tokens); ok {
		return r.resolveExpr(ctx, rc, single)
	}

	var out string
	for _, t := range tokens {
		if !t.IsExpr {
			out += t.Literal
			continue
		}
		v, err := r.resolveExpr(ctx, rc, t)
		if err != nil {
			return nil, err
		}
		out += stringify(v)
	}
	return out, nil
}

func (r *Resolver) resolveExpr(ctx context.Context, rc *Context, t Token) (interface{}, error) {
	// "default" is special-cased ahead of the generic handler dispatch: its
	// "name" half is itself an arbitrary, possibly-unresolved lookup, and a
	// failure resolving it must fall back to the literal "fallback" half
	// rather than propagate (spec §4.1 "returns the value of another
	// lookup if it resolves, else the literal fallback"). An ordinary leaf
	// handler can't express "try this, swallow the error" — only the
	// resolver, which already knows how to recursively resolve, can.
	if t.Type == "default" {
		return r.resolveDefault(ctx, rc, t.Arg)
	}

	// Nested expressions inside arg are resolved first so the outer
	// handler sees the inner's result (spec §4.1: "the outer lookup sees
	// the inner's result").
	resolvedArg, err := r.resolveNestedArg(ctx, rc, t.Arg)
	if err != nil {
		return nil, err
	}

	handler, ok := r.handlers[t.Type]
	if !ok {
		return nil, &stackset.DomainError{
			Code:    stackset.ErrCodeResolution,
			Message: fmt.Sprintf("unknown lookup type %q", t.Type),
			Context: map[string]interface{}{"type": t.Type, "arg": t.Arg},
		}
	}
	return handler(ctx, rc, resolvedArg)
}

// resolveDefault implements the `default` lookup (spec §4.1): arg is
// `name::fallback`, split at the top-level "::" (not one nested inside an
// embedded "${…}"). "name" is itself resolved as an expression; if that
// resolution errors for any reason — including an UnresolvedDependency in
// planner mode — the literal "fallback" text is returned instead.
func (r *Resolver) resolveDefault(ctx context.Context, rc *Context, arg string) (interface{}, error) {
	nameRaw, fallback, ok := splitTopLevelSep(arg, "::")
	if !ok {
		return arg, nil
	}
	val, err := r.resolveString(ctx, rc, nameRaw)
	if err != nil {
		return fallback, nil
	}
	return val, nil
}

// splitTopLevelSep splits s at the first occurrence of sep that is not
// nested inside a "${…}" expression, mirroring matchingBrace's nesting
// rules so a "::" inside an embedded lookup's own arg doesn't get mistaken
// for the top-level name/fallback separator.
func splitTopLevelSep(s, sep string) (string, string, bool) {
	depth := 0
	for i := 0; i+len(sep) <= len(s); i++ {
		switch {
		case strings.HasPrefix(s[i:], "${"):
			depth++
		case s[i] == '}' && depth > 0:
			depth--
		}
		if depth == 0 && strings.HasPrefix(s[i:], sep) {
			return s[:i], s[i+len(sep):], true
		}
	}
	return s, "", false
}

func (r *Resolver) resolveNestedArg(ctx context.Context, rc *Context, arg string) (string, error) {
	if !containsExpr(arg) {
		return arg, nil
	}
	resolved, err := r.resolveString(ctx, rc, arg)
	if err != nil {
		return "", err
	}
	return stringify(resolved), nil
}

func containsExpr(s string) bool {
	for i := 0; i < len(s)-1; i++ {
		if s[i] == '$' && s[i+1] == '{' {
			return true
		}
	}
	return false
}

func stringify(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprintf("%v", x)
	}
}

// IsUnresolvedDependency reports whether err is an
// UnresolvedDependencyError, and extracts the producer's logical name.
func IsUnresolvedDependency(err error) (string, bool) {
	if ud, ok := err.(*stackset.UnresolvedDependencyError); ok {
		return ud.Producer, true
	}
	return "", false
}
