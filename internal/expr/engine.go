// Package expr implements the expression engine (spec.md section 4.8):
// boolean/value expressions compiled once against a lazy attribute map
// and evaluated per request. Evaluation is total — a missing attribute
// yields a typed null rather than aborting (spec.md's testable property
// "expression totality").
package expr

import (
	"fmt"
	"regexp"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/kgateway-dev/agentgatewayd/internal/logging"
)

var logger = logging.New("expr")

// TopLevelAttrs are the attribute-map roots an ExprContext may lazily
// populate, per spec.md section 3 (ExprContext entity).
var TopLevelAttrs = []string{"request", "response", "source", "destination", "backend", "jwt", "mcp"}

var identRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// Engine compiles and evaluates expressions against a shared CEL
// environment. One Engine is built at config load and reused for every
// route/policy that declares expressions.
type Engine struct {
	env *cel.Env
}

// NewEngine builds the shared CEL environment: the seven top-level
// attribute variables, the string extension functions spec.md names
// (ext.Strings, matching github.com/google/cel-go/ext one-to-one with
// charAt/indexOf/join/lastIndexOf/lowerAscii/upperAscii/trim/replace/split/substring),
// and agentgateway's custom functions (json, to_json, with, flatten,
// flatten_recursive, map_values, variables, base64_encode, base64_decode).
func NewEngine() (*Engine, error) {
	e := &Engine{}
	opts := []cel.EnvOption{
		ext.Strings(),
	}
	for _, a := range TopLevelAttrs {
		opts = append(opts, cel.Variable(a, cel.DynType))
	}
	opts = append(opts, cel.Variable(hiddenVariablesIdent, cel.DynType))
	opts = append(opts, customFunctionOptions(e)...)

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("build cel environment: %w", err)
	}
	e.env = env
	return e, nil
}

// Compiled is an expression compiled once and ready for repeated
// evaluation. FreeAttrs names which top-level attributes the expression
// actually references, driving lazy ExprContext materialization.
type Compiled struct {
	source    string
	program   cel.Program
	FreeAttrs map[string]bool
}

// hiddenVariablesIdent backs the variables() custom function: Compile
// rewrites bare "variables()" calls to a reference to this identifier,
// which Context always binds to the full (so-far-materialized)
// attribute map. This sidesteps needing a true CEL macro or
// activation-introspecting function binding for a zero-arg builtin.
const hiddenVariablesIdent = "__variables"

var variablesCallRe = regexp.MustCompile(`\bvariables\s*\(\s*\)`)

// Compile parses and type-checks src, returning a reusable program plus
// the set of top-level attributes it references.
func (e *Engine) Compile(src string) (*Compiled, error) {
	rewritten := variablesCallRe.ReplaceAllString(src, hiddenVariablesIdent)

	ast, iss := e.env.Compile(rewritten)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile expression %q: %w", src, iss.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build program for %q: %w", src, err)
	}

	free := map[string]bool{}
	normalized, err := cel.AstToString(ast)
	if err != nil {
		normalized = rewritten
	}
	for _, m := range identRe.FindAllString(normalized, -1) {
		for _, a := range TopLevelAttrs {
			if m == a {
				free[a] = true
			}
		}
	}
	if variablesCallRe.MatchString(src) {
		// variables() observes everything materialized so far; be
		// conservative and request all attributes.
		for _, a := range TopLevelAttrs {
			free[a] = true
		}
	}

	return &Compiled{source: src, program: prg, FreeAttrs: free}, nil
}

// Value wraps a CEL evaluation result. IsUnset reports a typed "unset"
// (the expression referenced a populated attribute but the concrete
// field it asked for doesn't exist) rather than an evaluation failure.
type Value struct {
	val   ref.Val
	unset bool
}

// Eval runs c against ctx's materialized attributes (see Context.Activation).
// It never returns an error for a missing attribute: per spec.md's
// totality property, "no such key"/"no such field" is folded into a
// typed-unset Value. Genuine program errors (e.g. type mismatches) are
// still returned as errors — totality covers *attribute absence*, not
// malformed expressions.
func (e *Engine) Eval(c *Compiled, ctx *Context) (Value, error) {
	act, err := ctx.Activation(e, c.FreeAttrs)
	if err != nil {
		return Value{}, fmt.Errorf("build activation: %w", err)
	}
	out, _, err := c.program.Eval(act)
	if err != nil {
		if isUnsetErr(err) {
			return Value{unset: true}, nil
		}
		return Value{}, fmt.Errorf("eval %q: %w", c.source, err)
	}
	if types.IsUnknownOrError(out) {
		if isUnsetVal(out) {
			return Value{unset: true}, nil
		}
		return Value{}, fmt.Errorf("eval %q: %v", c.source, out)
	}
	return Value{val: out}, nil
}

// Bool evaluates c and coerces the result to bool. An unset result or a
// non-boolean result is treated as false — never a panic — matching the
// authorization policy's "deny/allow expression evaluates to true"
// contract, which must always resolve to a definite boolean.
func (e *Engine) Bool(c *Compiled, ctx *Context) (bool, error) {
	v, err := e.Eval(c, ctx)
	if err != nil {
		return false, err
	}
	if v.unset || v.val == nil {
		return false, nil
	}
	b, ok := v.val.Value().(bool)
	return ok && b, nil
}

// String evaluates c and coerces the result to a string for header
// injection (transformation policy). Unset yields "".
func (e *Engine) String(c *Compiled, ctx *Context) (string, error) {
	v, err := e.Eval(c, ctx)
	if err != nil {
		return "", err
	}
	if v.unset || v.val == nil {
		return "", nil
	}
	return fmt.Sprintf("%v", v.val.Value()), nil
}
