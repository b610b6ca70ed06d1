package expr

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// flattenKind marks a value produced by flatten/flatten_recursive so a
// downstream JSON-body renderer can splice it into its parent rather
// than nesting it, mirroring the agentgateway CEL extension's sentinel
// map keys.
type flattenKind string

const (
	flattenList          flattenKind = "$_meta_flatten_list"
	flattenListRecursive flattenKind = "$_meta_flatten_list_recursive"
	flattenMap           flattenKind = "$_meta_flatten_map"
	flattenMapRecursive  flattenKind = "$_meta_flatten_map_recursive"
)

// FlattenMarker is the Go-side shape of a flatten()/flatten_recursive()
// result; JSON body rendering (internal/policy transformation) detects
// this type and splices Value into the enclosing structure instead of
// nesting it under a key.
type FlattenMarker struct {
	Kind  flattenKind
	Value any
}

func customFunctionOptions(e *Engine) []cel.EnvOption {
	return []cel.EnvOption{
		cel.Function("json",
			cel.Overload("json_string", []*cel.Type{cel.StringType}, cel.DynType,
				cel.UnaryBinding(jsonParse)),
			cel.Overload("json_bytes", []*cel.Type{cel.BytesType}, cel.DynType,
				cel.UnaryBinding(jsonParse)),
		),
		cel.Function("to_json",
			cel.Overload("to_json_any", []*cel.Type{cel.DynType}, cel.StringType,
				cel.UnaryBinding(toJSON)),
		),
		cel.Function("base64_encode",
			cel.MemberOverload("string_base64_encode", []*cel.Type{cel.StringType}, cel.StringType,
				cel.UnaryBinding(base64Encode)),
		),
		cel.Function("base64_decode",
			cel.MemberOverload("string_base64_decode", []*cel.Type{cel.StringType}, cel.BytesType,
				cel.UnaryBinding(base64Decode)),
		),
		cel.Function("flatten",
			cel.Overload("flatten_list", []*cel.Type{cel.ListType(cel.DynType)}, cel.DynType,
				cel.UnaryBinding(flattenFn(flattenList))),
			cel.Overload("flatten_map", []*cel.Type{cel.MapType(cel.DynType, cel.DynType)}, cel.DynType,
				cel.UnaryBinding(flattenFn(flattenMap))),
		),
		cel.Function("flatten_recursive",
			cel.Overload("flatten_recursive_list", []*cel.Type{cel.ListType(cel.DynType)}, cel.DynType,
				cel.UnaryBinding(flattenFn(flattenListRecursive))),
			cel.Overload("flatten_recursive_map", []*cel.Type{cel.MapType(cel.DynType, cel.DynType)}, cel.DynType,
				cel.UnaryBinding(flattenFn(flattenMapRecursive))),
		),
		// with(value, "ident", "expr") and map_values(map, "ident", "expr")
		// take the bound-variable name and sub-expression as *strings*
		// rather than raw unevaluated CEL syntax: a deliberate
		// simplification over the original Rust extension (which can
		// splice an unevaluated Expression argument directly) in
		// exchange for not hand-rolling a CEL macro/comprehension for
		// two rarely-hot functions. See DESIGN.md.
		cel.Function("with",
			cel.Overload("with_dyn", []*cel.Type{cel.DynType, cel.StringType, cel.StringType}, cel.DynType,
				cel.FunctionBinding(withFn(e))),
		),
		cel.Function("map_values",
			cel.Overload("map_values_map", []*cel.Type{cel.MapType(cel.DynType, cel.DynType), cel.StringType, cel.StringType}, cel.DynType,
				cel.FunctionBinding(mapValuesFn(e))),
		),
	}
}

func jsonParse(v ref.Val) ref.Val {
	var raw []byte
	switch t := v.Value().(type) {
	case string:
		raw = []byte(t)
	case []byte:
		raw = t
	default:
		return types.NewErr("json: unsupported input type %T", t)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return types.NewErr("json: %v", err)
	}
	return types.DefaultTypeAdapter.NativeToValue(out)
}

func toJSON(v ref.Val) ref.Val {
	out, err := json.Marshal(v.Value())
	if err != nil {
		return types.NewErr("to_json: %v", err)
	}
	return types.String(out)
}

func base64Encode(v ref.Val) ref.Val {
	s, ok := v.Value().(string)
	if !ok {
		return types.NewErr("base64_encode: expected string")
	}
	return types.String(base64.StdEncoding.EncodeToString([]byte(s)))
}

func base64Decode(v ref.Val) ref.Val {
	s, ok := v.Value().(string)
	if !ok {
		return types.NewErr("base64_decode: expected string")
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return types.NewErr("base64_decode: %v", err)
	}
	return types.Bytes(b)
}

func flattenFn(kind flattenKind) func(ref.Val) ref.Val {
	return func(v ref.Val) ref.Val {
		return types.DefaultTypeAdapter.NativeToValue(FlattenMarker{Kind: kind, Value: v.Value()})
	}
}

// compileLocal compiles src in an environment that also declares ident.
func (e *Engine) compileLocal(src, ident string) (*Compiled, error) {
	env, err := e.env.Extend(cel.Variable(ident, cel.DynType))
	if err != nil {
		return nil, err
	}
	ast, iss := env.Compile(src)
	if iss.Err() != nil {
		return nil, iss.Err()
	}
	prg, err := env.Program(ast)
	return &Compiled{source: src, program: prg, FreeAttrs: map[string]bool{}}, err
}

func withFn(e *Engine) func(args ...ref.Val) ref.Val {
	return func(args ...ref.Val) ref.Val {
		if len(args) != 3 {
			return types.NewErr("with: expected 3 args")
		}
		ident, ok1 := args[1].Value().(string)
		sub, ok2 := args[2].Value().(string)
		if !ok1 || !ok2 {
			return types.NewErr("with: ident and expr must be strings")
		}
		compiled, err := e.compileLocal(sub, ident)
		if err != nil {
			return types.NewErr("with: %v", err)
		}
		ctx := NewContext()
		ctx.bindLocal(ident, args[0].Value())
		out, err := e.Eval(compiled, ctx)
		if err != nil {
			return types.NewErr("with: %v", err)
		}
		if out.unset {
			return types.NullValue
		}
		return out.val
	}
}

func mapValuesFn(e *Engine) func(args ...ref.Val) ref.Val {
	return func(args ...ref.Val) ref.Val {
		if len(args) != 3 {
			return types.NewErr("map_values: expected 3 args")
		}
		m, ok := args[0].Value().(map[ref.Val]ref.Val)
		ident, ok1 := args[1].Value().(string)
		sub, ok2 := args[2].Value().(string)
		if !ok1 || !ok2 {
			return types.NewErr("map_values: ident and expr must be strings")
		}
		compiled, err := e.compileLocal(sub, ident)
		if err != nil {
			return types.NewErr("map_values: %v", err)
		}
		result := map[string]any{}
		if ok {
			for k, v := range m {
				ctx := NewContext()
				ctx.bindLocal(ident, v.Value())
				out, err := e.Eval(compiled, ctx)
				if err != nil {
					return types.NewErr("map_values: %v", err)
				}
				result[fmt.Sprintf("%v", k.Value())] = valueOrNil(out)
			}
			return types.DefaultTypeAdapter.NativeToValue(result)
		}
		// mapType container adapted to Go map[string]any by the type adapter.
		mv, ok := args[0].Value().(map[string]any)
		if !ok {
			return types.NewErr("map_values: expected map")
		}
		for k, v := range mv {
			ctx := NewContext()
			ctx.bindLocal(ident, v)
			out, err := e.Eval(compiled, ctx)
			if err != nil {
				return types.NewErr("map_values: %v", err)
			}
			result[k] = valueOrNil(out)
		}
		return types.DefaultTypeAdapter.NativeToValue(result)
	}
}

func valueOrNil(v Value) any {
	if v.unset || v.val == nil {
		return nil
	}
	return v.val.Value()
}

func isUnsetErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such key") ||
		strings.Contains(msg, "no such attribute") ||
		strings.Contains(msg, "no such field") ||
		strings.Contains(msg, "unsupported conversion") && strings.Contains(msg, "null")
}

func isUnsetVal(v ref.Val) bool {
	if err, ok := v.Value().(error); ok {
		return isUnsetErr(err)
	}
	return false
}
