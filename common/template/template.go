// Package template implements the variable-substitution engine described
// in spec §4.1: recursive rewriting of arbitrarily nested JSON values
// against a context, with type preservation on whole-string references
// and string-coercing interpolation otherwise.
//
// Grounded on original_source/backend/lib/node.py's substitute_variables
// (env-var-only $VAR form), generalized to the dotted-path / ${} /
// type-preserving form spec.md actually specifies, walked the way
// cmd/workflow-runner/resolver/resolver.go recurses over map/slice/string.
package template

import (
	"os"
	"regexp"
	"strings"

	"github.com/lyzr/workflowcore/common/jsonvalue"
)

// identPattern matches a dotted path: an identifier followed by any number
// of ".segment" parts, each an identifier or an array index.
const identPattern = `[A-Za-z_][A-Za-z0-9_]*(?:\.(?:[A-Za-z_][A-Za-z0-9_]*|[0-9]+))*`

var (
	wholeBare  = regexp.MustCompile(`^\$(` + identPattern + `)$`)
	wholeBrace = regexp.MustCompile(`^\$\{(` + identPattern + `)\}$`)
	interp     = regexp.MustCompile(`\$\{(` + identPattern + `)\}|\$(` + identPattern + `)`)
	envName    = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)
)

// Substitute rewrites template against context, per spec §4.1. It is a
// pure function of its two arguments: no mutation, no ordering
// dependency across object keys.
func Substitute(tmpl jsonvalue.Value, ctx jsonvalue.Value) jsonvalue.Value {
	switch tmpl.Kind {
	case jsonvalue.KindString:
		return substituteString(tmpl.Str, ctx)
	case jsonvalue.KindArray:
		out := make([]jsonvalue.Value, len(tmpl.Arr))
		for i, item := range tmpl.Arr {
			out[i] = Substitute(item, ctx)
		}
		return jsonvalue.Array(out)
	case jsonvalue.KindObject:
		out := make(map[string]jsonvalue.Value, len(tmpl.Obj))
		for k, item := range tmpl.Obj {
			out[k] = Substitute(item, ctx)
		}
		return jsonvalue.Object(out)
	default:
		return tmpl
	}
}

func substituteString(s string, ctx jsonvalue.Value) jsonvalue.Value {
	if m := wholeBare.FindStringSubmatch(s); m != nil {
		return resolveWhole(m[1], ctx, s)
	}
	if m := wholeBrace.FindStringSubmatch(s); m != nil {
		return resolveWhole(m[1], ctx, s)
	}
	if !strings.Contains(s, "$") {
		return jsonvalue.String(s)
	}
	out := interp.ReplaceAllStringFunc(s, func(match string) string {
		var path string
		if strings.HasPrefix(match, "${") {
			path = match[2 : len(match)-1]
		} else {
			path = match[1:]
		}
		val, ok := resolvePath(path, ctx)
		if !ok {
			return match
		}
		return val.String()
	})
	return jsonvalue.String(out)
}

// resolveWhole implements the whole-string-reference branch: substitute
// preserving the resolved value's JSON type, falling back to env, falling
// back to the literal string unchanged.
func resolveWhole(path string, ctx jsonvalue.Value, original string) jsonvalue.Value {
	if val, ok := resolvePath(path, ctx); ok {
		return val
	}
	return jsonvalue.String(original)
}

// resolvePath resolves a dotted path against ctx, falling back to the
// environment variable of the same joined name when the path is a single,
// all-uppercase segment (dotted paths are never looked up in the
// environment, per spec §6).
func resolvePath(path string, ctx jsonvalue.Value) (jsonvalue.Value, bool) {
	segments := strings.Split(path, ".")
	if val, ok := ctx.GetPath(segments); ok {
		return val, true
	}
	if len(segments) == 1 && envName.MatchString(path) {
		if v, ok := os.LookupEnv(path); ok {
			return jsonvalue.String(v), true
		}
	}
	return jsonvalue.Null, false
}
