package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/tjfontaine/agent-router/internal/core/domain"
)

// ValidateArgs checks args against the subset of JSON Schema that tool servers
// declare in practice: required keys, property types, enums and
// additionalProperties=false. Unknown schema keywords are ignored.
func ValidateArgs(schema map[string]any, args map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	var problems []string

	for _, name := range stringList(schema["required"]) {
		if _, ok := args[name]; !ok {
			problems = append(problems, fmt.Sprintf("missing required argument %q", name))
		}
	}

	props, _ := schema["properties"].(map[string]any)
	closed := schema["additionalProperties"] == false

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, name := range keys {
		prop, known := props[name].(map[string]any)
		if !known {
			if closed {
				problems = append(problems, fmt.Sprintf("unexpected argument %q", name))
			}
			continue
		}
		if types := stringList(prop["type"]); len(types) > 0 && !matchesAny(args[name], types) {
			problems = append(problems, fmt.Sprintf("argument %q must be %s, got %s", name, strings.Join(types, " or "), jsonType(args[name])))
			continue
		}
		if enum, ok := prop["enum"].([]any); ok && !inEnum(args[name], enum) {
			problems = append(problems, fmt.Sprintf("argument %q must be one of %v", name, enum))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return domain.ErrToolExecution(strings.Join(problems, "; ")).
		WithCode(domain.ErrorCodeInvalidArguments)
}

func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func matchesAny(v any, types []string) bool {
	actual := jsonType(v)
	for _, t := range types {
		if t == actual || (t == "number" && actual == "integer") {
			return true
		}
	}
	return false
}

func jsonType(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case int, int32, int64:
		return "integer"
	case float32:
		return numberType(float64(t))
	case float64:
		return numberType(t)
	case json.Number:
		if _, err := t.Int64(); err == nil {
			return "integer"
		}
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func numberType(f float64) string {
	if f == math.Trunc(f) && !math.IsInf(f, 0) {
		return "integer"
	}
	return "number"
}

func inEnum(v any, enum []any) bool {
	for _, e := range enum {
		if fmt.Sprint(e) == fmt.Sprint(v) {
			return true
		}
	}
	return false
}
