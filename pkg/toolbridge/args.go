package toolbridge

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"github.com/xeipuuv/gojsonschema"
)

// SanitizeArgs returns a copy of args without nil or empty-string values. Models sometimes
// send "Host" instead of "host"; it is renamed, and dropped when "host" is already present.
func SanitizeArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		out[k] = v
	}

	if host, ok := out["Host"]; ok {
		if _, exists := out["host"]; !exists {
			out["host"] = host
		}
		delete(out, "Host")
	}
	return out
}

// CoerceArgs converts scalar arguments to the types declared in the schema properties, for
// example "5" to 5 for an integer property. Values that do not convert are left alone so
// that validation reports them.
func CoerceArgs(schema map[string]any, args map[string]any) map[string]any {
	props, _ := schema["properties"].(map[string]any)
	if len(props) == 0 {
		return args
	}

	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v

		prop, ok := props[k].(map[string]any)
		if !ok {
			continue
		}
		if coerced, ok := coerce(schemaType(prop), v); ok {
			out[k] = coerced
		}
	}
	return out
}

func coerce(typ string, v any) (any, bool) {
	switch v.(type) {
	case map[string]any, []any:
		return nil, false
	}

	var (
		out any
		err error
	)
	switch typ {
	case "integer":
		if _, ok := v.(string); !ok {
			return nil, false
		}
		out, err = cast.ToInt64E(strings.TrimSpace(v.(string)))
	case "number":
		if _, ok := v.(string); !ok {
			return nil, false
		}
		out, err = cast.ToFloat64E(strings.TrimSpace(v.(string)))
	case "boolean":
		if _, ok := v.(string); !ok {
			return nil, false
		}
		out, err = cast.ToBoolE(strings.TrimSpace(v.(string)))
	case "string":
		if _, ok := v.(string); ok {
			return nil, false
		}
		out, err = cast.ToStringE(v)
	default:
		return nil, false
	}
	if err != nil {
		return nil, false
	}
	return out, true
}

// schemaType returns the declared type of a property. For a list of types, or an anyOf of
// typed alternatives, the first type other than null wins.
func schemaType(prop map[string]any) string {
	switch t := prop["type"].(type) {
	case string:
		return t
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok && s != "null" {
				return s
			}
		}
	}

	if alts, ok := prop["anyOf"].([]any); ok {
		for _, alt := range alts {
			if m, ok := alt.(map[string]any); ok {
				if s := schemaType(m); s != "" && s != "null" {
					return s
				}
			}
		}
	}
	return ""
}

// compileSchema compiles an input schema for validation. A nil schema means every argument
// object is accepted.
func compileSchema(schema map[string]any) (*gojsonschema.Schema, error) {
	if len(schema) == 0 {
		return nil, nil
	}

	// Peers declare newer drafts than the validator knows; the keywords used by tool
	// schemas are the same.
	doc := make(map[string]any, len(schema))
	for k, v := range schema {
		if k == "$schema" {
			continue
		}
		doc[k] = v
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to compile input schema: %w", err)
	}
	return compiled, nil
}

func validateArgs(schema *gojsonschema.Schema, args map[string]any) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("failed to validate arguments: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
