package chat

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/xeipuuv/gojsonschema"

	"github.com/edge-veda/runtime/pkg/runtime"
)

// ValidateStructured checks raw (a JSON document, already recovered if
// needed) against schema in the given mode, per spec.md §4.4 step 4.
// standard applies Draft-7 type/required checks; strict additionally
// rejects any key present in the data but absent from the schema's
// "properties", recursively into nested objects and arrays.
func ValidateStructured(raw string, schema map[string]any, mode ValidationMode) (map[string]any, []string, error) {
	schemaLoader := gojsonschema.NewGoLoader(schema)
	docLoader := gojsonschema.NewStringLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return nil, nil, fmt.Errorf("chat: schema validation: %w", err)
	}

	var errs []string
	if !result.Valid() {
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
	}

	if mode == ValidationStrict {
		errs = append(errs, strictExtraKeys(gjson.Parse(raw), schema, "$")...)
	}

	if len(errs) > 0 {
		return nil, errs, nil
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, nil, fmt.Errorf("chat: decode validated JSON: %w", err)
	}
	return out, nil, nil
}

// strictExtraKeys recursively reports any object key in data not declared
// in schema's "properties", per spec.md §4.4 step 4's strict mode.
func strictExtraKeys(data gjson.Result, schema map[string]any, path string) []string {
	if !data.IsObject() {
		if data.IsArray() {
			items, _ := schema["items"].(map[string]any)
			var out []string
			idx := 0
			data.ForEach(func(_, value gjson.Result) bool {
				out = append(out, strictExtraKeys(value, items, fmt.Sprintf("%s[%d]", path, idx))...)
				idx++
				return true
			})
			return out
		}
		return nil
	}

	props, _ := schema["properties"].(map[string]any)
	var out []string
	data.ForEach(func(key, value gjson.Result) bool {
		k := key.String()
		propSchema, declared := props[k].(map[string]any)
		if !declared {
			out = append(out, fmt.Sprintf("%s: unexpected key %q not declared in schema properties", path, k))
			return true
		}
		out = append(out, strictExtraKeys(value, propSchema, path+"."+k)...)
		return true
	})
	return out
}

// ValidateToolArguments checks a tool call's JSON-encoded arguments against
// its declared parameter schema (spec.md §4.4's tool-calling algorithm
// relies on the same JSON-Schema machinery as structured output).
func ValidateToolArguments(t runtime.ToolDefinition, argumentsJSON string) error {
	schemaLoader := gojsonschema.NewGoLoader(t.Parameters)
	docLoader := gojsonschema.NewStringLoader(argumentsJSON)
	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("chat: tool %s: argument validation: %w", t.Name, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return &runtime.ConfigError{Field: "arguments", Detail: fmt.Sprintf("tool %s: %v", t.Name, msgs)}
	}
	return nil
}
