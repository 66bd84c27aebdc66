package chat

import (
	"fmt"
	"sort"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/edge-veda/runtime/pkg/runtime"
)

// gbnfPrimitives are the fixed leaf rules every compiled grammar shares,
// matching the backend's GBNF dialect (spec.md §6 GLOSSARY).
const gbnfPrimitives = `ws ::= [ \t\n]*
string ::= "\"" ( [^"\\] | "\\" ["\\/bfnrt] )* "\"" ws
number ::= "-"? [0-9]+ ("." [0-9]+)? ws
integer ::= "-"? [0-9]+ ws
boolean ::= ("true" | "false") ws
null ::= "null" ws
`

// CompileGBNF compiles a JSON-Schema object into a GBNF grammar that
// constrains token-level decoding to the schema's structure, per
// spec.md §4.4 step 1. Supported keywords: object/string/number/integer/
// boolean/null/array/enum, properties/required/items. Returns the full
// grammar text and its root rule name ("root").
//
// Grounded on spec.md §4.4 step 1's per-keyword grammar rules, walking the
// same map[string]any schema representation ValidateStructured and
// ToolDefinition.Parameters use throughout this package (see DESIGN.md on
// why a second, typed schema representation wasn't introduced just for
// this walk). github.com/wk8/go-ordered-map/v2 keeps the emitted rule set
// in a stable, deterministic order — Go map iteration is randomized and
// would otherwise make two compiles of the same schema emit different
// grammar text byte-for-byte.
func CompileGBNF(schema map[string]any) (grammar string, rootRule string, err error) {
	rules := orderedmap.New[string, string]()
	seq := 0
	rootName, err := compileNode(schema, "root", rules, &seq)
	if err != nil {
		return "", "", err
	}

	var b strings.Builder
	b.WriteString(gbnfPrimitives)
	for pair := rules.Oldest(); pair != nil; pair = pair.Next() {
		fmt.Fprintf(&b, "%s ::= %s\n", pair.Key, pair.Value)
	}
	return b.String(), rootName, nil
}

// compileNode compiles one schema node into a rule named hint (or a
// disambiguated variant if hint is taken), registers the rule body in
// rules, and returns the rule's final name.
func compileNode(node map[string]any, hint string, rules *orderedmap.OrderedMap[string, string], seq *int) (string, error) {
	name := uniqueName(hint, rules, seq)

	if rawEnum, ok := node["enum"]; ok {
		body, err := compileEnum(rawEnum)
		if err != nil {
			return "", err
		}
		rules.Set(name, body)
		return name, nil
	}

	typ, _ := node["type"].(string)
	switch typ {
	case "object", "":
		body, err := compileObject(node, name, rules, seq)
		if err != nil {
			return "", err
		}
		rules.Set(name, body)
	case "array":
		body, err := compileArray(node, name, rules, seq)
		if err != nil {
			return "", err
		}
		rules.Set(name, body)
	case "string":
		rules.Set(name, "string")
	case "number":
		rules.Set(name, "number")
	case "integer":
		rules.Set(name, "integer")
	case "boolean":
		rules.Set(name, "boolean")
	case "null":
		rules.Set(name, "null")
	default:
		return "", &runtime.ConfigError{Field: "schema.type", Detail: fmt.Sprintf("unsupported type %q", typ)}
	}
	return name, nil
}

// compileEnum renders an alternation of quoted string literals. Only
// string enums are supported, matching spec.md §4.4's "enums of strings
// become alternations of quoted literals".
func compileEnum(raw any) (string, error) {
	vals, ok := raw.([]any)
	if !ok || len(vals) == 0 {
		return "", &runtime.ConfigError{Field: "schema.enum", Detail: "must be a non-empty array"}
	}
	alts := make([]string, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			return "", &runtime.ConfigError{Field: "schema.enum", Detail: "only string enums are supported"}
		}
		alts = append(alts, fmt.Sprintf("%q", s))
	}
	return strings.Join(alts, " | ") + " ws", nil
}

// compileObject fixes required-property order (as declared in "required")
// then allows optional-property tails, per spec.md §4.4 step 1.
//
// The optional properties nest rather than sit as independent (group)?
// siblings: each one is only reachable through its predecessor's group, so
// the grammar can only accept a contiguous prefix of the sorted optional
// list (truncate the tail at any point), never an arbitrary subset. Flat
// independent groups would let the backend emit a later optional property
// while skipping an earlier one, producing a leading/dangling comma that
// isn't valid JSON (spec.md §8's GBNF round-trip law).
func compileObject(node map[string]any, selfName string, rules *orderedmap.OrderedMap[string, string], seq *int) (string, error) {
	propsRaw, _ := node["properties"].(map[string]any)
	required := stringSlice(node["required"])
	requiredSet := make(map[string]struct{}, len(required))
	for _, r := range required {
		requiredSet[r] = struct{}{}
	}

	var optional []string
	for k := range propsRaw {
		if _, isReq := requiredSet[k]; !isReq {
			optional = append(optional, k)
		}
	}
	sort.Strings(optional) // deterministic tail order; spec only requires required-order is fixed

	var b strings.Builder
	b.WriteString(`"{" ws`)

	for i, key := range required {
		propSchema, _ := propsRaw[key].(map[string]any)
		if propSchema == nil {
			propSchema = map[string]any{}
		}
		ruleName, err := compileNode(propSchema, selfName+"_"+key, rules, seq)
		if err != nil {
			return "", err
		}
		if i > 0 {
			b.WriteString(` "," ws`)
		}
		fmt.Fprintf(&b, ` "\"%s\"" ws ":" ws %s`, key, ruleName)
	}

	// Build the nested tail from the last optional property inward so each
	// group's (...)? wraps the next one instead of sitting beside it.
	tail := ""
	for i := len(optional) - 1; i >= 0; i-- {
		key := optional[i]
		propSchema, _ := propsRaw[key].(map[string]any)
		if propSchema == nil {
			propSchema = map[string]any{}
		}
		ruleName, err := compileNode(propSchema, selfName+"_"+key, rules, seq)
		if err != nil {
			return "", err
		}
		// With no required properties the outermost optional group opens
		// the object, so it takes no leading comma.
		sep := `"," ws `
		if i == 0 && len(required) == 0 {
			sep = ""
		}
		var group strings.Builder
		fmt.Fprintf(&group, `%s"\"%s\"" ws ":" ws %s`, sep, key, ruleName)
		if tail != "" {
			group.WriteString(" " + tail)
		}
		tail = fmt.Sprintf("(%s)?", group.String())
	}
	if tail != "" {
		b.WriteString(" " + tail)
	}

	b.WriteString(` "}" ws`)
	return b.String(), nil
}

// compileArray permits zero-or-more items, per spec.md §4.4 step 1.
func compileArray(node map[string]any, selfName string, rules *orderedmap.OrderedMap[string, string], seq *int) (string, error) {
	itemSchema, _ := node["items"].(map[string]any)
	if itemSchema == nil {
		itemSchema = map[string]any{}
	}
	itemRule, err := compileNode(itemSchema, selfName+"_item", rules, seq)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`"[" ws (%s ("," ws %s)*)? "]" ws`, itemRule, itemRule), nil
}

func uniqueName(hint string, rules *orderedmap.OrderedMap[string, string], seq *int) string {
	if _, exists := rules.Get(hint); !exists {
		return hint
	}
	*seq++
	return fmt.Sprintf("%s_%d", hint, *seq)
}

func stringSlice(raw any) []string {
	arr, _ := raw.([]any)
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
