package chat

import (
	"strings"
	"testing"
)

func TestCompileGBNFSimpleObject(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
			"age":  map[string]any{"type": "integer"},
		},
		"required": []any{"name"},
	}

	grammar, root, err := CompileGBNF(schema)
	if err != nil {
		t.Fatalf("CompileGBNF: %v", err)
	}
	if root != "root" {
		t.Fatalf("want root rule %q, got %q", "root", root)
	}
	if !strings.Contains(grammar, `root ::=`) {
		t.Fatalf("grammar missing root rule:\n%s", grammar)
	}
	if !strings.Contains(grammar, `"\"name\""`) {
		t.Fatalf("grammar missing required 'name' key literal:\n%s", grammar)
	}
	if !strings.Contains(grammar, `"\"age\""`) {
		t.Fatalf("grammar missing optional 'age' key literal:\n%s", grammar)
	}
	if !strings.Contains(grammar, `)?`) {
		t.Fatalf("grammar missing optional-property group for 'age':\n%s", grammar)
	}
}

func TestCompileGBNFOptionalPropertiesNestNotSibling(t *testing.T) {
	// Zero required properties, 2+ optional: if the generated groups were
	// flat siblings instead of nested, the grammar would accept skipping
	// "a" while including "b", producing a leading/dangling comma like
	// `{ , "b":2}` — not valid JSON (spec.md §4.4 step 1, §8 round-trip law).
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "string"},
			"b": map[string]any{"type": "string"},
		},
	}
	grammar, root, err := CompileGBNF(schema)
	if err != nil {
		t.Fatalf("CompileGBNF: %v", err)
	}

	var rootLine string
	for _, line := range strings.Split(grammar, "\n") {
		if strings.HasPrefix(line, root+" ::= ") {
			rootLine = line
			break
		}
	}
	if rootLine == "" {
		t.Fatalf("grammar missing %s rule:\n%s", root, grammar)
	}

	depthOf := func(lit string) int {
		idx := strings.Index(rootLine, lit)
		if idx < 0 {
			t.Fatalf("rule missing literal %s: %s", lit, rootLine)
		}
		depth := 0
		for _, c := range rootLine[:idx] {
			switch c {
			case '(':
				depth++
			case ')':
				depth--
			}
		}
		return depth
	}

	depthA := depthOf(`"\"a\""`)
	depthB := depthOf(`"\"b\""`)
	if depthB <= depthA {
		t.Fatalf("expected 'b' to nest strictly inside 'a's optional group (depthA=%d depthB=%d), otherwise {\"b\":...} alone would be acceptable:\n%s", depthA, depthB, rootLine)
	}
}

func TestCompileGBNFIsDeterministic(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"b": map[string]any{"type": "string"},
			"a": map[string]any{"type": "string"},
			"c": map[string]any{"type": "number"},
		},
	}
	g1, _, err := CompileGBNF(schema)
	if err != nil {
		t.Fatalf("CompileGBNF: %v", err)
	}
	g2, _, err := CompileGBNF(schema)
	if err != nil {
		t.Fatalf("CompileGBNF: %v", err)
	}
	if g1 != g2 {
		t.Fatalf("two compiles of the same schema produced different grammars:\n%s\n---\n%s", g1, g2)
	}
}

func TestCompileGBNFEnumAlternation(t *testing.T) {
	schema := map[string]any{
		"type": "string",
		"enum": []any{"red", "green", "blue"},
	}
	grammar, _, err := CompileGBNF(schema)
	if err != nil {
		t.Fatalf("CompileGBNF: %v", err)
	}
	for _, want := range []string{`"red"`, `"green"`, `"blue"`} {
		if !strings.Contains(grammar, want) {
			t.Fatalf("grammar missing enum literal %s:\n%s", want, grammar)
		}
	}
}

func TestCompileGBNFNonStringEnumRejected(t *testing.T) {
	schema := map[string]any{"enum": []any{1, 2, 3}}
	if _, _, err := CompileGBNF(schema); err == nil {
		t.Fatal("expected error for non-string enum")
	}
}

func TestCompileGBNFArray(t *testing.T) {
	schema := map[string]any{
		"type":  "array",
		"items": map[string]any{"type": "string"},
	}
	grammar, root, err := CompileGBNF(schema)
	if err != nil {
		t.Fatalf("CompileGBNF: %v", err)
	}
	if !strings.Contains(grammar, root+" ::=") {
		t.Fatalf("grammar missing %s rule:\n%s", root, grammar)
	}
	if !strings.Contains(grammar, `"["`) || !strings.Contains(grammar, `"]"`) {
		t.Fatalf("array rule missing brackets:\n%s", grammar)
	}
}

func TestCompileGBNFUnsupportedTypeRejected(t *testing.T) {
	schema := map[string]any{"type": "tuple"}
	if _, _, err := CompileGBNF(schema); err == nil {
		t.Fatal("expected error for unsupported schema type")
	}
}
