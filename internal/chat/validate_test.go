package chat

import "testing"

func personSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
			"age":  map[string]any{"type": "integer"},
		},
		"required": []any{"name"},
	}
}

func TestValidateStructuredStandardPasses(t *testing.T) {
	obj, errs, err := ValidateStructured(`{"name":"Ada","age":36}`, personSchema(), ValidationStandard)
	if err != nil {
		t.Fatalf("ValidateStructured: %v", err)
	}
	if len(errs) != 0 {
		t.Fatalf("want no validation errors, got %v", errs)
	}
	if obj["name"] != "Ada" {
		t.Fatalf("want name=Ada, got %+v", obj)
	}
}

func TestValidateStructuredStandardMissingRequired(t *testing.T) {
	_, errs, err := ValidateStructured(`{"age":36}`, personSchema(), ValidationStandard)
	if err != nil {
		t.Fatalf("ValidateStructured: %v", err)
	}
	if len(errs) == 0 {
		t.Fatal("expected a validation error for the missing required 'name' field")
	}
}

func TestValidateStructuredStrictRejectsExtraKeys(t *testing.T) {
	_, errs, err := ValidateStructured(`{"name":"Ada","nickname":"Ace"}`, personSchema(), ValidationStrict)
	if err != nil {
		t.Fatalf("ValidateStructured: %v", err)
	}
	if len(errs) == 0 {
		t.Fatal("expected strict mode to reject the undeclared 'nickname' key")
	}
}

func TestValidateStructuredStandardAllowsExtraKeys(t *testing.T) {
	_, errs, err := ValidateStructured(`{"name":"Ada","nickname":"Ace"}`, personSchema(), ValidationStandard)
	if err != nil {
		t.Fatalf("ValidateStructured: %v", err)
	}
	if len(errs) != 0 {
		t.Fatalf("standard mode should allow extra keys, got errors %v", errs)
	}
}

func TestValidateToolArgumentsRejectsMissingRequiredField(t *testing.T) {
	tool := weatherTool()
	if err := ValidateToolArguments(tool, `{}`); err == nil {
		t.Fatal("expected an error for missing required 'city' argument")
	}
}

func TestValidateToolArgumentsAcceptsValidArguments(t *testing.T) {
	tool := weatherTool()
	if err := ValidateToolArguments(tool, `{"city":"Porto"}`); err != nil {
		t.Fatalf("ValidateToolArguments: %v", err)
	}
}
