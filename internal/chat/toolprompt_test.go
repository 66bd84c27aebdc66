package chat

import (
	"strings"
	"testing"

	"github.com/edge-veda/runtime/pkg/runtime"
)

func TestToolSystemPromptEmptyWithNoTools(t *testing.T) {
	if got := toolSystemPrompt(TemplateQwen3, nil); got != "" {
		t.Fatalf("want empty prompt for no tools, got %q", got)
	}
}

func TestToolSystemPromptQwen3UsesHermesBlock(t *testing.T) {
	got := toolSystemPrompt(TemplateQwen3, []runtime.ToolDefinition{weatherTool()})
	if !strings.Contains(got, "<tools>") || !strings.Contains(got, "<tool_call>") {
		t.Fatalf("qwen3 tool prompt missing Hermes XML markers:\n%s", got)
	}
}

func TestToolSystemPromptGemma3UsesPlainJSON(t *testing.T) {
	got := toolSystemPrompt(TemplateGemma3, []runtime.ToolDefinition{weatherTool()})
	if strings.Contains(got, "<tools>") {
		t.Fatalf("gemma3 tool prompt should not use Hermes XML markers:\n%s", got)
	}
	if !strings.Contains(got, `"get_weather"`) {
		t.Fatalf("gemma3 tool prompt missing tool name:\n%s", got)
	}
}

func TestParseToolCallQwen3(t *testing.T) {
	text := "<tool_call>\n{\"name\": \"get_weather\", \"arguments\": {\"city\": \"Porto\"}}\n</tool_call>"
	call := parseToolCall(TemplateQwen3, text)
	if call == nil {
		t.Fatal("expected a parsed tool call")
	}
	if call.Name != "get_weather" || call.Arguments["city"] != "Porto" {
		t.Fatalf("unexpected parsed call: %+v", call)
	}
}

func TestParseToolCallGemma3(t *testing.T) {
	text := `{"name": "get_weather", "parameters": {"city": "Porto"}}`
	call := parseToolCall(TemplateGemma3, text)
	if call == nil {
		t.Fatal("expected a parsed tool call")
	}
	if call.Name != "get_weather" || call.Arguments["city"] != "Porto" {
		t.Fatalf("unexpected parsed call: %+v", call)
	}
}

func TestParseToolCallReturnsNilForPlainText(t *testing.T) {
	if call := parseToolCall(TemplateQwen3, "The weather in Porto is sunny."); call != nil {
		t.Fatalf("expected nil for plain text, got %+v", call)
	}
	if call := parseToolCall(TemplateGemma3, "The weather in Porto is sunny."); call != nil {
		t.Fatalf("expected nil for plain text, got %+v", call)
	}
}

func TestParseToolCallGenericTriesBothFormats(t *testing.T) {
	qwenText := "<tool_call>{\"name\": \"get_weather\", \"arguments\": {}}</tool_call>"
	if call := parseToolCall(TemplateGeneric, qwenText); call == nil || call.Name != "get_weather" {
		t.Fatalf("generic template should fall back to qwen3 parsing, got %+v", call)
	}
	gemmaText := `{"name": "get_weather", "parameters": {}}`
	if call := parseToolCall(TemplateGeneric, gemmaText); call == nil || call.Name != "get_weather" {
		t.Fatalf("generic template should fall back to gemma3 parsing, got %+v", call)
	}
}

func TestEncodeToolCallAndResultRoundTrip(t *testing.T) {
	call := &parsedToolCall{Name: "get_weather", Arguments: map[string]any{"city": "Porto"}}
	encoded := encodeToolCall("call_1", call)
	if !strings.Contains(encoded, "get_weather") || !strings.Contains(encoded, "call_1") {
		t.Fatalf("encoded tool call missing fields: %s", encoded)
	}

	ok := encodeToolResult("call_1", map[string]any{"tempC": 18}, nil)
	if !strings.Contains(ok, "tempC") {
		t.Fatalf("encoded tool result missing data: %s", ok)
	}

	failed := encodeToolResult("call_1", nil, errTestToolFailure)
	if !strings.Contains(failed, "boom") {
		t.Fatalf("encoded tool result missing error text: %s", failed)
	}
}

var errTestToolFailure = toolFailureError{}

type toolFailureError struct{}

func (toolFailureError) Error() string { return "boom" }
