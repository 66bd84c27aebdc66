package chat

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/sjson"

	"github.com/edge-veda/runtime/pkg/runtime"
)

// toolSystemPrompt builds the tool-aware system prompt text for tools,
// per spec.md §6's per-format wire text. qwen3 gets the Hermes-style
// "# Tools" / <tools> block; every other template gets the gemma3/
// FunctionGemma JSON-array-in-system-prompt form.
func toolSystemPrompt(tmpl Template, tools []runtime.ToolDefinition) string {
	if len(tools) == 0 {
		return ""
	}
	if tmpl == TemplateQwen3 {
		return qwen3ToolPrompt(tools)
	}
	return gemma3ToolPrompt(tools)
}

func qwen3ToolPrompt(tools []runtime.ToolDefinition) string {
	type fn struct {
		Type     string         `json:"type"`
		Function map[string]any `json:"function"`
	}
	entries := make([]fn, 0, len(tools))
	for _, t := range tools {
		entries = append(entries, fn{
			Type: "function",
			Function: map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	body, _ := json.Marshal(entries)
	var b strings.Builder
	b.WriteString("# Tools\n\nYou may call one or more functions to assist with the user query.\n\n")
	b.WriteString("<tools>\n")
	for _, e := range entries {
		one, _ := json.Marshal(e)
		b.Write(one)
		b.WriteByte('\n')
	}
	b.WriteString("</tools>\n\n")
	b.WriteString("For each function call, return a json object with function name and arguments within ")
	b.WriteString("<tool_call></tool_call> XML tags:\n")
	b.WriteString("<tool_call>\n{\"name\": <function-name>, \"arguments\": <args-json-object>}\n</tool_call>")
	_ = body
	return b.String()
}

func gemma3ToolPrompt(tools []runtime.ToolDefinition) string {
	type fn struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	}
	entries := make([]fn, 0, len(tools))
	for _, t := range tools {
		entries = append(entries, fn{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}
	body, _ := json.MarshalIndent(entries, "", "  ")
	var b strings.Builder
	b.WriteString("You have access to the following functions:\n\n")
	b.Write(body)
	b.WriteString("\n\nTo call a function, respond with a single JSON object of the form ")
	b.WriteString(`{"name": <function-name>, "parameters": <args-json-object>}` + " and nothing else.")
	return b.String()
}

var qwen3ToolCallPattern = regexp.MustCompile(`(?s)<tool_call>\s*(\{.*?\})\s*</tool_call>`)

// parsedToolCall is the intermediate shape produced by either format's
// parser before being turned into a runtime.ToolCall with a generated ID.
type parsedToolCall struct {
	Name      string
	Arguments map[string]any
}

// parseToolCall tries to find one tool call in text using template's
// format. qwen3 parses <tool_call>{...}</tool_call> XML; gemma3 parses a
// bare {"name":...} JSON object; every other template tries qwen3 first,
// then falls back to gemma3 — per spec.md §4.4 step 3. Parse failures
// return nil, never an error: the model's raw text is then treated
// as a normal assistant message (spec.md §4.4 "Error behaviour").
func parseToolCall(tmpl Template, text string) *parsedToolCall {
	switch tmpl {
	case TemplateQwen3:
		return parseQwen3ToolCall(text)
	case TemplateGemma3:
		return parseGemma3ToolCall(text)
	default:
		if call := parseQwen3ToolCall(text); call != nil {
			return call
		}
		return parseGemma3ToolCall(text)
	}
}

func parseQwen3ToolCall(text string) *parsedToolCall {
	m := qwen3ToolCallPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	var raw struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(m[1]), &raw); err != nil || raw.Name == "" {
		return nil
	}
	return &parsedToolCall{Name: raw.Name, Arguments: raw.Arguments}
}

func parseGemma3ToolCall(text string) *parsedToolCall {
	trimmed := strings.TrimSpace(text)
	start := strings.IndexByte(trimmed, '{')
	end := strings.LastIndexByte(trimmed, '}')
	if start < 0 || end < start {
		return nil
	}
	var raw struct {
		Name       string         `json:"name"`
		Parameters map[string]any `json:"parameters"`
		Arguments  map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &raw); err != nil || raw.Name == "" {
		return nil
	}
	args := raw.Parameters
	if args == nil {
		args = raw.Arguments
	}
	return &parsedToolCall{Name: raw.Name, Arguments: args}
}

// encodeToolCall renders a parsedToolCall to the JSON text stored in a
// tool_call history message's content ("JSON-encoded name+arguments",
// spec.md §4.4 step 5). Built incrementally with sjson rather than a
// marshaled map so a malformed Arguments value degrades to a partial
// document instead of losing the id/name fields too.
func encodeToolCall(id string, call *parsedToolCall) string {
	out, err := sjson.Set("{}", "id", id)
	if err != nil {
		return fmt.Sprintf(`{"id":%q}`, id)
	}
	out, err = sjson.Set(out, "name", call.Name)
	if err != nil {
		return out
	}
	if out, err = sjson.Set(out, "arguments", call.Arguments); err == nil {
		return out
	}
	return out
}

// encodeToolResult renders a tool's result (or error) to the JSON text
// stored in a tool_result history message's content.
func encodeToolResult(id string, result any, resultErr error) string {
	out, err := sjson.Set("{}", "id", id)
	if err != nil {
		return fmt.Sprintf(`{"id":%q,"error":%q}`, id, err.Error())
	}
	if resultErr != nil {
		out, err = sjson.Set(out, "error", resultErr.Error())
	} else {
		out, err = sjson.Set(out, "data", result)
	}
	if err != nil {
		return fmt.Sprintf(`{"id":%q,"error":%q}`, id, err.Error())
	}
	return out
}
