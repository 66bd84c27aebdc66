package chat

import (
	"strings"
	"testing"

	"github.com/edge-veda/runtime/pkg/runtime"
)

func TestRenderLlama3InstructWireFormat(t *testing.T) {
	msgs := []runtime.ChatMessage{
		{Role: RoleUser, Content: "hi"},
	}
	got := RenderPrompt(TemplateLlama3Instruct, "be nice", msgs)
	want := "<|begin_of_text|>" +
		"<|start_header_id|>system<|end_header_id|>\n\nbe nice<|eot_id|>" +
		"<|start_header_id|>user<|end_header_id|>\n\nhi<|eot_id|>" +
		"<|start_header_id|>assistant<|end_header_id|>\n\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRenderLlama3SummaryRolePrefixed(t *testing.T) {
	msgs := []runtime.ChatMessage{
		{Role: RoleSummary, Content: "we discussed X"},
	}
	got := RenderPrompt(TemplateLlama3Instruct, "", msgs)
	if !strings.Contains(got, "Previous conversation summary: we discussed X") {
		t.Errorf("missing summary prefix: %q", got)
	}
	if !strings.Contains(got, "<|start_header_id|>system<|end_header_id|>") {
		t.Errorf("summary should render as a system turn: %q", got)
	}
}

func TestRenderChatMLWireFormat(t *testing.T) {
	msgs := []runtime.ChatMessage{{Role: RoleUser, Content: "hi"}}
	got := RenderPrompt(TemplateChatML, "", msgs)
	want := "<|im_start|>user\nhi<|im_end|>\n<|im_start|>assistant\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRenderGemma3FoldsSystemIntoFirstUserTurn(t *testing.T) {
	msgs := []runtime.ChatMessage{{Role: RoleUser, Content: "hi"}}
	got := RenderPrompt(TemplateGemma3, "be nice", msgs)
	want := "<start_of_turn>user\nbe nice\n\nhi<end_of_turn>\n<start_of_turn>model\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRenderGemma3AssistantBecomesModel(t *testing.T) {
	msgs := []runtime.ChatMessage{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
	}
	got := RenderPrompt(TemplateGemma3, "", msgs)
	if !strings.Contains(got, "<start_of_turn>model\nhello<end_of_turn>") {
		t.Errorf("expected assistant rendered as model role: %q", got)
	}
}

func TestRenderGenericWireFormat(t *testing.T) {
	msgs := []runtime.ChatMessage{{Role: RoleUser, Content: "hi"}}
	got := RenderPrompt(TemplateGeneric, "", msgs)
	want := "### User:\nhi\n\n### Assistant:\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
