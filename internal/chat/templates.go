package chat

import (
	"fmt"
	"strings"

	"github.com/edge-veda/runtime/pkg/runtime"
)

// RenderPrompt formats systemPrompt plus messages into a complete prompt
// string for template, ending with the open assistant turn the backend
// continues from. Wire syntax is bit-exact per spec.md §6.
func RenderPrompt(tmpl Template, systemPrompt string, messages []runtime.ChatMessage) string {
	switch tmpl {
	case TemplateLlama3Instruct:
		return renderLlama3(systemPrompt, messages)
	case TemplateChatML:
		return renderChatML(systemPrompt, messages)
	case TemplateQwen3:
		return renderQwen3(systemPrompt, messages)
	case TemplateGemma3:
		return renderGemma3(systemPrompt, messages)
	default:
		return renderGeneric(systemPrompt, messages)
	}
}

// summaryContent returns the rendered content for a summary-role message,
// prefixed per spec.md §6.
func summaryContent(content string) string {
	return "Previous conversation summary: " + content
}

func renderLlama3(systemPrompt string, messages []runtime.ChatMessage) string {
	var b strings.Builder
	b.WriteString("<|begin_of_text|>")
	if systemPrompt != "" {
		writeLlama3Turn(&b, RoleSystem, systemPrompt)
	}
	for _, m := range messages {
		role, content := effectiveRoleContent(m)
		writeLlama3Turn(&b, role, content)
	}
	b.WriteString("<|start_header_id|>assistant<|end_header_id|>\n\n")
	return b.String()
}

func writeLlama3Turn(b *strings.Builder, role, content string) {
	fmt.Fprintf(b, "<|start_header_id|>%s<|end_header_id|>\n\n%s<|eot_id|>", role, content)
}

func renderChatML(systemPrompt string, messages []runtime.ChatMessage) string {
	var b strings.Builder
	if systemPrompt != "" {
		fmt.Fprintf(&b, "<|im_start|>system\n%s<|im_end|>\n", systemPrompt)
	}
	for _, m := range messages {
		role, content := effectiveRoleContent(m)
		fmt.Fprintf(&b, "<|im_start|>%s\n%s<|im_end|>\n", role, content)
	}
	b.WriteString("<|im_start|>assistant\n")
	return b.String()
}

// renderQwen3 is chatML base plus Hermes-style tool XML: a tool_call
// message's JSON content is wrapped in <tool_call>…</tool_call> inside an
// assistant turn, a tool_result message's JSON content is wrapped in
// <tool_response>…</tool_response> inside a user turn, per spec.md §6.
func renderQwen3(systemPrompt string, messages []runtime.ChatMessage) string {
	var b strings.Builder
	if systemPrompt != "" {
		fmt.Fprintf(&b, "<|im_start|>system\n%s<|im_end|>\n", systemPrompt)
	}
	for _, m := range messages {
		switch m.Role {
		case RoleToolCall:
			fmt.Fprintf(&b, "<|im_start|>%s\n<tool_call>%s</tool_call><|im_end|>\n", RoleAssistant, m.Content)
		case RoleToolResult:
			fmt.Fprintf(&b, "<|im_start|>%s\n<tool_response>%s</tool_response><|im_end|>\n", RoleUser, m.Content)
		default:
			role, content := effectiveRoleContent(m)
			fmt.Fprintf(&b, "<|im_start|>%s\n%s<|im_end|>\n", role, content)
		}
	}
	b.WriteString("<|im_start|>assistant\n")
	return b.String()
}

func renderGemma3(systemPrompt string, messages []runtime.ChatMessage) string {
	var b strings.Builder
	var pending []string
	if systemPrompt != "" {
		pending = append(pending, systemPrompt)
	}
	for _, m := range messages {
		role, content := effectiveRoleContent(m)
		gemmaRole := role
		if role == RoleAssistant {
			gemmaRole = "model"
		} else if role == RoleSystem {
			// No dedicated system turn; folded into the next user turn below.
			pending = append(pending, content)
			continue
		}
		if gemmaRole == RoleUser && len(pending) > 0 {
			content = strings.Join(pending, "\n\n") + "\n\n" + content
			pending = nil
		}
		fmt.Fprintf(&b, "<start_of_turn>%s\n%s<end_of_turn>\n", gemmaRole, content)
	}
	if len(pending) > 0 {
		// No user turn followed to fold the system text into.
		fmt.Fprintf(&b, "<start_of_turn>user\n%s<end_of_turn>\n", strings.Join(pending, "\n\n"))
	}
	b.WriteString("<start_of_turn>model\n")
	return b.String()
}

func renderGeneric(systemPrompt string, messages []runtime.ChatMessage) string {
	var b strings.Builder
	if systemPrompt != "" {
		fmt.Fprintf(&b, "### System:\n%s\n\n", systemPrompt)
	}
	for _, m := range messages {
		role, content := effectiveRoleContent(m)
		fmt.Fprintf(&b, "### %s:\n%s\n\n", capitalize(role), content)
	}
	b.WriteString("### Assistant:\n")
	return b.String()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// effectiveRoleContent maps a stored message to its rendered (role,
// content) pair, applying the summary-role prefix rule uniformly across
// templates.
func effectiveRoleContent(m runtime.ChatMessage) (string, string) {
	switch m.Role {
	case RoleSummary:
		return RoleSystem, summaryContent(m.Content)
	case RoleToolCall:
		return RoleAssistant, m.Content
	case RoleToolResult:
		return RoleUser, m.Content
	default:
		return m.Role, m.Content
	}
}
