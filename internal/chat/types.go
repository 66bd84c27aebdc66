// Package chat implements ChatSession (spec.md §4.4): multi-turn state,
// model-specific prompt rendering, context-overflow summarization,
// grammar-constrained structured output with JSON recovery, and bounded
// tool-calling rounds.
//
// Grounded on the teacher's internal/session package (context_manager.go's
// lock-release-for-slow-call pattern and summariser.go's Summariser
// interface) generalized from a fixed-threshold/oldest-half summarizer to
// the spec's exact 70%/60% thresholds and last-two-user-turns split point,
// and on ChamsBouzaiene-dodo/internal/engine/tools.go's gojsonschema
// validation shape for structured-output and tool-argument checking.
package chat

import "github.com/edge-veda/runtime/pkg/runtime"

// Role values stored in session history. "summary", "tool_call" and
// "tool_result" are session-internal roles rendered specially by each
// template; they are
// never produced directly by model output.
const (
	RoleSystem     = "system"
	RoleUser       = "user"
	RoleAssistant  = "assistant"
	RoleSummary    = "summary"
	RoleToolCall   = "tool_call"
	RoleToolResult = "tool_result"
)

// Template selects the wire format used to render history into a prompt
// string and to parse tool calls out of model output, per spec.md §6.
type Template string

const (
	TemplateLlama3Instruct Template = "llama3-instruct"
	TemplateChatML         Template = "chatml"
	TemplateQwen3          Template = "qwen3"
	TemplateGemma3         Template = "gemma3"
	TemplateGeneric        Template = "generic"
)

// ValidationMode selects how strictly send_structured validates the
// model's output against the supplied schema.
type ValidationMode string

const (
	ValidationStandard ValidationMode = "standard"
	ValidationStrict   ValidationMode = "strict"
)

// ValidationEvent is emitted to the optional sink after every
// send_structured call, per spec.md §4.4 step 5.
type ValidationEvent struct {
	Passed            bool
	Mode              ValidationMode
	RecoveryAttempted bool
	RecoverySucceeded bool
	Repairs           []string
	Errors            []string
	RawOutput         string
	ElapsedMs         int64
}

// ValidationSink receives ValidationEvents. Implementations must not block
// the caller; a nil sink disables emission entirely.
type ValidationSink interface {
	Emit(ValidationEvent)
}

// ToolCallHandler is invoked once per detected tool call during
// send_with_tools. It returns the tool's result payload (marshalled to
// JSON by the caller) or an error, which is recorded as a tool_result
// message either way.
type ToolCallHandler func(call runtime.ToolCall) (result any, err error)
