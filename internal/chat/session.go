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

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/edge-veda/runtime/internal/scheduler"
	"github.com/edge-veda/runtime/pkg/runtime"
)

const (
	summarizeTriggerFraction = 0.70
	truncateTargetFraction   = 0.60
	summarizationMaxTokens   = 128
	summarizationTemperature = 0.3
	charsPerToken            = 4
	defaultMaxToolRounds     = 3
)

// Session is a multi-turn chat conversation against one Generator. All
// exported methods are safe for concurrent use; a single mutex guards the
// message log the way the teacher's ContextManager guards its own history,
// releasing the lock around the (potentially slow, network- or
// inference-bound) generation call itself.
type Session struct {
	gen          Generator
	tmpl         Template
	systemPrompt string
	contextLen   int
	reservedResp int
	tools        *ToolRegistry
	sink         ValidationSink
	sched        *scheduler.Scheduler // optional; nil disables tool-QoS filtering

	mu       sync.Mutex
	messages []runtime.ChatMessage
	callSeq  int
}

// New returns a ready-to-use Session. tools and sink may be nil.
func New(gen Generator, tmpl Template, systemPrompt string, contextLen, reservedResponseTokens int, tools *ToolRegistry, sink ValidationSink) *Session {
	return &Session{
		gen:          gen,
		tmpl:         tmpl,
		systemPrompt: systemPrompt,
		contextLen:   contextLen,
		reservedResp: reservedResponseTokens,
		tools:        tools,
		sink:         sink,
	}
}

// SetScheduler wires a Scheduler whose tool-call workload QoS level
// filters the tool registry view consulted by SendWithTools. Pass nil to
// disable filtering (the full registry is always offered).
func (s *Session) SetScheduler(sched *scheduler.Scheduler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sched = sched
}

// Messages returns a read-only snapshot of the session's history.
func (s *Session) Messages() []runtime.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]runtime.ChatMessage(nil), s.messages...)
}

// TurnCount returns the number of user messages currently in history.
func (s *Session) TurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return countUserTurns(s.messages)
}

// ContextUsage estimates the fraction of the context window consumed by
// the currently formatted history, per spec.md §4.4: (formatted-prompt
// chars / 4) / context-length.
func (s *Session) ContextUsage() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.contextLen <= 0 {
		return 0
	}
	formatted := RenderPrompt(s.tmpl, s.systemPrompt, s.messages)
	return float64(len(formatted)/charsPerToken) / float64(s.contextLen)
}

// Reset clears the history; the model stays loaded.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}

func countUserTurns(msgs []runtime.ChatMessage) int {
	n := 0
	for _, m := range msgs {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}

// Send submits prompt as a new user turn and returns the complete
// assistant reply. On any error, the user message just added is removed
// from history (spec.md §8's rollback invariant).
func (s *Session) Send(ctx context.Context, prompt string, opts runtime.GenerateOptions) (string, error) {
	if prompt == "" {
		return "", runtime.ErrEmptyPrompt
	}

	s.mu.Lock()
	s.maybeSummarizeLocked(ctx)
	s.messages = append(s.messages, runtime.ChatMessage{Role: RoleUser, Content: prompt})
	formatted := RenderPrompt(s.tmpl, s.systemPrompt, s.messages)
	s.mu.Unlock()

	stream, err := s.gen.GenerateStream(ctx, formatted, opts, nil)
	if err != nil {
		s.rollbackLastUser()
		return "", err
	}
	text, _, err := collectText(stream)
	if err != nil {
		s.rollbackLastUser()
		return "", err
	}

	s.mu.Lock()
	s.messages = append(s.messages, runtime.ChatMessage{Role: RoleAssistant, Content: text})
	s.mu.Unlock()

	return text, nil
}

// SendStream is the streaming counterpart of Send: it appends the user
// turn, streams token chunks to the caller, and commits (or rolls back,
// on error) the assistant turn once the terminal chunk is produced.
func (s *Session) SendStream(ctx context.Context, prompt string, opts runtime.GenerateOptions, cancel *runtime.CancelToken) (<-chan runtime.TokenChunk, error) {
	if prompt == "" {
		return nil, runtime.ErrEmptyPrompt
	}

	s.mu.Lock()
	s.maybeSummarizeLocked(ctx)
	s.messages = append(s.messages, runtime.ChatMessage{Role: RoleUser, Content: prompt})
	formatted := RenderPrompt(s.tmpl, s.systemPrompt, s.messages)
	s.mu.Unlock()

	upstream, err := s.gen.GenerateStream(ctx, formatted, opts, cancel)
	if err != nil {
		s.rollbackLastUser()
		return nil, err
	}

	out := make(chan runtime.TokenChunk, 4)
	go func() {
		defer close(out)
		var b strings.Builder
		for chunk := range upstream {
			out <- chunk
			if !chunk.Terminal {
				b.WriteString(chunk.Text)
				continue
			}
			if chunk.Reason == runtime.FinishError {
				s.rollbackLastUser()
				return
			}
			s.mu.Lock()
			s.messages = append(s.messages, runtime.ChatMessage{Role: RoleAssistant, Content: b.String()})
			s.mu.Unlock()
		}
	}()
	return out, nil
}

func (s *Session) rollbackLastUser() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.messages); n > 0 && s.messages[n-1].Role == RoleUser {
		s.messages = s.messages[:n-1]
	}
}

// SendWithTools runs the bounded tool-calling loop from spec.md §4.4: it
// prepends a tool-aware system prompt, generates, parses the response for
// a tool call, and — if found — invokes onToolCall and continues for up
// to maxRounds rounds before falling back to one final plain generation.
// maxRounds <= 0 uses the spec default of 3.
func (s *Session) SendWithTools(ctx context.Context, prompt string, onToolCall ToolCallHandler, opts runtime.GenerateOptions, maxRounds int) (string, error) {
	if prompt == "" {
		return "", runtime.ErrEmptyPrompt
	}
	if maxRounds <= 0 {
		maxRounds = defaultMaxToolRounds
	}

	s.mu.Lock()
	s.maybeSummarizeLocked(ctx)
	s.messages = append(s.messages, runtime.ChatMessage{Role: RoleUser, Content: prompt})
	s.mu.Unlock()

	sysPrompt := s.effectiveToolSystemPrompt()

	for round := 0; round < maxRounds; round++ {
		text, err := s.generateWithSystem(ctx, sysPrompt, opts)
		if err != nil {
			s.rollbackLastUser()
			return "", err
		}

		call := parseToolCall(s.tmpl, text)
		if call == nil {
			s.mu.Lock()
			s.messages = append(s.messages, runtime.ChatMessage{Role: RoleAssistant, Content: text})
			s.mu.Unlock()
			return text, nil
		}

		id := s.nextCallID()
		s.mu.Lock()
		s.messages = append(s.messages, runtime.ChatMessage{Role: RoleToolCall, Content: encodeToolCall(id, call)})
		s.mu.Unlock()

		argsJSON, _ := json.Marshal(call.Arguments)
		result, callErr := onToolCall(runtime.ToolCall{ID: id, Name: call.Name, Arguments: string(argsJSON)})

		s.mu.Lock()
		s.messages = append(s.messages, runtime.ChatMessage{Role: RoleToolResult, Content: encodeToolResult(id, result, callErr)})
		s.mu.Unlock()
	}

	// maxRounds exhausted without a plain-text reply: one final
	// generation without tool parsing, per spec.md §4.4 step 6.
	text, err := s.generateWithSystem(ctx, s.systemPromptOnly(), opts)
	if err != nil {
		s.rollbackLastUser()
		return "", err
	}
	s.mu.Lock()
	s.messages = append(s.messages, runtime.ChatMessage{Role: RoleAssistant, Content: text})
	s.mu.Unlock()
	return text, nil
}

func (s *Session) nextCallID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callSeq++
	return fmt.Sprintf("call_%d", s.callSeq)
}

func (s *Session) systemPromptOnly() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.systemPrompt
}

// effectiveToolSystemPrompt returns the session's system prompt with the
// tool-aware block appended, filtered by the tool-call workload's current
// QoS level if a scheduler is wired (spec.md §3's budget-filtered view).
func (s *Session) effectiveToolSystemPrompt() string {
	s.mu.Lock()
	tools := s.tools
	base := s.systemPrompt
	sched := s.sched
	s.mu.Unlock()

	view := tools.ViewForQoS(toolQoSLevel(sched))
	toolText := toolSystemPrompt(s.tmpl, view)
	if toolText == "" {
		return base
	}
	if base == "" {
		return toolText
	}
	return base + "\n\n" + toolText
}

func (s *Session) generateWithSystem(ctx context.Context, sysPrompt string, opts runtime.GenerateOptions) (string, error) {
	s.mu.Lock()
	formatted := RenderPrompt(s.tmpl, sysPrompt, s.messages)
	s.mu.Unlock()

	stream, err := s.gen.GenerateStream(ctx, formatted, opts, nil)
	if err != nil {
		return "", err
	}
	text, _, err := collectText(stream)
	return text, err
}

// SendStructured generates a grammar-constrained response validated
// against schema, per spec.md §4.4's structured-output algorithm.
func (s *Session) SendStructured(ctx context.Context, prompt string, schema map[string]any, mode ValidationMode, opts runtime.GenerateOptions) (map[string]any, error) {
	grammar, root, err := CompileGBNF(schema)
	if err != nil {
		return nil, err
	}
	opts.GrammarGBNF = grammar
	opts.GrammarRoot = root

	start := time.Now()
	text, err := s.Send(ctx, prompt, opts)
	if err != nil {
		return nil, err
	}

	raw := text
	recoveryAttempted := false
	recoverySucceeded := false
	var repairs []string
	if !json.Valid([]byte(raw)) {
		recoveryAttempted = true
		recovered, reps := RecoverJSON(raw)
		repairs = reps
		if json.Valid([]byte(recovered)) {
			recoverySucceeded = true
			raw = recovered
		}
	}

	obj, validationErrs, verr := ValidateStructured(raw, schema, mode)
	passed := verr == nil && len(validationErrs) == 0 && obj != nil

	if s.sink != nil {
		s.sink.Emit(ValidationEvent{
			Passed:            passed,
			Mode:              mode,
			RecoveryAttempted: recoveryAttempted,
			RecoverySucceeded: recoverySucceeded,
			Repairs:           repairs,
			Errors:            validationErrs,
			RawOutput:         text,
			ElapsedMs:         time.Since(start).Milliseconds(),
		})
	}

	if verr != nil {
		return nil, &runtime.GenerationError{Reason: "structured output validation error", Err: verr}
	}
	if !passed {
		return nil, &runtime.GenerationError{Reason: fmt.Sprintf("structured output failed validation: %v", validationErrs)}
	}
	return obj, nil
}

// maybeSummarizeLocked implements spec.md §4.4's overflow/summarization
// algorithm. Must be called with s.mu held; it releases and re-acquires
// the lock around the summarization generation call itself, mirroring
// the teacher's ContextManager "lock, mutate, unlock-for-slow-call,
// re-lock" pattern.
func (s *Session) maybeSummarizeLocked(ctx context.Context) {
	available := s.contextLen - s.reservedResp
	if available <= 0 {
		return
	}
	formatted := RenderPrompt(s.tmpl, s.systemPrompt, s.messages)
	estTokens := len(formatted) / charsPerToken
	if float64(estTokens) <= summarizeTriggerFraction*float64(available) {
		return
	}

	splitAt := splitIndex(s.messages)
	older := append([]runtime.ChatMessage(nil), s.messages[:splitAt]...)
	newer := append([]runtime.ChatMessage(nil), s.messages[splitAt:]...)
	if len(older) == 0 {
		return
	}
	summarizationPrompt := buildSummarizationPrompt(older)

	s.mu.Unlock()
	stream, err := s.gen.GenerateStream(ctx, summarizationPrompt, runtime.GenerateOptions{
		MaxTokens:     summarizationMaxTokens,
		Temperature:   summarizationTemperature,
		TopP:          1,
		TopK:          40,
		RepeatPenalty: 1,
	}, nil)
	var summaryText string
	if err == nil {
		summaryText, _, err = collectText(stream)
	}
	s.mu.Lock()

	if err != nil || strings.TrimSpace(summaryText) == "" {
		slog.Warn("chat: summarization failed, falling back to truncation", "error", err)
		s.truncateToFraction(available)
		return
	}

	s.messages = append([]runtime.ChatMessage{{Role: RoleSummary, Content: summaryText}}, newer...)
}

// splitIndex returns the index of the second-to-last user-role message —
// everything from that index onward ("last two user turns and their
// assistant replies") is kept verbatim; everything before is summarized.
// Returns 0 (summarize nothing) if fewer than two user turns exist.
func splitIndex(msgs []runtime.ChatMessage) int {
	var userIdxs []int
	for i, m := range msgs {
		if m.Role == RoleUser {
			userIdxs = append(userIdxs, i)
		}
	}
	if len(userIdxs) < 2 {
		return 0
	}
	return userIdxs[len(userIdxs)-2]
}

// truncateToFraction drops the oldest message repeatedly until the
// estimated token count falls below truncateTargetFraction of available,
// the summarizer-failure fallback from spec.md §4.4.
func (s *Session) truncateToFraction(available int) {
	threshold := int(truncateTargetFraction * float64(available))
	for len(s.messages) > 0 {
		formatted := RenderPrompt(s.tmpl, s.systemPrompt, s.messages)
		if len(formatted)/charsPerToken <= threshold {
			return
		}
		s.messages = s.messages[1:]
	}
}

func buildSummarizationPrompt(older []runtime.ChatMessage) string {
	var b strings.Builder
	b.WriteString("Summarize the following conversation concisely, preserving facts and decisions:\n\n")
	for _, m := range older {
		role, content := effectiveRoleContent(m)
		fmt.Fprintf(&b, "%s: %s\n", role, content)
	}
	b.WriteString("\nSummary:")
	return b.String()
}
