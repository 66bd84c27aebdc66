// Package runtime defines the cross-cutting value types shared by every
// EdgeVeda package: generation options, cancellation, streamed output, chat
// messages and tool definitions, scheduler pressure/QoS vocabulary, and raw
// audio/vision frames.
//
// These types are intentionally small and dependency-free so that
// internal/worker, internal/scheduler, internal/chat, internal/vision, and
// internal/voice can all share one vocabulary without importing each other.
package runtime

import "time"

// ModelKind identifies the inference task family a model descriptor serves.
type ModelKind int

const (
	ModelLLM ModelKind = iota
	ModelVLM
	ModelSTT
	ModelTTS
	ModelEmbedding
	ModelImageDiffusion
)

// String returns the human-readable name of the model kind.
func (k ModelKind) String() string {
	switch k {
	case ModelLLM:
		return "llm"
	case ModelVLM:
		return "vlm"
	case ModelSTT:
		return "stt"
	case ModelTTS:
		return "tts"
	case ModelEmbedding:
		return "embedding"
	case ModelImageDiffusion:
		return "image_diffusion"
	default:
		return "unknown"
	}
}

// GenerateOptions configures a single generation request submitted to a
// Worker. No defaults are filled in: values reach the backend as given.
// Valid per spec.md §3: MaxTokens ∈ [1,32768], Temperature ∈ [0,2],
// TopP ∈ [0,1], TopK ∈ [1,100], RepeatPenalty ∈ [0,2].
type GenerateOptions struct {
	MaxTokens    int
	Temperature  float64
	TopP         float64
	TopK         int
	RepeatPenalty float64
	Stop         []string

	// GrammarGBNF and GrammarRoot together constrain decoding to a grammar;
	// both must be set or both left empty.
	GrammarGBNF string
	GrammarRoot string

	// ConfidenceThreshold gates the cloud-handoff signal: a token chunk's
	// reported confidence below this value sets TokenChunk's handoff flag.
	// Zero disables the signal.
	ConfidenceThreshold float64
}

// Validate enforces the GenerateOptions invariants from spec.md §3.
func (o GenerateOptions) Validate() error {
	switch {
	case o.MaxTokens < 1 || o.MaxTokens > 32768:
		return &ConfigError{Field: "MaxTokens", Detail: "must be in [1,32768]"}
	case o.Temperature < 0 || o.Temperature > 2:
		return &ConfigError{Field: "Temperature", Detail: "must be in [0,2]"}
	case o.TopP < 0 || o.TopP > 1:
		return &ConfigError{Field: "TopP", Detail: "must be in [0,1]"}
	case o.TopK < 1 || o.TopK > 100:
		return &ConfigError{Field: "TopK", Detail: "must be in [1,100]"}
	case o.RepeatPenalty < 0 || o.RepeatPenalty > 2:
		return &ConfigError{Field: "RepeatPenalty", Detail: "must be in [0,2]"}
	case (o.GrammarGBNF == "") != (o.GrammarRoot == ""):
		return &ConfigError{Field: "GrammarGBNF/GrammarRoot", Detail: "must both be set or both empty"}
	}
	return nil
}

// CompletionUsage reports token accounting for a finished generation.
type CompletionUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// FinishReason explains why a stream produced its terminal chunk. It is the
// "reason" carried by the worker's terminal(reason) response (spec.md §4.1).
type FinishReason int

const (
	FinishNone FinishReason = iota
	FinishDone
	FinishCancelled
	FinishError
)

func (r FinishReason) String() string {
	switch r {
	case FinishDone:
		return "done"
	case FinishCancelled:
		return "cancelled"
	case FinishError:
		return "error"
	default:
		return "none"
	}
}

// TokenChunk is a single increment of streamed generation output, produced
// by a worker and consumed exactly once by the foreground stream. Text is
// empty on the terminal chunk.
type TokenChunk struct {
	Text       string
	Index      int
	Terminal   bool
	Confidence float64 // in [0,1]; zero value means "not reported"
	CloudHandoff bool
	Reason     FinishReason // meaningful only when Terminal
	Err        error        // non-nil only when Reason == FinishError
}

// ChatMessage is one turn in a chat session's history.
type ChatMessage struct {
	Role       string // "system", "user", "assistant", "summary", "tool_call" or "tool_result"
	Content    string
	Name       string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolCall is a single tool/function invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON-encoded
}

// ToolDefinition describes a callable tool offered to the model. Required
// drives the scheduler's budget-tiered tool filtering; the duration and
// idempotency fields are not consulted by that filtering.
type ToolDefinition struct {
	Name                string
	Description         string
	Parameters          map[string]any
	Required            bool // if true, never filtered out regardless of QoS level
	EstimatedDurationMs int
	MaxDurationMs       int
	Idempotent          bool
}

// AudioFrame is one frame of PCM audio flowing through the voice pipeline.
type AudioFrame struct {
	Data       []byte // little-endian int16 PCM
	SampleRate int
	Channels   int
	Timestamp  time.Duration
}

// VisionFrame is one frame submitted to the frame queue for VLM inference.
type VisionFrame struct {
	Data      []byte // encoded or raw pixel data, format per producer contract
	Width     int
	Height    int
	Timestamp time.Duration
}

// QoSLevel is a scheduler-assigned quality-of-service tier. Levels are
// ordered from best to worst; RuntimePolicy escalates straight to the
// demanded level but restores only one level at a time.
type QoSLevel int

const (
	QoSFull QoSLevel = iota
	QoSReduced
	QoSMinimal
	QoSPaused
)

func (l QoSLevel) String() string {
	switch l {
	case QoSFull:
		return "full"
	case QoSReduced:
		return "reduced"
	case QoSMinimal:
		return "minimal"
	case QoSPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// PressureSignal is a single dimension of device pressure sampled once per
// scheduler tick.
type PressureSignal struct {
	ThermalLevel   int     // 0 (nominal) .. 3 (critical), platform-normalized
	BatteryPercent float64 // 0..100, -1 if unknown/charging-exempt
	BatteryLow     bool
	MemoryUsedMB   int64
	MemoryBudgetMB int64
	Charging       bool
}
