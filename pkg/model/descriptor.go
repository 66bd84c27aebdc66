// Package model defines the immutable model descriptor, a YAML-backed
// static registry of descriptors, and the JSON metadata sidecar written
// alongside every downloaded model blob.
//
// Grounded on internal/config/config.go's nested-struct-plus-yaml-tags
// shape from the teacher, generalized from provider/NPC configuration to
// model catalog entries.
package model

import (
	"fmt"
	"regexp"

	"github.com/edge-veda/runtime/pkg/runtime"
)

// Format is the on-disk model file format.
type Format string

const (
	FormatGGUF Format = "gguf"
	FormatGGML Format = "ggml"
)

// Capability is a declared model capability tag.
type Capability string

const (
	CapChat         Capability = "chat"
	CapReasoning    Capability = "reasoning"
	CapToolCalling  Capability = "tool-calling"
	CapVision       Capability = "vision"
	CapSTT          Capability = "stt"
	CapEmbedding    Capability = "embedding"
)

var idPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Descriptor is an immutable description of a model. Construct with New;
// zero-value Descriptors built by hand (e.g. via direct struct literal from
// YAML unmarshalling) should be passed through New before use.
type Descriptor struct {
	ID               string // kebab-case, unique
	DisplayName      string
	Family           string // e.g. "llama3", "phi3", "gemma2", "qwen3", "tinyllama", "smolvlm", "whisper", "minilm"
	SizeBytes        int64
	Format           Format
	Quantization     string // e.g. "Q4_K_M", "Q8_0", "F16"
	ParamsBillions   float64
	SHA256           string // optional, empty if not declared
	DownloadURL      string
	MaxContextTokens int
	Capabilities     []Capability
	CompanionID      string // optional vision mmproj descriptor id
	Kind             runtime.ModelKind
}

// New validates fields and returns an immutable Descriptor.
func New(d Descriptor) (Descriptor, error) {
	if err := validate(d); err != nil {
		return Descriptor{}, err
	}
	caps := make([]Capability, len(d.Capabilities))
	copy(caps, d.Capabilities)
	d.Capabilities = caps
	return d, nil
}

func validate(d Descriptor) error {
	if !idPattern.MatchString(d.ID) {
		return &runtime.ConfigError{Field: "ID", Detail: fmt.Sprintf("%q is not kebab-case", d.ID)}
	}
	if d.DisplayName == "" {
		return &runtime.ConfigError{Field: "DisplayName", Detail: "must not be empty"}
	}
	if d.Format != FormatGGUF && d.Format != FormatGGML {
		return &runtime.ConfigError{Field: "Format", Detail: fmt.Sprintf("unsupported format %q", d.Format)}
	}
	if d.SizeBytes <= 0 {
		return &runtime.ConfigError{Field: "SizeBytes", Detail: "must be positive"}
	}
	if d.MaxContextTokens <= 0 {
		return &runtime.ConfigError{Field: "MaxContextTokens", Detail: "must be positive"}
	}
	return nil
}

// HasCapability reports whether the descriptor declares cap.
func (d Descriptor) HasCapability(cap Capability) bool {
	for _, c := range d.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// FileExtension returns the canonical file extension for the descriptor's
// kind, per spec.md §6 "Model file extensions".
func (d Descriptor) FileExtension() string {
	if d.Kind == runtime.ModelSTT {
		return ".bin"
	}
	return ".gguf"
}
