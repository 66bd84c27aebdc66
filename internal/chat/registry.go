package chat

import (
	"fmt"
	"regexp"

	"github.com/edge-veda/runtime/internal/scheduler"
	"github.com/edge-veda/runtime/pkg/runtime"
)

const defaultMaxTools = 5

var toolNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// ValidateTool enforces the invariants spec.md §3 places on a tool
// definition: name matches the function-name pattern, description is
// non-empty, and the JSON-Schema parameter object's top-level "type" is
// "object".
func ValidateTool(t runtime.ToolDefinition) error {
	if !toolNamePattern.MatchString(t.Name) {
		return &runtime.ConfigError{Field: "Name", Detail: fmt.Sprintf("%q does not match ^[A-Za-z_][A-Za-z0-9_]{0,63}$", t.Name)}
	}
	if t.Description == "" {
		return &runtime.ConfigError{Field: "Description", Detail: "must not be empty"}
	}
	if t.Parameters == nil {
		return &runtime.ConfigError{Field: "Parameters", Detail: "must not be nil"}
	}
	if top, _ := t.Parameters["type"].(string); top != "object" {
		return &runtime.ConfigError{Field: "Parameters.type", Detail: fmt.Sprintf("must be \"object\", got %q", top)}
	}
	return nil
}

// ToolRegistry is an immutable, name-unique list of tool definitions
// capped at a maximum size (default 5, per spec.md §3). It produces
// budget-filtered views that a ChatSession consults when the scheduler has
// degraded the tool-call workload's QoS.
type ToolRegistry struct {
	tools   []runtime.ToolDefinition
	maxSize int
}

// NewToolRegistry validates and wraps tools, enforcing uniqueness and the
// size cap. maxSize <= 0 uses the default of 5.
func NewToolRegistry(maxSize int, tools ...runtime.ToolDefinition) (*ToolRegistry, error) {
	if maxSize <= 0 {
		maxSize = defaultMaxTools
	}
	if len(tools) > maxSize {
		return nil, &runtime.ConfigError{Field: "tools", Detail: fmt.Sprintf("%d tools exceeds cap of %d", len(tools), maxSize)}
	}
	seen := make(map[string]struct{}, len(tools))
	out := make([]runtime.ToolDefinition, len(tools))
	for i, t := range tools {
		if err := ValidateTool(t); err != nil {
			return nil, err
		}
		if _, dup := seen[t.Name]; dup {
			return nil, &runtime.ConfigError{Field: "Name", Detail: fmt.Sprintf("duplicate tool name %q", t.Name)}
		}
		seen[t.Name] = struct{}{}
		out[i] = t
	}
	return &ToolRegistry{tools: out, maxSize: maxSize}, nil
}

// All returns every registered tool.
func (r *ToolRegistry) All() []runtime.ToolDefinition {
	if r == nil {
		return nil
	}
	return append([]runtime.ToolDefinition(nil), r.tools...)
}

// Lookup returns the tool definition named name, if registered.
func (r *ToolRegistry) Lookup(name string) (runtime.ToolDefinition, bool) {
	if r == nil {
		return runtime.ToolDefinition{}, false
	}
	for _, t := range r.tools {
		if t.Name == name {
			return t, true
		}
	}
	return runtime.ToolDefinition{}, false
}

// ViewForQoS returns the budget-filtered tool view for a QoS level, per
// spec.md §3: full → all, reduced → required-only, minimal/paused → empty.
func (r *ToolRegistry) ViewForQoS(level runtime.QoSLevel) []runtime.ToolDefinition {
	if r == nil {
		return nil
	}
	switch level {
	case runtime.QoSFull:
		return r.All()
	case runtime.QoSReduced:
		var out []runtime.ToolDefinition
		for _, t := range r.tools {
			if t.Required {
				out = append(out, t)
			}
		}
		return out
	default: // minimal, paused
		return nil
	}
}

// toolQoSLevel reads the tool-call workload's currently published QoS
// level from s. A nil scheduler (no scheduler registered) is treated as
// full QoS — tool filtering is then driven entirely by the caller.
func toolQoSLevel(s *scheduler.Scheduler) runtime.QoSLevel {
	if s == nil {
		return runtime.QoSFull
	}
	return s.LevelFor(scheduler.WorkloadToolCall)
}
