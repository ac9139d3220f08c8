package models

import "encoding/json"

// RiskLevel classifies how dangerous a tool or shell command is.
type RiskLevel string

const (
	RiskGreen    RiskLevel = "green"
	RiskYellow   RiskLevel = "yellow"
	RiskRed      RiskLevel = "red"
	RiskCritical RiskLevel = "critical"
)

// riskOrder maps levels to a comparable rank.
var riskOrder = map[RiskLevel]int{
	RiskGreen:    0,
	RiskYellow:   1,
	RiskRed:      2,
	RiskCritical: 3,
}

// AtLeast reports whether r is at least as severe as other.
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return riskOrder[r] >= riskOrder[other]
}

// Max returns the more severe of the two levels.
func (r RiskLevel) Max(other RiskLevel) RiskLevel {
	if riskOrder[other] > riskOrder[r] {
		return other
	}
	return r
}

// ToolSource identifies where a tool registration came from.
type ToolSource string

const (
	SourceBuiltin       ToolSource = "builtin"
	SourceMCP           ToolSource = "mcp"
	SourcePlugin        ToolSource = "plugin"
	SourceMemory        ToolSource = "memory"
	SourceOrchestration ToolSource = "orchestration"
)

// ToolAnnotations carry risk and behavior hints for policy decisions.
type ToolAnnotations struct {
	RiskLevel   RiskLevel `json:"risk_level,omitempty"`
	ReadOnly    bool      `json:"read_only,omitempty"`
	Destructive bool      `json:"destructive,omitempty"`
	Idempotent  bool      `json:"idempotent,omitempty"`
}

// ToolDefinition describes a tool to the LLM and to the policy engine.
type ToolDefinition struct {
	// Name must be globally unique across all sources.
	Name string `json:"name"`

	// Description helps the LLM decide when to use the tool.
	Description string `json:"description"`

	// InputSchema is the JSON Schema for the tool's arguments.
	InputSchema json.RawMessage `json:"input_schema"`

	// OutputSchema optionally describes the tool's result shape.
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`

	Annotations ToolAnnotations `json:"annotations,omitempty"`
}
