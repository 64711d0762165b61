// Package modelport defines the model port: a single non-streaming
// completion contract shared by every model adapter. The request carries a
// system prompt, ordered messages, tool descriptors, a model name, and a
// max-output-tokens bound; the response carries a stop reason, concatenated
// text, and any requested tool uses.
package modelport

import "context"

// StopReason is why the model stopped generating.
type StopReason string

const (
	StopEndTurn  StopReason = "end_turn"
	StopMaxTokens StopReason = "max_tokens"
	StopToolUse  StopReason = "tool_use"
)

// Message is one entry in the ordered conversation sent to the model.
// Role is one of "user", "assistant", "system", "tool"; ToolCalls and
// ToolCallID/IsError are populated only on the roles that carry them.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolUse
	ToolCallID string // set when Role == "tool" / representing a tool result
	IsError    bool   // set when this message represents a failed tool result
}

// ToolUse mirrors models.ToolUse for the wire shape sent to/received from
// the model adapter, keeping this package independent of pkg/models.
type ToolUse struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolDescriptor is the model-facing JSON-Schema-shaped view of a tool, as
// produced by the tool registry's to_model_tools().
type ToolDescriptor struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON-Schema object: {type, properties, required}
}

// CompletionRequest is the full, non-streaming request shape.
type CompletionRequest struct {
	System    string
	Messages  []Message
	Tools     []ToolDescriptor
	Model     string
	MaxTokens int
}

// CompletionResponse is the full, non-streaming response shape.
type CompletionResponse struct {
	StopReason StopReason
	Text       string
	ToolCalls  []ToolUse
}

// Model is the port every adapter implements.
type Model interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
