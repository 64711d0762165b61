package models

import (
	"encoding/json"
	"time"
)

// ConversationRole identifies the author of a ConversationMessage.
type ConversationRole string

const (
	ConversationRoleUser      ConversationRole = "user"
	ConversationRoleAssistant ConversationRole = "assistant"
	ConversationRoleSystem    ConversationRole = "system"
	ConversationRoleTool      ConversationRole = "tool"
)

// ToolUse is the model's request to invoke a named tool, carried inside an
// assistant ConversationMessage's ToolCalls.
type ToolUse struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ConversationMessage is an immutable, append-only log entry belonging to a
// conversation. Messages are created by the agent loop and deleted only by
// the compactor as part of history compression.
type ConversationMessage struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	Role           ConversationRole `json:"role"`
	Content        string           `json:"content"`

	// ToolCalls is populated only when Role == ConversationRoleAssistant and
	// the turn requested tool use; nil otherwise.
	ToolCalls []ToolUse `json:"tool_calls,omitempty"`

	// ToolCallID is the ToolUse.ID this message answers. Required when
	// Role == ConversationRoleTool.
	ToolCallID string `json:"tool_call_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// MarshalToolCalls encodes ToolCalls for storage in a single text/JSON
// column, preserving structure across a round-trip through persistence.
func (m ConversationMessage) MarshalToolCalls() (json.RawMessage, error) {
	if len(m.ToolCalls) == 0 {
		return nil, nil
	}
	return json.Marshal(m.ToolCalls)
}

// UnmarshalToolCalls decodes a persisted tool_calls column back into
// structured ToolUse values.
func UnmarshalToolCalls(raw json.RawMessage) ([]ToolUse, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var calls []ToolUse
	if err := json.Unmarshal(raw, &calls); err != nil {
		return nil, err
	}
	return calls, nil
}

// ExternalEvent is the envelope emitted by an external message source
// (out of scope to implement; only this contract is consumed).
type ExternalEvent struct {
	Source    string         `json:"source"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	Timestamp time.Time      `json:"timestamp"`
}
