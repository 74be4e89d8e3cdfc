package types

import "encoding/json"

// ToolEvent records one tool invocation attached to a conversation message.
type ToolEvent struct {
	ToolName string          `json:"toolName"`
	Input    json.RawMessage `json:"input,omitempty"`
	Output   json.RawMessage `json:"output,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// ConversationMessage is one row of either the full or compact log.
// ConversationID is unique within each log; adding a duplicate updates it
// in place rather than appending.
type ConversationMessage struct {
	ConversationID string          `json:"conversationId"`
	Role           string          `json:"role"` // "user" | "assistant" | "system"
	Content        string          `json:"content"`
	UI             json.RawMessage `json:"ui,omitempty"`
	ToolEvents     []ToolEvent     `json:"toolEvents,omitempty"`
	CreatedAt      int64           `json:"createdAt"`
}

// ConversationState is the payload returned by getState/conversation_state.
type ConversationState struct {
	Running []ConversationMessage `json:"running"`
	Full    []ConversationMessage `json:"full"`
}
