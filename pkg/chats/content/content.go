// Package content defines the parts a chat message is made of.
package content

// Part is a piece of content within a message.
type Part interface {
	PartKind() string
}

// Text is a plain text part.
type Text struct {
	Text string
}

func (Text) PartKind() string { return "text" }

// ToolCall is an assistant's request to invoke a tool. Arguments holds the raw
// JSON object exactly as the model produced it. Metadata carries opaque
// provider data that must survive a round-trip through the history.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
	Metadata  map[string]string
}

func (ToolCall) PartKind() string { return "tool_call" }

// ToolResult is the outcome of a tool invocation, linked to its call by ID.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

func (ToolResult) PartKind() string { return "tool_result" }
