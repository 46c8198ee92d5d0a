// Package message defines the Message type used in LLM conversations.
package message

import (
	"strings"

	"github.com/germanamz/netpilot/pkg/chats/content"
	"github.com/germanamz/netpilot/pkg/chats/role"
)

// Message is a single entry in a conversation. It is a value type.
type Message struct {
	Sender string
	Role   role.Role
	Parts  []content.Part
}

// New creates a message with the given sender, role and parts.
func New(sender string, r role.Role, parts ...content.Part) Message {
	return Message{Sender: sender, Role: r, Parts: parts}
}

// NewText creates a message holding a single Text part.
func NewText(sender string, r role.Role, text string) Message {
	return New(sender, r, content.Text{Text: text})
}

// TextContent concatenates the text of all Text parts.
func (m Message) TextContent() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if t, ok := p.(content.Text); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

// ToolCalls returns the ToolCall parts in order.
func (m Message) ToolCalls() []content.ToolCall {
	var calls []content.ToolCall
	for _, p := range m.Parts {
		if tc, ok := p.(content.ToolCall); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}

// ToolResults returns the ToolResult parts in order.
func (m Message) ToolResults() []content.ToolResult {
	var results []content.ToolResult
	for _, p := range m.Parts {
		if tr, ok := p.(content.ToolResult); ok {
			results = append(results, tr)
		}
	}
	return results
}
