// Package chat provides the mutable conversation container.
package chat

import (
	"github.com/germanamz/netpilot/pkg/chats/message"
	"github.com/germanamz/netpilot/pkg/chats/role"
)

// Chat is an ordered conversation. The zero value is ready to use.
// Chat is not safe for concurrent use.
type Chat struct {
	messages []message.Message
}

// New creates a Chat pre-populated with msgs.
func New(msgs ...message.Message) *Chat {
	return &Chat{messages: msgs}
}

// Append adds messages to the end of the conversation.
func (c *Chat) Append(msgs ...message.Message) {
	c.messages = append(c.messages, msgs...)
}

// Len returns the number of messages.
func (c *Chat) Len() int { return len(c.messages) }

// Last returns the most recent message, or false when the chat is empty.
func (c *Chat) Last() (message.Message, bool) {
	if len(c.messages) == 0 {
		return message.Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// Messages returns a copy of the conversation.
func (c *Chat) Messages() []message.Message {
	cp := make([]message.Message, len(c.messages))
	copy(cp, c.messages)
	return cp
}

// Since returns a copy of the messages appended at or after index from.
func (c *Chat) Since(from int) []message.Message {
	if from < 0 {
		from = 0
	}
	if from >= len(c.messages) {
		return nil
	}
	cp := make([]message.Message, len(c.messages)-from)
	copy(cp, c.messages[from:])
	return cp
}

// SystemPrompt returns the text of the first system message, or "".
func (c *Chat) SystemPrompt() string {
	for _, m := range c.messages {
		if m.Role == role.System {
			return m.TextContent()
		}
	}
	return ""
}
