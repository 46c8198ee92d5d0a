// Package chats holds the provider-agnostic conversation model shared by the
// agent loop, the model adapters and the front ends.
//
// Sub-packages:
//   - [github.com/germanamz/netpilot/pkg/chats/role] - who sent a message
//   - [github.com/germanamz/netpilot/pkg/chats/content] - text, tool call and tool result parts
//   - [github.com/germanamz/netpilot/pkg/chats/message] - a role plus content parts
//   - [github.com/germanamz/netpilot/pkg/chats/chat] - the ordered conversation
package chats
