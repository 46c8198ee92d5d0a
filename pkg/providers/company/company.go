// Package company implements a Completer for a plain completion endpoint
// that accepts role/content messages and answers {"content": "..."}.
//
// The endpoint has no native tool calling. Tools are described in the system
// prompt and the model calls one by replying with a fenced JSON action block:
//
//	```json
//	{"tool": "ping", "arguments": {"device_name": "switch1", "target": "10.0.0.1"}}
//	```
//
// Every request carries an X-MCP-Context-ID header that ties the calls of
// one conversation together.
package company

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/germanamz/netpilot/pkg/chats/chat"
	"github.com/germanamz/netpilot/pkg/chats/content"
	"github.com/germanamz/netpilot/pkg/chats/message"
	"github.com/germanamz/netpilot/pkg/chats/role"
	"github.com/germanamz/netpilot/pkg/modeladapter"
	"github.com/germanamz/netpilot/pkg/modeladapter/usage"
	"github.com/germanamz/netpilot/pkg/tools/toolbox"
)

// ContextHeader names the conversation id header.
const ContextHeader = "X-MCP-Context-ID"

var _ modeladapter.Completer = (*Adapter)(nil)

type contextIDKey struct{}

// WithContextID returns a ctx whose requests carry id in ContextHeader.
func WithContextID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextIDKey{}, id)
}

// ContextID returns the id stored by WithContextID, or "".
func ContextID(ctx context.Context) string {
	id, _ := ctx.Value(contextIDKey{}).(string)
	return id
}

// Adapter posts to a single completion URL.
type Adapter struct {
	modeladapter.ModelAdapter

	// DefaultContextID is sent when the request context carries none.
	DefaultContextID string
}

// New creates an Adapter for the completion URL endpoint.
func New(endpoint, apiKey string) *Adapter {
	a := &Adapter{DefaultContextID: uuid.NewString()}
	a.BaseURL = strings.TrimRight(endpoint, "/")
	a.Auth = modeladapter.Auth{Key: apiKey}
	a.MaxTokens = 1000
	a.Temperature = 0.7

	return a
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type completionResponse struct {
	Content *string `json:"content"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete renders the conversation, posts it and decodes action blocks in
// the reply into tool calls.
func (a *Adapter) Complete(ctx context.Context, c *chat.Chat, tools []toolbox.Tool) (message.Message, error) {
	id := ContextID(ctx)
	if id == "" {
		id = a.DefaultContextID
	}

	req := completionRequest{
		Model:       a.Name,
		Messages:    render(c, tools),
		MaxTokens:   a.MaxTokens,
		Temperature: a.Temperature,
	}

	var resp completionResponse
	if err := a.PostJSONWithHeaders(ctx, "", map[string]string{ContextHeader: id}, req, &resp); err != nil {
		return message.Message{}, fmt.Errorf("LLM API call failed: %w", err)
	}

	if resp.Content == nil {
		return message.Message{}, errors.New("LLM API call failed: response has no content")
	}

	a.Usage.Add(usage.TokenCount{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	})

	return Decode(*resp.Content), nil
}

const toolInstructions = `You can call the following tools. To call a tool, reply with exactly one fenced block per call and nothing else in that block:

` + "```json" + `
{"tool": "<tool name>", "arguments": {<arguments object>}}
` + "```" + `

Tool results are returned to you in the next message. When you have the final answer, reply in plain text without any action block.

Tools:
`

func render(c *chat.Chat, tools []toolbox.Tool) []wireMessage {
	system := c.SystemPrompt()
	if len(tools) > 0 {
		var b strings.Builder
		if system != "" {
			b.WriteString(system)
			b.WriteString("\n\n")
		}
		b.WriteString(toolInstructions)
		for _, t := range tools {
			fmt.Fprintf(&b, "- %s: %s\n  parameters: %s\n", t.Name, t.Description, compact(t.InputSchema))
		}
		system = b.String()
	}

	var out []wireMessage
	if system != "" {
		out = append(out, wireMessage{Role: "system", Content: system})
	}

	names := make(map[string]string)

	for _, m := range c.Messages() {
		switch m.Role {
		case role.User:
			out = append(out, wireMessage{Role: "user", Content: m.TextContent()})

		case role.Assistant:
			var b strings.Builder
			b.WriteString(m.TextContent())
			for _, tc := range m.ToolCalls() {
				names[tc.ID] = tc.Name
				if b.Len() > 0 {
					b.WriteString("\n")
				}
				b.WriteString(Encode(tc))
			}
			out = append(out, wireMessage{Role: "assistant", Content: b.String()})

		case role.Tool:
			for _, tr := range m.ToolResults() {
				status := "result"
				if tr.IsError {
					status = "error"
				}
				out = append(out, wireMessage{
					Role:    "user",
					Content: fmt.Sprintf("Tool %s %s:\n%s", names[tr.ToolCallID], status, tr.Content),
				})
			}
		}
	}

	return out
}

func compact(schema json.RawMessage) string {
	if len(schema) == 0 {
		return "{}"
	}
	var b bytes.Buffer
	if err := json.Compact(&b, schema); err != nil {
		return string(schema)
	}
	return b.String()
}

var actionBlock = regexp.MustCompile("(?s)```(?:json|tool)?[ \t]*\n(.*?)\n?```")

type action struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
}

// Encode renders a tool call as an action block.
func Encode(tc content.ToolCall) string {
	args := json.RawMessage(tc.Arguments)
	if !json.Valid(args) {
		args = json.RawMessage(`{}`)
	}
	data, _ := json.Marshal(action{Tool: tc.Name, Arguments: args})
	return "```json\n" + string(data) + "\n```"
}

// Decode splits a reply into text and tool calls. Fenced blocks that are not
// valid action objects stay in the text.
func Decode(reply string) message.Message {
	var (
		parts []content.Part
		text  strings.Builder
		last  int
	)

	for _, loc := range actionBlock.FindAllStringSubmatchIndex(reply, -1) {
		var act action
		body := reply[loc[2]:loc[3]]
		if err := json.Unmarshal([]byte(body), &act); err != nil || act.Tool == "" {
			continue
		}

		text.WriteString(reply[last:loc[0]])
		last = loc[1]

		args := string(act.Arguments)
		if args == "" || args == "null" {
			args = "{}"
		}
		parts = append(parts, content.ToolCall{
			ID:        "call_" + uuid.NewString(),
			Name:      act.Tool,
			Arguments: args,
		})
	}
	text.WriteString(reply[last:])

	if s := strings.TrimSpace(text.String()); s != "" {
		parts = append([]content.Part{content.Text{Text: s}}, parts...)
	}

	return message.New("", role.Assistant, parts...)
}
