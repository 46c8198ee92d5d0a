// Package openai implements a Completer for the OpenAI Chat Completions API
// and compatible servers.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/germanamz/netpilot/pkg/chats/chat"
	"github.com/germanamz/netpilot/pkg/chats/content"
	"github.com/germanamz/netpilot/pkg/chats/message"
	"github.com/germanamz/netpilot/pkg/chats/role"
	"github.com/germanamz/netpilot/pkg/modeladapter"
	"github.com/germanamz/netpilot/pkg/modeladapter/usage"
	"github.com/germanamz/netpilot/pkg/tools/toolbox"
)

const (
	// DefaultBaseURL is the public OpenAI API.
	DefaultBaseURL  = "https://api.openai.com"
	completionsPath = "/v1/chat/completions"
)

var _ modeladapter.Completer = (*Adapter)(nil)

// Adapter talks to /v1/chat/completions.
type Adapter struct {
	modeladapter.ModelAdapter
}

// New creates an Adapter. An empty baseURL selects DefaultBaseURL.
func New(baseURL, apiKey, model string) *Adapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	a := &Adapter{}
	a.BaseURL = strings.TrimRight(baseURL, "/")
	a.Auth = modeladapter.Auth{Key: apiKey}
	a.Name = model
	a.MaxTokens = 4096

	return a
}

// Complete sends the conversation and returns the assistant's reply.
func (a *Adapter) Complete(ctx context.Context, c *chat.Chat, tools []toolbox.Tool) (message.Message, error) {
	var resp completionResponse
	if err := a.PostJSON(ctx, completionsPath, a.request(c, tools), &resp); err != nil {
		return message.Message{}, fmt.Errorf("openai: %w", err)
	}

	a.Usage.Add(usage.TokenCount{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	})

	if len(resp.Choices) == 0 {
		return message.Message{}, errors.New("openai: response has no choices")
	}

	return toMessage(resp.Choices[0].Message), nil
}

// --- wire types ---

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	Tools       []wireTool    `json:"tools,omitempty"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    *string        `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

type completionResponse struct {
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// --- conversion ---

func (a *Adapter) request(c *chat.Chat, tools []toolbox.Tool) completionRequest {
	req := completionRequest{Model: a.Name, MaxTokens: a.MaxTokens}

	if a.Temperature != 0 {
		t := a.Temperature
		req.Temperature = &t
	}

	for _, t := range tools {
		var wt wireTool
		wt.Type = "function"
		wt.Function.Name = t.Name
		wt.Function.Description = t.Description
		wt.Function.Parameters = t.InputSchema
		if len(wt.Function.Parameters) == 0 {
			wt.Function.Parameters = json.RawMessage(`{"type":"object"}`)
		}
		req.Tools = append(req.Tools, wt)
	}

	for _, m := range c.Messages() {
		req.Messages = append(req.Messages, fromMessage(m)...)
	}

	return req
}

func text(s string) *string { return &s }

func fromMessage(m message.Message) []wireMessage {
	switch m.Role {
	case role.System, role.User:
		return []wireMessage{{Role: string(m.Role), Content: text(m.TextContent())}}

	case role.Assistant:
		wm := wireMessage{Role: "assistant"}
		if s := m.TextContent(); s != "" {
			wm.Content = text(s)
		}
		for _, tc := range m.ToolCalls() {
			var call wireToolCall
			call.ID = tc.ID
			call.Type = "function"
			call.Function.Name = tc.Name
			call.Function.Arguments = tc.Arguments
			wm.ToolCalls = append(wm.ToolCalls, call)
		}
		return []wireMessage{wm}

	case role.Tool:
		var out []wireMessage
		for _, tr := range m.ToolResults() {
			out = append(out, wireMessage{Role: "tool", Content: text(tr.Content), ToolCallID: tr.ToolCallID})
		}
		return out
	}

	return nil
}

func toMessage(wm wireMessage) message.Message {
	var parts []content.Part

	if wm.Content != nil && *wm.Content != "" {
		parts = append(parts, content.Text{Text: *wm.Content})
	}

	for _, tc := range wm.ToolCalls {
		parts = append(parts, content.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return message.New("", role.Assistant, parts...)
}
