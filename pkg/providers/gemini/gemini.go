// Package gemini implements a Completer for the Google Gemini
// generateContent API with function declarations.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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

// DefaultBaseURL is the public Generative Language API.
const DefaultBaseURL = "https://generativelanguage.googleapis.com"

// signatureKey is the ToolCall metadata key carrying Gemini's thought
// signature, which must be echoed back with the function call.
const signatureKey = "thoughtSignature"

var _ modeladapter.Completer = (*Adapter)(nil)

// Adapter talks to /v1beta/models/{model}:generateContent.
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
	a.Auth = modeladapter.Auth{Key: apiKey, Header: "x-goog-api-key"}
	a.Name = model
	a.MaxTokens = 8192

	return a
}

// Complete sends the conversation and returns the model's reply.
func (a *Adapter) Complete(ctx context.Context, c *chat.Chat, tools []toolbox.Tool) (message.Message, error) {
	req, err := a.request(c, tools)
	if err != nil {
		return message.Message{}, fmt.Errorf("gemini: %w", err)
	}

	var resp generateResponse
	path := "/v1beta/models/" + a.Name + ":generateContent"
	if err := a.PostJSON(ctx, path, req, &resp); err != nil {
		return message.Message{}, fmt.Errorf("gemini: %w", err)
	}

	a.Usage.Add(usage.TokenCount{
		InputTokens:  resp.UsageMetadata.PromptTokenCount,
		OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
	})

	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback.BlockReason != "" {
			return message.Message{}, fmt.Errorf("gemini: prompt blocked: %s", resp.PromptFeedback.BlockReason)
		}
		return message.Message{}, errors.New("gemini: response has no candidates")
	}

	return toMessage(resp.Candidates[0].Content), nil
}

// --- wire types ---

type generateRequest struct {
	Contents          []wireContent    `json:"contents"`
	SystemInstruction *wireContent     `json:"systemInstruction,omitempty"`
	Tools             []wireToolSet    `json:"tools,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *functionCall     `json:"functionCall,omitempty"`
	FunctionResponse *functionResponse `json:"functionResponse,omitempty"`
	ThoughtSignature string            `json:"thoughtSignature,omitempty"`
}

type functionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type functionResponse struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

type wireToolSet struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations"`
}

type functionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      wireContent `json:"content"`
		FinishReason string      `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// --- conversion ---

func (a *Adapter) request(c *chat.Chat, tools []toolbox.Tool) (generateRequest, error) {
	req := generateRequest{GenerationConfig: generationConfig{MaxOutputTokens: a.MaxTokens}}

	if a.Temperature != 0 {
		t := a.Temperature
		req.GenerationConfig.Temperature = &t
	}

	if len(tools) > 0 {
		decls := make([]functionDeclaration, 0, len(tools))
		for _, t := range tools {
			schema := t.InputSchema
			if len(schema) == 0 {
				schema = json.RawMessage(`{"type":"object"}`)
			}
			decls = append(decls, functionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  sanitizeSchema(schema),
			})
		}
		req.Tools = []wireToolSet{{FunctionDeclarations: decls}}
	}

	if sp := c.SystemPrompt(); sp != "" {
		req.SystemInstruction = &wireContent{Parts: []wirePart{{Text: sp}}}
	}

	msgs := c.Messages()

	// functionResponse needs the function name; results only carry the call ID.
	callNames := make(map[string]string)
	for _, m := range msgs {
		for _, tc := range m.ToolCalls() {
			callNames[tc.ID] = tc.Name
		}
	}

	for _, m := range msgs {
		if m.Role == role.System {
			continue
		}

		wireRole := "user"
		if m.Role == role.Assistant {
			wireRole = "model"
		}

		for _, p := range m.Parts {
			part, err := toPart(p, callNames)
			if err != nil {
				return generateRequest{}, err
			}
			if part == nil {
				continue
			}

			// Consecutive parts from the same side share one content entry.
			if n := len(req.Contents); n > 0 && req.Contents[n-1].Role == wireRole {
				req.Contents[n-1].Parts = append(req.Contents[n-1].Parts, *part)
				continue
			}
			req.Contents = append(req.Contents, wireContent{Role: wireRole, Parts: []wirePart{*part}})
		}
	}

	return req, nil
}

func toPart(p content.Part, callNames map[string]string) (*wirePart, error) {
	switch v := p.(type) {
	case content.Text:
		if v.Text == "" {
			return nil, nil
		}
		return &wirePart{Text: v.Text}, nil

	case content.ToolCall:
		args := json.RawMessage(v.Arguments)
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		return &wirePart{
			FunctionCall:     &functionCall{Name: v.Name, Args: args},
			ThoughtSignature: v.Metadata[signatureKey],
		}, nil

	case content.ToolResult:
		name, ok := callNames[v.ToolCallID]
		if !ok {
			return nil, fmt.Errorf("tool result %q has no matching call", v.ToolCallID)
		}
		return &wirePart{FunctionResponse: &functionResponse{Name: name, Response: wrapResult(v)}}, nil
	}

	return nil, nil
}

// wrapResult renders a tool result as the object Gemini expects. JSON output
// (parsed show commands) is embedded as-is; anything else as a string.
func wrapResult(tr content.ToolResult) json.RawMessage {
	key := "result"
	if tr.IsError {
		key = "error"
	}

	value := json.RawMessage(tr.Content)
	if !json.Valid(value) {
		value, _ = json.Marshal(tr.Content)
	}

	out, _ := json.Marshal(map[string]json.RawMessage{key: value})
	return out
}

// unsupportedSchemaKeys are JSON Schema keywords the function declaration
// schema rejects.
var unsupportedSchemaKeys = []string{"$schema", "additionalProperties", "default"}

// sanitizeSchema strips unsupported keywords at every nesting level.
func sanitizeSchema(raw json.RawMessage) json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return raw
	}

	for _, k := range unsupportedSchemaKeys {
		delete(obj, k)
	}

	if props, ok := obj["properties"]; ok {
		var byName map[string]json.RawMessage
		if err := json.Unmarshal(props, &byName); err == nil {
			for k, v := range byName {
				byName[k] = sanitizeSchema(v)
			}
			if b, err := json.Marshal(byName); err == nil {
				obj["properties"] = b
			}
		}
	}

	if items, ok := obj["items"]; ok {
		obj["items"] = sanitizeSchema(items)
	}

	b, err := json.Marshal(obj)
	if err != nil {
		return raw
	}
	return b
}

func toMessage(c wireContent) message.Message {
	var parts []content.Part

	for _, p := range c.Parts {
		switch {
		case p.FunctionCall != nil:
			// Gemini does not assign call IDs.
			tc := content.ToolCall{
				ID:        "call_" + uuid.NewString(),
				Name:      p.FunctionCall.Name,
				Arguments: string(p.FunctionCall.Args),
			}
			if p.ThoughtSignature != "" {
				tc.Metadata = map[string]string{signatureKey: p.ThoughtSignature}
			}
			parts = append(parts, tc)
		case p.Text != "":
			parts = append(parts, content.Text{Text: p.Text})
		}
	}

	return message.New("", role.Assistant, parts...)
}
