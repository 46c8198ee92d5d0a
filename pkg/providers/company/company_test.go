package company_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/germanamz/netpilot/pkg/chats/chat"
	"github.com/germanamz/netpilot/pkg/chats/content"
	"github.com/germanamz/netpilot/pkg/chats/message"
	"github.com/germanamz/netpilot/pkg/chats/role"
	"github.com/germanamz/netpilot/pkg/providers/company"
	"github.com/germanamz/netpilot/pkg/tools/toolbox"
)

type request struct {
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

func newServer(t *testing.T, handler func(r *http.Request, req request) string) *company.Adapter {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": handler(r, req),
			"usage":   map[string]any{"prompt_tokens": 7, "completion_tokens": 3},
		})
	}))
	t.Cleanup(srv.Close)

	return company.New(srv.URL+"/v1/completions", "llm-key")
}

func TestComplete_Text(t *testing.T) {
	adapter := newServer(t, func(r *http.Request, req request) string {
		assert.Equal(t, "/v1/completions", r.URL.Path)
		assert.Equal(t, "Bearer llm-key", r.Header.Get("Authorization"))

		_, err := uuid.Parse(r.Header.Get(company.ContextHeader))
		assert.NoError(t, err)

		assert.Equal(t, 1000, req.MaxTokens)
		assert.InDelta(t, 0.7, req.Temperature, 1e-9)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)

		return "Hello from the company model."
	})

	msg, err := adapter.Complete(context.Background(), chat.New(message.NewText("operator", role.User, "hello")), nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello from the company model.", msg.TextContent())
	assert.Empty(t, msg.ToolCalls())
	assert.Equal(t, 7, adapter.Usage.Total().InputTokens)
}

func TestComplete_ContextIDFromContext(t *testing.T) {
	var seen []string
	adapter := newServer(t, func(r *http.Request, _ request) string {
		seen = append(seen, r.Header.Get(company.ContextHeader))
		return "ok"
	})

	c := chat.New(message.NewText("", role.User, "x"))

	_, err := adapter.Complete(company.WithContextID(context.Background(), "session-1"), c, nil)
	require.NoError(t, err)
	_, err = adapter.Complete(context.Background(), c, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"session-1", adapter.DefaultContextID}, seen)
}

func TestComplete_ToolCatalogAndActionBlocks(t *testing.T) {
	calls := 0
	adapter := newServer(t, func(_ *http.Request, req request) string {
		calls++

		system := req.Messages[0]
		assert.Equal(t, "system", system.Role)
		assert.Contains(t, system.Content, "You help network operators.")
		assert.Contains(t, system.Content, `- get_config: Fetch interface config`)
		assert.Contains(t, system.Content, `parameters: {"type":"object"}`)

		if calls == 1 {
			return "Fetching it now.\n```json\n{\"tool\": \"get_config\", \"arguments\": {\"device_name\": \"switch1\", \"interface_name\": \"Gi1/0/1\"}}\n```"
		}

		require.Len(t, req.Messages, 4)
		assert.Equal(t, "assistant", req.Messages[2].Role)
		assert.Contains(t, req.Messages[2].Content, `"tool":"get_config"`)
		assert.Equal(t, "user", req.Messages[3].Role)
		assert.True(t, strings.HasPrefix(req.Messages[3].Content, "Tool get_config result:\n"))

		return "Gi1/0/1 is the uplink."
	})

	tools := []toolbox.Tool{{Name: "get_config", Description: "Fetch interface config", InputSchema: json.RawMessage(`{ "type": "object" }`)}}
	c := chat.New(
		message.NewText("", role.System, "You help network operators."),
		message.NewText("operator", role.User, "What is on Gi1/0/1?"),
	)

	msg, err := adapter.Complete(context.Background(), c, tools)
	require.NoError(t, err)
	assert.Equal(t, "Fetching it now.", msg.TextContent())

	tcs := msg.ToolCalls()
	require.Len(t, tcs, 1)
	assert.Equal(t, "get_config", tcs[0].Name)
	assert.JSONEq(t, `{"device_name":"switch1","interface_name":"Gi1/0/1"}`, tcs[0].Arguments)

	c.Append(msg, message.New("", role.Tool, content.ToolResult{ToolCallID: tcs[0].ID, Content: "interface Gi1/0/1\n description uplink"}))

	msg, err = adapter.Complete(context.Background(), c, tools)
	require.NoError(t, err)
	assert.Equal(t, "Gi1/0/1 is the uplink.", msg.TextContent())
}

func TestComplete_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	_, err := company.New(srv.URL, "k").Complete(context.Background(), chat.New(message.NewText("", role.User, "x")), nil)
	assert.ErrorContains(t, err, "LLM API call failed: unexpected status 502")
}

func TestComplete_MissingContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	t.Cleanup(srv.Close)

	_, err := company.New(srv.URL, "k").Complete(context.Background(), chat.New(message.NewText("", role.User, "x")), nil)
	assert.ErrorContains(t, err, "no content")
}

func TestDecode(t *testing.T) {
	reply := "Two checks.\n```json\n{\"tool\":\"ping\",\"arguments\":{\"target\":\"10.0.0.1\"}}\n```\n" +
		"```tool\n{\"tool\":\"ping\"}\n```\n" +
		"```json\n{\"not\":\"an action\"}\n```"

	msg := company.Decode(reply)

	tcs := msg.ToolCalls()
	require.Len(t, tcs, 2)
	assert.Equal(t, `{"target":"10.0.0.1"}`, tcs[0].Arguments)
	assert.Equal(t, "{}", tcs[1].Arguments)
	assert.NotEqual(t, tcs[0].ID, tcs[1].ID)

	assert.Contains(t, msg.TextContent(), "Two checks.")
	assert.Contains(t, msg.TextContent(), `{"not":"an action"}`)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	block := company.Encode(content.ToolCall{Name: "apply_config", Arguments: `{"config_commands":["hostname sw1"]}`})

	tcs := company.Decode(block).ToolCalls()
	require.Len(t, tcs, 1)
	assert.Equal(t, "apply_config", tcs[0].Name)
	assert.JSONEq(t, `{"config_commands":["hostname sw1"]}`, tcs[0].Arguments)
}
