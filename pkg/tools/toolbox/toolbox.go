package toolbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/germanamz/netpilot/pkg/chats/content"
)

// ToolBox is a named set of tools. It is not safe for concurrent mutation;
// register everything before handing it to an agent or server.
type ToolBox struct {
	tools map[string]Tool
}

// New creates an empty ToolBox.
func New() *ToolBox {
	return &ToolBox{tools: make(map[string]Tool)}
}

// Register adds tools, replacing any existing tool with the same name.
func (tb *ToolBox) Register(tools ...Tool) {
	for _, t := range tools {
		tb.tools[t.Name] = t
	}
}

// Get returns the tool registered under name.
func (tb *ToolBox) Get(name string) (Tool, bool) {
	t, ok := tb.tools[name]
	return t, ok
}

// Tools returns the registered tools ordered by name.
func (tb *ToolBox) Tools() []Tool {
	result := make([]Tool, 0, len(tb.tools))
	for _, t := range tb.tools {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Names returns the registered tool names in order.
func (tb *ToolBox) Names() []string {
	names := make([]string, 0, len(tb.tools))
	for _, t := range tb.Tools() {
		names = append(names, t.Name)
	}
	return names
}

// Filter returns a ToolBox holding only the named tools. Unknown names are
// skipped. An empty list returns tb itself.
func (tb *ToolBox) Filter(names []string) *ToolBox {
	if len(names) == 0 {
		return tb
	}

	out := New()
	for _, n := range names {
		if t, ok := tb.tools[n]; ok {
			out.tools[n] = t
		}
	}
	return out
}

// Call executes a tool call. Unknown tools and handler errors produce a
// result with IsError set.
func (tb *ToolBox) Call(ctx context.Context, tc content.ToolCall) content.ToolResult {
	t, ok := tb.tools[tc.Name]
	if !ok {
		return content.ToolResult{
			ToolCallID: tc.ID,
			Content:    fmt.Sprintf("tool not found: %s", tc.Name),
			IsError:    true,
		}
	}

	args := json.RawMessage(tc.Arguments)
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	result, err := t.Handler(ctx, args)
	if err != nil {
		return content.ToolResult{ToolCallID: tc.ID, Content: err.Error(), IsError: true}
	}

	return content.ToolResult{ToolCallID: tc.ID, Content: result}
}
