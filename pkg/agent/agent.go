// Package agent runs a ReAct loop (reason + act) over a chat: ask the model,
// execute the tool calls it makes, feed the results back, and repeat until the
// model answers without calling a tool.
package agent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/germanamz/netpilot/pkg/chats/chat"
	"github.com/germanamz/netpilot/pkg/chats/content"
	"github.com/germanamz/netpilot/pkg/chats/message"
	"github.com/germanamz/netpilot/pkg/chats/role"
	"github.com/germanamz/netpilot/pkg/modeladapter"
	"github.com/germanamz/netpilot/pkg/tools/toolbox"
)

// ErrMaxIterations is returned when the ReAct loop exceeds MaxIterations
// without the model producing a final answer.
var ErrMaxIterations = errors.New("agent: max iterations reached")

// ErrDenied is returned by a BeforeTool hook to refuse a tool call. The call
// is not executed and the model sees an error result instead.
var ErrDenied = errors.New("agent: tool call denied")

// BeforeToolFunc runs before a tool call is dispatched. A non-nil error skips
// the call; its text becomes the tool result.
type BeforeToolFunc func(ctx context.Context, agent string, tc content.ToolCall) error

// AfterToolFunc runs once a tool call has produced its result.
type AfterToolFunc func(ctx context.Context, agent string, tc content.ToolCall, result content.ToolResult)

// Options configures an Agent.
type Options struct {
	MaxIterations int              // ReAct loop limit (0 = unlimited).
	Middleware    []Middleware     // Applied around Run().
	BeforeTool    []BeforeToolFunc // Run in order; the first error wins.
	AfterTool     []AfterToolFunc
}

// Agent runs the ReAct loop for one conversation.
type Agent struct {
	name         string
	description  string
	instructions string
	completer    modeladapter.Completer
	chat         *chat.Chat
	toolboxes    []*toolbox.ToolBox
	options      Options
}

// New creates an Agent with the given configuration.
func New(name, description, instructions string, completer modeladapter.Completer, opts Options) *Agent {
	return &Agent{
		name:         name,
		description:  description,
		instructions: instructions,
		completer:    completer,
		chat:         chat.New(),
		options:      opts,
	}
}

// Init appends the system prompt to the chat once.
func (a *Agent) Init() {
	if a.chat.SystemPrompt() == "" {
		a.chat.Append(message.NewText(a.name, role.System, a.buildSystemPrompt()))
	}
}

// Name returns the agent's name.
func (a *Agent) Name() string { return a.name }

// Description returns the agent's description.
func (a *Agent) Description() string { return a.description }

// Chat returns the agent's chat.
func (a *Agent) Chat() *chat.Chat { return a.chat }

// Completer returns the agent's completer.
func (a *Agent) Completer() modeladapter.Completer { return a.completer }

// AddToolBoxes adds toolboxes to the agent.
func (a *Agent) AddToolBoxes(tbs ...*toolbox.ToolBox) {
	a.toolboxes = append(a.toolboxes, tbs...)
}

// Tools returns every tool the agent can call, in toolbox order. When two
// toolboxes define the same name the first one wins.
func (a *Agent) Tools() []toolbox.Tool {
	var tools []toolbox.Tool
	seen := make(map[string]bool)
	for _, tb := range a.toolboxes {
		for _, t := range tb.Tools() {
			if seen[t.Name] {
				continue
			}
			seen[t.Name] = true
			tools = append(tools, t)
		}
	}
	return tools
}

// Run executes the agent's ReAct loop with middleware applied.
func (a *Agent) Run(ctx context.Context) (message.Message, error) {
	var runner Runner = RunnerFunc(a.run)

	// Apply middleware in reverse order so the first middleware is outermost.
	for i := len(a.options.Middleware) - 1; i >= 0; i-- {
		runner = a.options.Middleware[i](runner)
	}

	return runner.Run(ctx)
}

func (a *Agent) run(ctx context.Context) (message.Message, error) {
	a.Init()

	tools := a.Tools()

	for i := 0; a.options.MaxIterations == 0 || i < a.options.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return message.Message{}, err
		}

		reply, err := a.completer.Complete(ctx, a.chat, tools)
		if err != nil {
			return message.Message{}, err
		}

		reply.Sender = a.name
		a.chat.Append(reply)

		calls := reply.ToolCalls()
		if len(calls) == 0 {
			return reply, nil
		}

		for _, tc := range calls {
			result := a.callTool(ctx, tc)
			a.chat.Append(message.New(a.name, role.Tool, result))
		}
	}

	return message.Message{}, ErrMaxIterations
}

func (a *Agent) callTool(ctx context.Context, tc content.ToolCall) content.ToolResult {
	var result content.ToolResult

	if err := a.before(ctx, tc); err != nil {
		result = content.ToolResult{ToolCallID: tc.ID, Content: err.Error(), IsError: true}
	} else {
		result = dispatch(ctx, a.toolboxes, tc)
	}

	for _, hook := range a.options.AfterTool {
		hook(ctx, a.name, tc, result)
	}

	return result
}

func (a *Agent) before(ctx context.Context, tc content.ToolCall) error {
	for _, hook := range a.options.BeforeTool {
		if err := hook(ctx, a.name, tc); err != nil {
			return err
		}
	}
	return nil
}

// buildSystemPrompt constructs the system prompt from identity and
// instructions.
func (a *Agent) buildSystemPrompt() string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s.", a.name)
	if a.description != "" {
		fmt.Fprintf(&b, " %s", a.description)
	}
	b.WriteString("\n")

	if a.instructions != "" {
		b.WriteString("\n## Instructions\n\n")
		b.WriteString(a.instructions)
		b.WriteString("\n")
	}

	return b.String()
}

// dispatch searches the toolboxes for the named tool and executes it.
func dispatch(ctx context.Context, toolboxes []*toolbox.ToolBox, tc content.ToolCall) content.ToolResult {
	for _, tb := range toolboxes {
		if _, ok := tb.Get(tc.Name); ok {
			return tb.Call(ctx, tc)
		}
	}

	return content.ToolResult{
		ToolCallID: tc.ID,
		Content:    fmt.Sprintf("tool not found: %s", tc.Name),
		IsError:    true,
	}
}

// ConfirmFunc asks whether a tool call may proceed.
type ConfirmFunc func(ctx context.Context, tc content.ToolCall) (bool, error)

// Confirm returns a BeforeToolFunc that asks before running any of the named
// tools. A declined call fails with ErrDenied; other tools pass through.
func Confirm(names []string, ask ConfirmFunc) BeforeToolFunc {
	return func(ctx context.Context, _ string, tc content.ToolCall) error {
		if !slices.Contains(names, tc.Name) {
			return nil
		}

		ok, err := ask(ctx, tc)
		if err != nil {
			return fmt.Errorf("agent: confirm %s: %w", tc.Name, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrDenied, tc.Name)
		}
		return nil
	}
}
