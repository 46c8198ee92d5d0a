package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/germanamz/netpilot/pkg/agent"
	"github.com/germanamz/netpilot/pkg/chats/chat"
	"github.com/germanamz/netpilot/pkg/chats/content"
	"github.com/germanamz/netpilot/pkg/chats/message"
	"github.com/germanamz/netpilot/pkg/chats/role"
	"github.com/germanamz/netpilot/pkg/modeladapter"
	"github.com/germanamz/netpilot/pkg/modeladapter/usage"
	"github.com/germanamz/netpilot/pkg/providers/company"
	"github.com/germanamz/netpilot/pkg/tools/toolbox"
	"github.com/germanamz/netpilot/pkg/transcript"
)

// ErrEmptyPrompt is returned by Send for blank input.
var ErrEmptyPrompt = errors.New("engine: empty prompt")

// Session represents one interactive conversation. It owns an agent and its
// chat. Only one Send call may be active at a time.
type Session struct {
	id     string
	agent  *agent.Agent
	engine *Engine

	mu     sync.Mutex
	active bool
}

func newSession(id string, e *Engine) *Session {
	return &Session{id: id, engine: e}
}

// ID returns the session identifier. It doubles as the conversation id sent
// to providers that track one.
func (s *Session) ID() string { return s.id }

// AgentName returns the name of the agent the session runs.
func (s *Session) AgentName() string { return s.agent.Name() }

// Chat returns the underlying chat. Do not read it while Send is running.
func (s *Session) Chat() *chat.Chat { return s.agent.Chat() }

// Tools returns the tools the session's agent can call.
func (s *Session) Tools() []toolbox.Tool { return s.agent.Tools() }

// Usage returns the token usage of the session's provider, when it tracks
// any. Sessions sharing a provider share its counter.
func (s *Session) Usage() (usage.TokenCount, bool) {
	ur, ok := s.agent.Completer().(modeladapter.UsageReporter)
	if !ok {
		return usage.TokenCount{}, false
	}
	return ur.UsageTracker().Total(), true
}

// Send appends the prompt (with the configured suffix) as a user message and
// runs the agent's ReAct loop. It returns the agent's reply.
func (s *Session) Send(ctx context.Context, text string) (message.Message, error) {
	if strings.TrimSpace(text) == "" {
		return message.Message{}, ErrEmptyPrompt
	}

	if err := s.acquire(); err != nil {
		return message.Message{}, err
	}
	defer s.release()

	s.record(ctx, transcript.Entry{Kind: transcript.KindPrompt, Content: text})
	s.publish(EventAgentStart, nil)

	prompt := text
	if suffix := s.engine.cfg.PromptSuffix; suffix != "" {
		prompt = text + suffix
	}
	s.agent.Chat().Append(message.NewText("user", role.User, prompt))

	reply, err := s.agent.Run(company.WithContextID(ctx, s.id))
	if err != nil {
		s.record(ctx, transcript.Entry{Kind: transcript.KindError, Agent: s.agent.Name(), Content: err.Error(), IsError: true})
		s.publish(EventError, err)
		s.publish(EventAgentEnd, nil)
		return message.Message{}, err
	}

	s.record(ctx, transcript.Entry{Kind: transcript.KindResult, Agent: s.agent.Name(), Content: reply.TextContent()})
	s.publish(EventMessageAdded, reply)
	s.publish(EventAgentEnd, nil)

	return reply, nil
}

// History returns the session's most recent entries, oldest first. Without a
// transcript store the entries are rebuilt from the chat.
func (s *Session) History(ctx context.Context, limit int) ([]transcript.Entry, error) {
	if store := s.engine.transcript; store != nil {
		return store.Entries(ctx, s.id, limit)
	}

	s.mu.Lock()
	busy := s.active
	s.mu.Unlock()
	if busy {
		return nil, fmt.Errorf("engine: session %s: history unavailable while a Send is active", s.id)
	}

	entries := fromChat(s.id, s.agent.Chat().Messages())
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

func fromChat(sessionID string, msgs []message.Message) []transcript.Entry {
	var entries []transcript.Entry
	calls := make(map[string]string)

	for _, m := range msgs {
		switch m.Role {
		case role.User:
			entries = append(entries, transcript.Entry{SessionID: sessionID, Kind: transcript.KindPrompt, Content: m.TextContent()})
		case role.Assistant:
			for _, tc := range m.ToolCalls() {
				calls[tc.ID] = tc.Name
				entries = append(entries, transcript.Entry{SessionID: sessionID, Kind: transcript.KindToolCall, Agent: m.Sender, Tool: tc.Name, Content: tc.Arguments})
			}
			if len(m.ToolCalls()) == 0 {
				entries = append(entries, transcript.Entry{SessionID: sessionID, Kind: transcript.KindResult, Agent: m.Sender, Content: m.TextContent()})
			}
		case role.Tool:
			for _, tr := range m.ToolResults() {
				entries = append(entries, transcript.Entry{
					SessionID: sessionID,
					Kind:      transcript.KindToolResult,
					Agent:     m.Sender,
					Tool:      calls[tr.ToolCallID],
					Content:   tr.Content,
					IsError:   tr.IsError,
				})
			}
		}
	}

	return entries
}

func (s *Session) toolStarted(ctx context.Context, agentName string, tc content.ToolCall) error {
	s.record(ctx, transcript.Entry{Kind: transcript.KindToolCall, Agent: agentName, Tool: tc.Name, Content: tc.Arguments})
	s.publish(EventToolCallStart, ToolCallData{Call: tc})
	return nil
}

func (s *Session) toolFinished(ctx context.Context, agentName string, tc content.ToolCall, result content.ToolResult) {
	s.record(ctx, transcript.Entry{
		Kind:    transcript.KindToolResult,
		Agent:   agentName,
		Tool:    tc.Name,
		Content: result.Content,
		IsError: result.IsError,
	})
	s.publish(EventToolCallEnd, ToolCallData{Call: tc, Result: &result})
}

func (s *Session) publish(kind EventKind, data any) {
	s.engine.events.Publish(Event{
		Kind:      kind,
		SessionID: s.id,
		Agent:     s.agent.Name(),
		Timestamp: time.Now(),
		Data:      data,
	})
}

// record writes to the transcript when one is configured. Failures are
// logged and never fail the conversation.
func (s *Session) record(ctx context.Context, e transcript.Entry) {
	store := s.engine.transcript
	if store == nil {
		return
	}

	e.SessionID = s.id
	if _, err := store.Append(context.WithoutCancel(ctx), e); err != nil {
		s.engine.log.Warn("transcript write failed", "session", s.id, "error", err)
	}
}

func (s *Session) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return fmt.Errorf("engine: session %s: another Send is already active", s.id)
	}
	s.active = true
	return nil
}

func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = false
}
