package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/germanamz/netpilot/pkg/agent"
	"github.com/germanamz/netpilot/pkg/chats/content"
	"github.com/germanamz/netpilot/pkg/modeladapter"
	"github.com/germanamz/netpilot/pkg/tools/mcpclient"
	"github.com/germanamz/netpilot/pkg/tools/toolbox"
	"github.com/germanamz/netpilot/pkg/transcript"
	"github.com/google/uuid"
)

// Options carries what the configuration file cannot express.
type Options struct {
	Logger *slog.Logger

	// Toolboxes are in-process toolboxes agents may reference by name next
	// to the MCP servers.
	Toolboxes map[string]*toolbox.ToolBox

	// Confirm is asked before every call to a tool listed in
	// Config.ConfirmTools. A nil Confirm denies those calls.
	Confirm agent.ConfirmFunc
}

// agentDef is a resolved AgentConfig.
type agentDef struct {
	cfg          AgentConfig
	instructions string
	completer    modeladapter.Completer
	toolboxes    []*toolbox.ToolBox
}

// Engine is the composition root that assembles all components from
// configuration and exposes them through a frontend-agnostic API.
type Engine struct {
	cfg        Config
	opts       Options
	log        *slog.Logger
	events     *EventBus
	transcript *transcript.Store
	completers map[string]modeladapter.Completer
	toolboxes  map[string]*toolbox.ToolBox
	agents     map[string]agentDef
	mcpClients []*mcpclient.MCPClient

	mu       sync.Mutex
	sessions map[string]*Session
}

// New creates an Engine from the given configuration. It validates the
// config, creates provider adapters, launches the MCP servers and opens the
// transcript.
func New(ctx context.Context, cfg Config, opts Options) (*Engine, error) {
	local := make([]string, 0, len(opts.Toolboxes))
	for name := range opts.Toolboxes {
		local = append(local, name)
	}

	if err := cfg.Validate(local...); err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	e := &Engine{
		cfg:        cfg,
		opts:       opts,
		log:        log.With("component", "engine"),
		events:     NewEventBus(),
		completers: make(map[string]modeladapter.Completer, len(cfg.Providers)),
		toolboxes:  make(map[string]*toolbox.ToolBox, len(opts.Toolboxes)+len(cfg.MCPServers)),
		agents:     make(map[string]agentDef, len(cfg.Agents)),
		sessions:   make(map[string]*Session),
	}

	for name, tb := range opts.Toolboxes {
		e.toolboxes[name] = tb
	}

	for _, pc := range cfg.Providers {
		c, err := buildCompleter(pc)
		if err != nil {
			return nil, fmt.Errorf("engine: provider %q: %w", pc.Name, err)
		}
		e.completers[pc.Name] = c
	}

	for _, mc := range cfg.MCPServers {
		if err := e.connect(ctx, mc); err != nil {
			_ = e.Close()
			return nil, err
		}
	}

	if cfg.Transcript.Path != "" {
		store, err := transcript.Open(cfg.Transcript.Path, e.log)
		if err != nil {
			_ = e.Close()
			return nil, fmt.Errorf("engine: %w", err)
		}
		e.transcript = store
	}

	for _, ac := range cfg.Agents {
		if err := e.registerAgent(ac); err != nil {
			_ = e.Close()
			return nil, err
		}
	}

	return e, nil
}

// connect launches one MCP server and registers its tools as a toolbox.
func (e *Engine) connect(ctx context.Context, mc MCPConfig) error {
	for _, f := range mc.RequireFiles {
		if _, err := os.Stat(f); err != nil {
			return fmt.Errorf("engine: mcp %q: required file: %w", mc.Name, err)
		}
	}

	client, err := mcpclient.New(ctx, mcpclient.Command{
		Name: mc.Command,
		Args: mc.Args,
		Env:  mc.Env,
		Dir:  mc.Dir,
	})
	if err != nil {
		return fmt.Errorf("engine: mcp %q: %w", mc.Name, err)
	}
	e.mcpClients = append(e.mcpClients, client)

	tools, err := client.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("engine: mcp %q: list tools: %w", mc.Name, err)
	}

	tb := toolbox.New()
	tb.Register(tools...)
	e.toolboxes[mc.Name] = tb

	e.log.Info("mcp server connected", "server", mc.Name, "tools", tb.Names())

	return nil
}

// registerAgent resolves the provider, instructions and toolboxes of ac.
func (e *Engine) registerAgent(ac AgentConfig) error {
	providerName := ac.Provider
	if providerName == "" {
		providerName = e.cfg.Providers[0].Name
	}

	completer, ok := e.completers[providerName]
	if !ok {
		return fmt.Errorf("engine: agent %q: provider %q not found", ac.Name, providerName)
	}

	instructions, err := ac.instructions()
	if err != nil {
		return err
	}

	names := ac.Toolboxes
	if len(names) == 0 {
		names = e.toolboxNames()
	}

	tbs := make([]*toolbox.ToolBox, 0, len(names))
	for _, name := range names {
		tb, ok := e.toolboxes[name]
		if !ok {
			return fmt.Errorf("engine: agent %q: toolbox %q not found", ac.Name, name)
		}
		tbs = append(tbs, tb.Filter(ac.Tools))
	}

	e.agents[ac.Name] = agentDef{
		cfg:          ac,
		instructions: instructions,
		completer:    completer,
		toolboxes:    tbs,
	}

	return nil
}

func (e *Engine) toolboxNames() []string {
	names := make([]string, 0, len(e.toolboxes))
	for name := range e.toolboxes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Events returns the engine's event bus.
func (e *Engine) Events() *EventBus { return e.events }

// Transcript returns the transcript store, or nil when it is disabled.
func (e *Engine) Transcript() *transcript.Store { return e.transcript }

// Config returns the configuration the engine was built from.
func (e *Engine) Config() Config { return e.cfg }

// Tools returns every tool of every toolbox, sorted by name and without
// duplicates.
func (e *Engine) Tools() []toolbox.Tool {
	seen := make(map[string]bool)
	var tools []toolbox.Tool
	for _, name := range e.toolboxNames() {
		for _, t := range e.toolboxes[name].Tools() {
			if seen[t.Name] {
				continue
			}
			seen[t.Name] = true
			tools = append(tools, t)
		}
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// NewSession creates a new interactive session. If agentName is empty the
// config's EntryAgent is used. If EntryAgent is also empty, the first agent
// in the config is used.
func (e *Engine) NewSession(agentName string) (*Session, error) {
	if agentName == "" {
		agentName = e.cfg.EntryAgent
	}
	if agentName == "" && len(e.cfg.Agents) > 0 {
		agentName = e.cfg.Agents[0].Name
	}

	def, ok := e.agents[agentName]
	if !ok {
		return nil, fmt.Errorf("engine: agent %q not found", agentName)
	}

	s := newSession(uuid.NewString(), e)
	s.agent = e.buildAgent(def, s)

	e.mu.Lock()
	e.sessions[s.id] = s
	e.mu.Unlock()

	e.log.Debug("session created", "session", s.id, "agent", agentName)

	return s, nil
}

// buildAgent creates a fresh agent for s so that hooks can report events
// under the session's id.
func (e *Engine) buildAgent(def agentDef, s *Session) *agent.Agent {
	opts := agent.Options{
		MaxIterations: def.cfg.Options.MaxIterations,
		Middleware: []agent.Middleware{
			agent.Recovery(),
			agent.Logger(e.log.With("session", s.id), def.cfg.Name),
			agent.Timeout(def.cfg.Options.Timeout),
			agent.OutputGuardrail(agent.RequireText),
		},
		BeforeTool: []agent.BeforeToolFunc{s.toolStarted},
		AfterTool:  []agent.AfterToolFunc{s.toolFinished},
	}

	if len(e.cfg.ConfirmTools) > 0 {
		opts.BeforeTool = append(opts.BeforeTool, agent.Confirm(e.cfg.ConfirmTools, e.confirmer(s.id)))
	}

	a := agent.New(def.cfg.Name, def.cfg.Description, def.instructions, def.completer, opts)
	a.AddToolBoxes(def.toolboxes...)
	a.Init()

	return a
}

// confirmer asks the operator through Options.Confirm. Declined calls are
// logged under the session's id; without a Confirm function every call is
// declined.
func (e *Engine) confirmer(sessionID string) agent.ConfirmFunc {
	log := e.log.With("session", sessionID)
	return func(ctx context.Context, tc content.ToolCall) (bool, error) {
		if e.opts.Confirm == nil {
			log.WarnContext(ctx, "tool call declined", "tool", tc.Name, "reason", "no operator to confirm")
			return false, nil
		}

		ok, err := e.opts.Confirm(ctx, tc)
		if err == nil && !ok {
			log.WarnContext(ctx, "tool call declined", "tool", tc.Name)
		}
		return ok, err
	}
}

// Session returns an existing session by ID.
func (e *Engine) Session(id string) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[id]
	return s, ok
}

// Close shuts down MCP clients and the transcript.
func (e *Engine) Close() error {
	var errs []error
	for _, c := range e.mcpClients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.mcpClients = nil

	if e.transcript != nil {
		if err := e.transcript.Close(); err != nil {
			errs = append(errs, err)
		}
		e.transcript = nil
	}

	return errors.Join(errs...)
}
