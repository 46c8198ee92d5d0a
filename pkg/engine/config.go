package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/germanamz/netpilot/pkg/logging"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the client configuration read when none is named.
const DefaultConfigPath = "netpilot.yaml"

// Config is the top-level engine configuration.
type Config struct {
	Providers  []ProviderConfig `yaml:"providers"`
	MCPServers []MCPConfig      `yaml:"mcp_servers"`
	Agents     []AgentConfig    `yaml:"agents"`
	EntryAgent string           `yaml:"entry_agent"`

	// ConfirmTools names the tools that need operator approval per call.
	ConfirmTools []string `yaml:"confirm_tools"`
	// PromptSuffix is appended to every prompt before it reaches the model.
	PromptSuffix string `yaml:"prompt_suffix"`

	Transcript TranscriptConfig `yaml:"transcript"`
	Logging    logging.Config   `yaml:"logging"`
}

// TranscriptConfig controls the session transcript. An empty Path disables it.
type TranscriptConfig struct {
	Path string `yaml:"path"`
}

// ProviderConfig describes an LLM provider instance.
type ProviderConfig struct {
	Name        string   `yaml:"name"`
	Kind        string   `yaml:"kind"`
	BaseURL     string   `yaml:"base_url"`
	APIKey      string   `yaml:"api_key"` //nolint:gosec // configuration field, not a hardcoded secret
	Model       string   `yaml:"model"`
	MaxTokens   int      `yaml:"max_tokens"`
	Temperature *float64 `yaml:"temperature"`
}

// MCPConfig describes an MCP server process to launch.
type MCPConfig struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	Dir     string            `yaml:"dir"`
	// RequireFiles must exist before the server is started, e.g. the
	// inventory file mounted into a container.
	RequireFiles []string `yaml:"require_files"`
}

// AgentConfig describes an agent a session can run.
type AgentConfig struct {
	Name             string       `yaml:"name"`
	Description      string       `yaml:"description"`
	Instructions     string       `yaml:"instructions"`
	InstructionsFile string       `yaml:"instructions_file"`
	Provider         string       `yaml:"provider"`
	Toolboxes        []string     `yaml:"toolboxes"`
	Tools            []string     `yaml:"tools"` // Optional allow-list across the toolboxes.
	Options          AgentOptions `yaml:"options"`
}

// AgentOptions holds optional agent behaviour settings.
type AgentOptions struct {
	MaxIterations int           `yaml:"max_iterations"`
	Timeout       time.Duration `yaml:"timeout"`
}

// LoadConfig reads a YAML file and returns a Config.
// Environment variables referenced as ${VAR} or $VAR in the YAML are expanded
// before parsing, so API keys can live in the environment (or a .env file)
// rather than in the config. Relative instructions_file paths are resolved
// against the config file's directory.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration, not user input
	if err != nil {
		return Config{}, fmt.Errorf("engine: load config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("engine: parse config: %w", err)
	}

	dir := filepath.Dir(path)
	for i, a := range cfg.Agents {
		if a.InstructionsFile == "" || filepath.IsAbs(a.InstructionsFile) {
			continue
		}
		cfg.Agents[i].InstructionsFile = filepath.Join(dir, a.InstructionsFile)
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent. toolboxes
// names the in-process toolboxes an agent may reference besides the MCP
// servers.
func (c Config) Validate(toolboxes ...string) error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("engine: config: at least one provider is required")
	}

	providerNames := make(map[string]struct{}, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("engine: config: provider name is required")
		}
		if p.Kind == "" {
			return fmt.Errorf("engine: config: provider %q: kind is required", p.Name)
		}
		if _, dup := providerNames[p.Name]; dup {
			return fmt.Errorf("engine: config: duplicate provider name %q", p.Name)
		}
		providerNames[p.Name] = struct{}{}
	}

	tbNames := make(map[string]struct{}, len(c.MCPServers)+len(toolboxes))
	for _, name := range toolboxes {
		tbNames[name] = struct{}{}
	}
	for _, m := range c.MCPServers {
		if m.Name == "" {
			return fmt.Errorf("engine: config: mcp server name is required")
		}
		if m.Command == "" {
			return fmt.Errorf("engine: config: mcp server %q: command is required", m.Name)
		}
		if _, dup := tbNames[m.Name]; dup {
			return fmt.Errorf("engine: config: duplicate toolbox name %q", m.Name)
		}
		tbNames[m.Name] = struct{}{}
	}

	if len(c.Agents) == 0 {
		return fmt.Errorf("engine: config: at least one agent is required")
	}

	agentNames := make(map[string]struct{}, len(c.Agents))
	for _, a := range c.Agents {
		if a.Name == "" {
			return fmt.Errorf("engine: config: agent name is required")
		}
		if _, dup := agentNames[a.Name]; dup {
			return fmt.Errorf("engine: config: duplicate agent name %q", a.Name)
		}
		agentNames[a.Name] = struct{}{}

		if _, ok := providerNames[a.Provider]; a.Provider != "" && !ok {
			return fmt.Errorf("engine: config: agent %q: unknown provider %q", a.Name, a.Provider)
		}

		for _, tb := range a.Toolboxes {
			if _, ok := tbNames[tb]; !ok {
				return fmt.Errorf("engine: config: agent %q: unknown toolbox %q", a.Name, tb)
			}
		}

		if a.Options.MaxIterations < 0 {
			return fmt.Errorf("engine: config: agent %q: max_iterations must not be negative", a.Name)
		}
	}

	if c.EntryAgent != "" {
		if _, ok := agentNames[c.EntryAgent]; !ok {
			return fmt.Errorf("engine: config: entry_agent %q not found in agents", c.EntryAgent)
		}
	}

	return nil
}

// instructions returns the agent's instructions, reading InstructionsFile
// when set. Inline instructions come first.
func (a AgentConfig) instructions() (string, error) {
	if a.InstructionsFile == "" {
		return a.Instructions, nil
	}

	data, err := os.ReadFile(a.InstructionsFile) //nolint:gosec // operator-provided path
	if err != nil {
		return "", fmt.Errorf("engine: agent %q: instructions: %w", a.Name, err)
	}

	if a.Instructions == "" {
		return string(data), nil
	}
	return a.Instructions + "\n\n" + string(data), nil
}
