// Package device drives interactive CLI sessions on network devices.
//
// A [Connector] opens a [Session] for one inventory device. Sessions are
// short-lived: the caller runs one action and closes it. Sessions are not
// safe for concurrent use.
package device

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/germanamz/netpilot/pkg/inventory"
)

// ErrCommandRejected is returned when the device answers a command with a
// CLI error marker such as "% Invalid input".
var ErrCommandRejected = errors.New("device: command rejected")

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("device: session closed")

// Session is an open CLI session on a device.
type Session interface {
	// Execute runs one exec-mode command and returns its output without the
	// echoed command line and trailing prompt.
	Execute(ctx context.Context, command string) (string, error)
	// Configure enters configuration mode, sends each command, and leaves
	// configuration mode. It returns the session transcript.
	Configure(ctx context.Context, commands []string) (string, error)
	// Close releases the session. Calling it more than once is harmless.
	Close() error
}

// Connector opens sessions.
type Connector interface {
	Connect(ctx context.Context, dev inventory.Device) (Session, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context, dev inventory.Device) (Session, error)

// Connect calls f.
func (f ConnectorFunc) Connect(ctx context.Context, dev inventory.Device) (Session, error) {
	return f(ctx, dev)
}

// DefaultPromptPattern matches exec, privileged and configuration prompts
// of IOS-family devices, e.g. "switch1>", "switch1#", "switch1(config-if)#".
const DefaultPromptPattern = `^[\w.\-@/:~()]{1,80}[>#]\s*$`

// Settings are the per-connection options read from the inventory
// connection's settings map.
type Settings struct {
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	CommandTimeout   time.Duration `mapstructure:"command_timeout"`
	KnownHostsFile   string        `mapstructure:"known_hosts"`
	InitCommands     []string      `mapstructure:"init_commands"`
	PromptPattern    string        `mapstructure:"prompt_pattern"`
	DisablePaging    bool          `mapstructure:"disable_paging"`
	Credential       string        `mapstructure:"credential"`
	EnableCredential string        `mapstructure:"enable_credential"`
}

// DefaultSettings returns the settings used for keys the inventory omits.
func DefaultSettings() Settings {
	return Settings{
		ConnectTimeout:   30 * time.Second,
		CommandTimeout:   60 * time.Second,
		PromptPattern:    DefaultPromptPattern,
		DisablePaging:    true,
		Credential:       "default",
		EnableCredential: "enable",
	}
}

// SettingsFor decodes conn.Settings over DefaultSettings.
func SettingsFor(conn inventory.Connection) (Settings, error) {
	s := DefaultSettings()
	if err := inventory.DecodeSettings(conn.Settings, &s); err != nil {
		return Settings{}, err
	}

	if _, err := regexp.Compile(s.PromptPattern); err != nil {
		return Settings{}, err
	}

	return s, nil
}

var cliErrorMarkers = []string{
	"% Invalid input",
	"% Incomplete command",
	"% Ambiguous command",
	"% Unknown command",
}

// RejectionMarker returns the first CLI error marker found in output, or "".
func RejectionMarker(output string) string {
	for _, m := range cliErrorMarkers {
		if strings.Contains(output, m) {
			return m
		}
	}
	return ""
}
