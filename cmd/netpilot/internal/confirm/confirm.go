// Package confirm asks the operator before a tool call changes a device.
package confirm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/germanamz/netpilot/cmd/netpilot/internal/format"
	"github.com/germanamz/netpilot/pkg/agent"
	"github.com/germanamz/netpilot/pkg/chats/content"
)

// Pauser stops whatever is drawing on the terminal while the form is shown.
type Pauser interface {
	Pause() (resume func())
}

// Prompt returns a confirm function that shows tc in a huh form.
func Prompt(p Pauser) agent.ConfirmFunc {
	return func(ctx context.Context, tc content.ToolCall) (bool, error) {
		if p != nil {
			defer p.Pause()()
		}

		var ok bool
		form := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Allow %s?", tc.Name)).
				Description(Describe(tc)).
				Affirmative("Apply").
				Negative("Cancel").
				Value(&ok),
		))

		if err := form.RunWithContext(ctx); err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				return false, nil
			}
			return false, err
		}

		return ok, nil
	}
}

// Describe summarises a tool call for the confirmation form. Configuration
// changes are shown as the commands to be sent, one added line each.
func Describe(tc content.ToolCall) string {
	var args map[string]any
	if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
		return tc.Arguments
	}

	device, _ := args["device_name"].(string)

	if cmds, ok := args["config_commands"].([]any); ok {
		lines := make([]string, 0, len(cmds))
		for _, c := range cmds {
			lines = append(lines, fmt.Sprint(c))
		}
		if len(lines) == 0 {
			return fmt.Sprintf("No commands for %s.", device)
		}
		return format.Diff(device, device+" (commands to send)", nil, lines)
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, args[k])
	}
	return strings.TrimSuffix(b.String(), "\n")
}
