// Package nettools exposes netops operations as tools: get_config,
// run_show_command, ping and apply_config.
package nettools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/germanamz/netpilot/pkg/inventory"
	"github.com/germanamz/netpilot/pkg/netops"
	"github.com/germanamz/netpilot/pkg/tools/toolbox"
)

const (
	deviceNameProp  = `"device_name":{"type":"string","description":"Name of the device in the testbed"}`
	testbedFileProp = `"testbed_file":{"type":"string","description":"Path to the testbed YAML file","default":"testbed.yaml"}`
)

// Tools returns the four device tools backed by ops.
func Tools(ops *netops.Ops) *toolbox.ToolBox {
	h := handlers{ops: ops}
	tb := toolbox.New()

	tb.Register(
		toolbox.Tool{
			Name:        netops.OpGetConfig,
			Description: "Retrieves the running configuration of an interface from a network device. Returns the configuration text or an error message.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{` + deviceNameProp + `,"interface_name":{"type":"string","description":"Name of the interface to retrieve the configuration for"},` + testbedFileProp + `},"required":["device_name","interface_name"]}`),
			Handler:     h.getConfig,
		},
		toolbox.Tool{
			Name:        netops.OpRunShowCommand,
			Description: "Runs a show command on a network device and returns the output as JSON: a structured document for supported commands, or the raw output as a JSON string.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{` + deviceNameProp + `,"command":{"type":"string","description":"Show command to execute (e.g., 'show interfaces')"},` + testbedFileProp + `},"required":["device_name","command"]}`),
			Handler:     h.runShowCommand,
		},
		toolbox.Tool{
			Name:        netops.OpPing,
			Description: "Performs a ping from a device to a given target. If there is no connectivity to the target an error message is returned.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{` + deviceNameProp + `,"target":{"type":"string","description":"Domain name or IP address to ping"},"ipv6":{"type":"boolean","description":"Set to true to use the IPv6 stack","default":false},` + testbedFileProp + `},"required":["device_name","target"]}`),
			Handler:     h.ping,
		},
		toolbox.Tool{
			Name:        netops.OpApplyConfig,
			Description: "Applies configuration commands to a network device. Returns a confirmation with the session transcript or an error message.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{` + deviceNameProp + `,"config_commands":{"type":"array","items":{"type":"string"},"description":"List of configuration commands to apply"},` + testbedFileProp + `},"required":["device_name","config_commands"]}`),
			Handler:     h.applyConfig,
		},
	)

	return tb
}

// --- input types ---

type getConfigInput struct {
	DeviceName    string `json:"device_name"`
	InterfaceName string `json:"interface_name"`
	TestbedFile   string `json:"testbed_file"`
}

type runShowCommandInput struct {
	DeviceName  string `json:"device_name"`
	Command     string `json:"command"`
	TestbedFile string `json:"testbed_file"`
}

type pingInput struct {
	DeviceName  string `json:"device_name"`
	Target      string `json:"target"`
	IPv6        bool   `json:"ipv6"`
	TestbedFile string `json:"testbed_file"`
}

type applyConfigInput struct {
	DeviceName     string   `json:"device_name"`
	ConfigCommands []string `json:"config_commands"`
	TestbedFile    string   `json:"testbed_file"`
}

// --- handlers ---

type handlers struct {
	ops *netops.Ops
}

func decode(op string, input json.RawMessage, v any) error {
	if err := json.Unmarshal(input, v); err != nil {
		return &netops.Error{Op: op, Kind: netops.KindInvalidArgument, Err: fmt.Errorf("invalid input: %w", err)}
	}
	return nil
}

func testbed(path string) string {
	if path == "" {
		return inventory.DefaultPath
	}
	return path
}

func (h handlers) getConfig(ctx context.Context, input json.RawMessage) (string, error) {
	var in getConfigInput
	if err := decode(netops.OpGetConfig, input, &in); err != nil {
		return "", err
	}
	return h.ops.GetConfig(ctx, testbed(in.TestbedFile), in.DeviceName, in.InterfaceName).Unwrap()
}

func (h handlers) runShowCommand(ctx context.Context, input json.RawMessage) (string, error) {
	var in runShowCommandInput
	if err := decode(netops.OpRunShowCommand, input, &in); err != nil {
		return "", err
	}
	return h.ops.RunShowCommand(ctx, testbed(in.TestbedFile), in.DeviceName, in.Command).Unwrap()
}

func (h handlers) ping(ctx context.Context, input json.RawMessage) (string, error) {
	var in pingInput
	if err := decode(netops.OpPing, input, &in); err != nil {
		return "", err
	}
	return h.ops.Ping(ctx, testbed(in.TestbedFile), in.DeviceName, in.Target, in.IPv6).Unwrap()
}

func (h handlers) applyConfig(ctx context.Context, input json.RawMessage) (string, error) {
	var in applyConfigInput
	if err := decode(netops.OpApplyConfig, input, &in); err != nil {
		return "", err
	}
	return h.ops.ApplyConfig(ctx, testbed(in.TestbedFile), in.DeviceName, in.ConfigCommands).Unwrap()
}
