// Command netpilot-mcp serves the network device tools (get_config,
// run_show_command, ping and apply_config) over MCP on stdin/stdout.
//
// Logs go to stderr or to the configured file; stdout carries the protocol.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/germanamz/netpilot/pkg/device"
	"github.com/germanamz/netpilot/pkg/logging"
	"github.com/germanamz/netpilot/pkg/netops"
	"github.com/germanamz/netpilot/pkg/nettools"
	"github.com/germanamz/netpilot/pkg/tools/mcpserver"
)

const version = "dev"

const instructions = "Tools for inspecting and configuring the network devices of a testbed. " +
	"Every tool takes a device_name from the testbed file and opens a fresh session to that device."

func main() {
	configPath := flag.String("config", "", "path to an optional settings file (yaml, json or toml)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s, err := loadSettings(configPath)
	if err != nil {
		return err
	}

	log, closeLog, err := logging.Open(s.Log, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	ops := netops.New(&device.SSHConnector{Logger: logging.Component(log, "device")}, netops.Options{
		RawMarkers: s.RawMarkers,
		Logger:     logging.Component(log, "netops"),
	})

	srv := mcpserver.New(s.Name, version, mcpserver.Options{
		Instructions: instructions,
		Logger:       logging.Component(log, "mcp"),
	})
	srv.Register(nettools.Tools(ops).Tools()...)

	log.Info("serving tools on stdio", "name", s.Name, "raw_markers", s.RawMarkers)

	if err := srv.Serve(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		return err
	}

	return nil
}
