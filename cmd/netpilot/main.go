// Command netpilot is the terminal client. It loads a YAML configuration,
// launches the configured MCP servers, and either runs an interactive chat
// loop or, with the run subcommand, a fixed list of tasks.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/germanamz/netpilot/cmd/netpilot/internal/confirm"
	"github.com/germanamz/netpilot/cmd/netpilot/internal/format"
	"github.com/germanamz/netpilot/cmd/netpilot/internal/repl"
	"github.com/germanamz/netpilot/cmd/netpilot/internal/spin"
	"github.com/germanamz/netpilot/pkg/device"
	"github.com/germanamz/netpilot/pkg/engine"
	"github.com/germanamz/netpilot/pkg/logging"
	"github.com/germanamz/netpilot/pkg/netops"
	"github.com/germanamz/netpilot/pkg/nettools"
	"github.com/germanamz/netpilot/pkg/tools/toolbox"
	"github.com/joho/godotenv"
	"golang.org/x/term"
)

// localToolbox is the toolbox name of the in-process device tools.
const localToolbox = "netops"

type options struct {
	config     string
	env        string
	agent      string
	localTools bool
}

func bindFlags(fs *flag.FlagSet) *options {
	o := &options{}
	fs.StringVar(&o.config, "config", engine.DefaultConfigPath, "path to configuration file")
	fs.StringVar(&o.env, "env", ".env", "path to .env file (ignored if missing)")
	fs.StringVar(&o.agent, "agent", "", "agent to run (overrides entry_agent in config)")
	fs.BoolVar(&o.localTools, "local-tools", false, "serve the device tools in-process as toolbox \""+localToolbox+"\"")
	return o
}

func main() {
	var (
		opts  *options
		tasks []string
		batch bool
	)

	if len(os.Args) > 1 && os.Args[1] == "run" {
		runCmd := flag.NewFlagSet("run", flag.ExitOnError)
		runCmd.Usage = func() {
			fmt.Fprintf(os.Stderr, "Usage: netpilot run [flags] <task>...\n\nRun each task in order and print its result.\n\nFlags:\n")
			runCmd.PrintDefaults()
		}
		opts = bindFlags(runCmd)
		_ = runCmd.Parse(os.Args[2:])
		tasks, batch = runCmd.Args(), true
	} else {
		flag.Usage = func() {
			fmt.Fprintf(os.Stderr, "Usage: netpilot [flags]\n       netpilot run [flags] <task>...\n\nFlags:\n")
			flag.PrintDefaults()
		}
		opts = bindFlags(flag.CommandLine)
		flag.Parse()
	}

	if err := loadDotEnv(opts.env); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := run(opts, batch, tasks); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func run(opts *options, batch bool, tasks []string) error {
	if batch && len(tasks) == 0 {
		return errors.New("run: no tasks given")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := engine.LoadConfig(opts.config)
	if err != nil {
		return err
	}

	log, closeLog, err := logging.Open(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	tty := term.IsTerminal(int(os.Stdout.Fd()))
	sp := spin.New(os.Stderr, tty && !batch)

	engOpts := engine.Options{Logger: log}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		engOpts.Confirm = confirm.Prompt(sp)
	}
	if opts.localTools {
		ops := netops.New(&device.SSHConnector{Logger: logging.Component(log, "device")}, netops.Options{
			Logger: logging.Component(log, "netops"),
		})
		engOpts.Toolboxes = map[string]*toolbox.ToolBox{localToolbox: nettools.Tools(ops)}
	}

	eng, err := engine.New(ctx, cfg, engOpts)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	sess, err := eng.NewSession(opts.agent)
	if err != nil {
		return err
	}

	render := format.Plain
	if tty {
		width, _, err := term.GetSize(int(os.Stdout.Fd()))
		if err != nil {
			width = 0
		}
		render = format.Markdown(width)
	}

	repl.PrintTools(os.Stdout, sess.Tools())

	if batch {
		if failed := repl.Batch(ctx, sess, tasks, os.Stdout, render); failed > 0 {
			return fmt.Errorf("%d of %d tasks failed", failed, len(tasks))
		}
		return nil
	}

	if tty {
		go watchTools(ctx, eng.Events(), sess.ID(), sp, os.Stdout)
	}

	loop := repl.New(sess, repl.Options{
		In:     os.Stdin,
		Out:    os.Stdout,
		Logger: log,
		Render: render,
		Busy: func() func() {
			sp.Start("Working...")
			return sp.Stop
		},
	})

	return loop.Run(ctx)
}

// watchTools prints one line per tool call of the session while the agent
// works.
func watchTools(ctx context.Context, bus *engine.EventBus, sessionID string, sp *spin.Spinner, out io.Writer) {
	sub := bus.SubscribeSession(sessionID, 64)
	defer bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			data, isCall := ev.Data.(engine.ToolCallData)
			if !isCall {
				continue
			}

			var line string
			switch {
			case ev.Kind == engine.EventToolCallStart:
				line = repl.ToolLine(data.Call.Name, data.Call.Arguments, false)
			case ev.Kind == engine.EventToolCallEnd && data.Result != nil && data.Result.IsError:
				line = repl.ToolLine(data.Call.Name, data.Result.Content, true)
			default:
				continue
			}

			resume := sp.Pause()
			_, _ = fmt.Fprintln(out, line)
			resume()
		}
	}
}
