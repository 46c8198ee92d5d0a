// Command netpilot-web serves the browser chat front end on top of the same
// engine configuration the terminal client uses.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dimiro1/banner"
	"github.com/germanamz/netpilot/pkg/engine"
	"github.com/germanamz/netpilot/pkg/logging"
	"github.com/germanamz/netpilot/pkg/webchat"
	"github.com/joho/godotenv"
)

const version = "dev"

func main() {
	configPath := flag.String("config", engine.DefaultConfigPath, "path to configuration file")
	envFile := flag.String("env", ".env", "path to .env file (ignored if missing)")
	addr := flag.String("addr", ":8080", "listen address")
	agentName := flag.String("agent", "", "agent new chats run (overrides entry_agent in config)")
	timeout := flag.Duration("timeout", 5*time.Minute, "limit for a single prompt (0 disables)")
	quiet := flag.Bool("no-banner", false, "do not print the startup banner")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if !*quiet {
		printBanner()
	}

	if err := run(*configPath, *addr, *agentName, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printBanner() {
	tpl := "{{ .Title \"netpilot\" \"\" 0 }}\nVersion: " + version + "\n"
	banner.Init(os.Stdout, true, true, bytes.NewBufferString(tpl))
}

func run(configPath, addr, agentName string, timeout time.Duration) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := engine.LoadConfig(configPath)
	if err != nil {
		return err
	}

	log, closeLog, err := logging.Open(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	// Without a terminal there is nobody to confirm, so confirm_tools calls
	// are denied.
	eng, err := engine.New(ctx, cfg, engine.Options{Logger: log})
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	chat := webchat.New(eng, webchat.Options{
		Logger:  log,
		Agent:   agentName,
		Timeout: timeout,
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           chat.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("web chat listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	return srv.Shutdown(shutdownCtx)
}
