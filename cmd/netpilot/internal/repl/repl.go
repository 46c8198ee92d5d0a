// Package repl implements the interactive chat loop and the batch task
// runner of the netpilot client.
package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/germanamz/netpilot/cmd/netpilot/internal/format"
	"github.com/germanamz/netpilot/pkg/chats/message"
	"github.com/germanamz/netpilot/pkg/modeladapter/usage"
	"github.com/germanamz/netpilot/pkg/tools/toolbox"
	"github.com/germanamz/netpilot/pkg/transcript"
)

const (
	greeting     = "Enter your prompt (press Ctrl+C to exit):"
	emptyPrompt  = "Please enter a non-empty prompt."
	goodbye      = "Exiting chat. Goodbye!"
	defaultLimit = 20
	toolWidth    = 100
)

const helpText = `Commands:
  /help             show this help
  /tools            list the available tools
  /history [n]      show the last n transcript entries (default 20)
  /usage            show token usage
  /quit             leave the chat`

// Session is the part of an engine session the loop drives.
type Session interface {
	Send(ctx context.Context, text string) (message.Message, error)
	History(ctx context.Context, limit int) ([]transcript.Entry, error)
	Tools() []toolbox.Tool
	Usage() (usage.TokenCount, bool)
}

// Options configures a Loop.
type Options struct {
	In     io.Reader
	Out    io.Writer
	Logger *slog.Logger
	// Render formats an answer for display. Defaults to format.Plain.
	Render func(string) string
	// Busy is called before each prompt is sent; the returned function is
	// called when the answer arrives.
	Busy func() (done func())
}

// Loop reads prompts, forwards them to a session and prints the answers.
type Loop struct {
	sess   Session
	in     *bufio.Reader
	out    io.Writer
	log    *slog.Logger
	render func(string) string
	busy   func() func()
	styles format.Styles
}

// New creates a Loop.
func New(sess Session, opts Options) *Loop {
	l := &Loop{
		sess:   sess,
		in:     bufio.NewReader(opts.In),
		out:    opts.Out,
		log:    opts.Logger,
		render: opts.Render,
		busy:   opts.Busy,
		styles: format.NewStyles(lipgloss.NewRenderer(opts.Out)),
	}
	if l.log == nil {
		l.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if l.render == nil {
		l.render = format.Plain
	}
	if l.busy == nil {
		l.busy = func() func() { return func() {} }
	}
	return l
}

// Run loops until ctx is cancelled, input ends or the operator quits. Errors
// from a single prompt are printed and the loop continues.
func (l *Loop) Run(ctx context.Context) error {
	l.println(l.styles.Label.Render(greeting))

	for {
		l.print(l.styles.Prompt.Render("> "))

		line, err := l.readLine(ctx)
		if err != nil {
			l.println("\n" + goodbye)
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			l.println(emptyPrompt)
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := l.command(ctx, line); quit {
				l.println(goodbye)
				return nil
			}
			continue
		}

		l.prompt(ctx, line)

		if ctx.Err() != nil {
			l.println("\n" + goodbye)
			return nil
		}
	}
}

type lineResult struct {
	line string
	err  error
}

// readLine reads one line, giving up when ctx ends. The reading goroutine
// only lives until the line arrives, so nothing consumes input while a
// prompt is being processed.
func (l *Loop) readLine(ctx context.Context) (string, error) {
	ch := make(chan lineResult, 1)
	go func() {
		line, err := l.in.ReadString('\n')
		if err != nil && line != "" && errors.Is(err, io.EOF) {
			err = nil
		}
		ch <- lineResult{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		return r.line, r.err
	}
}

func (l *Loop) prompt(ctx context.Context, text string) {
	l.println("\n" + l.styles.Label.Render("Processing Prompt:") + " " + text)

	done := l.busy()
	reply, err := l.sess.Send(ctx, text)
	done()

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		l.log.Error("error processing prompt", "error", err)
		l.println(l.styles.Error.Render("Error processing prompt: " + err.Error()))
		return
	}

	l.println("\n" + l.styles.Label.Render("Result:"))
	l.println(l.render(reply.TextContent()))
}

// command runs a slash command and reports whether the loop should end.
func (l *Loop) command(ctx context.Context, line string) bool {
	fields := strings.Fields(line)

	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		l.println(helpText)
	case "/tools":
		PrintTools(l.out, l.sess.Tools())
	case "/history":
		limit := defaultLimit
		if len(fields) > 1 {
			n, err := strconv.Atoi(fields[1])
			if err != nil || n <= 0 {
				l.println(l.styles.Error.Render("usage: /history [n]"))
				return false
			}
			limit = n
		}
		l.history(ctx, limit)
	case "/usage":
		tc, ok := l.sess.Usage()
		if !ok {
			l.println("Token usage is not tracked by this provider.")
			return false
		}
		l.println(fmt.Sprintf("Tokens: %d in, %d out, %d total", tc.InputTokens, tc.OutputTokens, tc.Total()))
	default:
		l.println(l.styles.Error.Render(fmt.Sprintf("unknown command %s (try /help)", fields[0])))
	}

	return false
}

func (l *Loop) history(ctx context.Context, limit int) {
	entries, err := l.sess.History(ctx, limit)
	if err != nil {
		l.println(l.styles.Error.Render("Error reading history: " + err.Error()))
		return
	}
	if len(entries) == 0 {
		l.println("No history yet.")
		return
	}

	for _, e := range entries {
		l.println(formatEntry(e, l.styles))
	}
}

func formatEntry(e transcript.Entry, s format.Styles) string {
	var b strings.Builder
	if !e.CreatedAt.IsZero() {
		b.WriteString(s.Dim.Render(e.CreatedAt.Local().Format("15:04:05")) + " ")
	}

	label := string(e.Kind)
	if e.Tool != "" {
		label += " " + e.Tool
	}
	if e.IsError {
		label = s.Error.Render(label)
	} else {
		label = s.Label.Render(label)
	}

	b.WriteString(label + ": " + format.Truncate(e.Content, toolWidth))
	return b.String()
}

// PrintTools lists tools with their descriptions, one per line.
func PrintTools(w io.Writer, tools []toolbox.Tool) {
	_, _ = fmt.Fprintln(w, "Available MCP Tools:")
	if len(tools) == 0 {
		_, _ = fmt.Fprintln(w, "  (none)")
		return
	}
	for _, t := range tools {
		line := t.Name
		if t.Description != "" {
			line += ": " + t.Description
		}
		_, _ = fmt.Fprintln(w, "  - "+format.Truncate(line, toolWidth))
	}
}

// Batch sends each task in order and prints its result. A failed task is
// reported and the remaining tasks still run. It returns the number of tasks
// that failed or never ran.
func Batch(ctx context.Context, sess Session, tasks []string, out io.Writer, render func(string) string) int {
	if render == nil {
		render = format.Plain
	}

	failed := 0
	for i, task := range tasks {
		if ctx.Err() != nil {
			return failed + len(tasks) - i
		}

		_, _ = fmt.Fprintf(out, "\nRunning Task: %s\n", task)

		reply, err := sess.Send(ctx, task)
		if err != nil {
			failed++
			_, _ = fmt.Fprintf(out, "Error processing task: %v\n", err)
			continue
		}

		_, _ = fmt.Fprintf(out, "\nResult:\n%s\n", render(reply.TextContent()))
	}

	return failed
}

func (l *Loop) print(s string) { _, _ = io.WriteString(l.out, s) }

func (l *Loop) println(s string) { _, _ = fmt.Fprintln(l.out, s) }

// ToolLine formats a tool call for a one-line progress display.
func ToolLine(name, args string, isError bool) string {
	mark := "→"
	if isError {
		mark = "✗"
	}
	return format.Truncate(fmt.Sprintf("%s %s %s", mark, name, args), toolWidth)
}
