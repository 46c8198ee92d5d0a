package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/germanamz/netpilot/pkg/chats/message"
)

// ErrEmptyReply is returned by RequireText when the final answer has no text.
var ErrEmptyReply = errors.New("agent: empty reply")

// Runner executes agent logic and returns the final message.
type Runner interface {
	Run(ctx context.Context) (message.Message, error)
}

// RunnerFunc adapts a plain function to the Runner interface.
type RunnerFunc func(ctx context.Context) (message.Message, error)

// Run calls the underlying function.
func (f RunnerFunc) Run(ctx context.Context) (message.Message, error) {
	return f(ctx)
}

// Middleware wraps a Runner, returning a new Runner with added behaviour.
type Middleware func(next Runner) Runner

// Timeout bounds a run to d. When the run fails because its own deadline
// passed, the error names the limit and still matches
// context.DeadlineExceeded. A non-positive d leaves the context untouched.
func Timeout(d time.Duration) Middleware {
	return func(next Runner) Runner {
		if d <= 0 {
			return next
		}
		return RunnerFunc(func(ctx context.Context) (message.Message, error) {
			runCtx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			msg, err := next.Run(runCtx)
			if err != nil && ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				return msg, fmt.Errorf("agent: no answer within %s: %w", d, err)
			}
			return msg, err
		})
	}
}

// Recovery returns a Middleware that catches panics and converts them to errors.
func Recovery() Middleware {
	return func(next Runner) Runner {
		return RunnerFunc(func(ctx context.Context) (msg message.Message, err error) {
			defer func() {
				if r := recover(); r != nil {
					msg = message.Message{}
					err = fmt.Errorf("agent panicked: %v", r)
				}
			}()

			return next.Run(ctx)
		})
	}
}

// Logger logs the start and end of every run. A run the operator cancelled is
// logged as a warning rather than an error.
func Logger(log *slog.Logger, name string) Middleware {
	return func(next Runner) Runner {
		return RunnerFunc(func(ctx context.Context) (message.Message, error) {
			log.InfoContext(ctx, "agent started", "agent", name)

			start := time.Now()
			msg, err := next.Run(ctx)
			attrs := []any{"agent", name, "duration", time.Since(start)}

			switch {
			case err == nil:
				log.InfoContext(ctx, "agent finished", append(attrs, "reply_chars", len(msg.TextContent()))...)
			case errors.Is(err, context.Canceled):
				log.WarnContext(ctx, "agent stopped", append(attrs, "reason", err)...)
			default:
				log.ErrorContext(ctx, "agent finished with error", append(attrs, "error", err)...)
			}

			return msg, err
		})
	}
}

// OutputGuardrail returns a Middleware that validates the final message. If
// check returns an error, that error is returned instead of the message.
func OutputGuardrail(check func(message.Message) error) Middleware {
	return func(next Runner) Runner {
		return RunnerFunc(func(ctx context.Context) (message.Message, error) {
			msg, err := next.Run(ctx)
			if err != nil {
				return msg, err
			}

			if checkErr := check(msg); checkErr != nil {
				return message.Message{}, checkErr
			}

			return msg, nil
		})
	}
}

// RequireText is an OutputGuardrail check that rejects blank final answers.
func RequireText(m message.Message) error {
	if strings.TrimSpace(m.TextContent()) == "" {
		return ErrEmptyReply
	}
	return nil
}
