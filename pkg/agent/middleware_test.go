package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/germanamz/netpilot/pkg/chats/message"
	"github.com/germanamz/netpilot/pkg/chats/role"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- test helpers ---

func stubRunner(msg message.Message, err error) Runner {
	return RunnerFunc(func(_ context.Context) (message.Message, error) {
		return msg, err
	})
}

func panicRunner() Runner {
	return RunnerFunc(func(_ context.Context) (message.Message, error) {
		panic("something went wrong")
	})
}

func slowRunner(delay time.Duration) Runner {
	return RunnerFunc(func(ctx context.Context) (message.Message, error) {
		select {
		case <-time.After(delay):
			return message.NewText("bot", role.Assistant, "done"), nil
		case <-ctx.Done():
			return message.Message{}, ctx.Err()
		}
	})
}

// --- Timeout tests ---

func TestTimeout(t *testing.T) {
	inner := stubRunner(message.NewText("bot", role.Assistant, "done"), nil)

	wrapped := Timeout(time.Second)(inner)
	msg, err := wrapped.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "done", msg.TextContent())
}

func TestTimeoutZeroIsPassThrough(t *testing.T) {
	inner := RunnerFunc(func(ctx context.Context) (message.Message, error) {
		_, ok := ctx.Deadline()
		assert.False(t, ok)
		return message.NewText("bot", role.Assistant, "done"), nil
	})

	_, err := Timeout(0)(inner).Run(context.Background())

	require.NoError(t, err)
}

func TestTimeoutExpires(t *testing.T) {
	wrapped := Timeout(50 * time.Millisecond)(slowRunner(200 * time.Millisecond))
	_, err := wrapped.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "agent: no answer within 50ms: context deadline exceeded", err.Error())
}

func TestTimeoutLeavesParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Timeout(time.Second)(slowRunner(time.Second)).Run(ctx)

	assert.Equal(t, context.Canceled, err)
}

// --- Recovery tests ---

func TestRecovery(t *testing.T) {
	inner := stubRunner(message.NewText("bot", role.Assistant, "ok"), nil)

	wrapped := Recovery()(inner)
	msg, err := wrapped.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "ok", msg.TextContent())
}

func TestRecoveryCatchesPanic(t *testing.T) {
	wrapped := Recovery()(panicRunner())
	msg, err := wrapped.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent panicked")
	assert.Contains(t, err.Error(), "something went wrong")
	assert.Equal(t, message.Message{}, msg)
}

// --- Logger tests ---

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	inner := stubRunner(message.NewText("bot", role.Assistant, "reply"), nil)

	wrapped := Logger(log, "test-agent")(inner)
	msg, err := wrapped.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "reply", msg.TextContent())

	output := buf.String()
	assert.Contains(t, output, "agent started")
	assert.Contains(t, output, "agent finished")
	assert.Contains(t, output, "test-agent")
	assert.Contains(t, output, "reply_chars=5")
}

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		level string
		want  string
	}{
		{"failure", errors.New("LLM API call failed: status 500"), "level=ERROR", "agent finished with error"},
		{"cancelled", context.Canceled, "level=WARN", "agent stopped"},
		{"cancelled while calling a tool", fmt.Errorf("ping r1: %w", context.Canceled), "level=WARN", "agent stopped"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

			_, err := Logger(log, "netops")(stubRunner(message.Message{}, tt.err)).Run(context.Background())

			require.ErrorIs(t, err, tt.err)
			output := buf.String()
			assert.Contains(t, output, tt.level)
			assert.Contains(t, output, tt.want)
			assert.Contains(t, output, tt.err.Error())
		})
	}
}

// --- OutputGuardrail tests ---

func TestOutputGuardrailPasses(t *testing.T) {
	inner := stubRunner(message.NewText("bot", role.Assistant, "safe content"), nil)
	check := func(_ message.Message) error { return nil }

	wrapped := OutputGuardrail(check)(inner)
	msg, err := wrapped.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "safe content", msg.TextContent())
}

func TestOutputGuardrailRejects(t *testing.T) {
	inner := stubRunner(message.NewText("bot", role.Assistant, "bad content"), nil)
	check := func(m message.Message) error {
		if m.TextContent() == "bad content" {
			return errors.New("guardrail: content rejected")
		}
		return nil
	}

	wrapped := OutputGuardrail(check)(inner)
	msg, err := wrapped.Run(context.Background())

	require.Error(t, err)
	assert.Equal(t, "guardrail: content rejected", err.Error())
	assert.Equal(t, message.Message{}, msg)
}

func TestOutputGuardrailSkipsOnError(t *testing.T) {
	inner := stubRunner(message.Message{}, errors.New("agent failed"))
	called := false
	check := func(_ message.Message) error {
		called = true
		return nil
	}

	wrapped := OutputGuardrail(check)(inner)
	_, err := wrapped.Run(context.Background())

	require.Error(t, err)
	assert.Equal(t, "agent failed", err.Error())
	assert.False(t, called)
}

func TestRequireText(t *testing.T) {
	wrapped := OutputGuardrail(RequireText)(stubRunner(message.NewText("bot", role.Assistant, "  \n"), nil))
	_, err := wrapped.Run(context.Background())
	require.ErrorIs(t, err, ErrEmptyReply)

	wrapped = OutputGuardrail(RequireText)(stubRunner(message.NewText("bot", role.Assistant, "Gi0/1 is up"), nil))
	msg, err := wrapped.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Gi0/1 is up", msg.TextContent())
}

// --- Middleware composition test ---

func TestMiddlewareComposition(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next Runner) Runner {
			return RunnerFunc(func(ctx context.Context) (message.Message, error) {
				order = append(order, name+":before")
				msg, err := next.Run(ctx)
				order = append(order, name+":after")
				return msg, err
			})
		}
	}

	inner := stubRunner(message.NewText("bot", role.Assistant, "done"), nil)

	// Apply A(B(C(inner)))
	wrapped := mw("A")(mw("B")(mw("C")(inner)))
	_, err := wrapped.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{
		"A:before", "B:before", "C:before",
		"C:after", "B:after", "A:after",
	}, order)
}
