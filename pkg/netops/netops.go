// Package netops performs the four device operations exposed as tools:
// fetching interface configuration, running show commands, pinging from a
// device, and applying configuration.
//
// Every call loads the inventory, opens one device session, runs exactly one
// action and closes the session before returning. Failures are reported in
// the returned [Result], never as panics.
package netops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/germanamz/netpilot/pkg/device"
	"github.com/germanamz/netpilot/pkg/inventory"
	"github.com/germanamz/netpilot/pkg/parsers"
)

// DefaultRawMarkers are the substrings that send a show command down the raw
// path instead of the parser.
var DefaultRawMarkers = []string{"uac", "meraki"}

// ErrUnreachable is the cause of a ping whose success rate is zero.
var ErrUnreachable = errors.New("target unreachable")

// Options configures Ops.
type Options struct {
	// Parsers resolves show commands. Defaults to parsers.Default().
	Parsers *parsers.Registry
	// RawMarkers overrides DefaultRawMarkers. An empty, non-nil slice
	// disables the raw path.
	RawMarkers []string
	Logger     *slog.Logger
}

// Ops runs device operations through a connector.
type Ops struct {
	connector  device.Connector
	parsers    *parsers.Registry
	rawMarkers []string
	log        *slog.Logger
}

// New creates Ops backed by connector.
func New(connector device.Connector, opts Options) *Ops {
	o := &Ops{
		connector:  connector,
		parsers:    opts.Parsers,
		rawMarkers: opts.RawMarkers,
		log:        opts.Logger,
	}
	if o.parsers == nil {
		o.parsers = parsers.Default()
	}
	if o.rawMarkers == nil {
		o.rawMarkers = DefaultRawMarkers
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return o
}

type action func(ctx context.Context, dev inventory.Device, sess device.Session) (string, *Error)

// withSession loads the inventory, connects to the device, runs fn and closes
// the session on every path out. A panic anywhere, connecting included,
// becomes a failed result. A close failure after fn succeeded is only logged.
func (o *Ops) withSession(ctx context.Context, op, testbed, deviceName string, fn action) (res Result) {
	var sess device.Session

	defer func() {
		if r := recover(); r != nil {
			res = fail(op, KindCommand, fmt.Errorf("panic: %v", r))
		}
		if sess == nil {
			return
		}
		if cerr := sess.Close(); cerr != nil {
			o.log.Warn("netops: closing session", "op", op, "device", deviceName, "error", cerr)
		}
	}()

	tb, err := inventory.Load(testbed)
	if err != nil {
		return fail(op, KindInventory, err)
	}

	dev, err := tb.Device(deviceName)
	if err != nil {
		return fail(op, KindUnknownDevice, err)
	}

	conn, err := o.connector.Connect(ctx, dev)
	if err != nil {
		return fail(op, KindConnect, err)
	}
	sess = conn

	out, opErr := fn(ctx, dev, sess)
	if opErr != nil {
		opErr.Op = op
		o.log.Info("netops: operation failed", "op", op, "device", deviceName, "kind", opErr.Kind, "error", opErr.Err)
		return Result{Err: opErr}
	}

	o.log.Debug("netops: operation done", "op", op, "device", deviceName, "bytes", len(out))
	return Result{Output: out}
}

// missing reports an invalid_argument result when value is blank.
func missing(op, name, value string) (Result, bool) {
	if strings.TrimSpace(value) != "" {
		return Result{}, false
	}
	return fail(op, KindInvalidArgument, fmt.Errorf("%s is required", name)), true
}

// GetConfig returns the running configuration of one interface.
func (o *Ops) GetConfig(ctx context.Context, testbed, deviceName, iface string) Result {
	if res, bad := missing(OpGetConfig, "interface_name", iface); bad {
		return res
	}

	return o.withSession(ctx, OpGetConfig, testbed, deviceName, func(ctx context.Context, _ inventory.Device, sess device.Session) (string, *Error) {
		out, err := sess.Execute(ctx, "show running-config interface "+iface)
		if err != nil {
			return "", &Error{Kind: KindCommand, Err: err}
		}
		return out, nil
	})
}

// IsRaw reports whether command contains one of the raw markers.
func (o *Ops) IsRaw(command string) bool {
	for _, m := range o.rawMarkers {
		if m != "" && strings.Contains(command, m) {
			return true
		}
	}
	return false
}

// RunShowCommand runs a show command and returns JSON: the parsed document,
// or for raw-marker commands the unparsed output as a JSON string.
func (o *Ops) RunShowCommand(ctx context.Context, testbed, deviceName, command string) Result {
	if res, bad := missing(OpRunShowCommand, "command", command); bad {
		return res
	}

	return o.withSession(ctx, OpRunShowCommand, testbed, deviceName, func(ctx context.Context, dev inventory.Device, sess device.Session) (string, *Error) {
		out, err := sess.Execute(ctx, command)
		if err != nil {
			return "", &Error{Kind: KindCommand, Err: err}
		}

		var payload any = out
		if !o.IsRaw(command) {
			doc, err := o.parsers.Parse(dev.OS, command, out)
			if err != nil {
				return "", &Error{Kind: KindParse, Err: err}
			}
			payload = doc
		}

		data, err := json.Marshal(payload)
		if err != nil {
			return "", &Error{Kind: KindParse, Err: err}
		}
		return string(data), nil
	})
}

var successRate = regexp.MustCompile(`Success rate is (\d+) percent[^\n]*`)

// Ping pings target from the device over IPv4, or IPv6 when ipv6 is set.
func (o *Ops) Ping(ctx context.Context, testbed, deviceName, target string, ipv6 bool) Result {
	if res, bad := missing(OpPing, "target", target); bad {
		return res
	}

	proto := "ip"
	if ipv6 {
		proto = "ipv6"
	}

	return o.withSession(ctx, OpPing, testbed, deviceName, func(ctx context.Context, _ inventory.Device, sess device.Session) (string, *Error) {
		out, err := sess.Execute(ctx, "ping "+proto+" "+target)
		if err != nil {
			return "", &Error{Kind: KindCommand, Err: err}
		}

		if m := successRate.FindStringSubmatch(out); m != nil && m[1] == "0" {
			return "", &Error{Kind: KindUnreachable, Err: fmt.Errorf("%w: %s: %s", ErrUnreachable, target, strings.TrimSpace(m[0]))}
		}
		return out, nil
	})
}

// ApplyConfig sends commands in configuration mode. An empty list is a
// no-op that still reports success.
func (o *Ops) ApplyConfig(ctx context.Context, testbed, deviceName string, commands []string) Result {
	return o.withSession(ctx, OpApplyConfig, testbed, deviceName, func(ctx context.Context, _ inventory.Device, sess device.Session) (string, *Error) {
		if len(commands) == 0 {
			return "Configuration applied: ", nil
		}

		out, err := sess.Configure(ctx, commands)
		if err != nil {
			return "", &Error{Kind: KindConfigure, Err: err}
		}
		return "Configuration applied: " + out, nil
	})
}
