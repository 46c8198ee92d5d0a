package netops_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/germanamz/netpilot/pkg/device"
	"github.com/germanamz/netpilot/pkg/device/devicetest"
	"github.com/germanamz/netpilot/pkg/inventory"
	"github.com/germanamz/netpilot/pkg/netops"
)

const ifaceConfig = `Building configuration...

Current configuration : 96 bytes
!
interface GigabitEthernet1/0/1
 description Uplink to core
 no switchport
end`

const showIPIntBrief = `Interface              IP-Address      OK? Method Status                Protocol
GigabitEthernet1/0/1   10.0.0.11       YES NVRAM  up                    up`

func writeTestbed(t *testing.T, host string, port int) string {
	t.Helper()

	body := fmt.Sprintf(`
testbed:
  name: unit
  credentials:
    default:
      username: admin
      password: cisco
devices:
  switch1:
    os: iosxe
    connections:
      cli:
        protocol: ssh
        ip: %s
        port: %d
        settings:
          connect_timeout: 2s
          command_timeout: 5s
`, host, port)

	path := filepath.Join(t.TempDir(), "testbed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// closedPort returns a loopback port with nothing listening on it.
func closedPort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

type fakeSession struct {
	outputs  map[string]string
	executed []string
	config   []string
	closed   int
	closeErr error
}

func (f *fakeSession) Execute(_ context.Context, cmd string) (string, error) {
	f.executed = append(f.executed, cmd)
	out, ok := f.outputs[cmd]
	if !ok {
		return "% Invalid input detected at '^' marker.", fmt.Errorf("%w: %q", device.ErrCommandRejected, cmd)
	}
	return out, nil
}

func (f *fakeSession) Configure(_ context.Context, cmds []string) (string, error) {
	f.config = append(f.config, cmds...)
	return "switch1(config)#" + strings.Join(cmds, "\nswitch1(config)#"), nil
}

func (f *fakeSession) Close() error {
	f.closed++
	return f.closeErr
}

func fakeOps(t *testing.T, sess *fakeSession) (*netops.Ops, string) {
	t.Helper()

	connector := device.ConnectorFunc(func(context.Context, inventory.Device) (device.Session, error) {
		return sess, nil
	})
	return netops.New(connector, netops.Options{}), writeTestbed(t, "192.0.2.10", 22)
}

func TestGetConfigReachable(t *testing.T) {
	srv := devicetest.NewServer(t, devicetest.Config{
		Password: "cisco",
		Responses: map[string]string{
			"show running-config interface GigabitEthernet1/0/1": ifaceConfig,
		},
	})
	ops := netops.New(&device.SSHConnector{}, netops.Options{})

	res := ops.GetConfig(context.Background(), writeTestbed(t, srv.Host, srv.Port), "switch1", "GigabitEthernet1/0/1")
	require.True(t, res.OK(), res.String())
	assert.NotEmpty(t, res.Output)
	assert.False(t, strings.HasPrefix(res.String(), "Error"))
	assert.Contains(t, res.Output, "description Uplink to core")
}

func TestApplyConfigReachable(t *testing.T) {
	srv := devicetest.NewServer(t, devicetest.Config{Password: "cisco"})
	ops := netops.New(&device.SSHConnector{}, netops.Options{})

	res := ops.ApplyConfig(context.Background(), writeTestbed(t, srv.Host, srv.Port), "switch1", []string{
		"interface GigabitEthernet1/0/1",
		"description managed",
	})
	require.True(t, res.OK(), res.String())
	assert.True(t, strings.HasPrefix(res.Output, "Configuration applied: "))
	assert.Contains(t, srv.Commands(), "description managed")
}

func TestApplyConfigRejectedOnDevice(t *testing.T) {
	srv := devicetest.NewServer(t, devicetest.Config{Password: "cisco", RejectConfig: []string{"bogus"}})
	ops := netops.New(&device.SSHConnector{}, netops.Options{})

	res := ops.ApplyConfig(context.Background(), writeTestbed(t, srv.Host, srv.Port), "switch1", []string{"bogus"})
	require.False(t, res.OK())
	assert.Equal(t, netops.KindConfigure, res.Err.Kind)
	assert.True(t, strings.HasPrefix(res.String(), "Error applying config: "))
	assert.True(t, errors.Is(res.Err, device.ErrCommandRejected))
}

func TestUnreachableDeviceEveryOperation(t *testing.T) {
	ops := netops.New(&device.SSHConnector{}, netops.Options{})
	testbed := writeTestbed(t, "127.0.0.1", closedPort(t))
	ctx := context.Background()

	results := map[string]netops.Result{
		"Error getting config: ":  ops.GetConfig(ctx, testbed, "switch1", "Gi1/0/1"),
		"Error running command: ": ops.RunShowCommand(ctx, testbed, "switch1", "show version"),
		"Error performing ping: ": ops.Ping(ctx, testbed, "switch1", "10.0.0.1", false),
		"Error applying config: ": ops.ApplyConfig(ctx, testbed, "switch1", []string{"hostname x"}),
	}

	for prefix, res := range results {
		require.False(t, res.OK(), prefix)
		assert.True(t, strings.HasPrefix(res.String(), prefix), res.String())
		assert.Equal(t, netops.KindConnect, res.Err.Kind)
	}
}

func TestInventoryFailures(t *testing.T) {
	ops := netops.New(device.ConnectorFunc(func(context.Context, inventory.Device) (device.Session, error) {
		t.Fatal("connector must not be called")
		return nil, nil
	}), netops.Options{})
	ctx := context.Background()

	res := ops.GetConfig(ctx, filepath.Join(t.TempDir(), "nope.yaml"), "switch1", "Gi1/0/1")
	assert.Equal(t, netops.KindInventory, res.Err.Kind)
	assert.True(t, strings.HasPrefix(res.String(), "Error getting config: "))

	res = ops.Ping(ctx, writeTestbed(t, "192.0.2.10", 22), "router9", "10.0.0.1", false)
	assert.Equal(t, netops.KindUnknownDevice, res.Err.Kind)
	assert.True(t, errors.Is(res.Err, inventory.ErrUnknownDevice))
	assert.Contains(t, res.String(), "router9")
}

func TestInvalidArguments(t *testing.T) {
	ops, testbed := fakeOps(t, &fakeSession{})
	ctx := context.Background()

	assert.Equal(t, netops.KindInvalidArgument, ops.GetConfig(ctx, testbed, "switch1", " ").Err.Kind)
	assert.Equal(t, netops.KindInvalidArgument, ops.RunShowCommand(ctx, testbed, "switch1", "").Err.Kind)
	assert.Equal(t, netops.KindInvalidArgument, ops.Ping(ctx, testbed, "switch1", "", true).Err.Kind)
}

func TestRunShowCommandRawPath(t *testing.T) {
	for _, cmd := range []string{"show meraki status", "show uac sessions"} {
		t.Run(cmd, func(t *testing.T) {
			sess := &fakeSession{outputs: map[string]string{cmd: "line one\nline two"}}
			ops, testbed := fakeOps(t, sess)

			res := ops.RunShowCommand(context.Background(), testbed, "switch1", cmd)
			require.True(t, res.OK(), res.String())

			var raw string
			require.NoError(t, json.Unmarshal([]byte(res.Output), &raw))
			assert.Equal(t, "line one\nline two", raw)
			assert.Equal(t, 1, sess.closed)
		})
	}
}

func TestRunShowCommandParsePath(t *testing.T) {
	sess := &fakeSession{outputs: map[string]string{"sh ip int br": showIPIntBrief}}
	ops, testbed := fakeOps(t, sess)

	res := ops.RunShowCommand(context.Background(), testbed, "switch1", "sh ip int br")
	require.True(t, res.OK(), res.String())

	var doc map[string]map[string]map[string]string
	require.NoError(t, json.Unmarshal([]byte(res.Output), &doc))
	assert.Equal(t, "10.0.0.11", doc["interface"]["GigabitEthernet1/0/1"]["ip_address"])
}

func TestRunShowCommandWithoutParser(t *testing.T) {
	sess := &fakeSession{outputs: map[string]string{"show clock": "*10:00:00.000 UTC Mon Oct 19 2026"}}
	ops, testbed := fakeOps(t, sess)

	res := ops.RunShowCommand(context.Background(), testbed, "switch1", "show clock")
	require.False(t, res.OK())
	assert.Equal(t, netops.KindParse, res.Err.Kind)
	assert.True(t, strings.HasPrefix(res.String(), "Error running command: "))
	assert.Equal(t, 1, sess.closed)
}

func TestRunShowCommandCustomMarkers(t *testing.T) {
	sess := &fakeSession{outputs: map[string]string{"show clock": "10:00"}}
	connector := device.ConnectorFunc(func(context.Context, inventory.Device) (device.Session, error) { return sess, nil })
	ops := netops.New(connector, netops.Options{RawMarkers: []string{"clock"}})

	assert.True(t, ops.IsRaw("show clock"))
	assert.False(t, ops.IsRaw("show meraki"))

	res := ops.RunShowCommand(context.Background(), writeTestbed(t, "192.0.2.10", 22), "switch1", "show clock")
	require.True(t, res.OK(), res.String())
	assert.Equal(t, `"10:00"`, res.Output)
}

func TestRunShowCommandRejected(t *testing.T) {
	sess := &fakeSession{}
	ops, testbed := fakeOps(t, sess)

	res := ops.RunShowCommand(context.Background(), testbed, "switch1", "show meraki bogus")
	require.False(t, res.OK())
	assert.Equal(t, netops.KindCommand, res.Err.Kind)
}

func TestPing(t *testing.T) {
	sess := &fakeSession{outputs: map[string]string{
		"ping ip 10.0.0.1":      "!!!!!\nSuccess rate is 100 percent (5/5), round-trip min/avg/max = 1/1/2 ms",
		"ping ipv6 2001:db8::1": ".....\nSuccess rate is 0 percent (0/5)",
	}}
	ops, testbed := fakeOps(t, sess)
	ctx := context.Background()

	res := ops.Ping(ctx, testbed, "switch1", "10.0.0.1", false)
	require.True(t, res.OK(), res.String())
	assert.Contains(t, res.Output, "Success rate is 100 percent")

	res = ops.Ping(ctx, testbed, "switch1", "2001:db8::1", true)
	require.False(t, res.OK())
	assert.Equal(t, netops.KindUnreachable, res.Err.Kind)
	assert.True(t, errors.Is(res.Err, netops.ErrUnreachable))
	assert.True(t, strings.HasPrefix(res.String(), "Error performing ping: "))

	assert.Equal(t, []string{"ping ip 10.0.0.1", "ping ipv6 2001:db8::1"}, sess.executed)
	assert.Equal(t, 2, sess.closed)
}

func TestApplyConfigEmpty(t *testing.T) {
	sess := &fakeSession{}
	ops, testbed := fakeOps(t, sess)

	res := ops.ApplyConfig(context.Background(), testbed, "switch1", nil)
	require.True(t, res.OK())
	assert.Equal(t, "Configuration applied: ", res.String())
	assert.Empty(t, sess.config)
	assert.Equal(t, 1, sess.closed)
}

func TestCloseErrorAfterSuccessIsIgnored(t *testing.T) {
	sess := &fakeSession{
		outputs:  map[string]string{"show running-config interface Gi1/0/1": ifaceConfig},
		closeErr: errors.New("connection reset"),
	}
	ops, testbed := fakeOps(t, sess)

	res := ops.GetConfig(context.Background(), testbed, "switch1", "Gi1/0/1")
	assert.True(t, res.OK())
	assert.Equal(t, ifaceConfig, res.Output)
}

type panicSession struct{ fakeSession }

func (p *panicSession) Execute(context.Context, string) (string, error) { panic("driver bug") }

func TestPanicBecomesError(t *testing.T) {
	sess := &panicSession{}
	connector := device.ConnectorFunc(func(context.Context, inventory.Device) (device.Session, error) { return sess, nil })
	ops := netops.New(connector, netops.Options{})

	var res netops.Result
	require.NotPanics(t, func() {
		res = ops.GetConfig(context.Background(), writeTestbed(t, "192.0.2.10", 22), "switch1", "Gi1/0/1")
	})
	require.False(t, res.OK())
	assert.Contains(t, res.String(), "panic: driver bug")
	assert.Equal(t, 1, sess.closed)
}

func TestConnectPanicBecomesError(t *testing.T) {
	connector := device.ConnectorFunc(func(context.Context, inventory.Device) (device.Session, error) {
		panic("driver blew up during connect")
	})
	ops := netops.New(connector, netops.Options{})
	testbed := writeTestbed(t, "192.0.2.10", 22)

	var res netops.Result
	require.NotPanics(t, func() {
		res = ops.GetConfig(context.Background(), testbed, "switch1", "Gi1/0/1")
	})
	require.False(t, res.OK())
	assert.Contains(t, res.String(), "panic: driver blew up during connect")
}

func TestErrorImplementsKind(t *testing.T) {
	err := error(&netops.Error{Op: netops.OpPing, Kind: netops.KindUnreachable, Err: netops.ErrUnreachable})
	assert.Equal(t, netops.KindUnreachable, netops.KindOf(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, netops.Kind(""), netops.KindOf(errors.New("plain")))

	out, uerr := netops.Result{Output: "ok"}.Unwrap()
	assert.Equal(t, "ok", out)
	assert.NoError(t, uerr)
}
