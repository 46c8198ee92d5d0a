package inventory

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTestbed = `
testbed:
  name: lab
  credentials:
    default:
      username: admin
      password: "%ENV{NETPILOT_TEST_PASSWORD}"
devices:
  switch1:
    os: iosxe
    type: switch
    credentials:
      enable:
        password: ${NETPILOT_TEST_ENABLE}
    connections:
      cli:
        protocol: ssh
        ip: 10.0.0.11
        port: 2222
        settings:
          command_timeout: 45s
          init_commands: "terminal no monitor,show clock"
  router1:
    os: ios
    credentials:
      default:
        username: netops
    connections:
      a:
        protocol: telnet
        ip: 10.0.0.1
      vty:
        protocol: ssh
        host: router1.lab
`

func writeTestbed(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "testbed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("NETPILOT_TEST_PASSWORD", "s3cret")
	t.Setenv("NETPILOT_TEST_ENABLE", "en4ble")

	tb, err := Load(writeTestbed(t, sampleTestbed))
	require.NoError(t, err)

	assert.Equal(t, "lab", tb.Name)
	assert.Equal(t, []string{"router1", "switch1"}, tb.Names())

	sw, err := tb.Device("switch1")
	require.NoError(t, err)
	assert.Equal(t, "switch1", sw.Name)
	assert.Equal(t, "iosxe", sw.OS)

	def, ok := sw.Credential("default")
	require.True(t, ok)
	assert.Equal(t, Credential{Username: "admin", Password: "s3cret"}, def)

	enable, ok := sw.Credential("enable")
	require.True(t, ok)
	assert.Equal(t, "en4ble", enable.Password)

	cli, err := sw.CLI()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.11", cli.Address())
	assert.Equal(t, 2222, cli.Port)
}

func TestDeviceCredentialFallsBackToTestbedDefault(t *testing.T) {
	t.Setenv("NETPILOT_TEST_PASSWORD", "s3cret")

	tb, err := Load(writeTestbed(t, sampleTestbed))
	require.NoError(t, err)

	r, err := tb.Device("router1")
	require.NoError(t, err)

	def, _ := r.Credential("default")
	assert.Equal(t, "netops", def.Username)
	assert.Equal(t, "s3cret", def.Password)
}

func TestCLIPicksFirstSSHConnection(t *testing.T) {
	tb, err := Load(writeTestbed(t, sampleTestbed))
	require.NoError(t, err)

	r, _ := tb.Device("router1")
	cli, err := r.CLI()
	require.NoError(t, err)
	assert.Equal(t, "router1.lab", cli.Address())
}

func TestCLIWithoutSSH(t *testing.T) {
	d := Device{Name: "ap1", Connections: map[string]Connection{"a": {Protocol: "telnet"}}}

	_, err := d.CLI()
	assert.ErrorContains(t, err, "no ssh connection")
}

func TestUnknownDevice(t *testing.T) {
	tb, err := Load(writeTestbed(t, sampleTestbed))
	require.NoError(t, err)

	_, err = tb.Device("switch9")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownDevice))
	assert.Contains(t, err.Error(), "switch9")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "inventory: load")

	_, err = Load(writeTestbed(t, "devices: [oops"))
	assert.ErrorContains(t, err, "inventory: parse")

	_, err = Load(writeTestbed(t, "testbed:\n  name: empty\n"))
	assert.ErrorContains(t, err, "no devices")
}

func TestDecodeSettings(t *testing.T) {
	tb, err := Load(writeTestbed(t, sampleTestbed))
	require.NoError(t, err)
	sw, _ := tb.Device("switch1")
	cli, _ := sw.CLI()

	var s struct {
		CommandTimeout time.Duration `mapstructure:"command_timeout"`
		InitCommands   []string      `mapstructure:"init_commands"`
		KnownHosts     string        `mapstructure:"known_hosts"`
	}
	require.NoError(t, DecodeSettings(cli.Settings, &s))

	assert.Equal(t, 45*time.Second, s.CommandTimeout)
	assert.Equal(t, []string{"terminal no monitor", "show clock"}, s.InitCommands)
	assert.Empty(t, s.KnownHosts)
}

func TestDecodeSettingsNormalizesKeys(t *testing.T) {
	var s struct {
		ConnectTimeout time.Duration
	}
	require.NoError(t, DecodeSettings(map[string]any{"connect-timeout": "2s"}, &s))
	assert.Equal(t, 2*time.Second, s.ConnectTimeout)

	require.NoError(t, DecodeSettings(nil, &s))
}
