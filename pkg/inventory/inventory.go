// Package inventory loads the device testbed file: a YAML document naming
// network devices and how to reach them.
//
// The accepted layout is the common subset of pyATS testbed files:
//
//	testbed:
//	  name: lab
//	  credentials:
//	    default: {username: admin, password: "%ENV{LAB_PASSWORD}"}
//	devices:
//	  switch1:
//	    os: iosxe
//	    type: switch
//	    credentials:
//	      enable: {password: "${ENABLE_SECRET}"}
//	    connections:
//	      cli:
//	        protocol: ssh
//	        ip: 10.0.0.11
//	        port: 22
//	        settings:
//	          command_timeout: 30s
//
// Both ${VAR} and %ENV{VAR} references are expanded from the process
// environment before parsing.
package inventory

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the inventory file used when a caller does not name one.
const DefaultPath = "testbed.yaml"

// ErrUnknownDevice is returned by Device when the name is not in the
// inventory.
var ErrUnknownDevice = errors.New("inventory: unknown device")

// Credential is a username/password pair.
type Credential struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Connection describes one way of reaching a device.
type Connection struct {
	Protocol string         `yaml:"protocol"`
	IP       string         `yaml:"ip"`
	Host     string         `yaml:"host"`
	Port     int            `yaml:"port"`
	Settings map[string]any `yaml:"settings"`
}

// Address returns the host part to dial, preferring IP over Host.
func (c Connection) Address() string {
	if c.IP != "" {
		return c.IP
	}
	return c.Host
}

// Device is a resolved device descriptor. Credentials already include the
// testbed defaults.
type Device struct {
	Name        string                `yaml:"-"`
	Alias       string                `yaml:"alias"`
	OS          string                `yaml:"os"`
	Type        string                `yaml:"type"`
	Platform    string                `yaml:"platform"`
	Credentials map[string]Credential `yaml:"credentials"`
	Connections map[string]Connection `yaml:"connections"`
}

// Credential returns the named credential, or false.
func (d Device) Credential(name string) (Credential, bool) {
	c, ok := d.Credentials[name]
	return c, ok
}

// CLI returns the connection used for command-line sessions: the one named
// "cli", otherwise "default", otherwise the first ssh connection by name.
func (d Device) CLI() (Connection, error) {
	for _, name := range []string{"cli", "default"} {
		if c, ok := d.Connections[name]; ok {
			return c, nil
		}
	}

	names := make([]string, 0, len(d.Connections))
	for n := range d.Connections {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		c := d.Connections[n]
		if c.Protocol == "" || c.Protocol == "ssh" {
			return c, nil
		}
	}

	return Connection{}, fmt.Errorf("inventory: device %q has no ssh connection", d.Name)
}

// Testbed is a parsed inventory file.
type Testbed struct {
	Name    string
	Devices map[string]Device
}

// Device returns the device registered under name.
func (t *Testbed) Device(name string) (Device, error) {
	d, ok := t.Devices[name]
	if !ok {
		return Device{}, fmt.Errorf("%w %q in testbed %q", ErrUnknownDevice, name, t.Name)
	}
	return d, nil
}

// Names returns the device names in order.
func (t *Testbed) Names() []string {
	names := make([]string, 0, len(t.Devices))
	for n := range t.Devices {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type fileLayout struct {
	Testbed struct {
		Name        string                `yaml:"name"`
		Credentials map[string]Credential `yaml:"credentials"`
	} `yaml:"testbed"`
	Devices map[string]Device `yaml:"devices"`
}

// Load reads and parses the inventory at path. Nothing is cached; every call
// reads the file again.
func Load(path string) (*Testbed, error) {
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is operator-provided inventory
	if err != nil {
		return nil, fmt.Errorf("inventory: load %s: %w", path, err)
	}

	return Parse(data)
}

var pyatsEnvRef = regexp.MustCompile(`%ENV\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Parse parses inventory YAML after expanding environment references.
func Parse(data []byte) (*Testbed, error) {
	expanded := pyatsEnvRef.ReplaceAllStringFunc(string(data), func(ref string) string {
		return os.Getenv(pyatsEnvRef.FindStringSubmatch(ref)[1])
	})
	expanded = os.ExpandEnv(expanded)

	var raw fileLayout
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("inventory: parse: %w", err)
	}

	if len(raw.Devices) == 0 {
		return nil, errors.New("inventory: no devices defined")
	}

	tb := &Testbed{
		Name:    raw.Testbed.Name,
		Devices: make(map[string]Device, len(raw.Devices)),
	}

	for name, d := range raw.Devices {
		d.Name = name
		d.Credentials = mergeCredentials(raw.Testbed.Credentials, d.Credentials)
		tb.Devices[name] = d
	}

	return tb, nil
}

// mergeCredentials overlays device credentials on testbed defaults. Empty
// device fields fall back to the testbed value of the same credential.
func mergeCredentials(base, own map[string]Credential) map[string]Credential {
	out := make(map[string]Credential, len(base)+len(own))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range own {
		b := out[k]
		if v.Username == "" {
			v.Username = b.Username
		}
		if v.Password == "" {
			v.Password = b.Password
		}
		out[k] = v
	}
	return out
}
