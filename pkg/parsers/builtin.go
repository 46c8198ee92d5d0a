package parsers

import "regexp"

func registerBuiltins(r *Registry) {
	r.Register("ios", "show version", Fields{
		Root: "version",
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?m)^Cisco IOS.*Software.*Version (?P<version>[^\s,]+)`),
			regexp.MustCompile(`(?m)^\s*NXOS: version (?P<version>\S+)`),
			regexp.MustCompile(`(?m)^(?P<os>Cisco IOS XE|Cisco IOS XR|Cisco IOS|Cisco Nexus Operating System)`),
			regexp.MustCompile(`(?m)^(?P<hostname>\S+) uptime is (?P<uptime>.+)$`),
			regexp.MustCompile(`(?m)^\s*Device name: (?P<hostname>\S+)`),
			regexp.MustCompile(`(?m)^System image file is "(?P<image>[^"]+)"`),
			regexp.MustCompile(`(?m)^[Cc]isco (?P<chassis>\S+) \(.*\) processor`),
			regexp.MustCompile(`(?m)^Processor board ID (?P<serial_number>\S+)`),
			regexp.MustCompile(`(?m)^Configuration register is (?P<config_register>\S+)`),
		},
	})

	r.Register("ios", "show ip interface brief", Table{
		Root:  "interface",
		Key:   "interface",
		Start: regexp.MustCompile(`^(?P<interface>\S+)\s+(?P<ip_address>\S+)\s+(?P<interface_is_ok>YES|NO)\s+(?P<method>\S+)\s+(?P<status>up|down|administratively down|deleted)\s+(?P<protocol>up|down)\s*$`),
	})

	r.Register("ios", "show interfaces description", Table{
		Root:  "interfaces",
		Key:   "interface",
		Start: regexp.MustCompile(`^(?P<interface>\S+)\s+(?P<status>admin down|up|down|deleted)\s+(?P<protocol>up|down)(?:\s+(?P<description>.*?))?\s*$`),
	})

	r.Register("ios", "show vlan brief", Table{
		Root:  "vlans",
		Key:   "vlan_id",
		Start: regexp.MustCompile(`^(?P<vlan_id>\d+)\s+(?P<name>\S+)\s+(?P<state>active|suspended|act/lshut|sus/lshut|act/unsup)\s*(?P<interfaces>.*)$`),
		Continue: []*regexp.Regexp{
			regexp.MustCompile(`^\s+(?P<interfaces>\S.*)$`),
		},
		Lists: map[string]string{"interfaces": ","},
	})

	r.Register("ios", "show inventory", Table{
		Root:  "inventory",
		Key:   "name",
		Start: regexp.MustCompile(`^NAME:\s*"(?P<name>[^"]*)",\s*DESCR:\s*"(?P<description>[^"]*)"`),
		Continue: []*regexp.Regexp{
			regexp.MustCompile(`^PID:\s*(?P<pid>\S*)\s*,\s*VID:\s*(?P<vid>\S*)\s*,\s*SN:\s*(?P<serial_number>\S*)`),
		},
	})
}
