package main

import (
	"fmt"
	"strings"

	"github.com/germanamz/netpilot/pkg/logging"
	"github.com/germanamz/netpilot/pkg/netops"
	"github.com/spf13/viper"
)

// settings are read from an optional file and NETPILOT_* environment
// variables, e.g. NETPILOT_LOG_LEVEL=debug or NETPILOT_RAW_MARKERS=uac,meraki.
type settings struct {
	Name       string         `mapstructure:"name"`
	RawMarkers []string       `mapstructure:"raw_markers"`
	Log        logging.Config `mapstructure:"log"`
}

func loadSettings(path string) (settings, error) {
	v := viper.New()
	v.SetEnvPrefix("NETPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("name", "netpilot")
	v.SetDefault("raw_markers", netops.DefaultRawMarkers)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return settings{}, fmt.Errorf("read config: %w", err)
		}
	}

	var s settings
	if err := v.Unmarshal(&s); err != nil {
		return settings{}, fmt.Errorf("decode config: %w", err)
	}

	return s, nil
}
