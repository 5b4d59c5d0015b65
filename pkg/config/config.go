// Package config loads the ledger daemon's configuration from a YAML
// file, an optional .env overlay, and the environment. Grounded on the
// teacher's pkg/config/config.go: viper + godotenv + mapstructure struct
// tags, versioned so callers can depend on a stable contract.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/elBradford/privledge/core"
	"github.com/elBradford/privledge/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// FileConfig mirrors the YAML shape of the config file passed to Load.
type FileConfig struct {
	BindIP             string `mapstructure:"bind_ip" yaml:"bind_ip"`
	BindPort           int    `mapstructure:"bind_port" yaml:"bind_port"`
	MsgSizeBytes       int    `mapstructure:"msg_size_bytes" yaml:"msg_size_bytes"`
	DiscoveryTimeoutS  int    `mapstructure:"discovery_timeout" yaml:"discovery_timeout"`
	MsgHBFreqS         int    `mapstructure:"msg_hb_freq" yaml:"msg_hb_freq"`
	MsgHBTTLMs         int    `mapstructure:"msg_hb_ttl" yaml:"msg_hb_ttl"`
	Debug              int    `mapstructure:"debug" yaml:"debug"`
	StatusAddr         string `mapstructure:"status_addr" yaml:"status_addr"`
}

func defaults() FileConfig {
	d := core.DefaultConfig()
	return FileConfig{
		BindIP:            d.BindIP,
		BindPort:          d.BindPort,
		MsgSizeBytes:      d.MsgSizeBytes,
		DiscoveryTimeoutS: int(d.DiscoveryTimeout / time.Second),
		MsgHBFreqS:        int(d.HBFreq / time.Second),
		MsgHBTTLMs:        int(d.HBTTL / time.Millisecond),
		Debug:             d.Debug,
		StatusAddr:        "127.0.0.1:8585",
	}
}

// Load loads a ".env" file from the working directory if present, reads
// configPath (a YAML file) if one is given, applies environment variables
// prefixed LEDGERD_, and returns the resulting core.Config plus the status
// server bind address.
//
// An empty configPath is not an error: built-in defaults apply. A
// configPath that is given but cannot be read is an error. LEDGERD_CONFIG,
// when set, takes precedence over configPath so a deployment can
// select its config file purely through the environment - viper's own
// AutomaticEnv only binds keys already read from a config file, so it
// cannot resolve the path to that file itself.
func Load(configPath string) (core.Config, string, error) {
	_ = godotenv.Load() // best-effort; absence of .env is not an error

	configPath = utils.EnvOrDefault("LEDGERD_CONFIG", configPath)

	v := viper.New()
	d := defaults()
	d.Debug = utils.EnvOrDefaultInt("LEDGERD_DEBUG", d.Debug)
	v.SetDefault("bind_ip", d.BindIP)
	v.SetDefault("bind_port", d.BindPort)
	v.SetDefault("msg_size_bytes", d.MsgSizeBytes)
	v.SetDefault("discovery_timeout", d.DiscoveryTimeoutS)
	v.SetDefault("msg_hb_freq", d.MsgHBFreqS)
	v.SetDefault("msg_hb_ttl", d.MsgHBTTLMs)
	v.SetDefault("debug", d.Debug)
	v.SetDefault("status_addr", d.StatusAddr)

	v.SetEnvPrefix("LEDGERD")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return core.Config{}, "", utils.Wrap(err, "load config")
		}
	}

	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return core.Config{}, "", utils.Wrap(err, "unmarshal config")
	}

	if fc.BindPort <= 0 || fc.BindPort > 65535 {
		return core.Config{}, "", fmt.Errorf("config: bind_port %d out of range", fc.BindPort)
	}
	if fc.MsgSizeBytes <= 0 {
		return core.Config{}, "", fmt.Errorf("config: msg_size_bytes must be positive")
	}

	cfg := core.Config{
		BindIP:           fc.BindIP,
		BindPort:         fc.BindPort,
		MsgSizeBytes:     fc.MsgSizeBytes,
		DiscoveryTimeout: time.Duration(fc.DiscoveryTimeoutS) * time.Second,
		HBFreq:           time.Duration(fc.MsgHBFreqS) * time.Second,
		HBTTL:            time.Duration(fc.MsgHBTTLMs) * time.Millisecond,
		Debug:            fc.Debug,
	}
	return cfg, fc.StatusAddr, nil
}
