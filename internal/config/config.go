// Package config loads the client configuration: defaults first, an
// optional YAML file on top, DUET_* environment variables last.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores all parameters for the client and the dev relay.
type Config struct {
	ServerURL string   `mapstructure:"server_url"` // relay WebSocket endpoint
	Secret    string   `mapstructure:"secret"`     // shared secret for the daily room ID
	STUN      []string `mapstructure:"stun_servers"`

	MediaTimeout       time.Duration `mapstructure:"media_timeout"`
	RingTimeout        time.Duration `mapstructure:"ring_timeout"`
	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`

	RelayAddr string `mapstructure:"relay_addr"` // duet-relay listen address
}

// Load reads the configuration. A missing config file is not an error —
// the defaults plus environment variables are a complete configuration.
func Load(file string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("server_url", "ws://localhost:5000/ws")
	v.SetDefault("secret", "ourSecret123")
	v.SetDefault("stun_servers", []string{
		"stun:stun.l.google.com:19302",
		"stun:stun1.l.google.com:19302",
	})
	v.SetDefault("media_timeout", "30s")
	v.SetDefault("ring_timeout", "60s")
	v.SetDefault("negotiation_timeout", "45s")
	v.SetDefault("relay_addr", ":5000")

	v.SetEnvPrefix("duet")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Only "no config file found" is tolerable; a file that exists but
	// cannot be read must not silently degrade to the defaults.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
