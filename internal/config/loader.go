package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-viper/mapstructure/v2"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/spf13/viper"

	"github.com/zot/p2p-chat/internal/chat"
)

const (
	// ConfigName is the base name searched for when no path is given
	ConfigName = "p2p-chat"

	// EnvPrefix prefixes environment overrides, e.g. P2PCHAT_P2P_PORT=4001
	EnvPrefix = "P2PCHAT"
)

// Load reads configuration from path, or from p2p-chat.toml in the working
// directory or ~/.p2p-chat when path is empty. A missing file is not an
// error. Environment variables override file values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(ConfigName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, "."+ConfigName))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hooks); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// setDefaults seeds viper so environment-only settings are picked up
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("node.identityKey", cfg.Node.IdentityKey)

	v.SetDefault("p2p.listenHost", cfg.P2P.ListenHost)
	v.SetDefault("p2p.port", cfg.P2P.Port)
	v.SetDefault("p2p.topic", cfg.P2P.Topic)
	v.SetDefault("p2p.dedup", cfg.P2P.Dedup)
	v.SetDefault("p2p.mdns", cfg.P2P.MDNS)
	v.SetDefault("p2p.serviceName", cfg.P2P.ServiceName)
	v.SetDefault("p2p.discoveryTTL", cfg.P2P.DiscoveryTTL.String())
	v.SetDefault("p2p.staticPeers", cfg.P2P.StaticPeers)
	v.SetDefault("p2p.heartbeat", cfg.P2P.Heartbeat.String())
	v.SetDefault("p2p.seenTTL", cfg.P2P.SeenTTL.String())
	v.SetDefault("p2p.publishTimeout", cfg.P2P.PublishTimeout.String())
	v.SetDefault("p2p.connLow", cfg.P2P.ConnLow)
	v.SetDefault("p2p.connHigh", cfg.P2P.ConnHigh)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.maxSizeMB", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.maxBackups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.maxAgeDays", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
}

// Merge merges command-line flags into configuration.
// A negative port, zero verbosity or empty dedup leaves the value unchanged.
func (c *Config) Merge(port int, verbosity int, dedup string) {
	if port >= 0 {
		c.P2P.Port = port
	}

	switch {
	case verbosity >= 2:
		c.Log.Level = "debug"
	case verbosity == 1:
		c.Log.Level = "info"
	}

	if dedup != "" {
		c.P2P.Dedup = dedup
	}
}

// Validate checks if configuration values are valid
func (c *Config) Validate() error {
	if c.P2P.Port < 0 || c.P2P.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 0-65535)", c.P2P.Port)
	}

	if c.P2P.Topic == "" {
		return fmt.Errorf("topic cannot be empty")
	}

	if _, err := chat.NewFramer(c.P2P.Dedup); err != nil {
		return err
	}

	if c.P2P.DiscoveryTTL.Duration <= 0 {
		return fmt.Errorf("invalid discovery TTL: %v (must be positive)", c.P2P.DiscoveryTTL)
	}
	if c.P2P.Heartbeat.Duration <= 0 {
		return fmt.Errorf("invalid heartbeat: %v (must be positive)", c.P2P.Heartbeat)
	}
	if c.P2P.PublishTimeout.Duration <= 0 {
		return fmt.Errorf("invalid publish timeout: %v (must be positive)", c.P2P.PublishTimeout)
	}

	if c.P2P.ConnLow < 1 || c.P2P.ConnHigh < c.P2P.ConnLow {
		return fmt.Errorf("invalid connection limits: low %d, high %d", c.P2P.ConnLow, c.P2P.ConnHigh)
	}

	for _, s := range c.P2P.StaticPeers {
		if _, err := peer.AddrInfoFromString(s); err != nil {
			return fmt.Errorf("invalid static peer %q: %w", s, err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Log.Level)
	}
	return nil
}

// Encode writes the configuration as TOML
func (c *Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}
