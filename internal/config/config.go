package config

import "time"

// Config holds all node configuration
type Config struct {
	Node NodeConfig `toml:"node" mapstructure:"node"`
	P2P  P2PConfig  `toml:"p2p" mapstructure:"p2p"`
	Log  LogConfig  `toml:"log" mapstructure:"log"`
}

// NodeConfig holds identity settings
type NodeConfig struct {
	// IdentityKey is a libp2p config-encoded private key; empty means ephemeral
	IdentityKey string `toml:"identityKey" mapstructure:"identityKey"`
}

// P2PConfig holds transport and gossip settings
type P2PConfig struct {
	ListenHost     string   `toml:"listenHost" mapstructure:"listenHost"`
	Port           int      `toml:"port" mapstructure:"port"`
	Topic          string   `toml:"topic" mapstructure:"topic"`
	Dedup          string   `toml:"dedup" mapstructure:"dedup"`
	MDNS           bool     `toml:"mdns" mapstructure:"mdns"`
	ServiceName    string   `toml:"serviceName" mapstructure:"serviceName"`
	DiscoveryTTL   Duration `toml:"discoveryTTL" mapstructure:"discoveryTTL"`
	StaticPeers    []string `toml:"staticPeers" mapstructure:"staticPeers"`
	Heartbeat      Duration `toml:"heartbeat" mapstructure:"heartbeat"`
	SeenTTL        Duration `toml:"seenTTL" mapstructure:"seenTTL"`
	PublishTimeout Duration `toml:"publishTimeout" mapstructure:"publishTimeout"`
	ConnLow        int      `toml:"connLow" mapstructure:"connLow"`
	ConnHigh       int      `toml:"connHigh" mapstructure:"connHigh"`
}

// LogConfig defines logger settings
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `toml:"level" mapstructure:"level"`
	// Format: console or json
	Format string `toml:"format" mapstructure:"format"`
	// Outputs: stdout, stderr or file paths
	Outputs     []string       `toml:"outputs" mapstructure:"outputs"`
	Rotation    RotationConfig `toml:"rotation" mapstructure:"rotation"`
	Development bool           `toml:"development" mapstructure:"development"`
}

// RotationConfig controls rotation of file outputs
type RotationConfig struct {
	Enable     bool   `toml:"enable" mapstructure:"enable"`
	Filename   string `toml:"filename" mapstructure:"filename"`
	MaxSizeMB  int    `toml:"maxSizeMB" mapstructure:"maxSizeMB"`
	MaxBackups int    `toml:"maxBackups" mapstructure:"maxBackups"`
	MaxAgeDays int    `toml:"maxAgeDays" mapstructure:"maxAgeDays"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// Duration wraps time.Duration for TOML parsing
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}
