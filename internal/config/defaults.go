package config

import (
	"time"

	"github.com/zot/p2p-chat/internal/chat"
)

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		P2P: P2PConfig{
			ListenHost:     "0.0.0.0",
			Port:           0, // OS assigned
			Topic:          chat.DefaultTopic,
			Dedup:          chat.PolicyTimestamp,
			MDNS:           true,
			ServiceName:    "p2p-chat",
			DiscoveryTTL:   Duration{2 * time.Minute},
			StaticPeers:    []string{},
			Heartbeat:      Duration{time.Second},
			SeenTTL:        Duration{2 * time.Minute},
			PublishTimeout: Duration{5 * time.Second},
			ConnLow:        32,
			ConnHigh:       96,
		},
		Log: LogConfig{
			Level:   "warn",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/p2p-chat.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}
