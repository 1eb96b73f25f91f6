package bridge

import "time"

// RelayConfig configures batching of console output into chat messages.
type RelayConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled" env:"ENABLED"`
	IdleInterval   Duration `json:"idleInterval" yaml:"idleInterval" env:"IDLE_INTERVAL"`
	MaxLines       int      `json:"maxLines" yaml:"maxLines" env:"MAX_LINES"`
	RelayAdminChat bool     `json:"relayAdminChat" yaml:"relayAdminChat" env:"ADMIN_CHAT"`
	SystemName     string   `json:"systemName" yaml:"systemName" env:"SYSTEM_NAME"`
	QueueSize      int      `json:"queueSize" yaml:"queueSize" env:"QUEUE_SIZE"`
	// NoisePrefixes replaces the built-in list of ignored line prefixes.
	NoisePrefixes []string `json:"noisePrefixes,omitempty" yaml:"noisePrefixes,omitempty"`
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		Enabled:      true,
		IdleInterval: Duration(1500 * time.Millisecond),
		MaxLines:     15,
		SystemName:   "server",
		QueueSize:    64,
	}
}
