package bridge

import "time"

// HeartbeatConfig configures the periodic console liveness check.
type HeartbeatConfig struct {
	Enabled  bool     `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Interval Duration `json:"interval" yaml:"interval" env:"INTERVAL"`
	Command  string   `json:"command" yaml:"command" env:"COMMAND"`
}

func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Enabled:  true,
		Interval: Duration(5 * time.Minute),
		Command:  "status",
	}
}
