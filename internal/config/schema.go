// Package config defines the configuration schema for panel.
//
// The file is JSON with camelCase keys, or YAML when the path ends in .yaml or
// .yml. Environment variables prefixed with PANEL_ override file values.
package config

import (
	"fmt"
	"strings"

	"github.com/bend-n/panel/internal/config/bridge"
	"github.com/bend-n/panel/internal/config/channel"
	"github.com/bend-n/panel/internal/config/gateway"
)

// Config is the root configuration object, loaded from ~/.panel/config.json.
type Config struct {
	Console   bridge.ConsoleConfig   `json:"console" yaml:"console" envPrefix:"CONSOLE_"`
	Relay     bridge.RelayConfig     `json:"relay" yaml:"relay" envPrefix:"RELAY_"`
	Heartbeat bridge.HeartbeatConfig `json:"heartbeat" yaml:"heartbeat" envPrefix:"HEARTBEAT_"`
	Schedule  bridge.ScheduleConfig  `json:"schedule" yaml:"schedule" envPrefix:"SCHEDULE_"`
	Web       gateway.GatewayConfig  `json:"web" yaml:"web" envPrefix:"WEB_"`
	Channels  channel.ChannelsConfig `json:"channels" yaml:"channels"`
}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() Config {
	return Config{
		Console:   bridge.DefaultConsoleConfig(),
		Relay:     bridge.DefaultRelayConfig(),
		Heartbeat: bridge.DefaultHeartbeatConfig(),
		Schedule:  bridge.DefaultScheduleConfig(),
		Web:       gateway.DefaultGatewayConfig(),
		Channels:  channel.DefaultChannelsConfig(),
	}
}

// Validate reports settings that would keep the bridge from starting.
func (c *Config) Validate() error {
	switch c.Console.Mode {
	case bridge.ModeProcess:
		if c.Console.Command == "" {
			return fmt.Errorf("console.command is required in %s mode", bridge.ModeProcess)
		}
	case bridge.ModeTCP:
		if c.Console.Address == "" {
			return fmt.Errorf("console.address is required in %s mode", bridge.ModeTCP)
		}
	default:
		return fmt.Errorf("console.mode must be %q or %q, got %q", bridge.ModeProcess, bridge.ModeTCP, c.Console.Mode)
	}
	if c.Console.BackoffMax != 0 && c.Console.BackoffMax < c.Console.BackoffBase {
		return fmt.Errorf("console.backoffMax (%s) is below console.backoffBase (%s)", c.Console.BackoffMax, c.Console.BackoffBase)
	}
	if c.Heartbeat.Enabled && strings.TrimSpace(c.Heartbeat.Command) == "" {
		return fmt.Errorf("heartbeat.command is required when heartbeat is enabled")
	}
	if c.Web.Enabled && (c.Web.Port <= 0 || c.Web.Port > 65535) {
		return fmt.Errorf("web.port %d out of range", c.Web.Port)
	}
	for i, j := range c.Schedule.Jobs {
		if j.Command == "" {
			return fmt.Errorf("schedule.jobs[%d]: command is required", i)
		}
		if (j.Every == 0) == (j.Cron == "") {
			return fmt.Errorf("schedule.jobs[%d]: set exactly one of every and cron", i)
		}
	}
	return nil
}

// EnabledChannels lists the chat platforms switched on in the config.
func (c *Config) EnabledChannels() []string {
	var out []string
	if c.Channels.Discord.Enabled {
		out = append(out, "discord")
	}
	if c.Channels.Slack.Enabled {
		out = append(out, "slack")
	}
	if c.Channels.Telegram.Enabled {
		out = append(out, "telegram")
	}
	return out
}
