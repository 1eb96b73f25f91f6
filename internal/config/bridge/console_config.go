// Package bridge holds the configuration of the console bridge: the console
// connection, the chat relay, the heartbeat and scheduled commands.
package bridge

import "time"

const (
	ModeProcess = "process"
	ModeTCP     = "tcp"
)

// ConsoleConfig configures the connection to the game server console.
type ConsoleConfig struct {
	// Mode is "process" to spawn the server, or "tcp" to dial its console socket.
	Mode    string            `json:"mode" yaml:"mode" env:"MODE"`
	Command string            `json:"command" yaml:"command" env:"COMMAND"`
	Args    []string          `json:"args" yaml:"args" env:"ARGS" envSeparator:" "`
	Dir     string            `json:"dir,omitempty" yaml:"dir,omitempty" env:"DIR"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Address string            `json:"address,omitempty" yaml:"address,omitempty" env:"ADDRESS"`

	DialTimeout  Duration `json:"dialTimeout" yaml:"dialTimeout" env:"DIAL_TIMEOUT"`
	BackoffBase  Duration `json:"backoffBase" yaml:"backoffBase" env:"BACKOFF_BASE"`
	BackoffMax   Duration `json:"backoffMax" yaml:"backoffMax" env:"BACKOFF_MAX"`
	HealthyAfter Duration `json:"healthyAfter" yaml:"healthyAfter" env:"HEALTHY_AFTER"`
	ChunkWindow  Duration `json:"chunkWindow" yaml:"chunkWindow" env:"CHUNK_WINDOW"`
	QueueSize    int      `json:"queueSize" yaml:"queueSize" env:"QUEUE_SIZE"`
	ReplyTimeout Duration `json:"replyTimeout" yaml:"replyTimeout" env:"REPLY_TIMEOUT"`
	WriteTimeout Duration `json:"writeTimeout" yaml:"writeTimeout" env:"WRITE_TIMEOUT"`
}

func DefaultConsoleConfig() ConsoleConfig {
	return ConsoleConfig{
		Mode:         ModeProcess,
		Command:      "bash",
		Args:         []string{"run.sh"},
		DialTimeout:  Duration(5 * time.Second),
		BackoffBase:  Duration(time.Second),
		BackoffMax:   Duration(time.Minute),
		HealthyAfter: Duration(30 * time.Second),
		ChunkWindow:  Duration(100 * time.Millisecond),
		QueueSize:    16,
		ReplyTimeout: Duration(5 * time.Second),
		WriteTimeout: Duration(5 * time.Second),
	}
}

// Target describes where the console lives, for status output.
func (c ConsoleConfig) Target() string {
	if c.Mode == ModeTCP {
		return "tcp://" + c.Address
	}
	target := c.Command
	for _, a := range c.Args {
		target += " " + a
	}
	return target
}
