package channel

// SlackConfig configures the Slack channel.
type SlackConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	BotToken  string `json:"botToken" yaml:"botToken" env:"BOT_TOKEN"`
	AppToken  string `json:"appToken" yaml:"appToken" env:"APP_TOKEN"`
	ChannelID string `json:"channelId" yaml:"channelId" env:"CHANNEL_ID"`
	// AllowFrom restricts which user IDs are relayed into the game; empty allows all.
	AllowFrom []string `json:"allowFrom" yaml:"allowFrom" env:"ALLOW_FROM" envSeparator:","`
}

func DefaultSlackConfig() SlackConfig {
	return SlackConfig{AllowFrom: []string{}}
}
