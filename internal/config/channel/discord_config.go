package channel

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Token   string `json:"token" yaml:"token" env:"TOKEN"`
	// ChannelID is the channel whose messages are relayed into the game.
	ChannelID string `json:"channelId" yaml:"channelId" env:"CHANNEL_ID"`
	// WebhookURL receives relayed console output, posted under each speaker's name.
	WebhookURL string   `json:"webhookUrl" yaml:"webhookUrl" env:"WEBHOOK"`
	AllowFrom  []string `json:"allowFrom" yaml:"allowFrom" env:"ALLOW_FROM" envSeparator:","`
	// Prefix marks bot commands, which are not relayed.
	Prefix     string `json:"prefix" yaml:"prefix" env:"PREFIX"`
	GatewayURL string `json:"gatewayUrl" yaml:"gatewayUrl"`
	Intents    int    `json:"intents" yaml:"intents"`
}

func DefaultDiscordConfig() DiscordConfig {
	return DiscordConfig{
		GatewayURL: "wss://gateway.discord.gg/?v=10&encoding=json",
		Intents:    37377, // GUILDS + GUILD_MESSAGES + DIRECT_MESSAGES + MESSAGE_CONTENT
		AllowFrom:  []string{},
		Prefix:     ">",
	}
}
