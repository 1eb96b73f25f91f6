package channel

type ChannelsConfig struct {
	Discord  DiscordConfig  `json:"discord" yaml:"discord" envPrefix:"DISCORD_"`
	Slack    SlackConfig    `json:"slack" yaml:"slack" envPrefix:"SLACK_"`
	Telegram TelegramConfig `json:"telegram" yaml:"telegram" envPrefix:"TELEGRAM_"`
}

func DefaultChannelsConfig() ChannelsConfig {
	return ChannelsConfig{
		Discord:  DefaultDiscordConfig(),
		Slack:    DefaultSlackConfig(),
		Telegram: DefaultTelegramConfig(),
	}
}
