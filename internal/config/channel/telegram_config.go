package channel

// TelegramConfig configures the Telegram channel.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Token     string   `json:"token" yaml:"token" env:"TOKEN"`
	ChatID    int64    `json:"chatId" yaml:"chatId" env:"CHAT_ID"`
	AllowFrom []string `json:"allowFrom" yaml:"allowFrom" env:"ALLOW_FROM" envSeparator:","`
}

func DefaultTelegramConfig() TelegramConfig {
	return TelegramConfig{AllowFrom: []string{}}
}
