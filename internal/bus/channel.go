// Package bus carries chat messages from chat platform channels to the
// console.
package bus

type Channel string

const (
	ChannelTelegram Channel = "telegram"
	ChannelDiscord  Channel = "discord"
	ChannelSlack    Channel = "slack"
	ChannelCLI      Channel = "cli"
	ChannelWeb      Channel = "web"
)
