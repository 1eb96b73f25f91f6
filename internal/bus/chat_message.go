package bus

import "time"

// ChatMessage is a message posted by a person on a chat platform.
type ChatMessage struct {
	channel   Channel   // platform the message came from
	chatId    string    // chat / channel identifier
	senderId  string    // user identifier within the channel
	author    string    // display name shown in game
	content   string    // message text, already rewritten to plain text
	timestamp time.Time // when the message was received
}

// NewChatMessage creates a ChatMessage with Timestamp set to now.
func NewChatMessage(channel Channel, chatId, senderId, author, content string) ChatMessage {
	return ChatMessage{
		channel:   channel,
		chatId:    chatId,
		senderId:  senderId,
		author:    author,
		content:   content,
		timestamp: time.Now(),
	}
}

func (m ChatMessage) Channel() Channel     { return m.channel }
func (m ChatMessage) ChatId() string       { return m.chatId }
func (m ChatMessage) SenderId() string     { return m.senderId }
func (m ChatMessage) Author() string       { return m.author }
func (m ChatMessage) Content() string      { return m.content }
func (m ChatMessage) Timestamp() time.Time { return m.timestamp }

// Preview returns a short snippet of the message content for logging.
func (m ChatMessage) Preview() string {
	preview := []rune(m.content)
	if len(preview) > 80 {
		return string(preview[:80]) + "..."
	}
	return m.content
}
