// Package channels connects chat platforms to the console bridge: relayed
// console output is delivered to them and their messages are published on the
// chat bus.
package channels

import (
	"context"
	"log/slog"
	"strings"

	"github.com/bend-n/panel/internal/bus"
	"github.com/bend-n/panel/internal/relay"
)

// Channel is the interface every chat-platform adapter implements.
type Channel interface {
	// Name returns the unique channel identifier (e.g. "discord").
	Name() string
	// Start listens for incoming messages; it blocks until ctx is cancelled.
	Start(ctx context.Context) error
	// Deliver posts one relayed console message to the platform.
	Deliver(ctx context.Context, msg relay.Message) error
}

// Base holds common state and helper methods shared by all channels.
type Base struct {
	channelName bus.Channel
	b           *bus.ChatBus
	allowFrom   []string // empty = allow all
}

// NewBase creates a Base with the given channel name, bus, and allowlist.
func NewBase(name bus.Channel, b *bus.ChatBus, allowFrom []string) Base {
	return Base{channelName: name, b: b, allowFrom: allowFrom}
}

// IsAllowed checks whether senderID is on the allowlist.
// senderID may be "id|username" (Telegram) or a plain string.
func (b *Base) IsAllowed(senderID string) bool {
	if len(b.allowFrom) == 0 {
		return true
	}
	for _, part := range strings.Split(senderID, "|") {
		if part == "" {
			continue
		}
		for _, allowed := range b.allowFrom {
			if allowed == part {
				return true
			}
		}
	}
	return false
}

// HandleMessage verifies the sender is allowed, then publishes the message on
// the chat bus.
func (b *Base) HandleMessage(ctx context.Context, senderID, chatID, author, content string) {
	if !b.IsAllowed(senderID) {
		slog.Warn("access denied", "channel", b.channelName, "sender", senderID)
		return
	}
	if strings.TrimSpace(content) == "" {
		return
	}
	msg := bus.NewChatMessage(b.channelName, chatID, senderID, author, content)
	if err := b.b.Publish(ctx, msg); err != nil {
		slog.Warn("chat message dropped", "channel", b.channelName, "err", err)
	}
}

// splitMessage splits content into chunks that fit within maxLen,
// preferring newline breaks, then space breaks, then hard cut.
func splitMessage(content string, maxLen int) []string {
	if len(content) <= maxLen {
		return []string{content}
	}
	var chunks []string
	for len(content) > 0 {
		if len(content) <= maxLen {
			chunks = append(chunks, content)
			break
		}
		cut := content[:maxLen]
		pos := strings.LastIndex(cut, "\n")
		if pos <= 0 {
			pos = strings.LastIndex(cut, " ")
		}
		if pos <= 0 {
			pos = maxLen
		}
		chunks = append(chunks, content[:pos])
		content = strings.TrimLeft(content[pos:], " \t\n")
	}
	return chunks
}

func htmlEscape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
