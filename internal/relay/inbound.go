package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bend-n/panel/internal/bus"
	"github.com/bend-n/panel/internal/console"
)

// Issuer writes a command to the game console.
type Issuer interface {
	Issue(command string) error
}

// SayCommands renders a chat platform message as one in-game "say" command
// per non-empty line. Brackets in the author's name are doubled so the game
// shows them instead of reading them as color markup.
func SayCommands(author, content string) []string {
	name := strings.ReplaceAll(author, "[", "[[")
	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(strings.ReplaceAll(line, "\r", ""))
		if line == "" {
			continue
		}
		out = append(out, fmt.Sprintf("say [coral][[[scarlet]%s[coral]]:[white] %s", name, line))
	}
	return out
}

// Inbound forwards chat platform messages into the game.
type Inbound struct {
	issuer  Issuer
	bus     *bus.ChatBus
	metrics *Metrics
}

// NewInbound creates an Inbound that reads from b and writes to issuer.
func NewInbound(issuer Issuer, b *bus.ChatBus, m *Metrics) *Inbound {
	return &Inbound{issuer: issuer, bus: b, metrics: m}
}

// Run forwards messages until ctx is cancelled.
func (in *Inbound) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-in.bus.Subscribe():
			in.forward(msg)
		}
	}
}

func (in *Inbound) forward(msg bus.ChatMessage) {
	for _, cmd := range SayCommands(msg.Author(), msg.Content()) {
		if err := in.issuer.Issue(cmd); err != nil {
			level := slog.LevelError
			if errors.Is(err, console.ErrNotConnected) {
				level = slog.LevelWarn
			}
			slog.Log(context.Background(), level, "relay: forward failed",
				"channel", msg.Channel(), "chat_id", msg.ChatId(), "sender", msg.SenderId(), "err", err)
			return
		}
		in.metrics.forward(string(msg.Channel()))
	}
	slog.Debug("relay: forwarded", "channel", msg.Channel(), "chat_id", msg.ChatId(), "author", msg.Author(),
		"queued", time.Since(msg.Timestamp()).Round(time.Millisecond), "preview", msg.Preview())
}
