package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/bend-n/panel/internal/bus"
	"github.com/bend-n/panel/internal/config"
	"github.com/bend-n/panel/internal/relay"
)

// Manager owns all enabled channels and fans relayed console output out to
// them. It implements relay.Sink.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// NewManager creates a Manager and initialises all enabled chat channels.
func NewManager(cfg *config.Config, b *bus.ChatBus) *Manager {
	m := &Manager{channels: make(map[string]Channel)}

	if cfg.Channels.Telegram.Enabled {
		m.Register(NewTelegramChannel(&cfg.Channels.Telegram, b))
	}
	if cfg.Channels.Discord.Enabled {
		m.Register(NewDiscordChannel(&cfg.Channels.Discord, b))
	}
	if cfg.Channels.Slack.Enabled {
		m.Register(NewSlackChannel(&cfg.Channels.Slack, b))
	}
	return m
}

// Register adds ch, replacing any channel with the same name.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	m.channels[ch.Name()] = ch
	m.mu.Unlock()
	slog.Info("channel enabled", "name", ch.Name())
}

// EnabledChannels returns the names of all registered channels, sorted.
func (m *Manager) EnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for n := range m.channels {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) snapshot() []Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, ch)
	}
	return out
}

// StartAll starts all channels concurrently. A channel that fails is logged
// and left stopped; the others keep running. Blocks until ctx is cancelled.
func (m *Manager) StartAll(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, ch := range m.snapshot() {
		wg.Add(1)
		go func(c Channel) {
			defer wg.Done()
			slog.Info("starting channel", "name", c.Name())
			if err := c.Start(ctx); err != nil && ctx.Err() == nil {
				slog.Error("channel exited with error", "name", c.Name(), "err", err)
			}
		}(ch)
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Deliver posts msg to every channel concurrently. Failures are joined; a
// failing channel does not keep the others from receiving msg.
func (m *Manager) Deliver(ctx context.Context, msg relay.Message) error {
	chans := m.snapshot()
	errs := make([]error, len(chans))
	var wg sync.WaitGroup
	for i, ch := range chans {
		i, ch := i, ch
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ch.Deliver(ctx, msg); err != nil {
				errs[i] = fmt.Errorf("%s: %w", ch.Name(), err)
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
