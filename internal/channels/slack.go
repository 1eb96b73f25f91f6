package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	slackgo "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/bend-n/panel/internal/bus"
	"github.com/bend-n/panel/internal/config/channel"
	"github.com/bend-n/panel/internal/relay"
)

// slackPoster is the part of the Slack web API used for delivery.
type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackgo.MsgOption) (string, string, error)
}

// SlackChannel implements Slack via Socket Mode.
type SlackChannel struct {
	Base
	cfg       *channel.SlackConfig
	webClient *slackgo.Client
	poster    slackPoster
	smClient  *socketmode.Client
	botUserID string
	names     map[string]string // user ID → display name
}

func NewSlackChannel(cfg *channel.SlackConfig, b *bus.ChatBus) *SlackChannel {
	s := &SlackChannel{
		Base:  NewBase(bus.ChannelSlack, b, cfg.AllowFrom),
		cfg:   cfg,
		names: make(map[string]string),
	}
	if cfg.BotToken != "" {
		s.webClient = slackgo.New(cfg.BotToken, slackgo.OptionAppLevelToken(cfg.AppToken))
		s.poster = s.webClient
	}
	return s
}

func (s *SlackChannel) Name() string { return string(bus.ChannelSlack) }

func (s *SlackChannel) Start(ctx context.Context) error {
	if s.webClient == nil || s.cfg.AppToken == "" {
		slog.Warn("slack: bot/app token not configured, relaying output only")
		<-ctx.Done()
		return ctx.Err()
	}

	// Resolve bot user ID.
	if resp, err := s.webClient.AuthTestContext(ctx); err == nil {
		s.botUserID = resp.UserID
		slog.Info("slack: connected", "bot_user_id", s.botUserID)
	}

	s.smClient = socketmode.New(s.webClient)

	go s.smClient.RunContext(ctx) //nolint:errcheck

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-s.smClient.Events:
			if !ok {
				return nil
			}
			s.handleEvent(ctx, evt)
		}
	}
}

func (s *SlackChannel) handleEvent(ctx context.Context, evt socketmode.Event) {
	if evt.Type != socketmode.EventTypeEventsAPI {
		return
	}
	if evt.Request != nil {
		s.smClient.Ack(*evt.Request)
	}
	cb, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	if msg, ok := cb.InnerEvent.Data.(*slackevents.MessageEvent); ok {
		s.handleMessage(ctx, msg)
	}
}

func (s *SlackChannel) handleMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	if ev.SubType != "" || ev.BotID != "" || ev.User == "" || ev.User == s.botUserID {
		return
	}
	if s.cfg.ChannelID != "" && ev.Channel != s.cfg.ChannelID {
		return
	}
	s.HandleMessage(ctx, ev.User, ev.Channel, s.displayName(ctx, ev.User), unescapeSlack(ev.Text))
}

func (s *SlackChannel) displayName(ctx context.Context, userID string) string {
	if n, ok := s.names[userID]; ok {
		return n
	}
	name := userID
	if s.webClient != nil {
		if u, err := s.webClient.GetUserInfoContext(ctx, userID); err == nil {
			name = u.Profile.DisplayName
			if name == "" {
				name = u.RealName
			}
			if name == "" {
				name = u.Name
			}
		}
	}
	s.names[userID] = name
	return name
}

// unescapeSlack reverses the HTML entity escaping Slack applies to message text.
func unescapeSlack(text string) string {
	r := strings.NewReplacer("&lt;", "<", "&gt;", ">", "&amp;", "&")
	return r.Replace(text)
}

// Deliver posts msg to the relay channel under the speaker's name.
func (s *SlackChannel) Deliver(ctx context.Context, msg relay.Message) error {
	if s.poster == nil {
		return fmt.Errorf("slack: bot token not configured")
	}
	if s.cfg.ChannelID == "" {
		return fmt.Errorf("slack: channelId not configured")
	}
	_, _, err := s.poster.PostMessageContext(ctx, s.cfg.ChannelID,
		slackgo.MsgOptionText(msg.Content, false),
		slackgo.MsgOptionUsername(msg.Speaker),
		slackgo.MsgOptionDisableLinkUnfurl(),
	)
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}
