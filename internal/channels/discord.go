package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bend-n/panel/internal/bus"
	"github.com/bend-n/panel/internal/config/channel"
	"github.com/bend-n/panel/internal/relay"
)

const (
	discordAPI        = "https://discord.com/api/v10"
	discordMaxMsgLen  = 2000
	discordMaxNameLen = 80
)

// DiscordChannel reads the relay channel over the Discord Gateway WebSocket
// and posts console output through a webhook, one webhook identity per speaker.
type DiscordChannel struct {
	Base
	cfg        *channel.DiscordConfig
	httpClient *http.Client
	retryDelay time.Duration
	api        string
	seq        atomic.Int64 // last dispatch sequence, -1 before the first
}

func NewDiscordChannel(cfg *channel.DiscordConfig, b *bus.ChatBus) *DiscordChannel {
	d := &DiscordChannel{
		Base:       NewBase(bus.ChannelDiscord, b, cfg.AllowFrom),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retryDelay: time.Second,
		api:        discordAPI,
	}
	d.seq.Store(-1)
	return d
}

func (d *DiscordChannel) Name() string { return string(bus.ChannelDiscord) }

func (d *DiscordChannel) Start(ctx context.Context) error {
	if d.cfg.Token == "" {
		if d.cfg.WebhookURL == "" {
			return fmt.Errorf("discord: neither token nor webhook configured")
		}
		slog.Info("discord: no token, relaying output only")
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		if err := d.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("discord: gateway disconnected", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}

func (d *DiscordChannel) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, d.cfg.GatewayURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	slog.Info("discord: gateway connected")
	return d.gatewayLoop(ctx, conn)
}

type gatewayPayload struct {
	Op int             `json:"op"`
	S  *int64          `json:"s"`
	T  string          `json:"t"`
	D  json.RawMessage `json:"d"`
}

func (d *DiscordChannel) gatewayLoop(ctx context.Context, conn *websocket.Conn) error {
	heartbeatStop := make(chan struct{})
	defer close(heartbeatStop)

	w := &gatewayWriter{conn: conn}
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var payload gatewayPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			continue
		}
		if payload.S != nil {
			d.seq.Store(*payload.S)
		}

		switch payload.Op {
		case 10: // HELLO
			var hello struct {
				HeartbeatInterval int `json:"heartbeat_interval"`
			}
			_ = json.Unmarshal(payload.D, &hello)
			interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
			go d.heartbeatLoop(ctx, w, interval, heartbeatStop)
			if err := w.write(d.identifyPayload()); err != nil {
				return err
			}
		case 0: // DISPATCH
			if payload.T == "MESSAGE_CREATE" {
				d.handleMessageCreate(ctx, payload.D)
			}
		case 7, 9: // RECONNECT / INVALID_SESSION
			return fmt.Errorf("discord: gateway requested reconnect (op=%d)", payload.Op)
		}
	}
}

// gatewayWriter serializes websocket writes between the read loop and heartbeats.
type gatewayWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *gatewayWriter) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (d *DiscordChannel) heartbeatLoop(ctx context.Context, w *gatewayWriter, interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		return
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			var seq any
			if s := d.seq.Load(); s >= 0 {
				seq = s
			}
			_ = w.write(map[string]any{"op": 1, "d": seq})
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (d *DiscordChannel) identifyPayload() map[string]any {
	return map[string]any{
		"op": 2,
		"d": map[string]any{
			"token":   d.cfg.Token,
			"intents": d.cfg.Intents,
			"properties": map[string]any{
				"os": "panel", "browser": "panel", "device": "panel",
			},
		},
	}
}

type discordUser struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
	Bot        bool   `json:"bot"`
}

type discordMessage struct {
	ID        string      `json:"id"`
	ChannelID string      `json:"channel_id"`
	WebhookID string      `json:"webhook_id"`
	Content   string      `json:"content"`
	Author    discordUser `json:"author"`
	Member    *struct {
		Nick string `json:"nick"`
	} `json:"member"`
	Mentions []discordUser `json:"mentions"`
}

func (u discordUser) displayName() string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

func (d *DiscordChannel) handleMessageCreate(ctx context.Context, raw json.RawMessage) {
	var msg discordMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		slog.Debug("discord: bad MESSAGE_CREATE", "err", err)
		return
	}
	// Webhook posts include our own relayed output.
	if msg.Author.Bot || msg.WebhookID != "" || msg.Author.ID == "" {
		return
	}
	if d.cfg.ChannelID != "" && msg.ChannelID != d.cfg.ChannelID {
		return
	}
	if d.cfg.Prefix != "" && strings.HasPrefix(msg.Content, d.cfg.Prefix) {
		return
	}

	author := msg.Author.displayName()
	if msg.Member != nil && msg.Member.Nick != "" {
		author = msg.Member.Nick
	}
	d.HandleMessage(ctx, msg.Author.ID, msg.ChannelID, author, rewriteDiscordMarkup(msg.Content, msg.Mentions))
}

var (
	reDiscordUser  = regexp.MustCompile(`<@!?(\d+)>`)
	reDiscordRole  = regexp.MustCompile(`<@&\d+>`)
	reDiscordEmoji = regexp.MustCompile(`<a?:(\w+):\d+>`)
)

// rewriteDiscordMarkup turns user mentions into "@name" and custom emoji into
// ":name:" so the message reads naturally in game.
func rewriteDiscordMarkup(content string, mentions []discordUser) string {
	names := make(map[string]string, len(mentions))
	for _, u := range mentions {
		names[u.ID] = u.displayName()
	}
	content = reDiscordUser.ReplaceAllStringFunc(content, func(m string) string {
		id := reDiscordUser.FindStringSubmatch(m)[1]
		if n, ok := names[id]; ok {
			return "@" + n
		}
		return "@unknown"
	})
	content = reDiscordRole.ReplaceAllString(content, "@role")
	return reDiscordEmoji.ReplaceAllString(content, ":$1:")
}

// Deliver posts msg through the webhook under the speaker's name, or as the
// bot into the relay channel when no webhook is configured.
func (d *DiscordChannel) Deliver(ctx context.Context, msg relay.Message) error {
	for _, chunk := range splitMessage(msg.Content, discordMaxMsgLen) {
		var err error
		if d.cfg.WebhookURL != "" {
			err = d.postJSON(ctx, d.cfg.WebhookURL, false, map[string]any{
				"content":          chunk,
				"username":         webhookName(msg.Speaker),
				"allowed_mentions": map[string]any{"parse": []string{}},
			})
		} else if d.cfg.ChannelID != "" && d.cfg.Token != "" {
			err = d.postJSON(ctx, d.api+"/channels/"+d.cfg.ChannelID+"/messages", true, map[string]any{
				"content":          "**" + msg.Speaker + "**: " + chunk,
				"allowed_mentions": map[string]any{"parse": []string{}},
			})
		} else {
			return fmt.Errorf("discord: no webhook or channel to deliver to")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func webhookName(speaker string) string {
	r := []rune(strings.TrimSpace(speaker))
	if len(r) == 0 {
		return "server"
	}
	if len(r) > discordMaxNameLen {
		r = r[:discordMaxNameLen]
	}
	return string(r)
}

func (d *DiscordChannel) postJSON(ctx context.Context, url string, auth bool, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var lastErr error
	for attempt := 0; attempt < discordAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, retryWait(lastErr, d.retryDelay)); err != nil {
				return err
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return err
		}
		if auth {
			req.Header.Set("Authorization", "Bot "+d.cfg.Token)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := d.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			var rate struct {
				RetryAfter float64 `json:"retry_after"`
			}
			_ = json.Unmarshal(body, &rate)
			lastErr = &rateLimitError{retryAfter: time.Duration(rate.RetryAfter*1000) * time.Millisecond}
			continue
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("discord: HTTP %d: %s", resp.StatusCode, string(body))
		}
		return nil
	}
	return fmt.Errorf("discord: max retries exceeded: %w", lastErr)
}

const discordAttempts = 3

// rateLimitError is a 429 answer carrying Discord's retry_after.
type rateLimitError struct {
	retryAfter time.Duration
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("HTTP %d: rate limited, retry after %s", http.StatusTooManyRequests, e.retryAfter)
}

// retryWait is the pause before retrying after err.
func retryWait(err error, def time.Duration) time.Duration {
	var rl *rateLimitError
	if errors.As(err, &rl) && rl.retryAfter > 0 {
		return rl.retryAfter
	}
	return def
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
