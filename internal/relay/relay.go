package relay

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/bend-n/panel/internal/events"
)

// Sink delivers one flushed message to a chat platform.
type Sink interface {
	Deliver(ctx context.Context, msg Message) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, msg Message) error

func (f SinkFunc) Deliver(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Config controls batching.
type Config struct {
	// IdleInterval flushes the batch once no line has been added for this long.
	IdleInterval time.Duration
	// MaxLines flushes the batch as soon as it holds more lines than this.
	MaxLines int
	// RelayAdminChat relays admin-only chat; it is dropped otherwise.
	RelayAdminChat bool
	// SystemName is the speaker shown for unattributed lines.
	SystemName string
	// QueueSize bounds messages waiting for the sink.
	QueueSize int
}

// DefaultConfig returns the batching used when none is configured.
func DefaultConfig() Config {
	return Config{
		IdleInterval: 1500 * time.Millisecond,
		MaxLines:     15,
		SystemName:   "server",
		QueueSize:    64,
	}
}

// Relay turns one console subscription into batched chat messages.
type Relay struct {
	cfg        Config
	classifier events.Classifier
	sink       Sink
	metrics    *Metrics
}

// New creates a Relay. A nil classifier uses events.Default.
func New(cfg Config, c events.Classifier, sink Sink, m *Metrics) *Relay {
	def := DefaultConfig()
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = def.IdleInterval
	}
	if cfg.MaxLines <= 0 {
		cfg.MaxLines = def.MaxLines
	}
	if cfg.SystemName == "" {
		cfg.SystemName = def.SystemName
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if c == nil {
		c = events.Default
	}
	return &Relay{cfg: cfg, classifier: c, sink: sink, metrics: m}
}

// Add classifies line and appends it to b. It reports whether the line was
// kept. Attributed events are credited to their speaker; the rest go out
// under the system name.
func (r *Relay) Add(b *Batch, line string) bool {
	ev := r.classifier.Classify(line)
	text := ev.Text
	switch ev.Kind {
	case events.AdminChat:
		if !r.cfg.RelayAdminChat {
			return false
		}
	case events.Joined:
		text = presence("joined", ev.Text)
	case events.Left:
		text = presence("left", ev.Text)
	case events.MapLoaded:
		text = "Loading map " + ev.Text
	case events.None:
		if ev.Noise {
			return false
		}
	}
	if ev.Attributed() {
		b.AddSpeaker(ev.Speaker, text)
	} else {
		b.AddSystem(text)
	}
	return true
}

// presence renders a join or leave, with the player token when known.
func presence(verb, token string) string {
	if token == "" {
		return verb
	}
	return verb + " (" + token + ")"
}

// Run consumes chunks from feed until ctx ends or feed is closed. The batch
// is flushed when it goes IdleInterval without a new line or exceeds
// MaxLines. Messages are handed to the sink from a separate goroutine so a
// slow platform never stalls the feed.
func (r *Relay) Run(ctx context.Context, feed <-chan string) error {
	queue := make(chan Message, r.cfg.QueueSize)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.deliverLoop(ctx, queue)
	}()
	defer func() {
		close(queue)
		<-done
	}()

	batch := NewBatch(r.cfg.SystemName)
	idle := time.NewTimer(r.cfg.IdleInterval)
	idle.Stop()
	defer idle.Stop()

	flush := func(reason string) {
		idle.Stop()
		msgs := batch.Drain()
		if len(msgs) == 0 {
			return
		}
		r.metrics.flush()
		slog.Debug("relay: flush", "reason", reason, "messages", len(msgs))
		for _, m := range msgs {
			select {
			case queue <- m:
			default:
				r.metrics.drop()
				slog.Warn("relay: delivery queue full, dropping message", "speaker", m.Speaker)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-idle.C:
			flush("idle")

		case chunk, ok := <-feed:
			if !ok {
				flush("closed")
				return nil
			}
			for _, line := range strings.Split(chunk, "\n") {
				if !r.Add(batch, line) {
					continue
				}
				if batch.Lines() > r.cfg.MaxLines {
					flush("lines")
					continue
				}
				idle.Reset(r.cfg.IdleInterval)
			}
		}
	}
}

func (r *Relay) deliverLoop(ctx context.Context, queue <-chan Message) {
	for m := range queue {
		if ctx.Err() != nil {
			continue
		}
		err := r.sink.Deliver(ctx, m)
		r.metrics.deliver(err)
		if err != nil {
			slog.Error("relay: delivery failed", "speaker", m.Speaker, "err", err)
		}
	}
}
