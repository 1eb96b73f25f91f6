package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bend-n/panel/internal/bus"
	"github.com/bend-n/panel/internal/console"
	"github.com/bend-n/panel/internal/events"
)

// recordingSink collects deliveries and signals each one.
type recordingSink struct {
	mu   sync.Mutex
	msgs []Message
	got  chan Message
	err  error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{got: make(chan Message, 64)}
}

func (s *recordingSink) Deliver(_ context.Context, m Message) error {
	s.mu.Lock()
	s.msgs = append(s.msgs, m)
	s.mu.Unlock()
	s.got <- m
	return s.err
}

func (s *recordingSink) wait(t *testing.T, n int, within time.Duration) []Message {
	t.Helper()
	var out []Message
	deadline := time.After(within)
	for len(out) < n {
		select {
		case m := <-s.got:
			out = append(out, m)
		case <-deadline:
			t.Fatalf("got %d of %d messages: %+v", len(out), n, out)
		}
	}
	return out
}

func (s *recordingSink) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case m := <-s.got:
		t.Fatalf("unexpected delivery %+v", m)
	case <-time.After(d):
	}
}

func startRelay(t *testing.T, cfg Config, sink Sink, m *Metrics) chan<- string {
	t.Helper()
	feed := make(chan string)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r := New(cfg, nil, sink, m)
	go func() {
		_ = r.Run(ctx, feed)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return feed
}

// ─── Batch ─────────────────────────────────────────────────────────────────

func TestBatch_MergesConsecutiveSpeaker(t *testing.T) {
	b := NewBatch("server")
	b.AddSpeaker("a", "hi")
	b.AddSpeaker("a", "there")
	b.AddSpeaker("b", "hey")
	assert.Equal(t, 3, b.Lines())
	assert.Equal(t, []Message{{"a", "hi\nthere"}, {"b", "hey"}}, b.Drain())
	assert.True(t, b.Empty())
	assert.Nil(t, b.Drain())
}

func TestBatch_SystemInterruptsSpeaker(t *testing.T) {
	b := NewBatch("server")
	b.AddSystem("Server loaded")
	b.AddSystem("Opened port")
	b.AddSpeaker("a", "hi")
	b.AddSystem("Game over!")
	assert.Equal(t, []Message{
		{"server", "Server loaded\nOpened port"},
		{"a", "hi"},
		{"server", "Game over!"},
	}, b.Drain())
}

func TestBatch_SpeakerRunsAreContiguous(t *testing.T) {
	b := NewBatch("srv")
	b.AddSpeaker("a", "1")
	b.AddSpeaker("b", "2")
	b.AddSpeaker("a", "3")
	assert.Equal(t, []Message{{"a", "1"}, {"b", "2"}, {"a", "3"}}, b.Drain())
}

// ─── Add ───────────────────────────────────────────────────────────────────

func TestRelay_AddMapsEvents(t *testing.T) {
	r := New(Config{}, nil, nil, nil)
	b := NewBatch("server")
	lines := []string{
		"a has connected. [AAAAAAAAAAAAAAAAAAAAAA==]",
		"a: hi",
		"\tat some.Frame(File.java:1)",
		"<a: /a secret>",
		"Loading map Frozen Forest",
		"a has disconnected. [AAAAAAAAAAAAAAAAAAAAAA==] (closed)",
	}
	var kept []bool
	for _, l := range lines {
		kept = append(kept, r.Add(b, l))
	}
	assert.Equal(t, []bool{true, true, false, false, true, true}, kept)
	assert.Equal(t, []Message{
		{"a", "joined (AAAAAAAAAAAAAAAAAAAAAA==)\nhi"},
		{"server", "Loading map Frozen Forest"},
		{"a", "left (AAAAAAAAAAAAAAAAAAAAAA==)"},
	}, b.Drain())
}

func TestRelay_AddCreditsOnlyAttributedEvents(t *testing.T) {
	c := events.ClassifierFunc(func(line string) events.Event {
		if line == "join" {
			return events.Event{Kind: events.Joined, Speaker: "a"}
		}
		// a speaker on an unattributed kind is not credited
		return events.Event{Kind: events.None, Speaker: "a", Text: line}
	})
	r := New(Config{}, c, nil, nil)
	b := NewBatch("server")
	assert.True(t, r.Add(b, "join"))
	assert.True(t, r.Add(b, "Game over!"))
	assert.Equal(t, []Message{{"a", "joined"}, {"server", "Game over!"}}, b.Drain())
}

func TestRelay_AddRelaysAdminChatWhenEnabled(t *testing.T) {
	r := New(Config{RelayAdminChat: true}, nil, nil, nil)
	b := NewBatch("server")
	assert.True(t, r.Add(b, "<a: /a secret>"))
	assert.Equal(t, []Message{{"a", "secret"}}, b.Drain())
}

// ─── Run ───────────────────────────────────────────────────────────────────

func TestRelay_MergeFlushesTwoMessages(t *testing.T) {
	sink := newRecordingSink()
	feed := startRelay(t, Config{IdleInterval: 50 * time.Millisecond, MaxLines: 15}, sink, nil)

	feed <- "a: hi"
	feed <- "a: there"
	feed <- "b: hey"

	got := sink.wait(t, 2, time.Second)
	assert.Equal(t, []Message{{"a", "hi\nthere"}, {"b", "hey"}}, got)
	sink.quiet(t, 100*time.Millisecond)
}

func TestRelay_IdleThreshold(t *testing.T) {
	sink := newRecordingSink()
	idle := 150 * time.Millisecond
	feed := startRelay(t, Config{IdleInterval: idle, MaxLines: 15}, sink, nil)

	// gaps shorter than the idle interval keep the batch open
	for _, l := range []string{"a: 1", "a: 2", "a: 3"} {
		feed <- l
		sink.quiet(t, idle/3)
	}
	got := sink.wait(t, 1, time.Second)
	assert.Equal(t, []Message{{"a", "1\n2\n3"}}, got)
	sink.quiet(t, 2*idle)
}

func TestRelay_LineCapThreshold(t *testing.T) {
	sink := newRecordingSink()
	feed := startRelay(t, Config{IdleInterval: time.Hour, MaxLines: 3}, sink, nil)

	feed <- "a: 1\na: 2\na: 3"
	sink.quiet(t, 50*time.Millisecond)

	feed <- "a: 4"
	got := sink.wait(t, 1, time.Second)
	assert.Equal(t, []Message{{"a", "1\n2\n3\n4"}}, got)
	sink.quiet(t, 50*time.Millisecond)
}

func TestRelay_NoiseDoesNotOpenBatch(t *testing.T) {
	sink := newRecordingSink()
	feed := startRelay(t, Config{IdleInterval: 30 * time.Millisecond}, sink, nil)
	feed <- "Lost command socket connection: localhost/127.0.0.1:6859\n    at x"
	sink.quiet(t, 100*time.Millisecond)
}

func TestRelay_FlushesOnFeedClose(t *testing.T) {
	sink := newRecordingSink()
	feed := make(chan string, 1)
	r := New(Config{IdleInterval: time.Hour}, nil, sink, nil)
	feed <- "Game over!"
	close(feed)

	require.NoError(t, r.Run(context.Background(), feed))
	assert.Equal(t, []Message{{"server", "Game over!"}}, sink.msgs)
}

func TestRelay_DeliveryFailureIsCountedNotFatal(t *testing.T) {
	sink := newRecordingSink()
	sink.err = errors.New("webhook 500")
	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)
	feed := startRelay(t, Config{IdleInterval: 20 * time.Millisecond}, sink, m)

	feed <- "a: one"
	sink.wait(t, 1, time.Second)
	feed <- "b: two"
	sink.wait(t, 1, time.Second)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.failed) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.flushes))
}

// ─── Inbound ───────────────────────────────────────────────────────────────

func TestSayCommands(t *testing.T) {
	got := SayCommands("eris", "hello\n\n  world  \r")
	assert.Equal(t, []string{
		"say [coral][[[scarlet]eris[coral]]:[white] hello",
		"say [coral][[[scarlet]eris[coral]]:[white] world",
	}, got)

	assert.Equal(t,
		[]string{"say [coral][[[scarlet][[mod] x[coral]]:[white] hi"},
		SayCommands("[mod] x", "hi"))
	assert.Empty(t, SayCommands("eris", " \n "))
}

type fakeIssuer struct {
	mu   sync.Mutex
	cmds []string
	err  error
}

func (f *fakeIssuer) Issue(cmd string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.cmds = append(f.cmds, cmd)
	return nil
}

func (f *fakeIssuer) issued() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cmds...)
}

func TestInbound_ForwardsChatToConsole(t *testing.T) {
	issuer := &fakeIssuer{}
	b := bus.NewChatBus(4)
	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)
	in := NewInbound(issuer, b, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = in.Run(ctx) }()

	require.NoError(t, b.Publish(ctx, bus.NewChatMessage(bus.ChannelDiscord, "c1", "u1", "eris", "gg\nwp")))

	require.Eventually(t, func() bool { return len(issuer.issued()) == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, strings.HasSuffix(issuer.issued()[1], "[white] wp"))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.forwarded.WithLabelValues("discord")))
}

func TestInbound_StopsMessageOnIssueError(t *testing.T) {
	issuer := &fakeIssuer{err: console.ErrNotConnected}
	in := NewInbound(issuer, bus.NewChatBus(1), nil)
	in.forward(bus.NewChatMessage(bus.ChannelSlack, "c", "u", "a", "one\ntwo"))
	assert.Empty(t, issuer.issued())
}
