package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer is the game side of an in-memory console connection.
type fakeServer struct {
	conn net.Conn
	r    *bufio.Reader
}

func (f *fakeServer) readCommand(t *testing.T) string {
	t.Helper()
	_ = f.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := f.r.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimRight(line, "\n")
}

func (f *fakeServer) print(t *testing.T, lines ...string) {
	t.Helper()
	_ = f.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err := fmt.Fprint(f.conn, strings.Join(lines, "\n")+"\n")
	require.NoError(t, err)
}

// pipeDialer hands out a new net.Pipe per Dial and publishes the server end.
func pipeDialer() (Dialer, <-chan *fakeServer) {
	servers := make(chan *fakeServer, 8)
	d := DialFunc(func(ctx context.Context) (Transport, error) {
		client, server := net.Pipe()
		servers <- &fakeServer{conn: server, r: bufio.NewReader(server)}
		return NewConnTransport(client), nil
	})
	return d, servers
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Supervisor = SupervisorConfig{BackoffBase: time.Millisecond, BackoffMax: 10 * time.Millisecond}
	opts.ChunkWindow = 30 * time.Millisecond
	opts.ReplyTimeout = time.Second
	return opts
}

func startBridge(t *testing.T, opts Options) (*Bridge, <-chan *fakeServer) {
	t.Helper()
	d, servers := pipeDialer()
	b := NewBridge(d, opts, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = b.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return b, servers
}

func nextServer(t *testing.T, b *Bridge, servers <-chan *fakeServer) *fakeServer {
	t.Helper()
	var s *fakeServer
	select {
	case s = <-servers:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge never dialed")
	}
	require.Eventually(t, b.Connected, 2*time.Second, 5*time.Millisecond)
	return s
}

func recvLines(t *testing.T, sub *Subscription, n int) []string {
	t.Helper()
	var lines []string
	for len(lines) < n {
		select {
		case chunk, ok := <-sub.C():
			require.True(t, ok, "subscription closed")
			lines = append(lines, strings.Split(chunk, "\n")...)
		case <-time.After(2 * time.Second):
			t.Fatalf("got %d of %d lines: %q", len(lines), n, lines)
		}
	}
	return lines
}

func assertQuiet(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case chunk := <-sub.C():
		t.Fatalf("unexpected chunk %q", chunk)
	case <-time.After(80 * time.Millisecond):
	}
}

// ─── Issue ─────────────────────────────────────────────────────────────────

func TestBridge_IssueNotConnected(t *testing.T) {
	d := DialFunc(func(ctx context.Context) (Transport, error) {
		return nil, errors.New("refused")
	})
	b := NewBridge(d, testOptions(), nil)
	assert.ErrorIs(t, b.Issue("status"), ErrNotConnected)
	_, err := b.IssueAndAwaitNext(context.Background(), "status")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestBridge_IssueRejectsLineBreaks(t *testing.T) {
	b, servers := startBridge(t, testOptions())
	nextServer(t, b, servers)
	assert.ErrorIs(t, b.Issue("say hi\nstop"), ErrInvalidCommand)
	_, err := b.IssueAndAwaitNext(context.Background(), "a\r")
	assert.ErrorIs(t, err, ErrInvalidCommand)
}

func TestBridge_IssueWritesLine(t *testing.T) {
	b, servers := startBridge(t, testOptions())
	srv := nextServer(t, b, servers)

	errc := make(chan error, 1)
	go func() { errc <- b.Issue("say hello") }()
	assert.Equal(t, "say hello", srv.readCommand(t))
	require.NoError(t, <-errc)
}

// ─── Broadcast through the bridge ──────────────────────────────────────────

func TestBridge_OutputReachesEverySubscriber(t *testing.T) {
	b, servers := startBridge(t, testOptions())
	relay := b.Subscribe("relay")
	viewer := b.Subscribe("viewer")
	srv := nextServer(t, b, servers)

	srv.print(t, "a: hi", "b: hey")

	assert.Equal(t, []string{"a: hi", "b: hey"}, recvLines(t, relay, 2))
	assert.Equal(t, []string{"a: hi", "b: hey"}, recvLines(t, viewer, 2))
}

// ─── Correlation ───────────────────────────────────────────────────────────

func TestBridge_AwaitNextReturnsFollowingOutput(t *testing.T) {
	b, servers := startBridge(t, testOptions())
	relay := b.Subscribe("relay")
	srv := nextServer(t, b, servers)

	srv.print(t, "before")
	assert.Equal(t, []string{"before"}, recvLines(t, relay, 1))

	type result struct {
		out string
		err error
	}
	res := make(chan result, 1)
	go func() {
		out, err := b.IssueAndAwaitNext(context.Background(), "status")
		res <- result{out, err}
	}()

	assert.Equal(t, "status", srv.readCommand(t))
	assert.Equal(t, 1, b.SkipCount())
	srv.print(t, "Status:", "  Playing on Ancient Caldera")

	r := <-res
	require.NoError(t, r.err)
	assert.Equal(t, "Status:\n  Playing on Ancient Caldera", r.out)
	assert.Equal(t, 0, b.SkipCount())
	assertQuiet(t, relay)

	srv.print(t, "after")
	assert.Equal(t, []string{"after"}, recvLines(t, relay, 1))
}

func TestBridge_AwaitNextCutsChunkStillGathering(t *testing.T) {
	opts := testOptions()
	opts.ChunkWindow = 300 * time.Millisecond
	b, servers := startBridge(t, opts)
	relay := b.Subscribe("relay")
	srv := nextServer(t, b, servers)

	// "before" opens a chunk whose window is still open when the command goes out
	srv.print(t, "before")
	require.Eventually(t, func() bool { return b.readSeq.Load() == 1 }, time.Second, time.Millisecond)

	res := make(chan string, 1)
	go func() {
		out, err := b.IssueAndAwaitNext(context.Background(), "status")
		assert.NoError(t, err)
		res <- out
	}()
	assert.Equal(t, "status", srv.readCommand(t))
	srv.print(t, "Status: playing")

	select {
	case out := <-res:
		assert.Equal(t, "Status: playing", out)
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
	}
	assert.Equal(t, []string{"before"}, recvLines(t, relay, 1))
	assertQuiet(t, relay)
}

func TestCorrelator_IgnoresChunksReadBeforeRegistration(t *testing.T) {
	c := newCorrelator(nil)
	p := c.register(5)

	assert.True(t, c.registeredSince(5))
	assert.False(t, c.registeredSince(6))
	assert.False(t, c.divert("old", 5))
	assert.Equal(t, 1, c.skipCount())

	assert.True(t, c.divert("new", 6))
	assert.Equal(t, "new", <-p.ch)
	assert.Zero(t, c.skipCount())
}

func TestBridge_ConcurrentAwaitsResolveInArrivalOrder(t *testing.T) {
	b, servers := startBridge(t, testOptions())
	srv := nextServer(t, b, servers)

	first := make(chan string, 1)
	go func() {
		out, _ := b.IssueAndAwaitNext(context.Background(), "maps")
		first <- out
	}()
	assert.Equal(t, "maps", srv.readCommand(t))

	second := make(chan string, 1)
	go func() {
		out, _ := b.IssueAndAwaitNext(context.Background(), "players")
		second <- out
	}()
	assert.Equal(t, "players", srv.readCommand(t))
	require.Eventually(t, func() bool { return b.SkipCount() == 2 }, time.Second, 5*time.Millisecond)

	srv.print(t, "one")
	assert.Equal(t, "one", <-first)
	srv.print(t, "two")
	assert.Equal(t, "two", <-second)
}

func TestBridge_AwaitTimesOut(t *testing.T) {
	opts := testOptions()
	opts.ReplyTimeout = 50 * time.Millisecond
	b, servers := startBridge(t, opts)
	relay := b.Subscribe("relay")
	srv := nextServer(t, b, servers)

	res := make(chan error, 1)
	go func() {
		_, err := b.IssueAndAwaitNext(context.Background(), "status")
		res <- err
	}()
	srv.readCommand(t)
	assert.ErrorIs(t, <-res, ErrNoReply)
	assert.Equal(t, 0, b.SkipCount(), "timed out waiter must release its skip")

	srv.print(t, "late output")
	assert.Equal(t, []string{"late output"}, recvLines(t, relay, 1))
}

func TestBridge_AwaitHonoursContext(t *testing.T) {
	opts := testOptions()
	opts.ReplyTimeout = 0
	b, servers := startBridge(t, opts)
	srv := nextServer(t, b, servers)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res := make(chan error, 1)
	go func() {
		_, err := b.IssueAndAwaitNext(ctx, "status")
		res <- err
	}()
	srv.readCommand(t)
	assert.ErrorIs(t, <-res, context.DeadlineExceeded)
}

func TestBridge_PendingReplyResolvesOnConnectionLoss(t *testing.T) {
	b, servers := startBridge(t, testOptions())
	srv := nextServer(t, b, servers)

	res := make(chan error, 1)
	go func() {
		_, err := b.IssueAndAwaitNext(context.Background(), "status")
		res <- err
	}()
	srv.readCommand(t)
	require.NoError(t, srv.conn.Close())

	select {
	case err := <-res:
		assert.ErrorIs(t, err, ErrConnectionLost)
	case <-time.After(2 * time.Second):
		t.Fatal("pending reply hung after the connection dropped")
	}
}

// ─── Stalled writes ────────────────────────────────────────────────────────

// The fake server below never reads, so every net.Pipe write blocks.

func TestBridge_IssueTimesOutWhenConsoleStopsReading(t *testing.T) {
	opts := testOptions()
	opts.WriteTimeout = 50 * time.Millisecond
	b, servers := startBridge(t, opts)
	nextServer(t, b, servers)

	errc := make(chan error, 1)
	go func() { errc <- b.Issue("status") }()

	connected := make(chan bool, 1)
	go func() { connected <- b.Connected() }()
	select {
	case ok := <-connected:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Connected waited on a stalled write")
	}

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrWriteTimeout)
	case <-time.After(2 * time.Second):
		t.Fatal("Issue blocked past the write timeout")
	}

	// the stuck write still holds the slot; the next command times out too
	assert.ErrorIs(t, b.Issue("players"), ErrWriteTimeout)
}

func TestBridge_AwaitNextWriteHonoursContext(t *testing.T) {
	opts := testOptions()
	opts.WriteTimeout = 0
	b, servers := startBridge(t, opts)
	nextServer(t, b, servers)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res := make(chan error, 1)
	go func() {
		_, err := b.IssueAndAwaitNext(ctx, "status")
		res <- err
	}()

	select {
	case err := <-res:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("IssueAndAwaitNext blocked past its deadline")
	}
	assert.Zero(t, b.SkipCount(), "abandoned write must release its skip")
}

// ─── Reconnection ──────────────────────────────────────────────────────────

func TestBridge_ReconnectKeepsSubscriptions(t *testing.T) {
	b, servers := startBridge(t, testOptions())
	sub := b.Subscribe("relay")

	first := nextServer(t, b, servers)
	first.print(t, "L1", "L2")
	assert.Equal(t, []string{"L1", "L2"}, recvLines(t, sub, 2))
	require.NoError(t, first.conn.Close())

	var second *fakeServer
	select {
	case second = <-servers:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not reconnect")
	}
	require.Eventually(t, b.Connected, 2*time.Second, 5*time.Millisecond)
	second.print(t, "L3")
	assert.Equal(t, []string{"L3"}, recvLines(t, sub, 1))
}

func TestBridge_RunClosesSubscriptionsOnShutdown(t *testing.T) {
	d, servers := pipeDialer()
	b := NewBridge(d, testOptions(), nil)
	sub := b.Subscribe("relay")

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.ErrorIs(t, b.Run(ctx), context.Canceled)
	}()
	nextServer(t, b, servers)
	cancel()
	wg.Wait()

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.False(t, b.Connected())
}
