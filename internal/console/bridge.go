package console

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures a Bridge.
type Options struct {
	Supervisor SupervisorConfig
	// QueueSize is the capacity of each subscription queue.
	QueueSize int
	// ChunkWindow is how long lines following the first line of a read are
	// gathered into the same chunk. Zero only gathers lines already read.
	ChunkWindow time.Duration
	// MaxChunkLines bounds the lines in one chunk.
	MaxChunkLines int
	// ReplyTimeout bounds IssueAndAwaitNext when the context has no deadline.
	// Zero waits until the context ends or the connection drops.
	ReplyTimeout time.Duration
	// WriteTimeout bounds how long a command may wait to be written. Zero
	// waits until the context ends.
	WriteTimeout time.Duration
}

// DefaultOptions returns the bridge settings used when none are configured.
func DefaultOptions() Options {
	return Options{
		Supervisor:    DefaultSupervisorConfig(),
		QueueSize:     DefaultQueueSize,
		ChunkWindow:   100 * time.Millisecond,
		MaxChunkLines: 256,
		ReplyTimeout:  5 * time.Second,
		WriteTimeout:  5 * time.Second,
	}
}

// Bridge is the single owner of the console connection. Every component that
// reads console output or issues commands is handed the same *Bridge.
type Bridge struct {
	opts    Options
	out     *Broadcaster
	replies *correlator
	sup     *Supervisor
	metrics *Metrics

	// writeSlot holds one token while a write is in flight.
	writeSlot chan struct{}
	// readSeq numbers every line read, across epochs.
	readSeq atomic.Uint64

	mu      sync.Mutex
	current Transport
}

// NewBridge creates a Bridge that acquires transports from d.
func NewBridge(d Dialer, opts Options, m *Metrics) *Bridge {
	if opts.MaxChunkLines <= 0 {
		opts.MaxChunkLines = DefaultOptions().MaxChunkLines
	}
	b := &Bridge{
		opts:      opts,
		out:       NewBroadcaster(opts.QueueSize, m),
		replies:   newCorrelator(m),
		metrics:   m,
		writeSlot: make(chan struct{}, 1),
	}
	b.sup = NewSupervisor(d, b.serve, opts.Supervisor, m)
	return b
}

// Run supervises the connection until ctx is cancelled, then detaches every
// subscription.
func (b *Bridge) Run(ctx context.Context) error {
	defer b.out.Close()
	return b.sup.Run(ctx)
}

// Subscribe attaches a raw feed of console output chunks.
func (b *Bridge) Subscribe(name string) *Subscription {
	return b.out.Attach(name)
}

// Connected reports whether a transport is currently live. It never waits on
// a command write.
func (b *Bridge) Connected() bool {
	return b.transport() != nil
}

func (b *Bridge) transport() Transport {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

func (b *Bridge) setTransport(t Transport) {
	b.mu.Lock()
	b.current = t
	b.mu.Unlock()
}

// SkipCount is the number of upcoming chunks reserved for reply waiters.
func (b *Bridge) SkipCount() int { return b.replies.skipCount() }

// Issue writes command to the console without waiting for output.
func (b *Bridge) Issue(command string) error {
	if _, err := b.write(context.Background(), command, false); err != nil {
		return err
	}
	slog.Debug("console: issued", "command", command)
	return nil
}

// IssueAndAwaitNext writes command and returns the next output chunk that is
// read after it. That chunk is withheld from subscribers.
func (b *Bridge) IssueAndAwaitNext(ctx context.Context, command string) (string, error) {
	p, err := b.write(ctx, command, true)
	if err != nil {
		return "", err
	}
	slog.Debug("console: issued, awaiting reply", "command", command)
	return b.await(ctx, p)
}

// write sends command on the live transport. Writes are serialized; waiting
// for the slot and the write itself are bounded by ctx and WriteTimeout. When
// awaitReply is set a pending reply is registered just before the write, so
// registration order matches write order.
func (b *Bridge) write(ctx context.Context, command string, awaitReply bool) (*pendingReply, error) {
	if strings.ContainsAny(command, "\r\n") {
		return nil, ErrInvalidCommand
	}

	var timeout <-chan time.Time
	if b.opts.WriteTimeout > 0 {
		t := time.NewTimer(b.opts.WriteTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case b.writeSlot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, ErrWriteTimeout
	}

	t := b.transport()
	if t == nil {
		<-b.writeSlot
		return nil, ErrNotConnected
	}
	var p *pendingReply
	if awaitReply {
		p = b.replies.register(b.readSeq.Load())
	}

	// The slot is released when the write returns, even if the caller has
	// given up; closing the transport at the end of the epoch unblocks it.
	done := make(chan error, 1)
	go func() {
		defer func() { <-b.writeSlot }()
		done <- t.WriteLine(command)
	}()

	var err error
	select {
	case err = <-done:
		if err != nil {
			err = fmt.Errorf("write command: %w", err)
		}
	case <-ctx.Done():
		err = ctx.Err()
	case <-timeout:
		err = ErrWriteTimeout
	}
	if err != nil {
		if p != nil {
			b.release(p)
		}
		return nil, err
	}
	return p, nil
}

// release drops p without reading its reply.
func (b *Bridge) release(p *pendingReply) {
	if !b.replies.cancel(p) {
		<-p.ch
	}
}

func (b *Bridge) await(ctx context.Context, p *pendingReply) (string, error) {
	var timeout <-chan time.Time
	if _, ok := ctx.Deadline(); !ok && b.opts.ReplyTimeout > 0 {
		t := time.NewTimer(b.opts.ReplyTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case chunk, ok := <-p.ch:
		if !ok {
			return "", ErrConnectionLost
		}
		return chunk, nil
	case <-timeout:
		return b.abandon(p, ErrNoReply)
	case <-ctx.Done():
		return b.abandon(p, ctx.Err())
	}
}

// abandon gives up on p. If a chunk was diverted to p in the meantime it is
// returned after all.
func (b *Bridge) abandon(p *pendingReply, cause error) (string, error) {
	if b.replies.cancel(p) {
		return "", cause
	}
	chunk, ok := <-p.ch
	if !ok {
		return "", ErrConnectionLost
	}
	return chunk, nil
}

// serve runs one connection epoch.
func (b *Bridge) serve(ctx context.Context, epoch string, t Transport) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.setTransport(t)
	defer func() {
		b.setTransport(nil)
		if n := b.replies.failAll(); n > 0 {
			slog.Warn("console: pending replies lost", "epoch", epoch, "count", n)
		}
	}()

	lines := make(chan string)
	errc := make(chan error, 1)
	go readLines(ctx, t, lines, errc)
	go func() {
		<-ctx.Done()
		_ = t.Close()
	}()

	return b.pump(ctx, epoch, lines, errc)
}

func readLines(ctx context.Context, t Transport, lines chan<- string, errc chan<- error) {
	for {
		line, err := t.ReadLine()
		if err != nil {
			errc <- err
			return
		}
		select {
		case lines <- line:
		case <-ctx.Done():
			return
		}
	}
}

// readLine is one console line and its position in the read order.
type readLine struct {
	text string
	seq  uint64
}

func (b *Bridge) tag(text string) readLine {
	return readLine{text: text, seq: b.readSeq.Add(1)}
}

func (b *Bridge) pump(ctx context.Context, epoch string, lines <-chan string, errc <-chan error) error {
	var (
		first readLine
		carry bool
	)
	for {
		if !carry {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case err := <-errc:
				return fmt.Errorf("read: %w", err)
			case l := <-lines:
				first = b.tag(l)
			}
		}

		chunk, next, split, err := b.gather(ctx, first, lines, errc)
		b.dispatch(epoch, first.seq, chunk)
		if err != nil {
			return err
		}
		first, carry = next, split
	}
}

// gather collects the lines that belong to the same read as first. A command
// registered for a reply while the chunk is open cuts it: the lines read so
// far are returned, and next starts the following chunk.
func (b *Bridge) gather(ctx context.Context, first readLine, lines <-chan string, errc <-chan error) (chunk string, next readLine, split bool, err error) {
	buf := []string{first.text}
	joined := func() string { return strings.Join(buf, "\n") }

	var window <-chan time.Time
	if b.opts.ChunkWindow > 0 {
		t := time.NewTimer(b.opts.ChunkWindow)
		defer t.Stop()
		window = t.C
	}

	for len(buf) < b.opts.MaxChunkLines {
		var l string
		if window == nil {
			select {
			case l = <-lines:
			default:
				return joined(), readLine{}, false, nil
			}
		} else {
			select {
			case l = <-lines:
			case <-window:
				return joined(), readLine{}, false, nil
			case rerr := <-errc:
				return joined(), readLine{}, false, fmt.Errorf("read: %w", rerr)
			case <-ctx.Done():
				return joined(), readLine{}, false, ctx.Err()
			}
		}

		line := b.tag(l)
		if b.replies.registeredSince(first.seq) {
			return joined(), line, true, nil
		}
		buf = append(buf, l)
	}
	return joined(), readLine{}, false, nil
}

// dispatch routes one chunk either to a reply waiter or to the subscribers.
// seq is the read sequence of the chunk's first line.
func (b *Bridge) dispatch(epoch string, seq uint64, chunk string) {
	b.metrics.chunk()
	if b.replies.divert(chunk, seq) {
		slog.Debug("console: chunk diverted to reply", "epoch", epoch, "chunk", chunk)
		return
	}
	b.out.Publish(chunk)
}
