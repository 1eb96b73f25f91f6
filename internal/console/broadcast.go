package console

import (
	"sync"
	"sync/atomic"
)

// DefaultQueueSize is the per-subscription queue capacity used when none is given.
const DefaultQueueSize = 16

// Subscription is one consumer's independently paced view of the console output.
type Subscription struct {
	name   string
	ch     chan string
	lagged atomic.Uint64
	b      *Broadcaster
}

// C returns the subscription's queue. It is closed when the subscription is
// detached or the broadcaster shuts down.
func (s *Subscription) C() <-chan string { return s.ch }

// Name returns the label given at attach time.
func (s *Subscription) Name() string { return s.name }

// Lagged reports how many chunks were dropped because the queue was full.
func (s *Subscription) Lagged() uint64 { return s.lagged.Load() }

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() { s.b.detach(s) }

// Broadcaster fans every published chunk out to all attached subscriptions.
// Publish never blocks: a full queue drops its oldest entry.
type Broadcaster struct {
	mu        sync.RWMutex
	subs      map[*Subscription]struct{}
	queueSize int
	closed    bool
	metrics   *Metrics
}

// NewBroadcaster returns a broadcaster whose subscriptions hold queueSize chunks.
func NewBroadcaster(queueSize int, m *Metrics) *Broadcaster {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Broadcaster{
		subs:      make(map[*Subscription]struct{}),
		queueSize: queueSize,
		metrics:   m,
	}
}

// Attach registers a new subscription. Attaching to a closed broadcaster
// returns an already-closed subscription.
func (b *Broadcaster) Attach(name string) *Subscription {
	s := &Subscription{name: name, ch: make(chan string, b.queueSize), b: b}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

func (b *Broadcaster) detach(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
}

// Len returns the number of attached subscriptions.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers chunk to every subscription. It must only be called from
// the single transport-reading goroutine.
func (b *Broadcaster) Publish(chunk string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		b.offer(s, chunk)
	}
}

func (b *Broadcaster) offer(s *Subscription, chunk string) {
	select {
	case s.ch <- chunk:
		return
	default:
	}
	// Full: drop the oldest queued chunk to make room. The consumer may have
	// drained in the meantime, in which case nothing is dropped.
	select {
	case <-s.ch:
		s.lagged.Add(1)
		b.metrics.lag(s.name)
	default:
	}
	select {
	case s.ch <- chunk:
	default:
		// Only reachable if another producer raced us; count the loss.
		s.lagged.Add(1)
		b.metrics.lag(s.name)
	}
}

// Close detaches every subscription and rejects future attaches.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		delete(b.subs, s)
		close(s.ch)
	}
}
