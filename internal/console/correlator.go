package console

import (
	"sync"
)

// pendingReply is one in-flight command waiting for the next diverted chunk.
// ch has capacity one and is either sent to once or closed, never both.
type pendingReply struct {
	ch chan string
	// after is the read sequence at registration; only chunks whose first
	// line was read later can answer.
	after uint64
}

// correlator diverts output chunks to command issuers. The number of pending
// replies is the skip count: while it is positive, each chunk read after the
// oldest waiter registered goes to that waiter instead of the broadcaster.
//
// Correlation is by arrival order only. Two concurrent commands each get a
// chunk, not necessarily the one their own command produced.
type correlator struct {
	mu      sync.Mutex
	pending []*pendingReply
	metrics *Metrics
}

func newCorrelator(m *Metrics) *correlator {
	return &correlator{metrics: m}
}

// register increments the skip count. Callers hold the bridge write slot so
// registration order matches write order; after is the last read sequence.
func (c *correlator) register(after uint64) *pendingReply {
	p := &pendingReply{ch: make(chan string, 1), after: after}
	c.mu.Lock()
	c.pending = append(c.pending, p)
	c.mu.Unlock()
	return p
}

// cancel removes p if it has not been fulfilled yet and reports whether it did.
func (c *correlator) cancel(p *pendingReply) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, q := range c.pending {
		if q == p {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return true
		}
	}
	return false
}

// divert hands chunk to the oldest waiter. It returns false when the skip
// count is zero or the chunk started before that waiter registered; such a
// chunk belongs to the subscribers.
func (c *correlator) divert(chunk string, seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 || c.pending[0].after >= seq {
		return false
	}
	p := c.pending[0]
	c.pending[0] = nil
	c.pending = c.pending[1:]
	p.ch <- chunk
	c.metrics.divert()
	return true
}

// registeredSince reports whether a waiter registered after the line with
// read sequence seq was read.
func (c *correlator) registeredSince(seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.pending)
	return n > 0 && c.pending[n-1].after >= seq
}

// failAll resolves every pending reply with "connection lost".
func (c *correlator) failAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.pending)
	for _, p := range c.pending {
		close(p.ch)
	}
	c.pending = nil
	return n
}

func (c *correlator) skipCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
