package bus

import "context"

// ChatBus carries messages from chat channels to the console.
// Channel adapters call Publish; the inbound relay reads via Subscribe.
type ChatBus struct {
	ch chan ChatMessage
}

func NewChatBus(bufSize int) *ChatBus {
	return &ChatBus{ch: make(chan ChatMessage, bufSize)}
}

// Publish delivers a message to the bus, blocking while the buffer is full
// until ctx ends.
func (b *ChatBus) Publish(ctx context.Context, msg ChatMessage) error {
	select {
	case b.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe returns a receive-only view of the bus.
func (b *ChatBus) Subscribe() <-chan ChatMessage {
	return b.ch
}

// Len is the number of messages waiting to be consumed.
func (b *ChatBus) Len() int { return len(b.ch) }
