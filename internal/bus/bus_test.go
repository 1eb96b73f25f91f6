package bus

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChatMessage(t *testing.T) {
	before := time.Now()
	m := NewChatMessage(ChannelSlack, "C01", "U02", "eris", "gg")
	assert.Equal(t, ChannelSlack, m.Channel())
	assert.Equal(t, "C01", m.ChatId())
	assert.Equal(t, "U02", m.SenderId())
	assert.Equal(t, "eris", m.Author())
	assert.False(t, m.Timestamp().Before(before))
}

func TestChatMessage_Preview(t *testing.T) {
	short := NewChatMessage(ChannelDiscord, "c", "u", "eris", "hi")
	assert.Equal(t, "hi", short.Preview())

	long := NewChatMessage(ChannelDiscord, "c", "u", "eris", strings.Repeat("ж", 100))
	assert.Equal(t, strings.Repeat("ж", 80)+"...", long.Preview())
}

func TestChatBus_PublishHonoursContext(t *testing.T) {
	b := NewChatBus(1)
	msg := NewChatMessage(ChannelCLI, "", "user", "user", "hello")
	require.NoError(t, b.Publish(context.Background(), msg))
	assert.Equal(t, 1, b.Len())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Publish(ctx, msg), context.DeadlineExceeded)

	got := <-b.Subscribe()
	assert.Equal(t, "hello", got.Content())
	assert.Equal(t, "user", got.Author())
}
