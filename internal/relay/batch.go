// Package relay groups classified console output into chat messages and
// delivers them to chat platforms, and forwards chat platform messages back
// into the game.
package relay

import "strings"

// Message is one flushed chat message.
type Message struct {
	Speaker string
	Content string
}

// Batch accumulates lines between flushes. At most one run is open at a time:
// either a named speaker's run or a run of system lines. Starting a different
// run closes the open one, so messages come out in the order they were said.
type Batch struct {
	systemName string

	closed []Message

	open     bool
	system   bool
	speaker  string
	runLines []string

	lines int
}

// NewBatch creates an empty batch; system lines are attributed to systemName.
func NewBatch(systemName string) *Batch {
	return &Batch{systemName: systemName}
}

// AddSpeaker appends text to speaker's run, opening a new run if the open one
// belongs to someone else or to the system.
func (b *Batch) AddSpeaker(speaker, text string) {
	if !b.open || b.system || b.speaker != speaker {
		b.closeRun()
		b.open, b.system, b.speaker = true, false, speaker
	}
	b.runLines = append(b.runLines, text)
	b.lines++
}

// AddSystem appends an unattributed line.
func (b *Batch) AddSystem(text string) {
	if !b.open || !b.system {
		b.closeRun()
		b.open, b.system, b.speaker = true, true, b.systemName
	}
	b.runLines = append(b.runLines, text)
	b.lines++
}

// Lines is the number of lines added since the last Drain.
func (b *Batch) Lines() int { return b.lines }

// Empty reports whether there is nothing to flush.
func (b *Batch) Empty() bool { return b.lines == 0 }

// Drain closes the open run and returns every message in order, leaving the
// batch empty.
func (b *Batch) Drain() []Message {
	b.closeRun()
	out := b.closed
	b.closed = nil
	b.lines = 0
	return out
}

func (b *Batch) closeRun() {
	if !b.open {
		return
	}
	b.closed = append(b.closed, Message{
		Speaker: b.speaker,
		Content: strings.Join(b.runLines, "\n"),
	})
	b.open, b.system, b.speaker = false, false, ""
	b.runLines = nil
}
