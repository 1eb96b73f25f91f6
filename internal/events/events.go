// Package events classifies raw game console lines into chat, join, leave and
// map events.
package events

import "fmt"

// Kind tags an Event.
type Kind int

const (
	None Kind = iota
	Chat
	AdminChat
	Joined
	Left
	MapLoaded
)

var kindNames = [...]string{
	None:      "none",
	Chat:      "chat",
	AdminChat: "admin-chat",
	Joined:    "joined",
	Left:      "left",
	MapLoaded: "map-loaded",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Event is the classification of one console line.
//
// Speaker is set for Chat, AdminChat, Joined and Left. Text is the message
// for the chat kinds, the player token for Joined and Left, and the map name
// for MapLoaded. For None, Text holds the
// sanitized line and Noise reports whether the line was recognised as noise
// rather than merely unrecognised.
type Event struct {
	Kind    Kind
	Speaker string
	Text    string
	Noise   bool
}

// Attributed reports whether the event belongs to a named speaker.
func (e Event) Attributed() bool {
	switch e.Kind {
	case Chat, AdminChat, Joined, Left:
		return true
	}
	return false
}

func (e Event) String() string {
	switch e.Kind {
	case Chat, AdminChat:
		return fmt.Sprintf("%s{speaker:%q, text:%q}", e.Kind, e.Speaker, e.Text)
	case Joined, Left:
		return fmt.Sprintf("%s{speaker:%q, token:%q}", e.Kind, e.Speaker, e.Text)
	case MapLoaded:
		return fmt.Sprintf("%s{name:%q}", e.Kind, e.Text)
	}
	if e.Noise {
		return "none{noise}"
	}
	return fmt.Sprintf("none{text:%q}", e.Text)
}

// Classifier maps one raw console line to an Event. Implementations are pure
// and total: every line gets a classification.
type Classifier interface {
	Classify(line string) Event
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(line string) Event

func (f ClassifierFunc) Classify(line string) Event { return f(line) }
