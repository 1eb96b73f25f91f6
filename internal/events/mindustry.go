package events

import (
	"regexp"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// AdminChatMarker prefixes chat text sent to the admin-only channel.
const AdminChatMarker = "/a "

// DefaultNoisePrefixes are console lines that never reach a chat relay:
// stack trace frames, socket loss notices and the server's startup banner.
var DefaultNoisePrefixes = []string{
	"at ",
	"Lost command socket connection",
	"Server loaded.",
	"Type 'help' for a list of commands.",
	"Opened a server on port",
}

var (
	connectRe = regexp.MustCompile(`^(.+) has (dis)?connected\. \[([A-Za-z0-9+/]+==)\]`)
	mapRe     = regexp.MustCompile(`^Loading map (.+)$`)
	tokenRe   = regexp.MustCompile(`^[A-Za-z0-9+/]{22}==$`)
)

// MindustryClassifier classifies the output of a Mindustry dedicated server.
type MindustryClassifier struct {
	// NoisePrefixes overrides DefaultNoisePrefixes when non-nil.
	NoisePrefixes []string
}

// Default is the classifier used when none is configured.
var Default Classifier = MindustryClassifier{}

// Classify runs line through the Default classifier.
func Classify(line string) Event { return Default.Classify(line) }

func (c MindustryClassifier) Classify(raw string) Event {
	line := strings.TrimRight(ansi.Strip(raw), "\r\n")
	if c.noise(line) {
		return Event{Kind: None, Noise: true}
	}

	if ev, ok := chat(line); ok {
		return ev
	}

	if m := connectRe.FindStringSubmatch(line); m != nil {
		if name := Sanitize(m[1]); name != "" {
			kind := Joined
			if m[2] != "" {
				kind = Left
			}
			return Event{Kind: kind, Speaker: name, Text: m[3]}
		}
	}

	if m := mapRe.FindStringSubmatch(line); m != nil {
		if name := Sanitize(m[1]); name != "" {
			return Event{Kind: MapLoaded, Text: name}
		}
	}

	text := Sanitize(line)
	return Event{Kind: None, Text: text, Noise: text == ""}
}

func (c MindustryClassifier) noise(line string) bool {
	if strings.TrimSpace(line) == "" {
		return true
	}
	if line[0] == ' ' || line[0] == '\t' {
		return true
	}
	prefixes := c.NoisePrefixes
	if prefixes == nil {
		prefixes = DefaultNoisePrefixes
	}
	for _, p := range prefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

// chat matches "name: content", optionally wrapped as "<name: content>".
// A line with more than one ": " separator is not chat.
func chat(line string) (Event, bool) {
	parts := strings.Split(line, ": ")
	if len(parts) != 2 {
		return Event{}, false
	}
	name := Sanitize(strings.TrimLeft(parts[0], "<"))
	text := Sanitize(strings.TrimRight(parts[1], ">"))
	if name == "" || text == "" || isToken(name) || isToken(text) {
		return Event{}, false
	}
	if rest, ok := strings.CutPrefix(text, AdminChatMarker); ok {
		if rest = strings.TrimSpace(rest); rest != "" {
			return Event{Kind: AdminChat, Speaker: name, Text: rest}, true
		}
	}
	return Event{Kind: Chat, Speaker: name, Text: text}, true
}

func isToken(s string) bool { return tokenRe.MatchString(s) }
