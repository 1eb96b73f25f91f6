package cmd

import (
	"strings"

	"github.com/fatih/color"

	"github.com/bend-n/panel/internal/events"
)

const logo = "▣"

var (
	okText   = color.New(color.FgGreen).SprintFunc()
	badText  = color.New(color.FgRed).SprintFunc()
	warnText = color.New(color.FgYellow).SprintFunc()
	dimText  = color.New(color.Faint).SprintFunc()

	okMark  = okText("✓")
	badMark = badText("✗")
)

func mark(ok bool) string {
	if ok {
		return okMark
	}
	return badMark
}

// kindColor picks the highlight for an event kind in classify output.
func kindColor(k events.Kind) func(a ...any) string {
	switch k {
	case events.Chat:
		return color.New(color.FgCyan).SprintFunc()
	case events.AdminChat:
		return color.New(color.FgMagenta).SprintFunc()
	case events.Joined:
		return okText
	case events.Left:
		return warnText
	case events.MapLoaded:
		return color.New(color.FgBlue, color.Bold).SprintFunc()
	}
	return dimText
}

func truncStr(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}

func rule(n int) string { return strings.Repeat("-", n) }
