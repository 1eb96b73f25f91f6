package channels

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/bend-n/panel/internal/bus"
	"github.com/bend-n/panel/internal/relay"
)

// "exit" and "stop" are server commands, so only these leave the terminal.
var cliExitCommands = map[string]bool{
	"/exit": true,
	"/quit": true,
	":q":    true,
}

var (
	cliSpeaker = color.New(color.FgCyan, color.Bold).SprintFunc()
	cliSystem  = color.New(color.FgHiBlack).SprintFunc()
	cliError   = color.New(color.FgRed).SprintFunc()
)

// CLIChannel attaches the terminal to the console: typed lines are issued as
// raw console commands and relayed output is printed.
type CLIChannel struct {
	issuer relay.Issuer
	in     io.Reader
	out    io.Writer
	system string
	onQuit func()
}

// NewCLIChannel creates a CLIChannel. onQuit, when set, runs after the user
// leaves with an exit command or closes the input.
func NewCLIChannel(issuer relay.Issuer, in io.Reader, out io.Writer, systemName string, onQuit func()) *CLIChannel {
	return &CLIChannel{issuer: issuer, in: in, out: out, system: systemName, onQuit: onQuit}
}

func (c *CLIChannel) Name() string { return string(bus.ChannelCLI) }

// Start reads lines from the terminal until ctx is cancelled or input ends.
func (c *CLIChannel) Start(ctx context.Context) error {
	fmt.Fprintf(c.out, "Console attached. Type '/quit' or press Ctrl+C to detach.\n\n")

	lines := make(chan string)
	scanErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErr:
			c.quit()
			return err
		case line := <-lines:
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if cliExitCommands[strings.ToLower(line)] {
				c.quit()
				return nil
			}
			if err := c.issuer.Issue(line); err != nil {
				fmt.Fprintln(c.out, cliError("error: "+err.Error()))
			}
		}
	}
}

func (c *CLIChannel) quit() {
	if c.onQuit != nil {
		c.onQuit()
	}
}

// Deliver prints msg with the speaker highlighted; system output is dimmed.
func (c *CLIChannel) Deliver(_ context.Context, msg relay.Message) error {
	if msg.Speaker == c.system {
		_, err := fmt.Fprintln(c.out, cliSystem(msg.Content))
		return err
	}
	for _, line := range strings.Split(msg.Content, "\n") {
		if _, err := fmt.Fprintf(c.out, "%s: %s\n", cliSpeaker(msg.Speaker), line); err != nil {
			return err
		}
	}
	return nil
}
