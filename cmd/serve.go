package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bend-n/panel/internal/channels"
	"github.com/bend-n/panel/internal/console"
	"github.com/bend-n/panel/internal/container"
)

var serveInteractive bool

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"run"},
	Short:   "Run the console bridge",
	Long: "Connect to the game server console, relay its output to the enabled chat\n" +
		"channels and forward their messages into the game until interrupted.",
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVarP(&serveInteractive, "interactive", "i", false,
		"Also attach this terminal: lines typed are sent to the console")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	c, err := container.New(cfg)
	if err != nil {
		return fmt.Errorf("wire services: %w", err)
	}
	if err := c.Cron().Seed(cfg.Schedule.Jobs); err != nil {
		slog.Warn("cron: some configured jobs were not scheduled", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if serveInteractive {
		// the terminal sees relayed output like any chat; without the relay it
		// gets the raw console stream instead
		c.Channels().Register(channels.NewCLIChannel(c.Bridge(), os.Stdin, os.Stdout, cfg.Relay.SystemName, stop))
	}

	fmt.Printf("%s Console: %s (%s)\n", logo, cfg.Console.Target(), cfg.Console.Mode)
	if enabled := c.Channels().EnabledChannels(); len(enabled) > 0 {
		fmt.Printf("%s Channels enabled: %s\n", okMark, strings.Join(enabled, ", "))
	} else {
		fmt.Println(warnText("Warning: no channels enabled"))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.Bridge().Run(gctx) })
	if cfg.Relay.Enabled {
		sub := c.Bridge().Subscribe("relay")
		g.Go(func() error {
			defer sub.Close()
			return c.Relay().Run(gctx, sub.C())
		})
	} else if serveInteractive {
		sub := c.Bridge().Subscribe("terminal")
		g.Go(func() error {
			defer sub.Close()
			return echoConsole(gctx, sub, os.Stdout)
		})
	}
	g.Go(func() error { return c.Inbound().Run(gctx) })
	g.Go(func() error { return c.Channels().StartAll(gctx) })
	g.Go(func() error { return c.Cron().Start(gctx) })
	if cfg.Heartbeat.Enabled {
		g.Go(func() error { return c.Heartbeat().Start(gctx) })
	}
	if cfg.Web.Enabled {
		fmt.Printf("%s Web console on http://%s:%d\n", okMark, cfg.Web.Host, cfg.Web.Port)
		g.Go(func() error { return c.Web().Run(gctx) })
	}

	fmt.Printf("%s Bridge running. Press Ctrl+C to stop.\n", logo)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "serve error: %v\n", err)
		return err
	}
	fmt.Println("\nShutdown complete.")
	return nil
}

// echoConsole copies raw console chunks to w until ctx ends or the
// subscription closes.
func echoConsole(ctx context.Context, sub *console.Subscription, w io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-sub.C():
			if !ok {
				return nil
			}
			if _, err := fmt.Fprintln(w, chunk); err != nil {
				return err
			}
		}
	}
}
