package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bend-n/panel/internal/config"
	"github.com/bend-n/panel/internal/config/bridge"
	"github.com/bend-n/panel/internal/container"
	"github.com/bend-n/panel/internal/cron"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show panel configuration status",
	RunE:  runStatus,
}

func runStatus(_ *cobra.Command, _ []string) error {
	cfgPath := resolvedConfigPath()

	fmt.Printf("%s panel status\n\n", logo)

	_, statErr := os.Stat(cfgPath)
	fmt.Printf("Config:    %s %s\n", cfgPath, mark(statErr == nil))

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  (could not load config: %v)\n", err)
		return nil
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("  %s %v\n", badMark, err)
	}

	fmt.Printf("Console:   %s %s\n", cfg.Console.Target(), dimText("("+cfg.Console.Mode+")"))
	if cfg.Console.Mode == bridge.ModeProcess && cfg.Console.Dir != "" {
		_, dirErr := os.Stat(cfg.Console.Dir)
		fmt.Printf("  dir:     %s %s\n", cfg.Console.Dir, mark(dirErr == nil))
	}

	relay := "off"
	if cfg.Relay.Enabled {
		relay = fmt.Sprintf("idle %s, max %d lines", cfg.Relay.IdleInterval, cfg.Relay.MaxLines)
		if cfg.Relay.RelayAdminChat {
			relay += ", admin chat"
		}
	}
	fmt.Printf("Relay:     %s\n", relay)

	if enabled := cfg.EnabledChannels(); len(enabled) > 0 {
		fmt.Printf("Channels:  %s\n", okText(strings.Join(enabled, ", ")))
	} else {
		fmt.Printf("Channels:  %s\n", warnText("none"))
	}

	web := "off"
	if cfg.Web.Enabled {
		web = fmt.Sprintf("http://%s:%d", cfg.Web.Host, cfg.Web.Port)
		if cfg.Web.Token == "" {
			web += " " + warnText("(no token)")
		}
	}
	fmt.Printf("Web:       %s\n", web)
	if cfg.Web.Enabled {
		if h, err := fetchHealth(healthURL(cfg.Web)); err != nil {
			fmt.Printf("  %s\n", dimText("(panel not running)"))
		} else {
			printHealth(h)
		}
	}

	heartbeat := "off"
	if cfg.Heartbeat.Enabled {
		heartbeat = fmt.Sprintf("%q every %s", cfg.Heartbeat.Command, cfg.Heartbeat.Interval)
	}
	fmt.Printf("Heartbeat: %s\n", heartbeat)

	jobs := cron.NewService(container.CronStorePath(cfg), nil).ListJobs(true)
	fmt.Printf("Jobs:      %d stored, %d configured\n", len(jobs), len(cfg.Schedule.Jobs))
	return nil
}
