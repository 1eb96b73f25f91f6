package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bend-n/panel/internal/config"
	"github.com/bend-n/panel/internal/container"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config and create the data directory",
	Long: "Create ~/.panel/config.json (or the --config path; a .yaml suffix writes YAML).\n" +
		"An existing config is refreshed: its values are kept and new keys are added.",
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config with defaults")
}

func runInit(_ *cobra.Command, _ []string) error {
	cfgPath := resolvedConfigPath()

	cfg := config.DefaultConfig()
	verb := "Created"
	if _, err := os.Stat(cfgPath); err == nil && !initForce {
		existing, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		cfg = *existing
		verb = "Refreshed"
	}
	if err := config.Save(&cfg, cfgPath); err != nil {
		return err
	}
	fmt.Printf("%s %s config at %s\n", okMark, verb, cfgPath)

	cronDir := filepath.Dir(container.CronStorePath(&cfg))
	if err := os.MkdirAll(cronDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	fmt.Printf("%s Data directory at %s\n", okMark, cronDir)

	fmt.Printf("\n%s panel is ready!\n\n", logo)
	fmt.Println("Next steps:")
	fmt.Printf("  1. Point console.command (or console.address) in %s at your server\n", cfgPath)
	fmt.Println("  2. Enable a channel under channels.discord, channels.slack or channels.telegram")
	fmt.Println("  3. Start the bridge: panel serve")
	return nil
}
