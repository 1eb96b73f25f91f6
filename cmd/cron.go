package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bend-n/panel/internal/config"
	"github.com/bend-n/panel/internal/config/bridge"
	"github.com/bend-n/panel/internal/console"
	"github.com/bend-n/panel/internal/container"
	"github.com/bend-n/panel/internal/cron"
)

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Manage scheduled console commands",
}

func init() {
	cronCmd.AddCommand(cronListCmd)
	cronCmd.AddCommand(cronAddCmd)
	cronCmd.AddCommand(cronRemoveCmd)
	cronCmd.AddCommand(cronEnableCmd)
	cronCmd.AddCommand(cronRunCmd)
}

// cronService opens the job store named by the config without starting it.
func cronService() (*cron.Service, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	return cron.NewService(container.CronStorePath(cfg), nil), cfg, nil
}

// ---- list ------------------------------------------------------------------

var cronListAll bool

var cronListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled jobs",
	RunE: func(_ *cobra.Command, _ []string) error {
		svc, _, err := cronService()
		if err != nil {
			return err
		}
		jobs := svc.ListJobs(cronListAll)
		if len(jobs) == 0 {
			fmt.Println("No scheduled jobs.")
			return nil
		}
		fmt.Printf("%-10s %-18s %-24s %-20s %-9s %-17s\n", "ID", "Name", "Schedule", "Command", "Status", "Next Run")
		fmt.Println(rule(102))
		for _, j := range jobs {
			status := okText("enabled")
			if !j.Enabled {
				status = dimText("disabled")
			}
			nextRun := ""
			if j.State.NextRunAtMs != nil {
				nextRun = time.UnixMilli(*j.State.NextRunAtMs).Format("2006-01-02 15:04")
			}
			name := j.Name
			if j.Source == cron.SourceConfig {
				name += "*"
			}
			fmt.Printf("%-10s %-18s %-24s %-20s %-9s %-17s\n",
				j.ID, truncStr(name, 17), truncStr(j.Schedule.Describe(), 23), truncStr(j.Command, 19), status, nextRun)
		}
		return nil
	},
}

func init() {
	cronListCmd.Flags().BoolVarP(&cronListAll, "all", "a", false, "Include disabled jobs")
}

// ---- add -------------------------------------------------------------------

var (
	cronAddName    string
	cronAddCommand string
	cronAddEvery   time.Duration
	cronAddCron    string
	cronAddTZ      string
	cronAddAt      string
)

var cronAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Schedule a console command",
	Example: "  panel cron add -n autosave -m 'save 0' --every 10m\n" +
		"  panel cron add -n nightly -m 'gameover' --cron '0 4 * * *' --tz Europe/Berlin",
	RunE: func(_ *cobra.Command, _ []string) error {
		if cronAddTZ != "" && cronAddCron == "" {
			return fmt.Errorf("--tz can only be used with --cron")
		}
		n := cron.NewJob{
			Name:    cronAddName,
			Command: cronAddCommand,
			Every:   cronAddEvery,
			Cron:    cronAddCron,
			TZ:      cronAddTZ,
			Source:  cron.SourceCLI,
		}
		if cronAddAt != "" {
			at, err := parseAt(cronAddAt)
			if err != nil {
				return err
			}
			n.At = at
			n.DeleteAfterRun = true
		}

		svc, _, err := cronService()
		if err != nil {
			return err
		}
		job, err := svc.AddJob(n)
		if err != nil {
			return err
		}
		fmt.Printf("%s Added job '%s' (%s): %s\n", okMark, job.Name, job.ID, job.Schedule.Describe())
		return nil
	},
}

func init() {
	cronAddCmd.Flags().StringVarP(&cronAddName, "name", "n", "", "Job name (required)")
	cronAddCmd.Flags().StringVarP(&cronAddCommand, "command", "m", "", "Console command to run (required)")
	cronAddCmd.Flags().DurationVarP(&cronAddEvery, "every", "e", 0, "Run at a fixed interval, e.g. 10m")
	cronAddCmd.Flags().StringVar(&cronAddCron, "cron", "", "Cron expression (e.g. '0 9 * * *')")
	cronAddCmd.Flags().StringVar(&cronAddTZ, "tz", "", "IANA timezone for --cron")
	cronAddCmd.Flags().StringVar(&cronAddAt, "at", "", "Run once at an ISO datetime")

	_ = cronAddCmd.MarkFlagRequired("name")
	_ = cronAddCmd.MarkFlagRequired("command")
	cronAddCmd.MarkFlagsMutuallyExclusive("every", "cron", "at")
	cronAddCmd.MarkFlagsOneRequired("every", "cron", "at")
}

// parseAt accepts a local "2006-01-02T15:04:05" or an RFC 3339 timestamp.
func parseAt(s string) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, time.Local); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at value %q: %w", s, err)
	}
	return t, nil
}

// ---- remove / enable -------------------------------------------------------

var cronRemoveCmd = &cobra.Command{
	Use:   "remove <job-id>",
	Short: "Remove a scheduled job",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		svc, _, err := cronService()
		if err != nil {
			return err
		}
		if svc.RemoveJob(args[0]) {
			fmt.Printf("%s Removed job %s\n", okMark, args[0])
		} else {
			fmt.Printf("Job %s not found\n", args[0])
		}
		return nil
	},
}

var cronEnableDisable bool

var cronEnableCmd = &cobra.Command{
	Use:   "enable <job-id>",
	Short: "Enable (or disable) a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		svc, _, err := cronService()
		if err != nil {
			return err
		}
		job, ok := svc.EnableJob(args[0], !cronEnableDisable)
		if !ok {
			fmt.Printf("Job %s not found\n", args[0])
			return nil
		}
		action := "enabled"
		if cronEnableDisable {
			action = "disabled"
		}
		fmt.Printf("%s Job '%s' %s\n", okMark, job.Name, action)
		return nil
	},
}

func init() {
	cronEnableCmd.Flags().BoolVar(&cronEnableDisable, "disable", false, "Disable instead of enable")
}

// ---- run -------------------------------------------------------------------

var cronRunForce bool

var cronRunCmd = &cobra.Command{
	Use:   "run <job-id>",
	Short: "Send a job's command to the console now",
	Long: "Dial the console socket and write the job's command once. Only tcp mode\n" +
		"is supported: in process mode the console belongs to the running bridge.",
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		svc, cfg, err := cronService()
		if err != nil {
			return err
		}
		if cfg.Console.Mode != bridge.ModeTCP {
			return fmt.Errorf("cron run needs console.mode %q; use the running bridge in %q mode", bridge.ModeTCP, cfg.Console.Mode)
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		dialer := console.TCPDialer{Address: cfg.Console.Address, Timeout: cfg.Console.DialTimeout.Std()}
		var runErr error
		svc.SetOnJob(func(ctx context.Context, job cron.Job) error {
			runErr = sendCommand(ctx, dialer, job.Command)
			return runErr
		})

		if !svc.RunJob(ctx, args[0], cronRunForce) {
			fmt.Printf("Failed to run job %s (not found or disabled; use --force)\n", args[0])
			return nil
		}
		if runErr != nil {
			return fmt.Errorf("job %s: %w", args[0], runErr)
		}
		fmt.Printf("%s Job executed\n", okMark)
		return nil
	},
}

func init() {
	cronRunCmd.Flags().BoolVarP(&cronRunForce, "force", "f", false, "Run even if disabled")
}

// sendCommand opens a one-off console connection and writes command to it.
func sendCommand(ctx context.Context, d console.Dialer, command string) error {
	t, err := d.Dial(ctx)
	if err != nil {
		return err
	}
	defer t.Close()
	return t.WriteLine(command)
}
