package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/bend-n/panel/internal/events"
)

var classifyAll bool

var classifyCmd = &cobra.Command{
	Use:   "classify [log-file]",
	Short: "Show how console lines are classified",
	Long: "Read console output from a file (or stdin) and print the event each line\n" +
		"becomes, using the configured noise prefixes. Noise is hidden unless --all.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		in := cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}
		c := events.MindustryClassifier{NoisePrefixes: cfg.Relay.NoisePrefixes}
		return classifyLines(in, cmd.OutOrStdout(), c, classifyAll)
	},
}

func init() {
	classifyCmd.Flags().BoolVarP(&classifyAll, "all", "a", false, "Also print noise lines")
}

// classifyLines writes one "kind  event" row per input line.
func classifyLines(r io.Reader, w io.Writer, c events.Classifier, all bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		ev := c.Classify(sc.Text())
		if ev.Noise && !all {
			continue
		}
		kind := fmt.Sprintf("%-10s", ev.Kind)
		if _, err := fmt.Fprintf(w, "%s %s\n", kindColor(ev.Kind)(kind), ev); err != nil {
			return err
		}
	}
	return sc.Err()
}
