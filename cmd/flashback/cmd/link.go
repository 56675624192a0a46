package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flashbot/flashback/internal/linker"
)

var (
	linkOnce bool
	linkPoll float64
)

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Link finalized trade outcomes to their decisions",
	Long: `Consumes new events from the outcomes stream, matches each finalized
outcome to the decision that admitted it, and appends exactly one joined
record per input event. Non-final events and unmatched outcomes are
written with a quarantine status instead of being dropped.`,
	RunE: runLink,
}

func init() {
	rootCmd.AddCommand(linkCmd)
	linkCmd.Flags().BoolVar(&linkOnce, "once", false, "process new outcomes once and exit")
	linkCmd.Flags().Float64Var(&linkPoll, "poll", 0, "polling seconds for loop mode (default from config)")
}

func runLink(cmd *cobra.Command, args []string) error {
	l := linker.New(cfg)

	if linkOnce {
		report, err := l.ProcessOnce()
		if err != nil {
			return err
		}
		return printJSON(report)
	}

	poll := linkPoll
	if poll <= 0 {
		poll = cfg.PollSeconds
	}
	return runPollLoop(poll, nil, func() error {
		_, err := l.ProcessOnce()
		return err
	})
}

func printJSON(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
