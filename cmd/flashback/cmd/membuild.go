package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/flashbot/flashback/internal/membuild"
	"github.com/flashbot/flashback/pkg/logger"
	"github.com/flashbot/flashback/pkg/shutdown"
)

var (
	membuildOnce bool
	membuildPoll float64
)

var membuildCmd = &cobra.Command{
	Use:   "membuild",
	Short: "Build memory entries from joined outcome records",
	Long: `Consumes new OK records from the joined stream and writes one
normalized memory entry per record, to both the append-only JSONL
stream and the SQLite index. A duplicate entry_id means the two
stores have diverged; the run aborts with exit code 2.`,
	RunE: runMembuild,
}

func init() {
	rootCmd.AddCommand(membuildCmd)
	membuildCmd.Flags().BoolVar(&membuildOnce, "once", false, "process new joined records once and exit")
	membuildCmd.Flags().Float64Var(&membuildPoll, "poll", 0, "polling seconds for loop mode (default from config)")
}

func runMembuild(cmd *cobra.Command, args []string) error {
	b, err := membuild.New(cfg)
	if err != nil {
		return err
	}

	if membuildOnce {
		defer b.Close()
		report, err := b.ProcessOnce()
		if err != nil {
			return err
		}
		return printJSON(report)
	}

	mgr := shutdown.NewManager()
	mgr.OnShutdown(func(ctx context.Context) {
		if err := b.Close(); err != nil {
			logger.Warnf("关闭记忆索引失败: %v", err)
		}
	})

	poll := membuildPoll
	if poll <= 0 {
		poll = cfg.PollSeconds
	}
	return runPollLoop(poll, mgr, func() error {
		_, err := b.ProcessOnce()
		return err
	})
}
