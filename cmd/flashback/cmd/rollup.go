package cmd

import (
	"github.com/spf13/cobra"

	"github.com/flashbot/flashback/internal/rollup"
)

var rollupCmd = &cobra.Command{
	Use:   "rollup",
	Short: "Rebuild the rollup aggregation database",
	Long: `Drops and fully rebuilds the rollup database by grouping all memory
entries by (memory_fingerprint, symbol, timeframe, setup_type,
policy_hash). One-shot by design: run it from cron after membuild.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := rollup.Rebuild(cfg)
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

func init() {
	rootCmd.AddCommand(rollupCmd)
}
