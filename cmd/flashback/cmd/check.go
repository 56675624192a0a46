package cmd

import (
	"github.com/spf13/cobra"

	"github.com/flashbot/flashback/internal/membuild"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify stream/index integrity",
	Long: `Compares the memory entry JSONL stream against the SQLite index.
Row counts must match exactly; a mismatch means a dual write was torn
and the run exits with code 2 so the scheduler can page.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := membuild.New(cfg)
		if err != nil {
			return err
		}
		defer b.Close()
		return b.VerifyIntegrity()
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
