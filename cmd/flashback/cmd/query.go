package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/flashbot/flashback/internal/extract"
	"github.com/flashbot/flashback/internal/memquery"
)

var (
	queryFingerprint string
	querySymbol      string
	queryTimeframe   string
	querySetupType   string
	queryPolicyHash  string
	queryK           int
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query rollup evidence for a setup",
	Long: `Tiered lookup against the rollup database:

  Tier A: symbol-scoped match
  Tier B: any-symbol fallback with a stricter sample-size minimum
  NONE:   no evidence (caller should treat as cold start)

Example:
  flashback query --fingerprint 3f2a... --symbol BTCUSDT --timeframe 15m`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVar(&queryFingerprint, "fingerprint", "", "memory fingerprint (full or prefix)")
	queryCmd.Flags().StringVar(&querySymbol, "symbol", "", "symbol scope for tier A")
	queryCmd.Flags().StringVar(&queryTimeframe, "timeframe", "", "timeframe filter")
	queryCmd.Flags().StringVar(&querySetupType, "setup-type", "", "setup type filter")
	queryCmd.Flags().StringVar(&queryPolicyHash, "policy-hash", "", "policy hash (full or prefix)")
	queryCmd.Flags().IntVar(&queryK, "k", 0, "max rows to return (default from config)")
}

func runQuery(cmd *cobra.Command, args []string) error {
	engine := memquery.NewEngine(cfg)
	opts := memquery.DefaultOptions(cfg)
	if queryK > 0 {
		opts.K = queryK
	}
	setup := memquery.SetupContext{
		MemoryFingerprint: queryFingerprint,
		Symbol:            strings.ToUpper(querySymbol),
		Timeframe:         extract.NormalizeTimeframe(queryTimeframe),
		SetupType:         querySetupType,
		PolicyHash:        queryPolicyHash,
	}
	result, err := engine.Query(setup, opts)
	if err != nil {
		return err
	}
	return printJSON(result)
}
