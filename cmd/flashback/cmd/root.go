package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/flashbot/flashback/pkg/config"
	"github.com/flashbot/flashback/pkg/logger"
)

var (
	cfgFile  string
	stateDir string
	logLevel string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "flashback",
	Short: "Learning substrate for the multi-account trading platform",
	Long: `Flashback maintains the decision/outcome learning substrate:

  - append-only decision log with dedup and rotation
  - decision <-> outcome linking with replay-safe cursors
  - normalized memory entries (JSONL + SQLite index)
  - rollup aggregation and tiered memory queries

Each subcommand is an independent batch worker. Run with --once from
cron, or with --poll to keep a long-lived worker.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env 不存在不算错
		_ = godotenv.Load()

		if stateDir != "" {
			os.Setenv("FLASHBACK_STATE_DIR", stateDir)
		}
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		return logger.Init(logger.Config{
			Level:      cfg.LogLevel,
			OutputFile: cfg.LogFile,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     14,
			Compress:   true,
		})
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "override state directory (all default paths move under it)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
}
