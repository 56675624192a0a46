package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/flashbot/flashback/internal/decisionlog"
)

var decisionFile string

var decisionCmd = &cobra.Command{
	Use:   "decision",
	Short: "Decision log operations",
}

var decisionAppendCmd = &cobra.Command{
	Use:   "append",
	Short: "Append a decision record from a JSON file or stdin",
	Long: `Reads one JSON object and appends it to the decision log, going
through the same normalization, strict rejection, locking, rotation
and dedup path the in-process writers use.

Examples:
  flashback decision append --file decision.json
  echo '{"trade_id":"t1","account_label":"acct1"}' | flashback decision append`,
	RunE: runDecisionAppend,
}

func init() {
	rootCmd.AddCommand(decisionCmd)
	decisionCmd.AddCommand(decisionAppendCmd)
	decisionAppendCmd.Flags().StringVarP(&decisionFile, "file", "f", "", "JSON file to append (default: stdin)")
}

func runDecisionAppend(cmd *cobra.Command, args []string) error {
	var data []byte
	var err error
	if decisionFile != "" {
		data, err = os.ReadFile(decisionFile)
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return err
	}

	var rec map[string]interface{}
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("输入不是合法的 JSON 对象: %w", err)
	}

	dlog := decisionlog.New(cfg)
	disp, err := dlog.Append(rec)
	if err != nil {
		return err
	}
	fmt.Println(string(disp))
	return nil
}
