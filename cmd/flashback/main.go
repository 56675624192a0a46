package main

import (
	"os"

	"github.com/flashbot/flashback/cmd/flashback/cmd"
	"github.com/flashbot/flashback/internal/faults"
)

func main() {
	if err := cmd.Execute(); err != nil {
		// 完整性故障用独立退出码，cron 侧据此区分报警级别
		if faults.IsFatal(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
