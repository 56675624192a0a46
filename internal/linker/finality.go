package linker

import (
	"strings"

	"github.com/flashbot/flashback/internal/extract"
)

// 明确的非终态/终态状态标签
var nonTerminalStatuses = map[string]bool{
	"OPEN": true, "PARTIAL": true, "PENDING": true, "WORKING": true,
}

var terminalStatuses = map[string]bool{
	"CLOSED": true, "FILLED": true, "DONE": true, "FINAL": true,
	"CLOSE": true, "CLOSE_FILLED": true, "ABORTED": true, "EXPIRED": true,
}

// IsFinal 判断结果事件是否终态。保守策略：判断不了就当未终态，
// 半成品进学习流比漏一条更毒。
//
// 顺序：
//  1. 显式布尔标记 is_final/final/is_closed/closed 直接生效
//  2. 状态标签：非终态集直接 false，终态集直接 true
//  3. 平仓原因 + 关闭时间戳 => true
//  4. 平仓原因 + 非空盈亏 => true
func IsFinal(evt map[string]interface{}) bool {
	for _, k := range []string{"is_final", "final", "is_closed", "closed"} {
		if _, present := evt[k]; present {
			if b := extract.Bool(evt[k]); b != nil {
				return *b
			}
		}
	}

	status := strings.ToUpper(extract.Str(evt["final_status"]))
	if status == "" {
		status = strings.ToUpper(extract.Str(evt["status"]))
	}
	if nonTerminalStatuses[status] {
		return false
	}
	if terminalStatuses[status] {
		return true
	}

	reason := extract.CloseReason(evt)
	if reason != "" {
		if extract.ClosedTs(evt) != 0 {
			return true
		}
		if extract.PnlUSD(evt) != nil {
			return true
		}
	}
	return false
}
