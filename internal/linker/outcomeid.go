package linker

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/flashbot/flashback/internal/extract"
)

// OutcomeID 取结果事件的唯一标识。
// 显式 outcome_id 字段优先；没有则从稳定的终态字段派生哈希。
// 既没有显式 id、终态字段又不足以区分事件时返回空串，
// 由调用方按 MISSING_OUTCOME_ID 隔离。
func OutcomeID(evt map[string]interface{}) string {
	if id := extract.Str(evt["outcome_id"]); id != "" {
		return id
	}

	tid := extract.TradeID(evt)
	if tid == "" {
		return ""
	}
	closedTs := extract.ClosedTs(evt)
	reason := extract.CloseReason(evt)
	pnl := extract.PnlUSD(evt)
	if closedTs == 0 && reason == "" && pnl == nil {
		return ""
	}

	pnlStr := ""
	if pnl != nil {
		pnlStr = strconv.FormatFloat(*pnl, 'f', -1, 64)
	}
	parts := strings.Join([]string{
		tid,
		extract.AccountLabel(evt),
		extract.Symbol(evt),
		strconv.FormatInt(closedTs, 10),
		reason,
		pnlStr,
	}, "|")
	sum := sha256.Sum256([]byte(parts))
	return hex.EncodeToString(sum[:])[:32]
}
