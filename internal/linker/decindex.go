package linker

import (
	"os"

	"github.com/flashbot/flashback/internal/domain"
	"github.com/flashbot/flashback/internal/extract"
	"github.com/flashbot/flashback/internal/stream"
)

// DecisionIndex 把决策日志按 trade_id 建桶。
// 同一个 trade_id 下保留全部候选行，由结果事件的
// account_label/symbol 决定选哪条。文件 mtime/size 变化时重建。
type DecisionIndex struct {
	path      string
	sigMtime  int64
	sigSize   int64
	byTradeID map[string][]map[string]interface{}
}

// NewDecisionIndex 创建索引，首次查询时加载
func NewDecisionIndex(path string) *DecisionIndex {
	return &DecisionIndex{path: path}
}

func (ix *DecisionIndex) sig() (int64, int64) {
	st, err := os.Stat(ix.path)
	if err != nil {
		return 0, 0
	}
	return st.ModTime().UnixNano(), st.Size()
}

func (ix *DecisionIndex) maybeReload() {
	mtime, size := ix.sig()
	if ix.byTradeID != nil && mtime == ix.sigMtime && size == ix.sigSize {
		return
	}
	ix.sigMtime, ix.sigSize = mtime, size
	ix.byTradeID = ix.loadAll()
}

// isExecutorEcho 执行端回写的 ai_decision 行（带 stage 标记），
// 不是入场前的决策，不进索引
func isExecutorEcho(d map[string]interface{}) bool {
	if extract.Str(d["event_type"]) != "ai_decision" {
		return false
	}
	return extract.Str(extract.Sub(d, "extra")["stage"]) != ""
}

func (ix *DecisionIndex) loadAll() map[string][]map[string]interface{} {
	out := map[string][]map[string]interface{}{}
	records, _, _, err := stream.ReadNew(ix.path, 0)
	if err != nil {
		log.Warnf("决策日志读取失败，索引置空: path=%s err=%v", ix.path, err)
		return out
	}
	for _, d := range records {
		if isExecutorEcho(d) {
			continue
		}
		// 生命周期中改过名的交易按全部别名入桶
		for _, tid := range extract.DecisionTradeIDs(d) {
			out[tid] = append(out[tid], d)
		}
	}
	// 桶内按时间升序，取 bucket 末尾即最新
	for _, arr := range out {
		sortByTs(arr)
	}
	return out
}

func sortByTs(arr []map[string]interface{}) {
	// 插入排序：桶一般只有个位数行
	for i := 1; i < len(arr); i++ {
		for j := i; j > 0 && extract.TsMs(arr[j]) < extract.TsMs(arr[j-1]); j-- {
			arr[j], arr[j-1] = arr[j-1], arr[j]
		}
	}
}

func pickLatest(arr []map[string]interface{}) map[string]interface{} {
	if len(arr) == 0 {
		return nil
	}
	return arr[len(arr)-1]
}

// BestForOutcome 三档确定性匹配：
//  1. trade_id + account_label + symbol
//  2. trade_id + account_label
//  3. trade_id
//
// 每档取时间戳最新的候选。返回 (决策行, match_level, match_rule)，
// 没匹配到时 level=0。
func (ix *DecisionIndex) BestForOutcome(tradeID, accountLabel, symbol string) (map[string]interface{}, int, string) {
	if tradeID == "" {
		return nil, 0, domain.MatchRuleNone
	}
	ix.maybeReload()
	candidates := ix.byTradeID[tradeID]
	if len(candidates) == 0 {
		return nil, 0, domain.MatchRuleNone
	}

	if accountLabel != "" && symbol != "" {
		var bucket []map[string]interface{}
		for _, d := range candidates {
			if extract.DecisionAccountLabel(d) == accountLabel && extract.Symbol(d) == symbol {
				bucket = append(bucket, d)
			}
		}
		if best := pickLatest(bucket); best != nil {
			return best, 1, domain.MatchRuleTradeAcctSym
		}
	}

	if accountLabel != "" {
		var bucket []map[string]interface{}
		for _, d := range candidates {
			if extract.DecisionAccountLabel(d) == accountLabel {
				bucket = append(bucket, d)
			}
		}
		if best := pickLatest(bucket); best != nil {
			return best, 2, domain.MatchRuleTradeAcct
		}
	}

	return pickLatest(candidates), 3, domain.MatchRuleTradeOnly
}
