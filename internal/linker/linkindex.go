package linker

import (
	"github.com/flashbot/flashback/pkg/persistence"
)

// linkState 链接索引的持久化形态
type linkState struct {
	ByTradeID   map[string]string `json:"by_trade_id"`
	ByOutcomeID map[string]string `json:"by_outcome_id"`
	// Order 按链接时间排列的 trade_id，容量淘汰时最老先出
	Order []string `json:"order"`
}

// LinkIndex 维护 trade_id <-> outcome_id 的 1:1 双向映射。
// 只有 OK 状态的关联会写入；超过容量按最旧先出整对淘汰。
type LinkIndex struct {
	store *persistence.JSONFileStore
	cap   int
	state linkState
}

// LoadLinkIndex 加载链接索引，文件缺失或损坏从空索引开始
func LoadLinkIndex(path string, cap int) *LinkIndex {
	ix := &LinkIndex{
		store: persistence.NewJSONFileStore(path),
		cap:   cap,
	}
	if err := ix.store.Load(&ix.state); err != nil {
		if err != persistence.ErrNotExists {
			log.Warnf("链接索引损坏，重建空索引: path=%s err=%v", path, err)
		}
		ix.state = linkState{}
	}
	if ix.state.ByTradeID == nil {
		ix.state.ByTradeID = map[string]string{}
	}
	if ix.state.ByOutcomeID == nil {
		ix.state.ByOutcomeID = map[string]string{}
	}
	return ix
}

// HasTradeID 该交易是否已链接
func (ix *LinkIndex) HasTradeID(tradeID string) bool {
	_, ok := ix.state.ByTradeID[tradeID]
	return ok
}

// HasOutcomeID 该结果是否已链接
func (ix *LinkIndex) HasOutcomeID(outcomeID string) bool {
	_, ok := ix.state.ByOutcomeID[outcomeID]
	return ok
}

// Put 记录一对链接并按容量淘汰
func (ix *LinkIndex) Put(tradeID, outcomeID string) {
	ix.state.ByTradeID[tradeID] = outcomeID
	ix.state.ByOutcomeID[outcomeID] = tradeID
	ix.state.Order = append(ix.state.Order, tradeID)

	for len(ix.state.Order) > ix.cap {
		oldest := ix.state.Order[0]
		ix.state.Order = ix.state.Order[1:]
		if oid, ok := ix.state.ByTradeID[oldest]; ok {
			delete(ix.state.ByTradeID, oldest)
			delete(ix.state.ByOutcomeID, oid)
		}
	}
}

// Len 当前链接数
func (ix *LinkIndex) Len() int {
	return len(ix.state.Order)
}

// Save 原子落盘。必须在游标前进之前调用：
// 崩在两者之间时重放只会产出 DUPLICATE_* 隔离记录，不会双写 OK。
func (ix *LinkIndex) Save() error {
	return ix.store.Save(&ix.state)
}
