package domain

// MemoryEntrySchemaVersion 记忆条目当前 schema 版本
const MemoryEntrySchemaVersion = 2

// MemoryEntryEventType 记忆条目的事件类型标记
const MemoryEntryEventType = "memory_entry"

// MemoryDecision 记忆条目内的决策侧摘要
type MemoryDecision struct {
	Allow          *bool    `json:"allow,omitempty"`
	Decision       string   `json:"decision,omitempty"`
	TierUsed       string   `json:"tier_used,omitempty"`
	SizeMultiplier *float64 `json:"size_multiplier,omitempty"`
	GatesReason    string   `json:"gates_reason,omitempty"`
}

// MemoryOutcome 记忆条目内的结果侧摘要
type MemoryOutcome struct {
	PnlUSD     *float64 `json:"pnl_usd,omitempty"`
	RMultiple  *float64 `json:"r_multiple,omitempty"`
	Win        *bool    `json:"win,omitempty"`
	ExitReason string   `json:"exit_reason,omitempty"`
}

// MemoryEntry 规范化的学习记录，同时写 JSONL 流和 SQLite 索引。
// EntryID 由 (trade_id, ts_ms) 派生：同一笔交易的修正结果会生成
// 新条目而不是覆盖历史。
type MemoryEntry struct {
	SchemaVersion     int            `json:"schema_version"`
	EventType         string         `json:"event_type"`
	EntryID           string         `json:"entry_id"`
	TsMs              int64          `json:"ts_ms"`
	TradeID           string         `json:"trade_id"`
	AccountLabel      string         `json:"account_label,omitempty"`
	Symbol            string         `json:"symbol,omitempty"`
	Timeframe         string         `json:"timeframe,omitempty"`
	Strategy          string         `json:"strategy,omitempty"`
	SetupType         string         `json:"setup_type,omitempty"`
	PolicyHash        string         `json:"policy_hash,omitempty"`
	SetupFingerprint  string         `json:"setup_fingerprint,omitempty"`
	MemoryFingerprint string         `json:"memory_fingerprint,omitempty"`
	MemoryID          string         `json:"memory_id,omitempty"`
	Decision          MemoryDecision `json:"decision"`
	Outcome           MemoryOutcome  `json:"outcome"`
}

// Rollup 按 (fingerprint, symbol, timeframe, setup_type, policy_hash)
// 分组的聚合统计行
type Rollup struct {
	RollupID          string   `json:"rollup_id"`
	MemoryFingerprint string   `json:"memory_fingerprint"`
	MemoryID          string   `json:"memory_id,omitempty"`
	Symbol            string   `json:"symbol,omitempty"`
	Timeframe         string   `json:"timeframe,omitempty"`
	SetupType         string   `json:"setup_type,omitempty"`
	PolicyHash        string   `json:"policy_hash,omitempty"`
	N                 int      `json:"n"`
	Wins              int      `json:"wins"`
	Losses            int      `json:"losses"`
	WinRate           *float64 `json:"win_rate,omitempty"`
	AvgRMultiple      *float64 `json:"avg_r_multiple,omitempty"`
	AvgPnlUSD         *float64 `json:"avg_pnl_usd,omitempty"`
	AllowRate         *float64 `json:"allow_rate,omitempty"`
	AvgSizeMultiplier *float64 `json:"avg_size_multiplier,omitempty"`
	LastTsMs          int64    `json:"last_ts_ms"`
	BuiltTsMs         int64    `json:"built_ts_ms"`
}
