package domain

// JoinStatus 关联记录的状态。除 OK 外都不会写入链接索引。
type JoinStatus = string

const (
	JoinOK                 JoinStatus = "OK"
	JoinMissingTradeID     JoinStatus = "MISSING_TRADE_ID"
	JoinSkippedNonFinal    JoinStatus = "SKIPPED_NON_FINAL"
	JoinMissingOutcomeID   JoinStatus = "MISSING_OUTCOME_ID"
	JoinDuplicateTradeID   JoinStatus = "DUPLICATE_TRADE_ID"
	JoinDuplicateOutcomeID JoinStatus = "DUPLICATE_OUTCOME_ID"
	JoinNoDecisionFound    JoinStatus = "NO_DECISION_FOUND"
)

// MatchRule 决策匹配档位，数值越小越精确
const (
	MatchRuleTradeAcctSym = "tid+acct+sym" // match_level 1
	MatchRuleTradeAcct    = "tid+acct"     // match_level 2
	MatchRuleTradeOnly    = "tid_only"     // match_level 3
	MatchRuleNone         = "no_decision"  // match_level 0
)

// Integrity 关联质量元数据
type Integrity struct {
	DecisionPresent bool   `json:"decision_present"`
	MatchLevel      int    `json:"match_level"`
	MatchRule       string `json:"match_rule"`
	LinkedAtMs      int64  `json:"linked_at_ms"`
}

// JoinedRecord 每条输入结果事件恰好产出一条，状态标明关联质量。
// 非 OK 记录同样落盘，隔离可排查。
type JoinedRecord struct {
	SchemaVersion int               `json:"schema_version"`
	EventType     string            `json:"event_type"`
	TsMs          int64             `json:"ts_ms"`
	Status        JoinStatus        `json:"status"`
	TradeID       string            `json:"trade_id,omitempty"`
	OutcomeID     string            `json:"outcome_id,omitempty"`
	Symbol        string            `json:"symbol,omitempty"`
	AccountLabel  string            `json:"account_label,omitempty"`
	Decision      *DecisionSnapshot `json:"decision,omitempty"`
	Outcome       *OutcomeSnapshot  `json:"outcome,omitempty"`
	Integrity     Integrity         `json:"integrity"`
}

// JoinedSchemaVersion 关联记录当前 schema 版本
const JoinedSchemaVersion = 2

// JoinedEventType 关联记录的事件类型标记
const JoinedEventType = "joined_outcome"
