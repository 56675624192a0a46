package domain

// DecisionCode 记忆门控给出的决策码
type DecisionCode = string

const (
	DecisionColdStart        DecisionCode = "COLD_START"
	DecisionBlockedByGates   DecisionCode = "BLOCKED_BY_GATES"
	DecisionAllowTrade       DecisionCode = "ALLOW_TRADE"
	DecisionAllowReducedSize DecisionCode = "ALLOW_REDUCED_SIZE"
	DecisionAllowFullSize    DecisionCode = "ALLOW_FULL_SIZE"
)

// DecisionSnapshot 决策时刻的快照，嵌入关联记录。
// 上游决策行的 schema 不完全统一，这里只保留稳定字段，
// 缺失的字段保持零值/nil。
type DecisionSnapshot struct {
	TsMs           int64                  `json:"ts_ms"`
	Decision       string                 `json:"decision,omitempty"`
	Allow          *bool                  `json:"allow,omitempty"`
	SizeMultiplier *float64               `json:"size_multiplier,omitempty"`
	TierUsed       string                 `json:"tier_used,omitempty"`
	GatesReason    string                 `json:"gates_reason,omitempty"`
	Gates          map[string]interface{} `json:"gates,omitempty"`
	MemoryID       string                 `json:"memory_id,omitempty"`
	PolicyHash     string                 `json:"policy_hash,omitempty"`
	AccountLabel   string                 `json:"account_label,omitempty"`
	Symbol         string                 `json:"symbol,omitempty"`
	Timeframe      string                 `json:"timeframe,omitempty"`
	Raw            map[string]interface{} `json:"raw,omitempty"`
}
