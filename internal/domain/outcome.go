package domain

// OutcomeSnapshot 终态交易结果的快照，嵌入关联记录
type OutcomeSnapshot struct {
	TsMs         int64                  `json:"ts_ms"`
	TradeID      string                 `json:"trade_id,omitempty"`
	OutcomeID    string                 `json:"outcome_id,omitempty"`
	Symbol       string                 `json:"symbol,omitempty"`
	AccountLabel string                 `json:"account_label,omitempty"`
	PnlUSD       *float64               `json:"pnl_usd,omitempty"`
	RMultiple    *float64               `json:"r_multiple,omitempty"`
	Win          *bool                  `json:"win,omitempty"`
	ExitReason   string                 `json:"exit_reason,omitempty"`
	FinalStatus  string                 `json:"final_status,omitempty"`
	Raw          map[string]interface{} `json:"raw,omitempty"`
}
