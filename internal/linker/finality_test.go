package linker

import (
	"testing"
)

func TestIsFinal_ExplicitBoolWins(t *testing.T) {
	// 显式标记优先于其它所有信号
	evt := map[string]interface{}{
		"is_final":     false,
		"final_status": "CLOSED",
		"exit_reason":  "tp",
		"close_ts":     float64(1),
	}
	if IsFinal(evt) {
		t.Fatalf("is_final=false must win")
	}
	if !IsFinal(map[string]interface{}{"closed": true}) {
		t.Fatalf("closed=true must win")
	}
	if !IsFinal(map[string]interface{}{"final": "yes"}) {
		t.Fatalf("final=yes should parse as true")
	}
}

func TestIsFinal_StatusLabels(t *testing.T) {
	// OPEN 压过后面的平仓信号
	evt := map[string]interface{}{
		"status":      "open",
		"exit_reason": "tp",
		"close_ts":    float64(1),
	}
	if IsFinal(evt) {
		t.Fatalf("OPEN must stay non-final")
	}

	for _, s := range []string{"CLOSED", "filled", "Done", "ABORTED", "EXPIRED"} {
		if !IsFinal(map[string]interface{}{"final_status": s}) {
			t.Fatalf("status %s should be final", s)
		}
	}
	for _, s := range []string{"PARTIAL", "pending", "WORKING"} {
		if IsFinal(map[string]interface{}{"status": s}) {
			t.Fatalf("status %s should be non-final", s)
		}
	}
}

func TestIsFinal_DerivedSignals(t *testing.T) {
	if !IsFinal(map[string]interface{}{"exit_reason": "sl", "close_ts": float64(100)}) {
		t.Fatalf("reason + close ts should be final")
	}
	if !IsFinal(map[string]interface{}{"close_reason": "manual", "pnl_usd": -3.5}) {
		t.Fatalf("reason + pnl should be final")
	}
	// 只有原因没有佐证：保守按未终态
	if IsFinal(map[string]interface{}{"exit_reason": "tp"}) {
		t.Fatalf("reason alone must not be final")
	}
	// 只有盈亏没有原因也不算
	if IsFinal(map[string]interface{}{"pnl_usd": 1.0}) {
		t.Fatalf("pnl alone must not be final")
	}
	if IsFinal(map[string]interface{}{}) {
		t.Fatalf("empty event must not be final")
	}
}

func TestOutcomeID(t *testing.T) {
	if got := OutcomeID(map[string]interface{}{"outcome_id": "explicit-1"}); got != "explicit-1" {
		t.Fatalf("explicit outcome_id must win: %s", got)
	}

	evt := map[string]interface{}{
		"trade_id":    "t-1",
		"symbol":      "BTCUSDT",
		"exit_reason": "tp",
		"close_ts":    float64(1000),
	}
	a := OutcomeID(evt)
	if len(a) != 32 {
		t.Fatalf("derived id should be 32 hex chars: %q", a)
	}
	if b := OutcomeID(evt); b != a {
		t.Fatalf("derivation must be deterministic: %s vs %s", a, b)
	}

	evt["close_ts"] = float64(2000)
	if OutcomeID(evt) == a {
		t.Fatalf("different close ts must derive a different id")
	}

	// 终态字段不足以区分：返回空串交给隔离
	if got := OutcomeID(map[string]interface{}{"trade_id": "t-2"}); got != "" {
		t.Fatalf("expected empty id, got %s", got)
	}
	if got := OutcomeID(map[string]interface{}{"exit_reason": "tp"}); got != "" {
		t.Fatalf("no trade_id must yield empty id, got %s", got)
	}
}
