package decisionlog

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/flashbot/flashback/internal/stream"
	"github.com/flashbot/flashback/pkg/config"
)

func newTestLog(t *testing.T) (*Log, *config.Config) {
	t.Helper()
	cfg := config.Default(t.TempDir())
	return New(cfg), cfg
}

func decision(tradeID, acct, sym, dec string) map[string]interface{} {
	return map[string]interface{}{
		"trade_id":      tradeID,
		"account_label": acct,
		"symbol":        sym,
		"timeframe":     "15m",
		"decision":      dec,
	}
}

func TestAppend_WrittenThenDuplicate(t *testing.T) {
	l, cfg := newTestLog(t)

	d, err := l.Append(decision("t-1", "main", "BTCUSDT", "ALLOW_TRADE"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if d != DispositionWritten {
		t.Fatalf("unexpected disposition: %s", d)
	}

	// 同内容第二次追加：尾部窗口去重丢弃
	d, err = l.Append(decision("t-1", "main", "BTCUSDT", "ALLOW_TRADE"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if d != DispositionDuplicate {
		t.Fatalf("unexpected disposition: %s", d)
	}

	// 决策不同就不算重复
	d, err = l.Append(decision("t-1", "main", "BTCUSDT", "BLOCKED_BY_GATES"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if d != DispositionWritten {
		t.Fatalf("unexpected disposition: %s", d)
	}

	n, err := stream.CountLines(cfg.DecisionsPath)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 lines, got %d", n)
	}
}

func TestAppend_StrictRejectsToQuarantine(t *testing.T) {
	l, cfg := newTestLog(t)

	rec := decision("", "main", "BTCUSDT", "ALLOW_TRADE")
	d, err := l.Append(rec)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if d != DispositionRejected {
		t.Fatalf("unexpected disposition: %s", d)
	}

	recs, _, _, err := stream.ReadNew(cfg.DecisionsRejectedPath, 0)
	if err != nil {
		t.Fatalf("read rejected: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 rejected record, got %d", len(recs))
	}
	if recs[0]["reject_reason"] != "missing_trade_id" {
		t.Fatalf("unexpected reject_reason: %v", recs[0]["reject_reason"])
	}
	if _, err := os.Stat(cfg.DecisionsPath); !os.IsNotExist(err) {
		t.Fatalf("main log should stay untouched")
	}

	d, err = l.Append(decision("t-1", "", "", "ALLOW_TRADE"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if d != DispositionRejected {
		t.Fatalf("unexpected disposition: %s", d)
	}
}

func TestAppend_NonStrictAcceptsMissingContext(t *testing.T) {
	l, cfg := newTestLog(t)
	cfg.DecisionStrict = false

	d, err := l.Append(map[string]interface{}{"decision": "COLD_START"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if d != DispositionWritten {
		t.Fatalf("unexpected disposition: %s", d)
	}
}

func TestNormalizeContext_InfersFromNestedFields(t *testing.T) {
	rec := map[string]interface{}{
		"trade_id": "t-9",
		"account":  "legacy-acct",
		"sym":      "ethusdt",
		"setup":    map[string]interface{}{"timeframe": "60"},
	}
	out := normalizeContext(rec)
	if out["account_label"] != "legacy-acct" {
		t.Fatalf("unexpected account_label: %v", out["account_label"])
	}
	if out["symbol"] != "ETHUSDT" {
		t.Fatalf("unexpected symbol: %v", out["symbol"])
	}
	if out["timeframe"] != "60m" {
		t.Fatalf("unexpected timeframe: %v", out["timeframe"])
	}
	// 原始 map 不被改动
	if _, ok := rec["account_label"]; ok {
		t.Fatalf("input map must not be mutated")
	}
}

func TestAppend_StampsTimestamp(t *testing.T) {
	l, cfg := newTestLog(t)

	if _, err := l.Append(decision("t-ts", "main", "BTCUSDT", "ALLOW_TRADE")); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	recs, _, _, err := stream.ReadNew(cfg.DecisionsPath, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record")
	}
	if ts, ok := recs[0]["ts_ms"].(float64); !ok || ts <= 0 {
		t.Fatalf("expected ts_ms stamped, got %v", recs[0]["ts_ms"])
	}
}

func TestRotateChain(t *testing.T) {
	l, cfg := newTestLog(t)
	cfg.DecisionMaxBytes = 1 // 每次追加前都触发轮转
	cfg.DecisionKeepRotations = 2

	for i := 0; i < 4; i++ {
		rec := decision(fmt.Sprintf("t-%d", i), "main", "BTCUSDT", "ALLOW_TRADE")
		if _, err := l.Append(rec); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	// 轮转链：当前文件 + .1 + .2，更老的被删除
	for _, p := range []string{cfg.DecisionsPath, cfg.DecisionsPath + ".1", cfg.DecisionsPath + ".2"} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("expected %s to exist: %v", p, err)
		}
	}
	if _, err := os.Stat(cfg.DecisionsPath + ".3"); !os.IsNotExist(err) {
		t.Fatalf(".3 should not exist")
	}

	n, err := stream.CountLines(cfg.DecisionsPath)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("current file should hold only the newest line, got %d", n)
	}
}

func TestAppendSafe_SwallowsIOErrors(t *testing.T) {
	l, cfg := newTestLog(t)
	cfg.DecisionStrict = false

	// 主日志的父目录是个普通文件，所有写入必然失败
	blocked := filepath.Join(t.TempDir(), "blocked")
	if err := os.WriteFile(blocked, []byte("x"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	cfg.DecisionsPath = filepath.Join(blocked, "decisions.jsonl")

	// 错误形态的入口照常上报
	if _, err := l.Append(decision("t-1", "main", "BTCUSDT", "ALLOW_TRADE")); err == nil {
		t.Fatalf("Append should surface the IO error")
	}
	// 下单链路用的入口只吞掉并标记
	d := l.AppendSafe(decision("t-1", "main", "BTCUSDT", "ALLOW_TRADE"))
	if d != DispositionError {
		t.Fatalf("unexpected disposition: %s", d)
	}
}

func TestAppend_DedupWindowEvictsOldKeys(t *testing.T) {
	l, cfg := newTestLog(t)
	cfg.DecisionDedupTail = 1

	for _, dec := range []string{"ALLOW_TRADE", "BLOCKED_BY_GATES"} {
		if d, err := l.Append(decision("t-1", "main", "BTCUSDT", dec)); err != nil || d != DispositionWritten {
			t.Fatalf("append %s: d=%s err=%v", dec, d, err)
		}
	}

	// 末行还在窗口内，仍判重复
	d, err := l.Append(decision("t-1", "main", "BTCUSDT", "BLOCKED_BY_GATES"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if d != DispositionDuplicate {
		t.Fatalf("unexpected disposition: %s", d)
	}

	// 第一行已滑出 1 行窗口，同内容重新写入
	d, err = l.Append(decision("t-1", "main", "BTCUSDT", "ALLOW_TRADE"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if d != DispositionWritten {
		t.Fatalf("unexpected disposition: %s", d)
	}
}

func TestContentKey_IgnoresVolatileFields(t *testing.T) {
	a := decision("t-1", "main", "BTCUSDT", "ALLOW_TRADE")
	a["ts_ms"] = float64(1)
	b := decision("t-1", "main", "btcusdt", "ALLOW_TRADE")
	b["ts_ms"] = float64(2)
	if ContentKey(a) != ContentKey(b) {
		t.Fatalf("keys should match regardless of ts and symbol case")
	}

	c := decision("t-1", "main", "BTCUSDT", "ALLOW_TRADE")
	c["gates"] = map[string]interface{}{"reason": "cooldown"}
	if ContentKey(a) == ContentKey(c) {
		t.Fatalf("gates.reason must participate in the key")
	}
}
