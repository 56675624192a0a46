package membuild

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flashbot/flashback/internal/domain"
	"github.com/flashbot/flashback/internal/faults"
	"github.com/flashbot/flashback/internal/stream"
	"github.com/flashbot/flashback/pkg/config"
)

func joinedOK(tradeID string, tsMs int64) map[string]interface{} {
	return map[string]interface{}{
		"schema_version": 2,
		"event_type":     "joined_outcome",
		"status":         "OK",
		"trade_id":       tradeID,
		"symbol":         "BTCUSDT",
		"account_label":  "main",
		"decision": map[string]interface{}{
			"decision":    "ALLOW_TRADE",
			"allow":       true,
			"tier_used":   "A",
			"policy_hash": "pol-1",
			"timeframe":   "15m",
		},
		"outcome": map[string]interface{}{
			"ts_ms":       float64(tsMs),
			"exit_reason": "tp",
			"pnl_usd":     10.0,
			"r_multiple":  1.5,
			"win":         true,
			"raw": map[string]interface{}{
				"strategy": "trend_follow",
				"setup": map[string]interface{}{
					"symbol":        "BTCUSDT",
					"account_label": "main",
					"strategy":      "trend_follow",
					"timeframe":     "15m",
					"payload": map[string]interface{}{
						"features": map[string]interface{}{
							"setup_fingerprint":  "sfp-known",
							"memory_fingerprint": "mfp-known",
						},
					},
				},
			},
		},
	}
}

func writeJoined(t *testing.T, cfg *config.Config, rows ...map[string]interface{}) {
	t.Helper()
	items := make([]interface{}, 0, len(rows))
	for _, r := range rows {
		items = append(items, r)
	}
	require.NoError(t, stream.AppendLines(cfg.JoinedPath, items))
}

func TestProcessOnce_WritesEntries(t *testing.T) {
	cfg := config.Default(t.TempDir())
	notOK := joinedOK("t-quarantined", 300)
	notOK["status"] = "NO_DECISION_FOUND"
	// 同一 trade_id 不同时间戳是两个合法条目（回填、重算）
	writeJoined(t, cfg, joinedOK("t-1", 100), joinedOK("t-1", 200), notOK)

	b, err := New(cfg)
	require.NoError(t, err)
	defer b.Close()

	rep, err := b.ProcessOnce()
	require.NoError(t, err)
	require.Equal(t, 3, rep.Seen)
	require.Equal(t, 2, rep.EntriesWritten)
	require.Equal(t, 1, rep.SkippedNotOK)

	recs, _, _, err := stream.ReadNew(cfg.MemoryEntriesPath, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.NotEqual(t, recs[0]["entry_id"], recs[1]["entry_id"])
	require.Equal(t, "mfp-known", recs[0]["memory_fingerprint"])
	require.Equal(t, "sfp-known", recs[0]["setup_fingerprint"])
	require.Equal(t, "trend_follow", recs[0]["strategy"])
	require.Equal(t, "pol-1", recs[0]["policy_hash"])

	// 双写后两个面一致
	require.NoError(t, b.VerifyIntegrity())

	// 游标已前进
	rep2, err := b.ProcessOnce()
	require.NoError(t, err)
	require.Equal(t, 0, rep2.Seen)
	require.Equal(t, rep.OffsetAfter, rep2.OffsetBefore)
}

func TestProcessOnce_SkipCounters(t *testing.T) {
	cfg := config.Default(t.TempDir())

	noPolicy := joinedOK("t-nopol", 100)
	delete(noPolicy["decision"].(map[string]interface{}), "policy_hash")

	noFp := joinedOK("t-nofp", 200)
	outcome := noFp["outcome"].(map[string]interface{})
	outcome["raw"] = map[string]interface{}{} // 既无现成指纹也派生不出

	writeJoined(t, cfg, noPolicy, noFp)

	b, err := New(cfg)
	require.NoError(t, err)
	defer b.Close()

	rep, err := b.ProcessOnce()
	require.NoError(t, err)
	require.Equal(t, 0, rep.EntriesWritten)
	require.Equal(t, 1, rep.SkippedNoPolicy)
	require.Equal(t, 1, rep.SkippedNoFingerprint)
	// 被跳过的记录也要推进游标
	require.Equal(t, rep.OffsetAfter, stream.LoadCursor(cfg.MemoryCursorPath).Offset)
}

func TestProcessOnce_ReplayDoesNotDuplicate(t *testing.T) {
	cfg := config.Default(t.TempDir())
	writeJoined(t, cfg, joinedOK("t-1", 100))

	b, err := New(cfg)
	require.NoError(t, err)
	defer b.Close()

	rep, err := b.ProcessOnce()
	require.NoError(t, err)
	require.Equal(t, 1, rep.EntriesWritten)

	// 模拟双写之后、游标落盘之前崩溃：游标回到 0，下一轮重放同一批
	require.NoError(t, stream.SaveCursor(cfg.MemoryCursorPath, 0))

	rep2, err := b.ProcessOnce()
	require.NoError(t, err)
	require.Equal(t, 0, rep2.EntriesWritten)
	require.Equal(t, 1, rep2.SkippedReplayed)

	// 流里仍然只有一行，索引和流没有分叉，游标重新前进
	recs, _, _, err := stream.ReadNew(cfg.MemoryEntriesPath, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.NoError(t, b.VerifyIntegrity())
	require.Equal(t, rep.OffsetAfter, stream.LoadCursor(cfg.MemoryCursorPath).Offset)
}

func TestInsertEntry_DuplicateEntryIDIsFatal(t *testing.T) {
	cfg := config.Default(t.TempDir())
	s, err := OpenStore(cfg.MemoryIndexPath)
	require.NoError(t, err)
	defer s.Close()

	e := &domain.MemoryEntry{EntryID: "e-1", TradeID: "t-1", TsMs: 100}
	require.NoError(t, s.InsertEntry(e))

	err = s.InsertEntry(e)
	require.Error(t, err)
	require.True(t, faults.IsFatal(err), "duplicate entry_id must be fatal: %v", err)
}

func TestVerifyIntegrity_MismatchIsFatal(t *testing.T) {
	cfg := config.Default(t.TempDir())
	writeJoined(t, cfg, joinedOK("t-1", 100))

	b, err := New(cfg)
	require.NoError(t, err)
	defer b.Close()

	_, err = b.ProcessOnce()
	require.NoError(t, err)
	require.NoError(t, b.VerifyIntegrity())

	// 流里多出一行而索引没有：两个面分叉
	require.NoError(t, stream.AppendLine(cfg.MemoryEntriesPath, map[string]interface{}{
		"entry_id": "stray",
	}))
	err = b.VerifyIntegrity()
	require.Error(t, err)
	require.True(t, faults.IsFatal(err), "divergence must be fatal: %v", err)
}
