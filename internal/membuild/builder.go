// Package membuild 把关联流里的 OK 记录规范化为记忆条目，
// 双写 JSONL 流和 SQLite 索引。
package membuild

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/flashbot/flashback/internal/domain"
	"github.com/flashbot/flashback/internal/extract"
	"github.com/flashbot/flashback/internal/faults"
	"github.com/flashbot/flashback/internal/stream"
	"github.com/flashbot/flashback/pkg/config"
)

var log = logrus.WithField("module", "membuild")

// Builder 记忆条目构建器
type Builder struct {
	cfg   *config.Config
	store *Store
}

// Report 单次处理的统计
type Report struct {
	RunID                string `json:"run_id"`
	TsMs                 int64  `json:"ts_ms"`
	Seen                 int    `json:"seen"`
	EntriesWritten       int    `json:"entries_written"`
	SkippedNotOK         int    `json:"skipped_not_ok"`
	SkippedNoTradeID     int    `json:"skipped_no_trade_id"`
	SkippedNoPolicy      int    `json:"skipped_no_policy"`
	SkippedNoFingerprint int    `json:"skipped_no_fingerprint"`
	SkippedReplayed      int    `json:"skipped_replayed"`
	MalformedSkipped     int    `json:"malformed_skipped"`
	OffsetBefore         int64  `json:"cursor_offset_before"`
	OffsetAfter          int64  `json:"cursor_offset_after"`
}

// New 创建构建器并打开索引库
func New(cfg *config.Config) (*Builder, error) {
	store, err := OpenStore(cfg.MemoryIndexPath)
	if err != nil {
		return nil, errors.Wrap(err, "打开记忆索引失败")
	}
	return &Builder{cfg: cfg, store: store}, nil
}

// Close 释放索引库
func (b *Builder) Close() error {
	return b.store.Close()
}

// ProcessOnce 消费关联流的新记录。
// 条目先落 JSONL 再插索引，游标在整批落盘后才前进。
func (b *Builder) ProcessOnce() (*Report, error) {
	cursor := stream.LoadCursor(b.cfg.MemoryCursorPath)
	report := &Report{
		RunID:        uuid.NewString(),
		TsMs:         time.Now().UnixMilli(),
		OffsetBefore: cursor.Offset,
	}

	records, newOffset, skipped, err := stream.ReadNew(b.cfg.JoinedPath, cursor.Offset)
	if err != nil {
		return nil, errors.Wrap(err, "读取关联流失败")
	}
	report.Seen = len(records)
	report.MalformedSkipped = skipped
	report.OffsetAfter = newOffset

	for _, rec := range records {
		entry := b.buildEntry(rec, report)
		if entry == nil {
			continue
		}
		// 崩溃后游标落后会重放已处理的记录：entry_id 确定性派生，
		// 索引里已有就说明两个面都写过了，跳过且不触碰流
		exists, err := b.store.HasEntry(entry.EntryID)
		if err != nil {
			return nil, errors.Wrap(err, "查询记忆索引失败")
		}
		if exists {
			report.SkippedReplayed++
			continue
		}
		if err := stream.AppendLine(b.cfg.MemoryEntriesPath, entry); err != nil {
			return nil, errors.Wrap(err, "写入记忆流失败")
		}
		if err := b.store.InsertEntry(entry); err != nil {
			// 走到这还撞主键说明索引和流真的分叉了，原样上抛终止本次运行
			return nil, err
		}
		report.EntriesWritten++
	}

	if err := stream.SaveCursor(b.cfg.MemoryCursorPath, newOffset); err != nil {
		return nil, errors.Wrap(err, "保存游标失败")
	}

	log.Infof("记忆构建完成: seen=%d written=%d not_ok=%d no_fp=%d offset=%d",
		report.Seen, report.EntriesWritten, report.SkippedNotOK,
		report.SkippedNoFingerprint, report.OffsetAfter)
	return report, nil
}

// buildEntry 把一条关联记录转成记忆条目，不够格的返回 nil 并计数
func (b *Builder) buildEntry(rec map[string]interface{}, report *Report) *domain.MemoryEntry {
	if extract.Str(rec["status"]) != domain.JoinOK {
		report.SkippedNotOK++
		return nil
	}

	decision := extract.Sub(rec, "decision")
	outcome := extract.Sub(rec, "outcome")
	raw := extract.Sub(outcome, "raw")

	tradeID := extract.Str(rec["trade_id"])
	if tradeID == "" {
		report.SkippedNoTradeID++
		return nil
	}

	tsMs := extract.TsMs(outcome)
	if tsMs == 0 {
		tsMs = extract.TsMs(rec)
	}

	symbol := extract.Str(rec["symbol"])
	if symbol == "" {
		symbol = extract.Symbol(outcome)
	}
	if symbol == "" {
		symbol = "UNKNOWN"
	}

	setup := extract.Sub(raw, "setup")
	timeframe := extract.Str(decision["timeframe"])
	if timeframe == "" {
		timeframe = extract.Timeframe(raw)
	}
	timeframe = extract.NormalizeTimeframe(timeframe)
	if timeframe == "" {
		timeframe = "unknown"
	}

	strategy := extract.Str(raw["strategy"])
	if strategy == "" {
		strategy = extract.Str(setup["strategy"])
	}
	if strategy == "" {
		strategy = "unknown"
	}

	setupType := extract.Str(raw["setup_type"])
	if setupType == "" {
		setupType = extract.Str(setup["setup_type"])
	}

	policyHash := extract.Str(decision["policy_hash"])
	if policyHash == "" {
		policyHash = extract.PolicyHash(raw)
	}
	if policyHash == "" {
		policyHash = extract.PolicyHash(setup)
	}
	if policyHash == "" {
		report.SkippedNoPolicy++
		return nil
	}

	sfp, mfp := ExtractFingerprints(setup)
	if mfp == "" {
		mfp = DeriveMemoryFingerprint(raw)
	}
	if mfp == "" {
		report.SkippedNoFingerprint++
		return nil
	}

	accountLabel := extract.Str(rec["account_label"])
	if accountLabel == "" {
		accountLabel = "main"
	}

	memoryID := extract.Str(decision["memory_id"])
	if memoryID == "" {
		memoryID = MemoryID(mfp, policyHash, "global", symbol, timeframe)
	}

	entry := &domain.MemoryEntry{
		SchemaVersion:     domain.MemoryEntrySchemaVersion,
		EventType:         domain.MemoryEntryEventType,
		EntryID:           EntryID(tradeID, tsMs),
		TsMs:              tsMs,
		TradeID:           tradeID,
		AccountLabel:      accountLabel,
		Symbol:            symbol,
		Timeframe:         timeframe,
		Strategy:          strategy,
		SetupType:         setupType,
		PolicyHash:        policyHash,
		SetupFingerprint:  sfp,
		MemoryFingerprint: mfp,
		MemoryID:          memoryID,
		Decision: domain.MemoryDecision{
			Allow:       extract.Bool(decision["allow"]),
			Decision:    extract.Str(decision["decision"]),
			TierUsed:    extract.Str(decision["tier_used"]),
			GatesReason: extract.Str(decision["gates_reason"]),
		},
		Outcome: domain.MemoryOutcome{
			ExitReason: extract.Str(outcome["exit_reason"]),
		},
	}
	if sm, ok := extract.F64(decision["size_multiplier"]); ok {
		entry.Decision.SizeMultiplier = &sm
	}
	if pnl, ok := extract.F64(outcome["pnl_usd"]); ok {
		entry.Outcome.PnlUSD = &pnl
	}
	if r, ok := extract.F64(outcome["r_multiple"]); ok {
		entry.Outcome.RMultiple = &r
	}
	entry.Outcome.Win = extract.Bool(outcome["win"])

	return entry
}

// VerifyIntegrity 校验流与索引的行数一致性。
// 不一致说明某次双写只成功了一半，必须人工介入，按致命错误上抛。
func (b *Builder) VerifyIntegrity() error {
	streamCount, err := stream.CountLines(b.cfg.MemoryEntriesPath)
	if err != nil {
		return errors.Wrap(err, "统计记忆流失败")
	}
	indexCount, err := b.store.CountEntries()
	if err != nil {
		return errors.Wrap(err, "统计记忆索引失败")
	}
	if streamCount != indexCount {
		return faults.Fatalf("membuild.integrity",
			"记忆流与索引行数不一致: stream=%d index=%d", streamCount, indexCount)
	}
	log.Infof("完整性校验通过: entries=%d", streamCount)
	return nil
}
