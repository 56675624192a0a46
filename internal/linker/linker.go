// Package linker 把终态交易结果与当初放行它的决策关联起来，
// 产出 joined 流供记忆构建消费。
package linker

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/flashbot/flashback/internal/domain"
	"github.com/flashbot/flashback/internal/extract"
	"github.com/flashbot/flashback/internal/stream"
	"github.com/flashbot/flashback/pkg/config"
)

var log = logrus.WithField("module", "linker")

// Linker 决策-结果关联器
type Linker struct {
	cfg       *config.Config
	decisions *DecisionIndex
	links     *LinkIndex
}

// Report 单次处理的统计
type Report struct {
	RunID              string `json:"run_id"`
	TsMs               int64  `json:"ts_ms"`
	OutcomesSeen       int    `json:"outcomes_seen"`
	Written            int    `json:"written"`
	Linked             int    `json:"linked"`
	SkippedNonFinal    int    `json:"skipped_non_final"`
	MissingTradeID     int    `json:"missing_trade_id"`
	MissingOutcomeID   int    `json:"missing_outcome_id"`
	DuplicateTradeID   int    `json:"duplicate_trade_id"`
	DuplicateOutcomeID int    `json:"duplicate_outcome_id"`
	NoDecisionFound    int    `json:"no_decision_found"`
	MalformedSkipped   int    `json:"malformed_skipped"`
	OffsetBefore       int64  `json:"cursor_offset_before"`
	OffsetAfter        int64  `json:"cursor_offset_after"`
}

// New 创建关联器
func New(cfg *config.Config) *Linker {
	return &Linker{
		cfg:       cfg,
		decisions: NewDecisionIndex(cfg.DecisionsPath),
		links:     LoadLinkIndex(cfg.LinkIndexPath, cfg.LinkIndexCap),
	}
}

// ProcessOnce 消费结果流中的新事件，每条产出恰好一条关联记录。
// 落盘顺序：joined 流 -> 链接索引 -> 游标。游标最后动，
// 崩溃后重放安全。
func (l *Linker) ProcessOnce() (*Report, error) {
	cursor := stream.LoadCursor(l.cfg.LinkerCursorPath)
	report := &Report{
		RunID:        uuid.NewString(),
		TsMs:         time.Now().UnixMilli(),
		OffsetBefore: cursor.Offset,
	}

	events, newOffset, skipped, err := stream.ReadNew(l.cfg.OutcomesPath, cursor.Offset)
	if err != nil {
		return nil, errors.Wrap(err, "读取结果流失败")
	}
	report.OutcomesSeen = len(events)
	report.MalformedSkipped = skipped
	report.OffsetAfter = newOffset

	var out []interface{}
	for _, evt := range events {
		rec := l.joinOne(evt, report)
		out = append(out, rec)
	}
	report.Written = len(out)

	if err := stream.AppendLines(l.cfg.JoinedPath, out); err != nil {
		return nil, errors.Wrap(err, "写入关联流失败")
	}
	if err := l.links.Save(); err != nil {
		return nil, errors.Wrap(err, "保存链接索引失败")
	}
	if err := stream.SaveCursor(l.cfg.LinkerCursorPath, newOffset); err != nil {
		return nil, errors.Wrap(err, "保存游标失败")
	}

	log.Infof("关联完成: seen=%d linked=%d non_final=%d no_decision=%d offset=%d",
		report.OutcomesSeen, report.Linked, report.SkippedNonFinal,
		report.NoDecisionFound, report.OffsetAfter)
	return report, nil
}

// joinOne 按状态机处理单条结果事件。
// 非终态事件不触碰决策索引和链接索引。
func (l *Linker) joinOne(evt map[string]interface{}, report *Report) *domain.JoinedRecord {
	tid := extract.TradeID(evt)
	if tid == "" {
		report.MissingTradeID++
		return l.quarantine(evt, domain.JoinMissingTradeID, "")
	}

	if !IsFinal(evt) {
		report.SkippedNonFinal++
		return l.quarantine(evt, domain.JoinSkippedNonFinal, "")
	}

	oid := OutcomeID(evt)
	if oid == "" {
		report.MissingOutcomeID++
		return l.quarantine(evt, domain.JoinMissingOutcomeID, "")
	}

	if l.links.HasOutcomeID(oid) {
		report.DuplicateOutcomeID++
		return l.quarantine(evt, domain.JoinDuplicateOutcomeID, oid)
	}
	if l.links.HasTradeID(tid) {
		report.DuplicateTradeID++
		return l.quarantine(evt, domain.JoinDuplicateTradeID, oid)
	}

	acct := extract.AccountLabel(evt)
	sym := extract.Symbol(evt)
	dec, level, rule := l.decisions.BestForOutcome(tid, acct, sym)
	if dec == nil {
		report.NoDecisionFound++
		return l.quarantine(evt, domain.JoinNoDecisionFound, oid)
	}

	l.links.Put(tid, oid)
	report.Linked++

	now := time.Now().UnixMilli()
	return &domain.JoinedRecord{
		SchemaVersion: domain.JoinedSchemaVersion,
		EventType:     domain.JoinedEventType,
		TsMs:          now,
		Status:        domain.JoinOK,
		TradeID:       tid,
		OutcomeID:     oid,
		Symbol:        sym,
		AccountLabel:  acct,
		Decision:      summarizeDecision(dec, evt),
		Outcome:       summarizeOutcome(evt, oid),
		Integrity: domain.Integrity{
			DecisionPresent: true,
			MatchLevel:      level,
			MatchRule:       rule,
			LinkedAtMs:      now,
		},
	}
}

// quarantine 产出非 OK 记录：原始事件保留在 outcome.raw 里可排查
func (l *Linker) quarantine(evt map[string]interface{}, status domain.JoinStatus, oid string) *domain.JoinedRecord {
	now := time.Now().UnixMilli()
	return &domain.JoinedRecord{
		SchemaVersion: domain.JoinedSchemaVersion,
		EventType:     domain.JoinedEventType,
		TsMs:          now,
		Status:        status,
		TradeID:       extract.TradeID(evt),
		OutcomeID:     oid,
		Symbol:        extract.Symbol(evt),
		AccountLabel:  extract.AccountLabel(evt),
		Outcome:       summarizeOutcome(evt, oid),
		Integrity: domain.Integrity{
			DecisionPresent: false,
			MatchLevel:      0,
			MatchRule:       domain.MatchRuleNone,
			LinkedAtMs:      now,
		},
	}
}

// summarizeDecision 决策侧摘要。BACKFILL 等行可能缺
// symbol/account_label/policy_hash，从结果事件继承，
// 只改投影不改原始决策行。
func summarizeDecision(d, evt map[string]interface{}) *domain.DecisionSnapshot {
	decision := extract.Str(d["decision"])
	if decision == "" {
		decision = extract.Str(d["decision_code"])
	}
	tier := extract.Str(d["tier_used"])
	if tier == "" {
		tier = extract.Str(d["tier"])
	}

	snap := &domain.DecisionSnapshot{
		TsMs:         extract.TsMs(d),
		Decision:     decision,
		Allow:        extract.Bool(d["allow"]),
		TierUsed:     tier,
		Gates:        extract.Sub(d, "gates"),
		GatesReason:  extract.Str(extract.Sub(d, "gates")["reason"]),
		MemoryID:     extract.Str(extract.Sub(d, "memory")["memory_id"]),
		PolicyHash:   extract.DecisionPolicyHash(d),
		AccountLabel: extract.DecisionAccountLabel(d),
		Symbol:       extract.Symbol(d),
		Timeframe:    extract.Timeframe(d),
	}
	if sm, ok := extract.F64(d["size_multiplier"]); ok {
		snap.SizeMultiplier = &sm
	}

	if snap.Symbol == "" {
		snap.Symbol = extract.Symbol(evt)
	}
	if snap.AccountLabel == "" {
		snap.AccountLabel = extract.AccountLabel(evt)
	}
	if snap.PolicyHash == "" {
		snap.PolicyHash = extract.PolicyHash(evt)
	}
	return snap
}

// summarizeOutcome 结果侧摘要，原始事件整体挂在 Raw 上
func summarizeOutcome(evt map[string]interface{}, oid string) *domain.OutcomeSnapshot {
	status := extract.Str(evt["final_status"])
	if status == "" {
		status = extract.Str(extract.Sub(evt, "stats")["final_status"])
	}

	snap := &domain.OutcomeSnapshot{
		TsMs:         extract.TsMs(evt),
		TradeID:      extract.TradeID(evt),
		OutcomeID:    oid,
		Symbol:       extract.Symbol(evt),
		AccountLabel: extract.AccountLabel(evt),
		PnlUSD:       extract.PnlUSD(evt),
		RMultiple:    extract.RMultiple(evt),
		ExitReason:   extract.CloseReason(evt),
		FinalStatus:  status,
		Raw:          evt,
	}
	if b := extract.Bool(evt["win"]); b != nil {
		snap.Win = b
	} else if b := extract.Bool(extract.Sub(evt, "stats")["win"]); b != nil {
		snap.Win = b
	}
	return snap
}
