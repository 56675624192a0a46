// Package memquery 分层查询聚合库，为入场决策提供历史证据。
// Tier A 限定符号，Tier B 跨符号兜底（更高样本数门槛），
// 都没有就返回 tier_used=NONE，由门控层按冷启动处理。
package memquery

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	_ "modernc.org/sqlite"

	"github.com/flashbot/flashback/internal/domain"
	"github.com/flashbot/flashback/internal/extract"
	"github.com/flashbot/flashback/pkg/config"
)

var log = logrus.WithField("module", "memquery")

// TierUsed 查询命中的层
const (
	TierA    = "A"
	TierB    = "B"
	TierNone = "NONE"
)

// Options 查询参数
type Options struct {
	K              int
	MinNSymbol     int
	MinNAny        int
	PolicyMatch    string // "strict" | "off"
	TimeframeMatch string // "strict" | "off"
	MaxAgeDays     int
	PreferSymbol   bool
	AllowFallback  bool
}

// DefaultOptions 从配置取默认查询参数
func DefaultOptions(cfg *config.Config) Options {
	return Options{
		K:              cfg.QueryK,
		MinNSymbol:     cfg.QueryMinNSymbol,
		MinNAny:        cfg.QueryMinNAny,
		PolicyMatch:    "strict",
		TimeframeMatch: "strict",
		MaxAgeDays:     cfg.QueryMaxAgeDays,
		PreferSymbol:   true,
		AllowFallback:  true,
	}
}

// SetupContext 待评估形态的查询键
type SetupContext struct {
	MemoryFingerprint string
	Symbol            string
	Timeframe         string
	SetupType         string
	PolicyHash        string
}

// SetupContextFromEvent 从 setup 事件提取查询键
func SetupContextFromEvent(evt map[string]interface{}) SetupContext {
	feats := extract.Sub(extract.Sub(evt, "payload"), "features")
	mfp := extract.Str(feats["memory_fingerprint"])
	if mfp == "" {
		mfp = extract.Str(evt["memory_fingerprint"])
	}
	return SetupContext{
		MemoryFingerprint: mfp,
		Symbol:            extract.Symbol(evt),
		Timeframe:         extract.Timeframe(evt),
		SetupType:         extract.Str(evt["setup_type"]),
		PolicyHash:        extract.PolicyHash(evt),
	}
}

// Result 查询结果
type Result struct {
	TsMs     int64                  `json:"ts_ms"`
	Matched  []domain.Rollup        `json:"matched"`
	TierUsed string                 `json:"tier_used"`
	Meta     map[string]interface{} `json:"meta,omitempty"`
}

// Engine 查询引擎。每次查询独立打开只读连接：
// 聚合库会被重建任务整体替换，长连接会卡在已删除的旧文件上。
type Engine struct {
	path string
}

// NewEngine 创建查询引擎
func NewEngine(cfg *config.Config) *Engine {
	return &Engine{path: cfg.RollupsPath}
}

// looksLikeFullHash 上游传来的 policy_hash 常是 12 位前缀，
// 够长才按全哈希做相等匹配
func looksLikeFullHash(s string) bool {
	return len(strings.TrimSpace(s)) >= 24
}

// Query 分层查询。指纹缺失直接 NONE，不碰数据库。
func (e *Engine) Query(setup SetupContext, opts Options) (*Result, error) {
	now := time.Now().UnixMilli()
	if setup.MemoryFingerprint == "" {
		return &Result{
			TsMs:     now,
			TierUsed: TierNone,
			Meta:     map[string]interface{}{"reason": "missing_memory_fingerprint"},
		}, nil
	}

	strictPolicy := opts.PolicyMatch == "strict"
	strictTf := opts.TimeframeMatch == "strict"

	ph := ""
	if strictPolicy {
		ph = setup.PolicyHash
	}
	tf := ""
	if strictTf {
		tf = setup.Timeframe
	}

	if opts.PreferSymbol && setup.Symbol != "" {
		matched, err := e.queryRollups(setup.MemoryFingerprint, setup.Symbol, tf, setup.SetupType, ph, opts.MinNSymbol, opts.MaxAgeDays, opts.K)
		if err != nil {
			return nil, err
		}
		if len(matched) > 0 {
			return &Result{
				TsMs: now, Matched: matched, TierUsed: TierA,
				Meta: queryMeta(opts.MinNSymbol, opts),
			}, nil
		}
	}

	if opts.AllowFallback {
		matched, err := e.queryRollups(setup.MemoryFingerprint, "", tf, setup.SetupType, ph, opts.MinNAny, opts.MaxAgeDays, opts.K)
		if err != nil {
			return nil, err
		}
		if len(matched) > 0 {
			return &Result{
				TsMs: now, Matched: matched, TierUsed: TierB,
				Meta: queryMeta(opts.MinNAny, opts),
			}, nil
		}
	}

	return &Result{
		TsMs:     now,
		TierUsed: TierNone,
		Meta:     map[string]interface{}{"reason": "no_match"},
	}, nil
}

func queryMeta(minN int, opts Options) map[string]interface{} {
	return map[string]interface{}{
		"min_n_effective": minN,
		"policy_match":    opts.PolicyMatch,
		"timeframe_match": opts.TimeframeMatch,
	}
}

func (e *Engine) queryRollups(mfp, symbol, timeframe, setupType, policyHash string, minN, maxAgeDays, k int) ([]domain.Rollup, error) {
	if _, err := os.Stat(e.path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	db, err := sql.Open("sqlite", e.path)
	if err != nil {
		return nil, errors.Wrap(err, "打开聚合库失败")
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	clauses := []string{"n >= ?"}
	args := []interface{}{minN}

	// 指纹同样兼容前缀匹配
	if looksLikeFullHash(mfp) && len(mfp) >= 64 {
		clauses = append(clauses, "memory_fingerprint = ?")
		args = append(args, mfp)
	} else {
		clauses = append(clauses, "memory_fingerprint LIKE ?")
		args = append(args, mfp+"%")
	}

	if maxAgeDays > 0 {
		cutoff := time.Now().UnixMilli() - int64(maxAgeDays)*24*60*60*1000
		clauses = append(clauses, "last_ts_ms >= ?")
		args = append(args, cutoff)
	}
	if symbol != "" {
		clauses = append(clauses, "symbol = ?")
		args = append(args, symbol)
	}
	if timeframe != "" {
		clauses = append(clauses, "timeframe = ?")
		args = append(args, timeframe)
	}
	if setupType != "" {
		clauses = append(clauses, "setup_type = ?")
		args = append(args, setupType)
	}
	if policyHash != "" {
		if looksLikeFullHash(policyHash) {
			clauses = append(clauses, "policy_hash = ?")
			args = append(args, policyHash)
		} else {
			clauses = append(clauses, "policy_hash LIKE ?")
			args = append(args, strings.TrimSpace(policyHash)+"%")
		}
	}

	query := fmt.Sprintf(`SELECT
			rollup_id, memory_fingerprint, memory_id,
			symbol, timeframe, setup_type, policy_hash,
			n, wins, losses,
			win_rate, avg_r_multiple, avg_pnl_usd,
			allow_rate, avg_size_multiplier,
			last_ts_ms, built_ts_ms
		FROM memory_rollups
		WHERE %s
		ORDER BY avg_r_multiple DESC, win_rate DESC, n DESC, last_ts_ms DESC
		LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, max(1, k))

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "查询聚合库失败")
	}
	defer rows.Close()

	var matched []domain.Rollup
	for rows.Next() {
		var (
			r                                         domain.Rollup
			memoryID, symbol, tf, st, policy          sql.NullString
			winRate, avgR, avgPnl, allowRate, avgSize sql.NullFloat64
		)
		if err := rows.Scan(&r.RollupID, &r.MemoryFingerprint, &memoryID,
			&symbol, &tf, &st, &policy,
			&r.N, &r.Wins, &r.Losses,
			&winRate, &avgR, &avgPnl, &allowRate, &avgSize,
			&r.LastTsMs, &r.BuiltTsMs); err != nil {
			return nil, errors.Wrap(err, "读取聚合行失败")
		}
		r.MemoryID = memoryID.String
		r.Symbol = symbol.String
		r.Timeframe = tf.String
		r.SetupType = st.String
		r.PolicyHash = policy.String
		r.WinRate = nullFloat(winRate)
		r.AvgRMultiple = nullFloat(avgR)
		r.AvgPnlUSD = nullFloat(avgPnl)
		r.AllowRate = nullFloat(allowRate)
		r.AvgSizeMultiplier = nullFloat(avgSize)
		matched = append(matched, r)
	}
	return matched, rows.Err()
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
