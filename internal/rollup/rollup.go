// Package rollup 全量重建聚合统计库：
// 每次运行删掉旧库，从记忆索引 GROUP BY 重算。
// 没有增量路径，正确性来自从源头重算。
package rollup

import (
	"database/sql"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	_ "modernc.org/sqlite"

	"github.com/flashbot/flashback/internal/faults"
	"github.com/flashbot/flashback/pkg/config"
)

var log = logrus.WithField("module", "rollup")

// Report 单次重建的统计
type Report struct {
	RunID      string `json:"run_id"`
	TsMs       int64  `json:"ts_ms"`
	RollupRows int    `json:"rollup_rows"`
	BuiltTsMs  int64  `json:"built_ts_ms"`
	SourcePath string `json:"source_path"`
	OutputPath string `json:"output_path"`
}

// RollupID 聚合行的确定性主键
func RollupID(memoryFingerprint, symbol, timeframe, setupType, policyHash string) string {
	return strings.Join([]string{
		strings.TrimSpace(memoryFingerprint),
		strings.TrimSpace(symbol),
		strings.TrimSpace(timeframe),
		strings.TrimSpace(setupType),
		strings.TrimSpace(policyHash),
	}, "||")
}

var rollupDDL = []string{
	`PRAGMA journal_mode=WAL;`,
	`PRAGMA synchronous=NORMAL;`,
	`CREATE TABLE IF NOT EXISTS memory_rollups (
		rollup_id TEXT PRIMARY KEY,

		memory_fingerprint TEXT NOT NULL,
		memory_id TEXT,

		symbol TEXT,
		timeframe TEXT,
		setup_type TEXT,
		policy_hash TEXT,

		n INTEGER NOT NULL,
		wins INTEGER NOT NULL,
		losses INTEGER NOT NULL,

		win_rate REAL,
		avg_r_multiple REAL,
		avg_pnl_usd REAL,

		allow_rate REAL,
		avg_size_multiplier REAL,

		last_ts_ms INTEGER NOT NULL,
		built_ts_ms INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_roll_mfp ON memory_rollups(memory_fingerprint);`,
	`CREATE INDEX IF NOT EXISTS idx_roll_mem ON memory_rollups(memory_id);`,
	`CREATE INDEX IF NOT EXISTS idx_roll_sym_tf ON memory_rollups(symbol, timeframe);`,
	`CREATE INDEX IF NOT EXISTS idx_roll_policy ON memory_rollups(policy_hash);`,
}

// Rebuild 从记忆索引全量重建聚合库
func Rebuild(cfg *config.Config) (*Report, error) {
	report := &Report{
		RunID:      uuid.NewString(),
		TsMs:       time.Now().UnixMilli(),
		SourcePath: cfg.MemoryIndexPath,
		OutputPath: cfg.RollupsPath,
	}

	st, err := os.Stat(cfg.MemoryIndexPath)
	if err != nil || st.Size() == 0 {
		return nil, faults.Softf("rollup.rebuild", "记忆索引缺失或为空: %s", cfg.MemoryIndexPath)
	}

	// 旧库连同 WAL 一起删，保证全新输出
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(cfg.RollupsPath + suffix); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}

	src, err := sql.Open("sqlite", cfg.MemoryIndexPath)
	if err != nil {
		return nil, errors.Wrap(err, "打开记忆索引失败")
	}
	defer src.Close()
	src.SetMaxOpenConns(1)

	dst, err := sql.Open("sqlite", cfg.RollupsPath)
	if err != nil {
		return nil, errors.Wrap(err, "创建聚合库失败")
	}
	defer dst.Close()
	dst.SetMaxOpenConns(1)

	for _, stmt := range rollupDDL {
		if _, err := dst.Exec(stmt); err != nil {
			return nil, errors.Wrap(err, "初始化聚合库失败")
		}
	}

	builtTsMs := time.Now().UnixMilli()
	report.BuiltTsMs = builtTsMs

	rows, err := src.Query(`
		SELECT
			memory_fingerprint,
			memory_id,
			symbol,
			timeframe,
			setup_type,
			policy_hash,

			COUNT(*) AS n,
			SUM(CASE WHEN win = 1 THEN 1 ELSE 0 END) AS wins,
			SUM(CASE WHEN win = 0 THEN 1 ELSE 0 END) AS losses,

			AVG(win) AS win_rate,
			AVG(r_multiple) AS avg_r_multiple,
			AVG(pnl_usd) AS avg_pnl_usd,

			AVG("allow") AS allow_rate,
			AVG(size_multiplier) AS avg_size_multiplier,

			MAX(ts_ms) AS last_ts_ms
		FROM memory_entries
		WHERE memory_fingerprint IS NOT NULL AND TRIM(memory_fingerprint) <> ''
		GROUP BY memory_fingerprint, memory_id, symbol, timeframe, setup_type, policy_hash
		ORDER BY last_ts_ms DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "聚合查询失败")
	}
	defer rows.Close()

	tx, err := dst.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO memory_rollups (
			rollup_id, memory_fingerprint, memory_id,
			symbol, timeframe, setup_type, policy_hash,
			n, wins, losses,
			win_rate, avg_r_multiple, avg_pnl_usd,
			allow_rate, avg_size_multiplier,
			last_ts_ms, built_ts_ms
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	inserted := 0
	for rows.Next() {
		var (
			mfp                                       string
			memoryID, symbol, tf, setupType, policy   sql.NullString
			n, wins, losses                           int
			winRate, avgR, avgPnl, allowRate, avgSize sql.NullFloat64
			lastTsMs                                  int64
		)
		if err := rows.Scan(&mfp, &memoryID, &symbol, &tf, &setupType, &policy,
			&n, &wins, &losses,
			&winRate, &avgR, &avgPnl, &allowRate, &avgSize,
			&lastTsMs); err != nil {
			return nil, errors.Wrap(err, "读取聚合行失败")
		}
		rid := RollupID(mfp, symbol.String, tf.String, setupType.String, policy.String)
		if _, err := stmt.Exec(rid, mfp, memoryID,
			symbol, tf, setupType, policy,
			n, wins, losses,
			winRate, avgR, avgPnl,
			allowRate, avgSize,
			lastTsMs, builtTsMs); err != nil {
			return nil, errors.Wrap(err, "写入聚合行失败")
		}
		inserted++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	report.RollupRows = inserted
	log.Infof("聚合重建完成: rows=%d out=%s", inserted, cfg.RollupsPath)
	return report, nil
}
