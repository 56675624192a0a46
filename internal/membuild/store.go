package membuild

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/flashbot/flashback/internal/domain"
	"github.com/flashbot/flashback/internal/faults"
)

// Store 记忆条目的 SQLite 索引。
// 与 JSONL 流成对写入，行数必须始终一致。
type Store struct {
	db   *sql.DB
	path string
}

// OpenStore 打开（必要时创建）索引库
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite：单连接更稳定
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`CREATE TABLE IF NOT EXISTS memory_entries (
			entry_id TEXT PRIMARY KEY,
			trade_id TEXT NOT NULL,
			ts_ms INTEGER NOT NULL,

			account_label TEXT,
			symbol TEXT,
			timeframe TEXT,
			strategy TEXT,
			setup_type TEXT,
			policy_hash TEXT,

			allow INTEGER,
			size_multiplier REAL,
			decision TEXT,
			tier_used TEXT,
			gates_reason TEXT,

			memory_id TEXT,
			setup_fingerprint TEXT,
			memory_fingerprint TEXT,

			pnl_usd REAL,
			r_multiple REAL,
			win INTEGER,
			exit_reason TEXT,

			raw_json TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_mem_symbol_tf ON memory_entries(symbol, timeframe);`,
		`CREATE INDEX IF NOT EXISTS idx_mem_policy ON memory_entries(policy_hash);`,
		`CREATE INDEX IF NOT EXISTS idx_mem_memory_id ON memory_entries(memory_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func boolToInt(b *bool) interface{} {
	if b == nil {
		return nil
	}
	if *b {
		return 1
	}
	return 0
}

func floatOrNil(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

// InsertEntry 插入一条记忆条目。entry_id 主键冲突说明两个存储面
// 已经分叉，按完整性故障处理。
func (s *Store) InsertEntry(e *domain.MemoryEntry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO memory_entries (
			entry_id, trade_id, ts_ms,
			account_label, symbol, timeframe, strategy, setup_type, policy_hash,
			allow, size_multiplier, decision, tier_used, gates_reason,
			memory_id, setup_fingerprint, memory_fingerprint,
			pnl_usd, r_multiple, win, exit_reason,
			raw_json
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.EntryID, e.TradeID, e.TsMs,
		e.AccountLabel, e.Symbol, e.Timeframe, e.Strategy, e.SetupType, e.PolicyHash,
		boolToInt(e.Decision.Allow), floatOrNil(e.Decision.SizeMultiplier),
		e.Decision.Decision, e.Decision.TierUsed, e.Decision.GatesReason,
		e.MemoryID, e.SetupFingerprint, e.MemoryFingerprint,
		floatOrNil(e.Outcome.PnlUSD), floatOrNil(e.Outcome.RMultiple),
		boolToInt(e.Outcome.Win), e.Outcome.ExitReason,
		string(raw),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return faults.Fatalf("membuild.insert", "entry_id 重复，索引与流已分叉: entry_id=%s", e.EntryID)
		}
		return err
	}
	return nil
}

// HasEntry 索引中是否已有该 entry_id。
// 重放判定用：游标落后时靠它识别已双写过的条目。
func (s *Store) HasEntry(entryID string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM memory_entries WHERE entry_id = ?`, entryID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CountEntries 索引行数
func (s *Store) CountEntries() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM memory_entries`).Scan(&n)
	return n, err
}

// Close 关闭数据库
func (s *Store) Close() error {
	return s.db.Close()
}
