package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 应用配置
type Config struct {
	// StateDir 状态目录，所有默认路径都挂在它下面
	StateDir string

	// DecisionsPath 决策日志（JSONL，append-only）
	DecisionsPath string
	// DecisionsRejectedPath 严格模式下被拒绝决策的隔离流
	DecisionsRejectedPath string
	// DecisionsLockPath 决策日志的跨进程建议锁文件
	DecisionsLockPath string

	// OutcomesPath 交易结果事件流（JSONL，由执行端写入）
	OutcomesPath string
	// JoinedPath 关联输出流（JSONL，每条输入结果恰好一条）
	JoinedPath string
	// LinkerCursorPath 关联器在结果流上的字节偏移游标
	LinkerCursorPath string
	// LinkIndexPath trade_id <-> outcome_id 双向链接索引
	LinkIndexPath string

	// MemoryEntriesPath 记忆条目流（JSONL）
	MemoryEntriesPath string
	// MemoryCursorPath 记忆构建器在关联流上的游标
	MemoryCursorPath string
	// MemoryIndexPath 记忆条目 SQLite 索引
	MemoryIndexPath string
	// RollupsPath 聚合统计 SQLite 库（每次全量重建）
	RollupsPath string

	// DecisionDedupTail 追加去重时回看的尾部行数
	DecisionDedupTail int
	// DecisionMaxBytes 决策日志轮转阈值（字节）
	DecisionMaxBytes int64
	// DecisionKeepRotations 保留的轮转文件数量
	DecisionKeepRotations int
	// DecisionLockTimeoutMs 建议锁等待上限（毫秒），超时后继续写入
	DecisionLockTimeoutMs int
	// DecisionStrict 严格模式：缺 trade_id 或账号标签的决策进隔离流
	DecisionStrict bool

	// LinkIndexCap 链接索引最大链接数，超过按最旧先出淘汰
	LinkIndexCap int

	// QueryK 查询返回的最大聚合行数
	QueryK int
	// QueryMinNSymbol Tier A（同符号）最小样本数
	QueryMinNSymbol int
	// QueryMinNAny Tier B（跨符号兜底）最小样本数
	QueryMinNAny int
	// QueryMaxAgeDays 聚合行最近活跃时间上限（天），0 表示不过滤
	QueryMaxAgeDays int

	// PollSeconds 守护模式轮询间隔（秒）
	PollSeconds float64

	LogLevel string // 日志级别
	LogFile  string // 日志文件路径（可选）
}

var globalConfig *Config
var configFilePath string

// SetConfigPath 设置配置文件路径
func SetConfigPath(path string) {
	configFilePath = path
}

// GetConfigPath 获取配置文件路径
func GetConfigPath() string {
	return configFilePath
}

// Get 获取全局配置（如果已加载）
func Get() *Config {
	return globalConfig
}

// ConfigFile 配置文件结构（用于 YAML/JSON 解析）
type ConfigFile struct {
	StateDir string `yaml:"state_dir" json:"state_dir"`
	Paths    struct {
		Decisions         string `yaml:"decisions" json:"decisions"`
		DecisionsRejected string `yaml:"decisions_rejected" json:"decisions_rejected"`
		DecisionsLock     string `yaml:"decisions_lock" json:"decisions_lock"`
		Outcomes          string `yaml:"outcomes" json:"outcomes"`
		Joined            string `yaml:"joined" json:"joined"`
		LinkerCursor      string `yaml:"linker_cursor" json:"linker_cursor"`
		LinkIndex         string `yaml:"link_index" json:"link_index"`
		MemoryEntries     string `yaml:"memory_entries" json:"memory_entries"`
		MemoryCursor      string `yaml:"memory_cursor" json:"memory_cursor"`
		MemoryIndex       string `yaml:"memory_index" json:"memory_index"`
		Rollups           string `yaml:"rollups" json:"rollups"`
	} `yaml:"paths" json:"paths"`
	DecisionLog struct {
		DedupTail     int   `yaml:"dedup_tail" json:"dedup_tail"`
		MaxBytes      int64 `yaml:"max_bytes" json:"max_bytes"`
		KeepRotations int   `yaml:"keep_rotations" json:"keep_rotations"`
		LockTimeoutMs int   `yaml:"lock_timeout_ms" json:"lock_timeout_ms"`
		Strict        *bool `yaml:"strict" json:"strict"`
	} `yaml:"decision_log" json:"decision_log"`
	Linker struct {
		LinkIndexCap int `yaml:"link_index_cap" json:"link_index_cap"`
	} `yaml:"linker" json:"linker"`
	Query struct {
		K          int `yaml:"k" json:"k"`
		MinNSymbol int `yaml:"min_n_symbol" json:"min_n_symbol"`
		MinNAny    int `yaml:"min_n_any" json:"min_n_any"`
		MaxAgeDays int `yaml:"max_age_days" json:"max_age_days"`
	} `yaml:"query" json:"query"`
	PollSeconds float64 `yaml:"poll_seconds" json:"poll_seconds"`
	LogLevel    string  `yaml:"log_level" json:"log_level"`
	LogFile     string  `yaml:"log_file" json:"log_file"`
}

// Default 返回挂在 stateDir 下的默认配置
func Default(stateDir string) *Config {
	if stateDir == "" {
		stateDir = "state"
	}
	return &Config{
		StateDir:              stateDir,
		DecisionsPath:         filepath.Join(stateDir, "ai_decisions.jsonl"),
		DecisionsRejectedPath: filepath.Join(stateDir, "ai_decisions_rejected.jsonl"),
		DecisionsLockPath:     filepath.Join(stateDir, "ai_decisions.jsonl.lock"),
		OutcomesPath:          filepath.Join(stateDir, "trade_outcomes.jsonl"),
		JoinedPath:            filepath.Join(stateDir, "ai_joined_outcomes.jsonl"),
		LinkerCursorPath:      filepath.Join(stateDir, "ai_linker_cursor.json"),
		LinkIndexPath:         filepath.Join(stateDir, "ai_link_index.json"),
		MemoryEntriesPath:     filepath.Join(stateDir, "ai_memory_entries.jsonl"),
		MemoryCursorPath:      filepath.Join(stateDir, "ai_memory_cursor.json"),
		MemoryIndexPath:       filepath.Join(stateDir, "ai_memory_index.sqlite"),
		RollupsPath:           filepath.Join(stateDir, "ai_memory_rollups.sqlite"),
		DecisionDedupTail:     2000,
		DecisionMaxBytes:      64 << 20, // 64 MiB
		DecisionKeepRotations: 5,
		DecisionLockTimeoutMs: 2500,
		DecisionStrict:        true,
		LinkIndexCap:          50000,
		QueryK:                25,
		QueryMinNSymbol:       1,
		QueryMinNAny:          3,
		QueryMaxAgeDays:       180,
		PollSeconds:           30,
		LogLevel:              "info",
		LogFile:               "",
	}
}

// Load 加载配置：默认值 <- 配置文件 <- 环境变量，后者覆盖前者。
// path 为空时只用默认值和环境变量。
func Load(path string) (*Config, error) {
	var cf *ConfigFile
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		cf = &ConfigFile{}
		if strings.HasSuffix(path, ".json") {
			if err := json.Unmarshal(data, cf); err != nil {
				return nil, fmt.Errorf("解析 JSON 配置失败: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, cf); err != nil {
				return nil, fmt.Errorf("解析 YAML 配置失败: %w", err)
			}
		}
		configFilePath = path
	}

	stateDir := getEnv("FLASHBACK_STATE_DIR", "")
	if stateDir == "" && cf != nil {
		stateDir = cf.StateDir
	}
	cfg := Default(stateDir)

	if cf != nil {
		applyPath(&cfg.DecisionsPath, cf.Paths.Decisions)
		applyPath(&cfg.DecisionsRejectedPath, cf.Paths.DecisionsRejected)
		applyPath(&cfg.DecisionsLockPath, cf.Paths.DecisionsLock)
		applyPath(&cfg.OutcomesPath, cf.Paths.Outcomes)
		applyPath(&cfg.JoinedPath, cf.Paths.Joined)
		applyPath(&cfg.LinkerCursorPath, cf.Paths.LinkerCursor)
		applyPath(&cfg.LinkIndexPath, cf.Paths.LinkIndex)
		applyPath(&cfg.MemoryEntriesPath, cf.Paths.MemoryEntries)
		applyPath(&cfg.MemoryCursorPath, cf.Paths.MemoryCursor)
		applyPath(&cfg.MemoryIndexPath, cf.Paths.MemoryIndex)
		applyPath(&cfg.RollupsPath, cf.Paths.Rollups)
		if cf.DecisionLog.DedupTail > 0 {
			cfg.DecisionDedupTail = cf.DecisionLog.DedupTail
		}
		if cf.DecisionLog.MaxBytes > 0 {
			cfg.DecisionMaxBytes = cf.DecisionLog.MaxBytes
		}
		if cf.DecisionLog.KeepRotations > 0 {
			cfg.DecisionKeepRotations = cf.DecisionLog.KeepRotations
		}
		if cf.DecisionLog.LockTimeoutMs > 0 {
			cfg.DecisionLockTimeoutMs = cf.DecisionLog.LockTimeoutMs
		}
		if cf.DecisionLog.Strict != nil {
			cfg.DecisionStrict = *cf.DecisionLog.Strict
		}
		if cf.Linker.LinkIndexCap > 0 {
			cfg.LinkIndexCap = cf.Linker.LinkIndexCap
		}
		if cf.Query.K > 0 {
			cfg.QueryK = cf.Query.K
		}
		if cf.Query.MinNSymbol > 0 {
			cfg.QueryMinNSymbol = cf.Query.MinNSymbol
		}
		if cf.Query.MinNAny > 0 {
			cfg.QueryMinNAny = cf.Query.MinNAny
		}
		if cf.Query.MaxAgeDays > 0 {
			cfg.QueryMaxAgeDays = cf.Query.MaxAgeDays
		}
		if cf.PollSeconds > 0 {
			cfg.PollSeconds = cf.PollSeconds
		}
		if cf.LogLevel != "" {
			cfg.LogLevel = cf.LogLevel
		}
		if cf.LogFile != "" {
			cfg.LogFile = cf.LogFile
		}
	}

	// 环境变量覆盖（部署时常用，不必动配置文件）
	cfg.DecisionsPath = getEnv("FLASHBACK_DECISIONS_PATH", cfg.DecisionsPath)
	cfg.OutcomesPath = getEnv("FLASHBACK_OUTCOMES_PATH", cfg.OutcomesPath)
	cfg.JoinedPath = getEnv("FLASHBACK_JOINED_PATH", cfg.JoinedPath)
	cfg.DecisionDedupTail = parseIntEnv("FLASHBACK_DEDUP_TAIL", cfg.DecisionDedupTail)
	cfg.DecisionMaxBytes = int64(parseIntEnv("FLASHBACK_DECISION_MAX_BYTES", int(cfg.DecisionMaxBytes)))
	cfg.DecisionKeepRotations = parseIntEnv("FLASHBACK_KEEP_ROTATIONS", cfg.DecisionKeepRotations)
	cfg.DecisionLockTimeoutMs = parseIntEnv("FLASHBACK_LOCK_TIMEOUT_MS", cfg.DecisionLockTimeoutMs)
	cfg.DecisionStrict = parseBoolEnv("FLASHBACK_DECISION_STRICT", cfg.DecisionStrict)
	cfg.LinkIndexCap = parseIntEnv("FLASHBACK_LINK_INDEX_CAP", cfg.LinkIndexCap)
	cfg.QueryK = parseIntEnv("FLASHBACK_QUERY_K", cfg.QueryK)
	cfg.QueryMinNSymbol = parseIntEnv("FLASHBACK_MIN_N_SYMBOL", cfg.QueryMinNSymbol)
	cfg.QueryMinNAny = parseIntEnv("FLASHBACK_MIN_N_ANY", cfg.QueryMinNAny)
	cfg.QueryMaxAgeDays = parseIntEnv("FLASHBACK_MAX_AGE_DAYS", cfg.QueryMaxAgeDays)
	cfg.PollSeconds = parseFloatEnv("FLASHBACK_POLL_SECONDS", cfg.PollSeconds)
	cfg.LogLevel = getEnv("FLASHBACK_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getEnv("FLASHBACK_LOG_FILE", cfg.LogFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	globalConfig = cfg
	return cfg, nil
}

func applyPath(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.StateDir == "" {
		return fmt.Errorf("state_dir 不能为空")
	}
	if c.DecisionDedupTail <= 0 {
		return fmt.Errorf("dedup_tail 必须大于 0")
	}
	if c.DecisionMaxBytes <= 0 {
		return fmt.Errorf("decision max_bytes 必须大于 0")
	}
	if c.DecisionKeepRotations < 1 {
		return fmt.Errorf("keep_rotations 必须至少为 1")
	}
	if c.DecisionLockTimeoutMs < 0 {
		return fmt.Errorf("lock_timeout_ms 不能为负数")
	}
	if c.LinkIndexCap <= 0 {
		return fmt.Errorf("link_index_cap 必须大于 0")
	}
	if c.QueryK <= 0 {
		return fmt.Errorf("query k 必须大于 0")
	}
	if c.QueryMinNSymbol < 1 {
		return fmt.Errorf("min_n_symbol 必须至少为 1")
	}
	if c.QueryMinNAny < c.QueryMinNSymbol {
		return fmt.Errorf("min_n_any 不能小于 min_n_symbol")
	}
	if c.QueryMaxAgeDays < 0 {
		return fmt.Errorf("max_age_days 不能为负数")
	}
	if c.PollSeconds <= 0 {
		return fmt.Errorf("poll_seconds 必须大于 0")
	}
	return nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseFloatEnv 解析浮点数环境变量
func parseFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseBoolEnv 解析布尔环境变量
func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
