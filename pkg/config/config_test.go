package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault_Valid(t *testing.T) {
	cfg := Default("state")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if cfg.DecisionsPath != filepath.Join("state", "ai_decisions.jsonl") {
		t.Fatalf("unexpected decisions path: %s", cfg.DecisionsPath)
	}
	if !cfg.DecisionStrict {
		t.Fatalf("strict mode should default on")
	}
	if cfg.QueryMinNAny < cfg.QueryMinNSymbol {
		t.Fatalf("min_n_any must not be below min_n_symbol")
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
state_dir: ` + dir + `
decision_log:
  dedup_tail: 100
  strict: false
query:
  min_n_any: 5
log_level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StateDir != dir {
		t.Fatalf("unexpected state dir: %s", cfg.StateDir)
	}
	if cfg.DecisionDedupTail != 100 {
		t.Fatalf("unexpected dedup tail: %d", cfg.DecisionDedupTail)
	}
	if cfg.DecisionStrict {
		t.Fatalf("strict=false in file must stick")
	}
	if cfg.QueryMinNAny != 5 {
		t.Fatalf("unexpected min_n_any: %d", cfg.QueryMinNAny)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("unexpected log level: %s", cfg.LogLevel)
	}
	// 文件没写的字段保持默认
	if cfg.QueryK != 25 {
		t.Fatalf("unexpected k: %d", cfg.QueryK)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("FLASHBACK_STATE_DIR", "envstate")
	t.Setenv("FLASHBACK_DEDUP_TAIL", "42")
	t.Setenv("FLASHBACK_DECISION_STRICT", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StateDir != "envstate" {
		t.Fatalf("unexpected state dir: %s", cfg.StateDir)
	}
	if cfg.DecisionDedupTail != 42 {
		t.Fatalf("unexpected dedup tail: %d", cfg.DecisionDedupTail)
	}
	if cfg.DecisionStrict {
		t.Fatalf("env strict=false must stick")
	}
}

func TestValidate_Rejects(t *testing.T) {
	cfg := Default("state")
	cfg.QueryMinNSymbol = 5
	cfg.QueryMinNAny = 3
	if err := cfg.Validate(); err == nil {
		t.Fatalf("min_n_any < min_n_symbol must fail validation")
	}

	cfg = Default("state")
	cfg.DecisionKeepRotations = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("keep_rotations=0 must fail validation")
	}

	cfg = Default("state")
	cfg.DecisionDedupTail = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("dedup_tail=0 must fail validation")
	}
}
