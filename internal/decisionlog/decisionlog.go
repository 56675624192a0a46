// Package decisionlog 维护决策日志：append-only JSONL，
// 多进程写入靠建议锁 + 尾部内容去重，超限按 .1/.2/... 链轮转。
package decisionlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flashbot/flashback/internal/extract"
	"github.com/flashbot/flashback/internal/stream"
	"github.com/flashbot/flashback/pkg/config"
	"github.com/flashbot/flashback/pkg/lockfile"
)

var log = logrus.WithField("module", "decisionlog")

// Disposition 单次追加的处理结果
type Disposition string

const (
	// DispositionWritten 正常写入主日志
	DispositionWritten Disposition = "written"
	// DispositionDuplicate 与尾部窗口内容重复，静默丢弃
	DispositionDuplicate Disposition = "duplicate"
	// DispositionRejected 严格模式下缺关键上下文，写入隔离流
	DispositionRejected Disposition = "rejected"
	// DispositionError 写入失败被吞掉（仅 AppendSafe 返回）
	DispositionError Disposition = "error"
)

// Log 决策日志写入器
type Log struct {
	cfg *config.Config
}

// New 创建决策日志写入器
func New(cfg *config.Config) *Log {
	return &Log{cfg: cfg}
}

// Append 追加一条决策。
// 流程：补全上下文 -> 严格校验 -> 取锁（超时继续）-> 轮转检查 ->
// 尾部去重 -> 追加。除文件系统错误外不会失败。
func (l *Log) Append(rec map[string]interface{}) (Disposition, error) {
	payload := normalizeContext(rec)

	// ts_ms 缺失或非法时补当前时间
	if ts := extract.TsMs(payload); ts > 0 {
		payload["ts_ms"] = ts
	} else {
		payload["ts_ms"] = time.Now().UnixMilli()
	}

	if l.cfg.DecisionStrict {
		if reason := rejectReason(payload); reason != "" {
			payload["reject_reason"] = reason
			if err := stream.AppendLine(l.cfg.DecisionsRejectedPath, payload); err != nil {
				return DispositionRejected, err
			}
			log.Warnf("决策缺关键上下文，进隔离流: reason=%s trade_id=%s",
				reason, extract.Str(payload["trade_id"]))
			return DispositionRejected, nil
		}
	}

	timeout := time.Duration(l.cfg.DecisionLockTimeoutMs) * time.Millisecond
	h, err := lockfile.AcquireOrProceed(l.cfg.DecisionsLockPath, timeout)
	if err != nil {
		return "", err
	}
	defer h.Release()
	if !h.Locked {
		// 锁等待超时照样写：漏写比偶发重复更伤，重复有去重兜底
		log.Warnf("决策日志锁等待超时(%dms)，直接继续", l.cfg.DecisionLockTimeoutMs)
	}

	if err := l.rotateIfNeeded(); err != nil {
		return "", err
	}

	key := ContentKey(payload)
	recent, err := tailRecentKeys(l.cfg.DecisionsPath, l.cfg.DecisionDedupTail)
	if err != nil {
		return "", err
	}
	if recent[key] {
		log.Debugf("决策内容与尾部窗口重复，丢弃: key=%s", key)
		return DispositionDuplicate, nil
	}

	if err := stream.AppendLine(l.cfg.DecisionsPath, payload); err != nil {
		return "", err
	}
	return DispositionWritten, nil
}

// AppendSafe 供下单链路调用的版本：记日志永远不能把交易打断，
// 任何文件系统错误只记录不上抛
func (l *Log) AppendSafe(rec map[string]interface{}) Disposition {
	disp, err := l.Append(rec)
	if err != nil {
		log.Errorf("决策日志写入失败，已忽略: trade_id=%s err=%v",
			extract.Str(rec["trade_id"]), err)
		return DispositionError
	}
	return disp
}

// normalizeContext 复制并补全决策行的 account_label/symbol/timeframe，
// 已有字段不覆盖，symbol 统一大写
func normalizeContext(rec map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(rec))
	for k, v := range rec {
		out[k] = v
	}

	if extract.Str(out["account_label"]) == "" {
		if acct := extract.DecisionAccountLabel(out); acct != "" {
			out["account_label"] = acct
		}
	}
	if sym := extract.Symbol(out); sym != "" {
		out["symbol"] = sym
	}
	if extract.Str(out["timeframe"]) == "" {
		if tf := extract.Timeframe(out); tf != "" {
			out["timeframe"] = tf
		}
	}
	return out
}

// rejectReason 严格模式的准入检查，返回空串表示通过
func rejectReason(payload map[string]interface{}) string {
	if extract.Str(payload["trade_id"]) == "" {
		return "missing_trade_id"
	}
	if extract.Str(payload["account_label"]) == "" {
		return "missing_account_label"
	}
	return ""
}

// ContentKey 去重键：同一笔交易在同一上下文下的同一决策视为重复，
// 时间戳之类的易变字段不参与
func ContentKey(d map[string]interface{}) string {
	decision := extract.Str(d["decision"])
	if decision == "" {
		decision = extract.Str(d["decision_code"])
	}
	reason := extract.Str(extract.Sub(d, "gates")["reason"])
	return strings.Join([]string{
		extract.Str(d["trade_id"]),
		extract.Str(d["account_label"]),
		strings.ToUpper(extract.Str(d["symbol"])),
		extract.Str(d["timeframe"]),
		decision,
		reason,
	}, "|")
}

// approxLineBytes 估算的单行字节数，决定尾部去重窗口回读多少
const approxLineBytes = 512

// tailRecentKeys 读取日志末尾 tail 行并计算内容键集合。
// 只回读 tail*approxLineBytes 字节，不随日志变大而变慢
func tailRecentKeys(path string, tail int) (map[string]bool, error) {
	keys := map[string]bool{}
	if tail <= 0 {
		return keys, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return keys, nil
		}
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	window := int64(tail) * approxLineBytes
	offset := int64(0)
	if st.Size() > window {
		offset = st.Size() - window
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	lines := bytes.Split(bytes.TrimRight(data, "\n"), []byte("\n"))
	if offset > 0 && len(lines) > 0 {
		// 落在行中间时第一段是半行，丢弃
		lines = lines[1:]
	}
	if len(lines) > tail {
		lines = lines[len(lines)-tail:]
	}
	for _, line := range lines {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var d map[string]interface{}
		if err := json.Unmarshal(line, &d); err != nil {
			continue
		}
		keys[ContentKey(d)] = true
	}
	return keys, nil
}

// rotateIfNeeded 超过大小阈值时轮转：
// file -> file.1, file.1 -> file.2, ... 最老的一档删除
func (l *Log) rotateIfNeeded() error {
	st, err := os.Stat(l.cfg.DecisionsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if st.Size() < l.cfg.DecisionMaxBytes {
		return nil
	}
	return rotateChain(l.cfg.DecisionsPath, l.cfg.DecisionKeepRotations)
}

func rotateChain(path string, keep int) error {
	if keep <= 0 {
		return nil
	}
	oldest := fmt.Sprintf("%s.%d", path, keep)
	if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
		return err
	}
	for i := keep - 1; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", path, i)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := os.Rename(src, fmt.Sprintf("%s.%d", path, i+1)); err != nil {
			return err
		}
	}
	if err := os.Rename(path, path+".1"); err != nil && !os.IsNotExist(err) {
		return err
	}
	log.Infof("决策日志已轮转: path=%s keep=%d", path, keep)
	return nil
}
