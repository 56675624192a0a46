package membuild

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/flashbot/flashback/internal/extract"
)

// stableJSON 确定性序列化：encoding/json 对 map 键排序，
// 跨运行结果一致，可直接做哈希输入
func stableJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func sha256Hex(v interface{}) string {
	sum := sha256.Sum256([]byte(stableJSON(v)))
	return hex.EncodeToString(sum[:])
}

// volatileFeatureKeys 指纹输入里必须剔除的易变字段：
// 时钟、价格、盘口快照，留着会让同一形态每次哈希都不同
var volatileFeatureKeys = []string{
	"ts", "timestamp", "updated_ms",
	"price", "last", "mark", "index",
	"best_bid", "best_ask",
	"orderbook", "trades",
	// 防递归：指纹字段自己绝不能进指纹输入
	"setup_fingerprint", "memory_fingerprint",
}

// FilterFeatures 复制并剔除易变字段后的特征集
func FilterFeatures(features map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	for k, v := range features {
		out[k] = v
	}
	for _, k := range volatileFeatureKeys {
		delete(out, k)
	}
	return out
}

// DeriveMemoryFingerprint 从 setup 事件确定性回填 memory_fingerprint。
// 身份 = sha256(stable_json({symbol, account_label, strategy,
// setup_type, timeframe, features(过滤后)}))。
// 上下文不足以构成确定身份时返回空串。
func DeriveMemoryFingerprint(setup map[string]interface{}) string {
	payload := extract.Sub(setup, "payload")
	features := extract.Sub(payload, "features")

	sym := extract.Symbol(setup)
	acct := extract.Str(setup["account_label"])
	strategy := extract.Str(setup["strategy"])
	if strategy == "" {
		strategy = extract.Str(setup["strategy_name"])
	}
	tf := extract.Timeframe(setup)
	if tf == "" {
		tf = extract.NormalizeTimeframe(extract.Str(extract.Sub(payload, "extra")["timeframe"]))
	}

	if sym == "" || acct == "" || strategy == "" || tf == "" {
		return ""
	}

	var setupType interface{}
	if s := extract.Str(setup["setup_type"]); s != "" {
		setupType = s
	}
	core := map[string]interface{}{
		"symbol":        sym,
		"account_label": acct,
		"strategy":      strategy,
		"setup_type":    setupType,
		"timeframe":     tf,
		"features":      FilterFeatures(features),
	}
	return sha256Hex(core)
}

// ExtractFingerprints 返回 (setup_fingerprint, memory_fingerprint)。
// 上游已算好的指纹原样复用；memory_fingerprint 缺失时尝试回填。
func ExtractFingerprints(setup map[string]interface{}) (string, string) {
	feats := extract.Sub(extract.Sub(setup, "payload"), "features")
	sfp := extract.Str(feats["setup_fingerprint"])
	mfp := extract.Str(feats["memory_fingerprint"])
	if mfp == "" {
		mfp = DeriveMemoryFingerprint(setup)
	}
	return sfp, mfp
}

// EntryID 记忆条目身份 = hash(trade_id, ts_ms)。
// 同一 trade_id 随时间可以合法地产生多个条目（回填、重算），
// 所以身份必须绑定时间戳而不是交易号本身。
func EntryID(tradeID string, tsMs int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s::%d", tradeID, tsMs)))
	return hex.EncodeToString(sum[:])[:32]
}

// MemoryID 记忆桶标识，决策行没带时按固定身份派生
func MemoryID(memoryFingerprint, policyHash, accountScope, symbolScope, timeframe string) string {
	return sha256Hex(map[string]interface{}{
		"memory_fingerprint": memoryFingerprint,
		"policy_hash":        policyHash,
		"account_scope":      accountScope,
		"symbol_scope":       symbolScope,
		"timeframe":          timeframe,
	})
}
