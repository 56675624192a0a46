// Package extract 从混合 schema 的事件行里提取字段。
// 上游流混着 pilot、executor、backfill 三种来源的行，字段名不统一，
// 所以每个字段都按固定顺序尝试一串取值规则，取第一个非空值。
package extract

import (
	"fmt"
	"strconv"
	"strings"
)

// Str 把任意 JSON 值转成去除首尾空白的字符串，nil 返回 ""
func Str(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", x))
	}
}

// F64 把 JSON 值解析为 float64
func F64(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// I64 把 JSON 值解析为 int64（浮点数截断）
func I64(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case float64:
		return int64(x), true
	case int:
		return int64(x), true
	case int64:
		return x, true
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f), true
		}
		return 0, false
	default:
		return 0, false
	}
}

// Bool 宽松解析布尔值，无法识别返回 nil
func Bool(v interface{}) *bool {
	switch x := v.(type) {
	case nil:
		return nil
	case bool:
		return &x
	default:
		s := strings.ToLower(strings.TrimSpace(Str(v)))
		switch s {
		case "true", "1", "yes", "y", "on":
			b := true
			return &b
		case "false", "0", "no", "n", "off":
			b := false
			return &b
		}
		return nil
	}
}

// Sub 取嵌套对象，不是对象返回 nil
func Sub(m map[string]interface{}, key string) map[string]interface{} {
	if m == nil {
		return nil
	}
	if sub, ok := m[key].(map[string]interface{}); ok {
		return sub
	}
	return nil
}

// firstStr 按顺序取第一个非空字符串值
func firstStr(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s := Str(m[k]); s != "" {
			return s
		}
	}
	return ""
}

// TradeID 结果事件侧的 trade_id：顶层，其次 setup / setup_context
func TradeID(evt map[string]interface{}) string {
	if s := Str(evt["trade_id"]); s != "" {
		return s
	}
	if s := Str(Sub(evt, "setup")["trade_id"]); s != "" {
		return s
	}
	return Str(Sub(evt, "setup_context")["trade_id"])
}

// DecisionTradeIDs 决策行可能携带的全部交易标识（生命周期内会换名），
// 每个别名都进索引
func DecisionTradeIDs(d map[string]interface{}) []string {
	var ids []string
	seen := map[string]bool{}
	for _, k := range []string{"trade_id", "client_trade_id", "source_trade_id"} {
		if s := Str(d[k]); s != "" && !seen[s] {
			seen[s] = true
			ids = append(ids, s)
		}
	}
	return ids
}

// AccountLabel 结果事件侧的账号标签
func AccountLabel(evt map[string]interface{}) string {
	if s := Str(evt["account_label"]); s != "" {
		return s
	}
	if s := Str(Sub(evt, "setup")["account_label"]); s != "" {
		return s
	}
	return Str(Sub(evt, "setup_context")["account_label"])
}

// DecisionAccountLabel 决策行的账号标签：历史行里有 label/account 旧名
func DecisionAccountLabel(d map[string]interface{}) string {
	if s := firstStr(d, "account_label", "label", "account"); s != "" {
		return s
	}
	return Str(Sub(d, "extra")["account_label"])
}

// Symbol 事件的交易符号，统一大写
func Symbol(evt map[string]interface{}) string {
	s := firstStr(evt, "symbol", "sym")
	if s == "" {
		s = Str(Sub(evt, "setup")["symbol"])
	}
	if s == "" {
		s = Str(Sub(evt, "setup_context")["symbol"])
	}
	if s == "" {
		extra := Sub(evt, "extra")
		s = Str(extra["symbol"])
		if s == "" {
			s = Str(Sub(extra, "legacy_action")["symbol"])
		}
	}
	return strings.ToUpper(s)
}

// Timeframe 事件的时间框架，标准化后返回
func Timeframe(evt map[string]interface{}) string {
	tf := firstStr(evt, "timeframe", "tf")
	if tf == "" {
		tf = Str(Sub(evt, "setup")["timeframe"])
	}
	if tf == "" {
		tf = Str(Sub(evt, "setup_context")["timeframe"])
	}
	if tf == "" {
		tf = Str(Sub(evt, "extra")["timeframe"])
	}
	return NormalizeTimeframe(tf)
}

// PolicyHash 结果事件的 policy_hash，只认 policy.policy_hash 这个规范位置
func PolicyHash(evt map[string]interface{}) string {
	return Str(Sub(evt, "policy")["policy_hash"])
}

// DecisionPolicyHash 决策行的 policy_hash：顶层优先，其次 policy 对象
func DecisionPolicyHash(d map[string]interface{}) string {
	if s := Str(d["policy_hash"]); s != "" {
		return s
	}
	return Str(Sub(d, "policy")["policy_hash"])
}

// TsMs 事件时间戳（毫秒）：ts_ms > ts > meta.ts_ms > meta.ts
func TsMs(evt map[string]interface{}) int64 {
	if n, ok := I64(evt["ts_ms"]); ok && n != 0 {
		return n
	}
	if n, ok := I64(evt["ts"]); ok && n != 0 {
		return n
	}
	meta := Sub(evt, "meta")
	if n, ok := I64(meta["ts_ms"]); ok && n != 0 {
		return n
	}
	if n, ok := I64(meta["ts"]); ok && n != 0 {
		return n
	}
	return 0
}

// ClosedTs 终态行常见的关闭时间戳字段，任意一个存在即返回
func ClosedTs(evt map[string]interface{}) int64 {
	for _, k := range []string{"close_ts", "exit_ts", "closed_ts", "closed_at_ms", "close_time_ms"} {
		if n, ok := I64(evt[k]); ok && n != 0 {
			return n
		}
	}
	return 0
}

// CloseReason 平仓原因：exit_reason 优先于 close_reason
func CloseReason(evt map[string]interface{}) string {
	return firstStr(evt, "exit_reason", "close_reason")
}

// PnlUSD 已实现盈亏：顶层 pnl_usd，其次 stats.pnl_usd
func PnlUSD(evt map[string]interface{}) *float64 {
	if f, ok := F64(evt["pnl_usd"]); ok {
		return &f
	}
	if f, ok := F64(Sub(evt, "stats")["pnl_usd"]); ok {
		return &f
	}
	return nil
}

// RMultiple 盈亏的 R 倍数
func RMultiple(evt map[string]interface{}) *float64 {
	if f, ok := F64(evt["r_multiple"]); ok {
		return &f
	}
	if f, ok := F64(Sub(evt, "stats")["r_multiple"]); ok {
		return &f
	}
	return nil
}

// NormalizeTimeframe 统一时间框架写法：小写、去空白，
// 纯数字按分钟处理（"15" -> "15m"）
func NormalizeTimeframe(tf string) string {
	tf = strings.ToLower(strings.TrimSpace(tf))
	if tf == "" {
		return ""
	}
	if _, err := strconv.Atoi(tf); err == nil {
		return tf + "m"
	}
	return tf
}
