package llm

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// String 读取字符串参数，非字符串值按 JSON 文本返回。
func String(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(encoded)
	}
}

// Int 读取整数参数，兼容 JSON 数字与数字字符串。
func Int(v any) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		if val != math.Trunc(val) {
			return 0, false
		}
		return int(val), true
	case json.Number:
		n, err := val.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(val))
		return n, err == nil
	default:
		return 0, false
	}
}

// Ints 读取整数数组参数，忽略无法解析的元素。
func Ints(args map[string]any, key string) []int {
	raw, ok := args[key].([]any)
	if !ok {
		if ints, ok := args[key].([]int); ok {
			return append([]int(nil), ints...)
		}
		return nil
	}
	out := make([]int, 0, len(raw))
	for _, item := range raw {
		if n, ok := Int(item); ok {
			out = append(out, n)
		}
	}
	return out
}

// Strings 读取字符串数组参数。
func Strings(args map[string]any, key string) []string {
	switch raw := args[key].(type) {
	case []string:
		return append([]string(nil), raw...)
	case []any:
		out := make([]string, 0, len(raw))
		for _, item := range raw {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	default:
		return nil
	}
}

// Objects 读取对象数组参数。
func Objects(args map[string]any, key string) []map[string]any {
	switch raw := args[key].(type) {
	case []map[string]any:
		return raw
	case []any:
		out := make([]map[string]any, 0, len(raw))
		for _, item := range raw {
			if obj, ok := item.(map[string]any); ok {
				out = append(out, obj)
			}
		}
		return out
	default:
		return nil
	}
}

// DecodeArgs 将 JSON 文本解析为参数表，空文本返回空表。
func DecodeArgs(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("decode tool arguments: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
