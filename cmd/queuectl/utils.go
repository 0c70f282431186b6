package main

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// parsePayload 把参数解析为 JSON 值，解析失败时按普通字符串处理
func parsePayload(arg string) any {
	var v any
	if err := json.Unmarshal([]byte(arg), &v); err != nil {
		return arg
	}
	return v
}

// withCorrelationID 在映射负载缺少关联字段时填入随机 UUID
func withCorrelationID(payload any, field string) any {
	m, ok := payload.(map[string]any)
	if !ok || field == "" {
		return payload
	}
	if v, exists := m[field]; exists && v != nil && v != "" {
		return payload
	}
	m[field] = uuid.NewString()
	return m
}

// printJSON 以缩进 JSON 输出
func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
