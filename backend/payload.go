package backend

import (
	"fmt"
	"reflect"
	"strconv"
)

// IsEmpty 判断负载是否为空：nil、空字符串、空字节切片、空 map/slice。数值 0 不为空。
func IsEmpty(data any) bool {
	switch v := data.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []byte:
		return len(v) == 0
	}
	rv := reflect.ValueOf(data)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// Fields 将负载转换为字符串键 map；结构体等其他形状经 codec 编解码一次
func Fields(codec Codec, payload any) (map[string]any, bool) {
	if m, ok := payload.(map[string]any); ok {
		return m, true
	}
	if IsEmpty(payload) {
		return nil, false
	}
	raw, err := codec.Marshal(payload)
	if err != nil {
		return nil, false
	}
	var decoded any
	if err := codec.Unmarshal(raw, &decoded); err != nil {
		return nil, false
	}
	m, ok := decoded.(map[string]any)
	return m, ok
}

// FieldString 取出字段值的字符串形式，用作关联键
func FieldString(codec Codec, payload any, field string) (string, bool) {
	fields, ok := Fields(codec, payload)
	if !ok {
		return "", false
	}
	v, ok := fields[field]
	if !ok || v == nil {
		return "", false
	}
	var s string
	switch tv := v.(type) {
	case string:
		s = tv
	case float64:
		s = strconv.FormatFloat(tv, 'f', -1, 64)
	case float32:
		s = strconv.FormatFloat(float64(tv), 'f', -1, 32)
	default:
		s = fmt.Sprint(tv)
	}
	return s, s != ""
}

// FieldScore 取出字段的数值，用作排序分值；数字字符串同样接受
func FieldScore(codec Codec, payload any, field string) (float64, bool) {
	fields, ok := Fields(codec, payload)
	if !ok {
		return 0, false
	}
	return toFloat(fields[field])
}

func toFloat(v any) (float64, bool) {
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}
