package redis

// Kind 是 TYPE 命令返回值的分类
type Kind int

const (
	KindAbsent Kind = iota
	KindString
	KindMapping
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindString:
		return "string"
	case KindMapping:
		return "mapping"
	default:
		return "unsupported"
	}
}

// kindOf 将 TYPE 的返回值映射为 Kind
func kindOf(redisType string) Kind {
	switch redisType {
	case "none":
		return KindAbsent
	case "string":
		return KindString
	case "hash":
		return KindMapping
	default:
		return KindUnsupported
	}
}
