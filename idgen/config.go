package idgen

import "fmt"

// Config 雪花算法 ID 生成器配置
type Config struct {
	// NodeID 节点 ID，取值范围 0-1023
	NodeID int64 `json:"node_id" yaml:"node_id"`

	// AutoNodeID 是否根据本机 IP 自动生成节点 ID
	AutoNodeID bool `json:"auto_node_id" yaml:"auto_node_id"`

	// Epoch 自定义起始时间戳（毫秒），0 表示使用库默认值
	Epoch int64 `json:"epoch" yaml:"epoch"`
}

// DefaultConfig 返回默认配置：自动节点 ID
func DefaultConfig() Config {
	return Config{AutoNodeID: true}
}

// Validate 验证配置是否有效
func (c *Config) Validate() error {
	if !c.AutoNodeID && (c.NodeID < 0 || c.NodeID > 1023) {
		return fmt.Errorf("node_id must be between 0 and 1023, got %d", c.NodeID)
	}
	if c.Epoch < 0 {
		return fmt.Errorf("epoch must be non-negative, got %d", c.Epoch)
	}
	return nil
}
