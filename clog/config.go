package clog

import (
	"fmt"
	"strings"
)

// 日志格式
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Config 是 clog 的主配置结构体
type Config struct {
	// Level 控制输出的最小日志级别："debug"、"info"、"warn"、"error"
	Level string `json:"level" yaml:"level"`

	// Format 日志格式："json" 或 "console"
	Format string `json:"format" yaml:"format"`

	// Output 输出目标："stdout"、"stderr" 或文件路径
	Output string `json:"output" yaml:"output"`

	// AddSource 控制日志是否包含源码文件名和行号
	AddSource bool `json:"addSource" yaml:"addSource"`

	// EnableColor 是否启用颜色（仅 console 格式）
	EnableColor bool `json:"enableColor" yaml:"enableColor"`

	// Rotation 日志轮转配置（仅文件输出）
	Rotation *RotationConfig `json:"rotation,omitempty" yaml:"rotation,omitempty"`
}

// RotationConfig 定义日志文件轮转设置
type RotationConfig struct {
	MaxSize    int  `json:"maxSize" yaml:"maxSize"`       // 单个日志文件最大尺寸(MB)
	MaxBackups int  `json:"maxBackups" yaml:"maxBackups"` // 最多保留文件个数
	MaxAge     int  `json:"maxAge" yaml:"maxAge"`         // 日志保留天数
	Compress   bool `json:"compress" yaml:"compress"`     // 是否压缩轮转文件
}

// DefaultConfig 返回开发环境友好的默认配置
func DefaultConfig() Config {
	return Config{
		Level:       "info",
		Format:      FormatConsole,
		Output:      "stdout",
		AddSource:   true,
		EnableColor: true,
	}
}

// ProductionConfig 返回生产环境配置：JSON 格式，写入文件并按大小轮转
func ProductionConfig(filename string) Config {
	return Config{
		Level:     "info",
		Format:    FormatJSON,
		Output:    filename,
		AddSource: true,
		Rotation: &RotationConfig{
			MaxSize:    100,
			MaxBackups: 7,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	switch strings.ToLower(c.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: %s", ErrInvalidLevel, c.Level)
	}
	switch c.Format {
	case "", FormatJSON, FormatConsole:
	default:
		return fmt.Errorf("%w: %s", ErrInvalidFormat, c.Format)
	}
	if c.Rotation != nil && c.Rotation.MaxSize < 0 {
		return ErrFileRotationConfig
	}
	return nil
}
