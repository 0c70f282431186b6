package clog

import (
	"errors"

	"go.uber.org/zap"
)

// 预定义的错误类型
var (
	ErrInvalidLevel       = errors.New("invalid log level")
	ErrInvalidFormat      = errors.New("invalid log format")
	ErrFileRotationConfig = errors.New("invalid file rotation configuration")
)

// Field 代表一个日志字段，是 zap.Field 的别名
type Field = zap.Field

// 提供常用字段类型的创建函数，方便使用
var (
	String   = zap.String
	Strings  = zap.Strings
	Int      = zap.Int
	Int32    = zap.Int32
	Int64    = zap.Int64
	Uint64   = zap.Uint64
	Float64  = zap.Float64
	Bool     = zap.Bool
	Any      = zap.Any
	Err      = zap.Error
	Time     = zap.Time
	Duration = zap.Duration
)

// Logger 定义结构化日志操作接口
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With 返回一个带有指定字段的新 Logger
	With(fields ...Field) Logger

	// Module 返回一个带有指定模块名的日志器
	Module(name string) Logger

	// Sync 刷新缓冲的日志条目
	Sync() error
}

// zapLogger 封装 *zap.Logger 实现 Logger 接口
type zapLogger struct {
	zap *zap.Logger
}

var _ Logger = (*zapLogger)(nil)

func (l *zapLogger) Debug(msg string, fields ...Field) { l.zap.Debug(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...Field)  { l.zap.Info(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...Field)  { l.zap.Warn(msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...Field) { l.zap.Error(msg, fields...) }

func (l *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{zap: l.zap.With(fields...)}
}

func (l *zapLogger) Module(name string) Logger {
	return &zapLogger{zap: l.zap.With(zap.String("module", name))}
}

func (l *zapLogger) Sync() error {
	return l.zap.Sync()
}

// Nop 返回一个丢弃所有输出的 Logger，主要用于测试
func Nop() Logger {
	return &zapLogger{zap: zap.NewNop()}
}

// FromZap 将现有的 *zap.Logger 包装为 Logger
func FromZap(l *zap.Logger) Logger {
	if l == nil {
		return Nop()
	}
	return &zapLogger{zap: l}
}
