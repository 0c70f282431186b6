// Package clog 提供基于 zap 的结构化日志，支持模块化 logger 和文件轮转。
package clog

import (
	"log"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	// 使用 atomic.Value 保证 defaultLogger 的并发安全
	defaultLogger     atomic.Value
	defaultLoggerOnce sync.Once
	moduleLoggers     sync.Map
)

// getDefaultLogger 获取默认日志器
func getDefaultLogger() Logger {
	defaultLoggerOnce.Do(func() {
		logger, err := New(DefaultConfig())
		if err != nil {
			// 当初始化失败时，至少应在标准错误中打印一条日志
			log.Printf("clog: failed to initialize default logger: %v", err)
			logger = FromZap(zap.NewExample())
		}
		defaultLogger.Store(&holder{logger})
	})
	return defaultLogger.Load().(*holder).logger
}

// holder 保证 atomic.Value 中始终存储同一具体类型
type holder struct {
	logger Logger
}

// Init 根据传入的配置重新初始化全局默认 logger。
// 失败时保留现有 logger。
func Init(cfg Config) error {
	logger, err := New(cfg)
	if err != nil {
		return err
	}
	getDefaultLogger()
	defaultLogger.Store(&holder{logger})
	moduleLoggers.Range(func(key, _ any) bool {
		moduleLoggers.Delete(key)
		return true
	})
	return nil
}

// Module 返回模块化日志器，相同名称复用同一实例
func Module(name string) Logger {
	if cached, ok := moduleLoggers.Load(name); ok {
		return cached.(Logger)
	}
	moduleLogger := getDefaultLogger().Module(name)
	actual, _ := moduleLoggers.LoadOrStore(name, moduleLogger)
	return actual.(Logger)
}

// global 返回跳过一层调用栈的默认 logger，供包级日志方法使用
func global() Logger {
	if zl, ok := getDefaultLogger().(*zapLogger); ok {
		return &zapLogger{zap: zl.zap.WithOptions(zap.AddCallerSkip(1))}
	}
	return getDefaultLogger()
}

// 全局日志方法
func Debug(msg string, fields ...Field) { global().Debug(msg, fields...) }
func Info(msg string, fields ...Field)  { global().Info(msg, fields...) }
func Warn(msg string, fields ...Field)  { global().Warn(msg, fields...) }
func Error(msg string, fields ...Field) { global().Error(msg, fields...) }

// Sync 刷新全局 logger
func Sync() error {
	return getDefaultLogger().Sync()
}
