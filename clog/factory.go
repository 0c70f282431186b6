package clog

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New 根据传入的配置创建一个新的、独立的 Logger 实例。
// 推荐在组件中通过依赖注入使用它返回的 logger。
func New(cfg Config) (Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	atomicLevel := zap.NewAtomicLevel()
	if err := atomicLevel.UnmarshalText([]byte(cfg.Level)); err != nil || cfg.Level == "" {
		atomicLevel.SetLevel(zapcore.InfoLevel)
	}

	writer, err := createWriter(cfg)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(createEncoder(cfg), writer, atomicLevel)

	var zapOpts []zap.Option
	if cfg.AddSource {
		// clog.Logger -> zapLogger -> zap
		zapOpts = append(zapOpts, zap.AddCaller(), zap.AddCallerSkip(1))
	}
	zapOpts = append(zapOpts, zap.AddStacktrace(zapcore.ErrorLevel))

	return &zapLogger{zap: zap.New(core, zapOpts...)}, nil
}

// createWriter 根据 Output 创建写入器，文件输出使用 lumberjack 轮转
func createWriter(cfg Config) (zapcore.WriteSyncer, error) {
	switch cfg.Output {
	case "", "stdout":
		return zapcore.AddSync(os.Stdout), nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Output), 0755); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %w", err)
	}

	rotator := &lumberjack.Logger{Filename: cfg.Output}
	if cfg.Rotation != nil {
		rotator.MaxSize = cfg.Rotation.MaxSize
		rotator.MaxBackups = cfg.Rotation.MaxBackups
		rotator.MaxAge = cfg.Rotation.MaxAge
		rotator.Compress = cfg.Rotation.Compress
	}
	return zapcore.AddSync(rotator), nil
}

// createEncoder 根据配置创建编码器
func createEncoder(cfg Config) zapcore.Encoder {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	if cfg.Format == FormatJSON {
		return zapcore.NewJSONEncoder(encoderConfig)
	}

	// 文件输出不带颜色
	if cfg.EnableColor && (cfg.Output == "" || cfg.Output == "stdout" || cfg.Output == "stderr") {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	return zapcore.NewConsoleEncoder(encoderConfig)
}
