package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logMu sync.RWMutex
	log   *zap.Logger
	sugar *zap.SugaredLogger
)

// FileOptions enables a rotated log file next to stderr output. Empty Filename disables it.
type FileOptions struct {
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// InitProduction 初始化一个 production logger（JSON 输出）
func InitProduction(file FileOptions) error {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return build(cfg, file)
}

// InitDevelopment 初始化一个 development logger（更友好地输出到控制台）
func InitDevelopment(file FileOptions) error {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return build(cfg, file)
}

// Init picks the logger flavour by mode name ("development" or anything else for production).
func Init(mode string, file FileOptions) error {
	if mode == "development" || mode == "dev" {
		return InitDevelopment(file)
	}
	return InitProduction(file)
}

func build(cfg zap.Config, file FileOptions) error {
	l, err := cfg.Build()
	if err != nil {
		return err
	}
	if file.Filename != "" {
		rotator := &lumberjack.Logger{
			Filename:   file.Filename,
			MaxSize:    file.MaxSizeMB,
			MaxBackups: file.MaxBackups,
			MaxAge:     file.MaxAgeDays,
			Compress:   file.Compress,
			LocalTime:  true,
		}
		fileCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(cfg.EncoderConfig),
			zapcore.AddSync(rotator),
			cfg.Level,
		)
		l = l.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, fileCore)
		}))
	}
	setLogger(l)
	return nil
}

// Set 替换当前 logger（测试中可传入 zap.NewNop()）
func Set(l *zap.Logger) {
	setLogger(l)
}

// setLogger 内部设置并替换 zap 全局 logger
func setLogger(l *zap.Logger) {
	logMu.Lock()
	defer logMu.Unlock()
	// 替换 zap 全局（可使 zap.L()/zap.S() 返回相同实例）
	zap.ReplaceGlobals(l)
	if log != nil {
		_ = log.Sync()
	}
	log = l
	sugar = l.Sugar()
}

// Log 返回 *zap.Logger（非 nil）
func Log() *zap.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	if log != nil {
		return log
	}
	// 如果还没初始化，返回 zap 的全局（可能是 noop）
	return zap.L()
}

// S 返回 *zap.SugaredLogger（非 nil）
func S() *zap.SugaredLogger {
	logMu.RLock()
	defer logMu.RUnlock()
	if sugar != nil {
		return sugar
	}
	return zap.S()
}

// Sync flush logs
func Sync() {
	logMu.RLock()
	defer logMu.RUnlock()
	if log != nil {
		_ = log.Sync()
	}
}

// Fatal logs and exits. Startup failures that leave nothing to serve use it.
func Fatal(msg string, fields ...zap.Field) {
	Log().Error(msg, fields...)
	Sync()
	os.Exit(1)
}
