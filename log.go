package gecho

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var log logger = newDefaultLog()

type logger interface {
	Error(args ...interface{})
	Info(args ...interface{})
	Debug(args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
}

// GetLogger 获取日志实例
func GetLogger() logger {
	return log
}

// SetLogger 替换默认日志，传入的zap logger会被包装成sugared logger
func SetLogger(l *zap.Logger) {
	log = &defaultLog{logger: l.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func TimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
}

func newDefaultLog() *defaultLog {
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
			// Keys can be anything except the empty string.
			TimeKey:        "T",
			LevelKey:       "L",
			NameKey:        "N",
			CallerKey:      "C",
			MessageKey:     "M",
			StacktraceKey:  "S",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		}),
		// worker进程的诊断信息需要直接出现在终端上，所以写stderr
		zapcore.Lock(os.Stderr),
		zap.InfoLevel,
	)
	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
	return &defaultLog{
		logger: logger,
	}
}

type defaultLog struct {
	logger *zap.SugaredLogger
}

func (l *defaultLog) Error(args ...interface{}) {
	l.logger.Error(args...)
}
func (l *defaultLog) Info(args ...interface{}) {
	l.logger.Info(args...)
}
func (l *defaultLog) Debug(args ...interface{}) {
	l.logger.Debug(args...)
}
func (l *defaultLog) Errorw(msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, keysAndValues...)
}
func (l *defaultLog) Infow(msg string, keysAndValues ...interface{}) {
	l.logger.Infow(msg, keysAndValues...)
}
func (l *defaultLog) Debugw(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}
