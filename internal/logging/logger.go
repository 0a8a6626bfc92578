// Package logging builds the process-wide zap logger.
package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger writes JSON logs to a rotated file under logDir and mirrors
// warnings and above to stderr so operational problems surface in the
// terminal and in container logs.
func NewLogger(logDir, level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zap.InfoLevel
	}

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}
	w := zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(logDir, "monitor.log"),
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	})

	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"

	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), w, lvl)

	consoleCfg := zap.NewProductionEncoderConfig()
	consoleCfg.TimeKey = "ts"
	consoleCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(consoleCfg),
		zapcore.Lock(os.Stderr),
		zap.WarnLevel,
	)

	return zap.New(zapcore.NewTee(fileCore, consoleCore)), nil
}
