package main

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const logTimeLayout = "2006-01-02 15:04:05"

func parseLevel(text string) (zapcore.Level, error) {
	text = strings.ToLower(strings.TrimSpace(text))

	switch text {
	case "":
		return zapcore.InfoLevel, nil
	case "warning":
		text = "warn"
	case "critical":
		text = "error"
	}

	return zapcore.ParseLevel(text)
}

// NewLogger logs to stderr and appends the same records to logFile. The
// returned close func syncs the logger and closes the file.
func NewLogger(level zapcore.Level, logFile string) (*zap.Logger, func(), error) {
	encCfg := zapcore.EncoderConfig{
		TimeKey:          "time",
		LevelKey:         "level",
		NameKey:          "logger",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeTime:       zapcore.TimeEncoderOfLayout(logTimeLayout),
		EncodeDuration:   zapcore.StringDurationEncoder,
		EncodeName:       zapcore.FullNameEncoder,
		ConsoleSeparator: " ",
	}

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level),
	}

	closeFile := func() {}

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}

		closeFile = func() { _ = f.Close() }
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(f), level))
	}

	log := zap.New(zapcore.NewTee(cores...))

	return log, func() {
		_ = log.Sync()
		closeFile()
	}, nil
}
