// Package logging builds the process-wide zap logger: a colorized console
// sink for operators plus JSON files for later inspection. Per-account child
// loggers are derived with a userId field so every line can be attributed.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-colorable"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New constructs the root logger. When logDir is non-empty, all entries are
// mirrored to logDir/combined.log and errors additionally to
// logDir/error.log.
func New(debug bool, logDir string) (*zap.Logger, error) {
	consoleLevel := zapcore.InfoLevel
	if debug {
		consoleLevel = zapcore.DebugLevel
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.AddSync(colorable.NewColorableStdout()),
			consoleLevel,
		),
	}

	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log dir: %w", err)
		}

		combined, err := openLogFile(filepath.Join(logDir, "combined.log"))
		if err != nil {
			return nil, err
		}
		errors, err := openLogFile(filepath.Join(logDir, "error.log"))
		if err != nil {
			return nil, err
		}

		jsonEnc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		cores = append(cores,
			zapcore.NewCore(jsonEnc, zapcore.AddSync(combined), consoleLevel),
			zapcore.NewCore(jsonEnc, zapcore.AddSync(errors), zapcore.ErrorLevel),
		)
	}

	return zap.New(zapcore.NewTee(cores...)), nil
}

// ForAccount derives a child logger tagged with the account's user id.
func ForAccount(log *zap.Logger, userID int64) *zap.Logger {
	return log.With(zap.Int64("userId", userID))
}

func openLogFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return f, nil
}
