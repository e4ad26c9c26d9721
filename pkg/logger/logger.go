// Package logger はzapロガーの生成を提供する。
package logger

import (
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config はロガーの設定。
type Config struct {
	// Level はログレベル（debug, info, warn, error）。
	Level string
	// Encoding は出力形式（json, console, auto）。autoは標準出力が端末ならconsoleになる。
	Encoding string
	// OutputPath はログの出力先。空の場合はstdout。
	OutputPath string
}

// New は設定からzap.Loggerを生成する。
// 不正なログレベルはinfoとして扱う。
func New(cfg Config) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	logLevel := strings.ToLower(cfg.Level)
	if logLevel == "" {
		logLevel = "info"
	}
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "不正なログレベル %q のためinfoを使用します: %v\n", cfg.Level, err)
		level.SetLevel(zap.InfoLevel)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	outputPath := cfg.OutputPath
	if outputPath == "" {
		outputPath = "stdout"
	}

	zapConfig := zap.Config{
		Level:             level,
		Development:       false,
		DisableCaller:     true,
		DisableStacktrace: true,
		Encoding:          resolveEncoding(cfg.Encoding, outputPath),
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{outputPath},
		ErrorOutputPaths:  []string{"stderr"},
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("ロガーの生成に失敗: %w", err)
	}
	return logger, nil
}

// resolveEncoding はエンコーディング指定を json か console に解決する。
func resolveEncoding(encoding, outputPath string) string {
	switch strings.ToLower(encoding) {
	case "console":
		return "console"
	case "auto":
		if outputPath == "stdout" && isTerminal(os.Stdout.Fd()) {
			return "console"
		}
		return "json"
	default:
		return "json"
	}
}

func isTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
