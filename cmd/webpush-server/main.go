// Web Pushサーバーのエントリポイント。
// ブラウザから届いたサブスクリプションを保持し、送信要求を受けると
// VAPID署名・暗号化したプッシュメッセージをプッシュサービスへ配信する。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/nao1215/webpush/internal/config"
	"github.com/nao1215/webpush/internal/webpush"
	"github.com/nao1215/webpush/pkg/logger"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yml"
	}

	cfg, err := config.LoadServer(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "設定の読み込みに失敗: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Encoding: cfg.Log.Encoding})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ロガーの初期化に失敗: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	server, err := webpush.NewServer(cfg, log)
	if err != nil {
		log.Fatal("Web Pushサーバーの初期化に失敗", zap.Error(err))
	}
	defer server.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Web Pushサーバーを起動します",
		zap.String("port", cfg.Port),
		zap.String("store", cfg.Store.Driver),
		zap.Strings("allowed_origins", cfg.AllowedOrigins),
	)
	if err := server.Run(ctx); err != nil {
		log.Fatal("Web Pushサーバーの起動に失敗", zap.Error(err))
	}
	log.Info("Web Pushサーバーを停止しました")
}
