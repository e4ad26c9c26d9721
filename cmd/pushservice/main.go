// 開発用プッシュサービスのエントリポイント。
// ブラウザの代わりにヘッドレスブラウザがサブスクリプションを作成し、
// Web Pushサーバーからの暗号化メッセージをここで受け取る。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/nao1215/webpush/internal/config"
	"github.com/nao1215/webpush/internal/pushservice"
	"github.com/nao1215/webpush/pkg/logger"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "pushservice.yml"
	}

	cfg, err := config.LoadPushService(configPath)
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := pushservice.New(cfg, log)
	log.Info("プッシュサービスを起動します", zap.String("port", cfg.Port), zap.String("public_url", cfg.PublicURL))
	if err := server.Run(ctx); err != nil {
		log.Fatal("プッシュサービスの起動に失敗", zap.Error(err))
	}
	log.Info("プッシュサービスを停止しました")
}
