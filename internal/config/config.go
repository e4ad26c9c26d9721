// Package config はサーバーと開発用プッシュサービスの設定を読み込む。
//
// 設定ファイル（YAML）が存在すればそれを読み込み、無ければ環境変数から読み込む。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// ストアの種類。
const (
	StoreDriverMemory = "memory"
	StoreDriverSQLite = "sqlite"
)

// LogConfig はログ出力の設定。
type LogConfig struct {
	Level    string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Encoding string `yaml:"encoding" env:"LOG_ENCODING" env-default:"auto"`
}

// VAPIDConfig はVAPID鍵ペアと連絡先。
// 公開鍵の既定値はクライアントの既定のapplicationServerKeyと対になる。
type VAPIDConfig struct {
	PublicKey  string `yaml:"public_key" env:"VAPID_PUBLIC_KEY" env-default:"BETvXTi2xVhQSj2lWNPuci7q57GTCgxwQMlJBpsG3EH-TsQHMnNpKd3NkVtR1Mu9tOIN_lBYhNM1gT8BgDPQUnY"`
	PrivateKey string `yaml:"private_key" env:"VAPID_PRIVATE_KEY" env-required:"true"`
	// Subject はプッシュサービスが送信者に連絡するためのmailto:またはhttps: URI。
	Subject string `yaml:"subject" env:"VAPID_SUBJECT" env-default:"mailto:maksprocode@gmail.com"`
}

// PushConfig はプッシュ配信のオプション。
type PushConfig struct {
	// TTL はプッシュサービスがメッセージを保持する秒数。
	TTL int `yaml:"ttl" env:"PUSH_TTL" env-default:"2419200"`
	// Urgency は very-low, low, normal, high のいずれか。
	Urgency string `yaml:"urgency" env:"PUSH_URGENCY" env-default:"normal"`
	// SendRate は1秒あたりの送信数の上限。
	SendRate float64 `yaml:"send_rate" env:"SEND_RATE" env-default:"10"`
	// SendBurst は瞬間的に許容する送信数。
	SendBurst int `yaml:"send_burst" env:"SEND_BURST" env-default:"5"`
}

// StoreConfig はサブスクリプションストアの設定。
type StoreConfig struct {
	Driver string `yaml:"driver" env:"STORE_DRIVER" env-default:"memory"`
	// SQLiteDSN の既定値はプロセス内のインメモリDB。
	SQLiteDSN string `yaml:"sqlite_dsn" env:"SQLITE_DSN" env-default:"file:webpush?mode=memory&cache=shared"`
}

// Server はWeb Pushサーバーの設定。
type Server struct {
	Port           string      `yaml:"port" env:"PORT" env-default:"8080"`
	AllowedOrigins []string    `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" env-separator:","`
	Log            LogConfig   `yaml:"log"`
	VAPID          VAPIDConfig `yaml:"vapid"`
	Push           PushConfig  `yaml:"push"`
	Store          StoreConfig `yaml:"store"`
}

// PushService は開発用プッシュサービスの設定。
type PushService struct {
	Port string `yaml:"port" env:"PORT" env-default:"8090"`
	// PublicURL はエンドポイントURLの生成に使うベースURL。空ならリクエストのHostから組み立てる。
	PublicURL string `yaml:"public_url" env:"PUBLIC_URL"`
	// MaxMessages はサブスクリプションごとに保持するメッセージ数の上限。
	MaxMessages int       `yaml:"max_messages" env:"MAX_MESSAGES" env-default:"100"`
	Log         LogConfig `yaml:"log"`
}

var validUrgencies = map[string]struct{}{
	"very-low": {},
	"low":      {},
	"normal":   {},
	"high":     {},
}

// LoadServer はWeb Pushサーバーの設定を読み込んで検証する。
func LoadServer(path string) (*Server, error) {
	var cfg Server
	if err := load(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadPushService は開発用プッシュサービスの設定を読み込む。
func LoadPushService(path string) (*PushService, error) {
	var cfg PushService
	if err := load(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.MaxMessages <= 0 {
		return nil, fmt.Errorf("MAX_MESSAGESは1以上である必要があります: %d", cfg.MaxMessages)
	}
	return &cfg, nil
}

// load はpathのファイルが存在すればそれを読み、無ければ環境変数から読み込む。
func load(path string, cfg any) error {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, cfg); err != nil {
				return fmt.Errorf("設定ファイル %s の読み込みに失敗: %w", path, err)
			}
			return nil
		}
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return fmt.Errorf("環境変数からの設定読み込みに失敗: %w", err)
	}
	return nil
}

// Validate は設定値の整合性を検証する。
func (c *Server) Validate() error {
	var errs []error
	if c.VAPID.PrivateKey == "" {
		errs = append(errs, errors.New("VAPID_PRIVATE_KEYが必要です"))
	}
	if c.VAPID.PublicKey == "" {
		errs = append(errs, errors.New("VAPID_PUBLIC_KEYが必要です"))
	}
	if !strings.HasPrefix(c.VAPID.Subject, "mailto:") && !strings.HasPrefix(c.VAPID.Subject, "https:") {
		errs = append(errs, fmt.Errorf("VAPID_SUBJECTはmailto:またはhttps:で始まる必要があります: %q", c.VAPID.Subject))
	}
	if _, ok := validUrgencies[c.Push.Urgency]; !ok {
		errs = append(errs, fmt.Errorf("PUSH_URGENCYが不正です: %q", c.Push.Urgency))
	}
	if c.Push.TTL < 0 {
		errs = append(errs, fmt.Errorf("PUSH_TTLは0以上である必要があります: %d", c.Push.TTL))
	}
	if c.Push.SendRate <= 0 || c.Push.SendBurst <= 0 {
		errs = append(errs, errors.New("SEND_RATEとSEND_BURSTは正の値である必要があります"))
	}
	switch c.Store.Driver {
	case StoreDriverMemory, StoreDriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVERが不正です: %q", c.Store.Driver))
	}
	return errors.Join(errs...)
}
