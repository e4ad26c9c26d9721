package headless

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/pelletier/go-toml/v2"
)

// lockRetryDelay はプロファイルのロック取得を再試行する間隔。
const lockRetryDelay = 50 * time.Millisecond

// Profile はヘッドレスブラウザの永続化された状態。
type Profile struct {
	// Permission は通知許可の状態。空はdefaultとして扱う。
	Permission string `toml:"permission"`
	// SubscriberID はサーバーのサブスクリプション保存先スロット。
	SubscriberID string `toml:"subscriber_id"`
	// Worker は登録済みのサービスワーカー。
	Worker *WorkerRecord `toml:"worker,omitempty"`
	// Subscription は現在のプッシュサブスクリプション。
	Subscription *SubscriptionRecord `toml:"subscription,omitempty"`
}

// WorkerRecord はサービスワーカーの登録。
type WorkerRecord struct {
	ScriptURL    string    `toml:"script_url"`
	RegisteredAt time.Time `toml:"registered_at"`
}

// SubscriptionRecord はプッシュサブスクリプションと復号用の秘密情報。
type SubscriptionRecord struct {
	// ID はプッシュサービス上のサブスクリプションID。
	ID       string `toml:"id"`
	Endpoint string `toml:"endpoint"`
	// ApplicationServerKey は作成時に指定したVAPID公開鍵。
	ApplicationServerKey string `toml:"application_server_key"`
	// PrivateKey はECDH秘密鍵（base64url）。
	PrivateKey string `toml:"private_key"`
	// P256dh はECDH公開鍵（base64url）。
	P256dh string `toml:"p256dh"`
	// Auth は認証シークレット（base64url）。
	Auth      string    `toml:"auth"`
	CreatedAt time.Time `toml:"created_at"`
}

// ProfileStore はプロファイルのTOMLファイルをファイルロック付きで読み書きする。
type ProfileStore struct {
	path string
	lock *flock.Flock
}

// NewProfileStore はpathのプロファイルを扱うProfileStoreを生成する。
func NewProfileStore(path string) *ProfileStore {
	return &ProfileStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path はプロファイルのパスを返す。
func (s *ProfileStore) Path() string {
	return s.path
}

// Load はプロファイルを読み込む。ファイルが無ければ空のプロファイルを返す。
func (s *ProfileStore) Load(ctx context.Context) (*Profile, error) {
	var profile *Profile
	err := s.withLock(ctx, func() error {
		p, err := s.read()
		profile = p
		return err
	})
	return profile, err
}

// Update はロックを取ったままプロファイルを読み込み、fnで変更して書き戻す。
// fnがエラーを返した場合は書き戻さない。
func (s *ProfileStore) Update(ctx context.Context, fn func(*Profile) error) error {
	return s.withLock(ctx, func() error {
		p, err := s.read()
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
		return s.write(p)
	})
}

func (s *ProfileStore) withLock(ctx context.Context, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("プロファイルのディレクトリ作成に失敗: %w", err)
	}
	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("プロファイルのロック取得に失敗: %w", err)
	}
	if !locked {
		return errors.New("プロファイルのロックを取得できませんでした")
	}
	defer s.lock.Unlock()

	return fn()
}

func (s *ProfileStore) read() (*Profile, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Profile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("プロファイルの読み込みに失敗: %w", err)
	}

	var p Profile
	if err := toml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("プロファイルの解析に失敗: %w", err)
	}
	return &p, nil
}

func (s *ProfileStore) write(p *Profile) error {
	data, err := toml.Marshal(p)
	if err != nil {
		return fmt.Errorf("プロファイルのシリアライズに失敗: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("プロファイルの書き込みに失敗: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("プロファイルの置き換えに失敗: %w", err)
	}
	return nil
}
