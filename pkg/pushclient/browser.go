package pushclient

import (
	"context"
	"errors"

	"github.com/nao1215/webpush/pkg/pushapi"
)

// Permission は通知許可の状態。
type Permission string

const (
	// PermissionDefault はユーザーがまだ選択していない状態。
	PermissionDefault Permission = "default"
	// PermissionGranted は通知が許可された状態。
	PermissionGranted Permission = "granted"
	// PermissionDenied は通知が拒否された状態。
	PermissionDenied Permission = "denied"
)

// ParsePermission は文字列を Permission に変換する。
func ParsePermission(s string) (Permission, error) {
	switch p := Permission(s); p {
	case PermissionDefault, PermissionGranted, PermissionDenied:
		return p, nil
	default:
		return "", ErrUnknownPermission
	}
}

var (
	// ErrUnknownPermission は通知許可の状態が不明であることを表す。
	ErrUnknownPermission = errors.New("不明な通知許可の状態です")
	// ErrNoActiveWorker はサービスワーカーが登録されていないことを表す。
	ErrNoActiveWorker = errors.New("有効なサービスワーカーがありません")
)

// PermissionSource は通知許可の状態を返す。クライアントからは読み取りのみ。
type PermissionSource interface {
	Permission(ctx context.Context) (Permission, error)
}

// WorkerRegistry はサービスワーカーの登録を管理する。
type WorkerRegistry interface {
	// Register はscriptURLのワーカーを登録する。
	Register(ctx context.Context, scriptURL string) error
	// Ready は有効なワーカーの登録を返す。無い場合はErrNoActiveWorker。
	Ready(ctx context.Context) (Registration, error)
}

// Registration はサービスワーカーの登録。
type Registration interface {
	PushManager() PushManager
}

// SubscribeOptions はサブスクリプション作成時のオプション。
type SubscribeOptions struct {
	// UserVisibleOnly は全てのプッシュで通知を表示することを約束する。
	UserVisibleOnly bool
	// ApplicationServerKey はVAPID公開鍵（base64url）。
	ApplicationServerKey string
}

// PushManager はプッシュサブスクリプションを作成・取得する。
type PushManager interface {
	// Subscribe はサブスクリプションを作成する。既にあれば同じものを返す。
	Subscribe(ctx context.Context, opts SubscribeOptions) (Subscription, error)
	// GetSubscription は現在のサブスクリプションを返す。無い場合は(nil, nil)。
	GetSubscription(ctx context.Context) (Subscription, error)
}

// Subscription はプッシュサブスクリプションのハンドル。
type Subscription interface {
	// JSON はサーバーへ送るJSON表現を返す。
	JSON() pushapi.Subscription
	// Unsubscribe はサブスクリプションを解除する。解除できた場合true。
	Unsubscribe(ctx context.Context) (bool, error)
}

// Capabilities はブラウザが対応している機能。
type Capabilities struct {
	ServiceWorker    bool
	PushManager      bool
	ShowNotification bool
}

// NotificationUnsupported はプッシュ通知に必要な機能が1つでも欠けている場合にtrueを返す。
func NotificationUnsupported(c Capabilities) bool {
	return !c.ServiceWorker || !c.PushManager || !c.ShowNotification
}
