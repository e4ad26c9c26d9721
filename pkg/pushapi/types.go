package pushapi

import (
	"errors"
	"net/url"

	"github.com/google/uuid"
)

// HeaderSubscriberID はサブスクリプションの保存先スロットを指定するHTTPヘッダーキー。
// ヘッダーが無い場合はデフォルトスロットが使われる。
const HeaderSubscriberID = "X-Subscriber-ID"

// APIのパス。
const (
	// PathSubscription はサブスクリプション登録のパス。
	PathSubscription = "/api/web-push/subscription"
	// PathSend はプッシュ送信のパス。
	PathSend = "/api/web-push/send"
	// PathRemoveSubscription はサブスクリプション削除のパス。
	PathRemoveSubscription = "/api/web-push/remove-subscription"
	// PathVAPIDPublicKey はVAPID公開鍵取得のパス。
	PathVAPIDPublicKey = "/api/web-push/vapid-public-key"
)

// レスポンスの文言。クライアントはこれらの値と比較してよい。
const (
	MessageSubscriptionSet     = "Subscription set."
	MessagePushSent            = "Push sent."
	MessageSubscriptionRemoved = "Subscription removed."

	ErrorInvalidEndpoint      = "Invalid endpoint"
	ErrorNoSubscription       = "No subscription set."
	ErrorSubscriptionNotFound = "Subscription not found."
	ErrorSubscriptionExpired  = "Subscription expired."
)

var (
	// ErrMissingEndpoint はサブスクリプションのエンドポイントが空であることを表す。
	ErrMissingEndpoint = errors.New("サブスクリプションのendpointが空です")
	// ErrInvalidEndpoint はエンドポイントが絶対URLでないことを表す。
	ErrInvalidEndpoint = errors.New("サブスクリプションのendpointが不正です")
	// ErrMissingKeys はp256dhまたはauthが空であることを表す。
	ErrMissingKeys = errors.New("サブスクリプションのkeysが不足しています")
)

// Keys はプッシュサービスがペイロードを暗号化するための鍵。
type Keys struct {
	// P256dh はユーザーエージェントのECDH公開鍵（base64url）。
	P256dh string `json:"p256dh"`
	// Auth は認証シークレット（base64url）。
	Auth string `json:"auth"`
}

// Subscription はブラウザが発行するプッシュサブスクリプション。
// サーバーにとっては不透明な資格情報として扱う。
type Subscription struct {
	// Endpoint はプッシュサービス上の配信先URL。
	Endpoint string `json:"endpoint"`
	// ExpirationTime は有効期限（エポックミリ秒）。期限が無い場合はnull。
	ExpirationTime *int64 `json:"expirationTime"`
	// Keys は暗号化用の鍵。
	Keys Keys `json:"keys"`
}

// Validate はサブスクリプションが配信に使える形をしているか検証する。
func (s Subscription) Validate() error {
	if s.Endpoint == "" {
		return ErrMissingEndpoint
	}
	u, err := url.Parse(s.Endpoint)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return ErrInvalidEndpoint
	}
	if s.Keys.P256dh == "" || s.Keys.Auth == "" {
		return ErrMissingKeys
	}
	return nil
}

// SubscriptionRequest はサブスクリプション登録・削除リクエストのJSON構造。
type SubscriptionRequest struct {
	Subscription *Subscription `json:"subscription"`
}

// Message はプッシュ送信のペイロード。
// サーバーはJSONにシリアライズして配信ライブラリへそのまま渡す。
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Image string `json:"image"`
	Icon  string `json:"icon"`
	URL   string `json:"url"`
}

// MessageResponse は成功時のレスポンス。
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse は失敗時のレスポンス。
type ErrorResponse struct {
	Error string `json:"error"`
	// Status はプッシュサービスが返したHTTPステータス（配信失敗時のみ）。
	Status int `json:"status,omitempty"`
}

// VAPIDPublicKeyResponse はVAPID公開鍵のレスポンス。
type VAPIDPublicKeyResponse struct {
	PublicKey string `json:"publicKey"`
}

// NewSubscriberID は新しいサブスクライバーIDを生成する。
func NewSubscriberID() string {
	return uuid.NewString()
}
