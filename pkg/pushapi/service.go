package pushapi

import "time"

// プッシュサービスのパス。
const (
	// PathPushSubscribe はプッシュサービスでサブスクリプションを作成するパス。
	PathPushSubscribe = "/subscribe"
	// PathPushPrefix はプッシュメッセージ受信用エンドポイントの接頭辞。
	PathPushPrefix = "/push/"
)

// PushSubscribeRequest はプッシュサービスへのサブスクリプション作成要求。
type PushSubscribeRequest struct {
	// ApplicationServerKey は送信を許可するアプリケーションサーバーのVAPID公開鍵。
	ApplicationServerKey string `json:"applicationServerKey"`
}

// PushSubscribeResponse はプッシュサービスが払い出したサブスクリプション。
type PushSubscribeResponse struct {
	ID       string `json:"id"`
	Endpoint string `json:"endpoint"`
}

// PushMessage はプッシュサービスに届いた暗号化済みメッセージ。
type PushMessage struct {
	ID string `json:"id"`
	// Body はaes128gcmで暗号化されたままのボディ。
	Body       []byte    `json:"body"`
	TTL        int       `json:"ttl"`
	Urgency    string    `json:"urgency"`
	Topic      string    `json:"topic,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// PushMessagesPath はidのメッセージ取得パスを返す。
func PushMessagesPath(id string) string {
	return PathPushPrefix + id + "/messages"
}
