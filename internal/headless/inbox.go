package headless

import (
	"context"
	"crypto/ecdh"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nao1215/webpush/pkg/pushapi"
)

// ErrNotSubscribed はサブスクリプションが無いことを表す。
var ErrNotSubscribed = errors.New("サブスクリプションがありません")

// 通知表示の既定値。
const defaultNotificationTitle = "Notification"

// Notification はサービスワーカーが表示する通知。
type Notification struct {
	ID         string
	ReceivedAt time.Time
	Urgency    string
	Title      string
	Body       string
	Icon       string
	Image      string
	URL        string
	// Err は復号に失敗した場合のエラー。
	Err error
}

// Inbox はプッシュサービスに届いたメッセージを取り出して復号する。
// 復号できなかったメッセージはErrを設定して返す。
func (b *Browser) Inbox(ctx context.Context) ([]Notification, error) {
	p, err := b.profiles.Load(ctx)
	if err != nil {
		return nil, err
	}
	if p.Subscription == nil {
		return nil, ErrNotSubscribed
	}
	rec := p.Subscription

	priv, auth, err := rec.secrets()
	if err != nil {
		return nil, err
	}

	var msgs []pushapi.PushMessage
	if err := b.pushService.GetJSON(ctx, pushapi.PushMessagesPath(rec.ID), &msgs); err != nil {
		return nil, fmt.Errorf("メッセージの取得に失敗: %w", err)
	}

	notifications := make([]Notification, 0, len(msgs))
	for _, m := range msgs {
		n := Notification{ID: m.ID, ReceivedAt: m.ReceivedAt, Urgency: m.Urgency}

		plaintext, err := decrypt(m.Body, priv, auth)
		if err != nil {
			b.log.Warn("メッセージの復号に失敗しました", zap.String("message_id", m.ID), zap.Error(err))
			n.Err = err
			notifications = append(notifications, n)
			continue
		}
		n.fill(plaintext)
		notifications = append(notifications, n)
	}

	b.log.Info("メッセージを受信しました", zap.Int("count", len(notifications)))
	return notifications, nil
}

// fill はペイロードを通知の内容に展開する。JSONでなければ本文として扱う。
func (n *Notification) fill(plaintext []byte) {
	var msg pushapi.Message
	if err := json.Unmarshal(plaintext, &msg); err != nil {
		n.Title = defaultNotificationTitle
		n.Body = string(plaintext)
		return
	}

	n.Title = msg.Title
	if n.Title == "" {
		n.Title = defaultNotificationTitle
	}
	n.Body = msg.Body
	n.Icon = msg.Icon
	n.Image = msg.Image
	n.URL = msg.URL
}

// secrets は保存されている鍵を復号用にデコードする。
func (r *SubscriptionRecord) secrets() (*ecdh.PrivateKey, []byte, error) {
	rawPriv, err := base64.RawURLEncoding.DecodeString(r.PrivateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("秘密鍵のデコードに失敗: %w", err)
	}
	priv, err := ecdh.P256().NewPrivateKey(rawPriv)
	if err != nil {
		return nil, nil, fmt.Errorf("秘密鍵が不正です: %w", err)
	}
	auth, err := base64.RawURLEncoding.DecodeString(r.Auth)
	if err != nil {
		return nil, nil, fmt.Errorf("認証シークレットのデコードに失敗: %w", err)
	}
	return priv, auth, nil
}
