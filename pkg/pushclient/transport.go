package pushclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nao1215/webpush/pkg/httpclient"
	"github.com/nao1215/webpush/pkg/pushapi"
)

// テスト送信のペイロードの既定値。
const (
	DefaultPushTitle = "Test Push"
	DefaultPushBody  = "This is a test push message"
	DefaultPushURL   = "https://google.com"
)

// Transport はサブスクリプションと送信要求をサーバーへ届ける。
type Transport interface {
	SubmitSubscription(ctx context.Context, sub pushapi.Subscription) error
	RemoveSubscription(ctx context.Context, sub pushapi.Subscription) error
	SendWebPush(ctx context.Context, message *string) error
}

// HTTPTransport はWeb PushサーバーのAPIをJSONで呼び出すTransport。
type HTTPTransport struct {
	client       *httpclient.Client
	subscriberID string
	log          *zap.Logger
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport はbaseURLのサーバーに接続するHTTPTransportを生成する。
func NewHTTPTransport(baseURL string, log *zap.Logger) *HTTPTransport {
	client := httpclient.New(baseURL)
	return &HTTPTransport{
		client: client,
		log:    log.Named("transport").With(zap.String("server", client.BaseURL())),
	}
}

// WithSubscriberID はサブスクライバーIDを付けて送信するコピーを返す。
func (t *HTTPTransport) WithSubscriberID(id string) *HTTPTransport {
	c := *t
	c.subscriberID = id
	return &c
}

// SubmitSubscription はサブスクリプションをサーバーに登録する。
func (t *HTTPTransport) SubmitSubscription(ctx context.Context, sub pushapi.Subscription) error {
	var resp pushapi.MessageResponse
	if err := t.client.PostJSON(t.context(ctx), pushapi.PathSubscription, pushapi.SubscriptionRequest{Subscription: &sub}, &resp); err != nil {
		t.log.Error("サブスクリプションの送信に失敗しました", zap.Error(err))
		return fmt.Errorf("サブスクリプションの送信に失敗: %w", err)
	}
	t.log.Info("サブスクリプションを送信しました", zap.String("message", resp.Message))
	return nil
}

// RemoveSubscription はサーバーからサブスクリプションを削除する。
func (t *HTTPTransport) RemoveSubscription(ctx context.Context, sub pushapi.Subscription) error {
	var resp pushapi.MessageResponse
	if err := t.client.PostJSON(t.context(ctx), pushapi.PathRemoveSubscription, pushapi.SubscriptionRequest{Subscription: &sub}, &resp); err != nil {
		t.log.Error("サブスクリプションの削除要求に失敗しました", zap.Error(err))
		return fmt.Errorf("サブスクリプションの削除要求に失敗: %w", err)
	}
	t.log.Info("サブスクリプションを削除しました", zap.String("message", resp.Message))
	return nil
}

// SendWebPush はサーバーにテスト送信を要求する。messageがnilなら既定の本文を使う。
func (t *HTTPTransport) SendWebPush(ctx context.Context, message *string) error {
	body := DefaultPushBody
	if message != nil {
		body = *message
	}
	payload := pushapi.Message{
		Title: DefaultPushTitle,
		Body:  body,
		URL:   DefaultPushURL,
	}

	var resp pushapi.MessageResponse
	if err := t.client.PostJSON(t.context(ctx), pushapi.PathSend, payload, &resp); err != nil {
		t.log.Error("プッシュ送信の要求に失敗しました", zap.Error(err))
		return fmt.Errorf("プッシュ送信の要求に失敗: %w", err)
	}
	t.log.Info("プッシュ送信を要求しました", zap.String("message", resp.Message))
	return nil
}

// VAPIDPublicKey はサーバーのVAPID公開鍵を取得する。
func (t *HTTPTransport) VAPIDPublicKey(ctx context.Context) (string, error) {
	var resp pushapi.VAPIDPublicKeyResponse
	if err := t.client.GetJSON(t.context(ctx), pushapi.PathVAPIDPublicKey, &resp); err != nil {
		return "", fmt.Errorf("VAPID公開鍵の取得に失敗: %w", err)
	}
	return resp.PublicKey, nil
}

func (t *HTTPTransport) context(ctx context.Context) context.Context {
	if t.subscriberID == "" {
		return ctx
	}
	return httpclient.WithSubscriberID(ctx, t.subscriberID)
}
