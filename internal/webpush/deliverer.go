package webpush

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"github.com/nao1215/webpush/pkg/pushapi"
)

// maxResponseBody はプッシュサービスのレスポンスボディを読む上限。
const maxResponseBody = 64 << 10

// Deliverer はサブスクリプションにペイロードを配信する。
type Deliverer interface {
	Deliver(ctx context.Context, sub pushapi.Subscription, payload []byte) error
}

// DeliveryError はプッシュサービスが2xx以外を返したことを表す。
type DeliveryError struct {
	// StatusCode はプッシュサービスのHTTPステータスコード。
	StatusCode int
	// Body はプッシュサービスのレスポンスボディ。
	Body string
}

// Error はエラーメッセージを返す。
func (e *DeliveryError) Error() string {
	return fmt.Sprintf("プッシュサービスがエラーを返しました: status=%d, body=%s", e.StatusCode, e.Body)
}

// Gone はサブスクリプションが失効している（404/410）場合にtrueを返す。
func (e *DeliveryError) Gone() bool {
	return e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusGone
}

// DelivererConfig はWebPushDelivererの設定。
type DelivererConfig struct {
	// VAPIDPublicKey はVAPID公開鍵（base64url）。
	VAPIDPublicKey string
	// VAPIDPrivateKey はVAPID秘密鍵（base64url）。
	VAPIDPrivateKey string
	// Subject はmailto:またはhttps:の連絡先。
	Subject string
	// TTL はプッシュサービスがメッセージを保持する秒数。
	TTL int
	// Urgency はメッセージの緊急度。
	Urgency string
	// HTTPClient はプッシュサービスへの送信に使うクライアント。nilなら既定のクライアント。
	HTTPClient webpush.HTTPClient
}

// WebPushDeliverer はwebpush-goでVAPID署名と暗号化を行い配信するDeliverer。
type WebPushDeliverer struct {
	options webpush.Options
	log     *zap.Logger
}

var _ Deliverer = (*WebPushDeliverer)(nil)

// NewWebPushDeliverer は新しいWebPushDelivererを生成する。
func NewWebPushDeliverer(cfg DelivererConfig, log *zap.Logger) *WebPushDeliverer {
	return &WebPushDeliverer{
		options: webpush.Options{
			HTTPClient: cfg.HTTPClient,
			// webpush-goはhttps:以外の連絡先にmailto:を付与する
			Subscriber:      strings.TrimPrefix(cfg.Subject, "mailto:"),
			TTL:             cfg.TTL,
			Urgency:         webpush.Urgency(cfg.Urgency),
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
		},
		log: log.Named("deliverer"),
	}
}

// Deliver はペイロードを暗号化してsubのendpointへ送信する。
// プッシュサービスが2xx以外を返した場合は*DeliveryErrorを返す。
func (d *WebPushDeliverer) Deliver(ctx context.Context, sub pushapi.Subscription, payload []byte) error {
	s := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.Keys.Auth,
			P256dh: sub.Keys.P256dh,
		},
	}

	opts := d.options
	d.log.Debug("プッシュ通知を送信します", zap.String("endpoint", sub.Endpoint), zap.Int("payload_size", len(payload)))

	resp, err := webpush.SendNotificationWithContext(ctx, payload, s, &opts)
	if err != nil {
		return fmt.Errorf("プッシュ通知の送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("プッシュサービスのレスポンス読み込みに失敗: %w", err)
	}

	d.log.Info("プッシュサービスが応答しました",
		zap.String("endpoint", sub.Endpoint),
		zap.Int("status", resp.StatusCode),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}
