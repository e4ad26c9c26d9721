package headless

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nao1215/webpush/pkg/httpclient"
	"github.com/nao1215/webpush/pkg/pushapi"
	"github.com/nao1215/webpush/pkg/pushclient"
)

// authSecretSize は認証シークレットのバイト数。
const authSecretSize = 16

var (
	// ErrUserVisibleOnly はuserVisibleOnlyがfalseのサブスクリプション作成を拒否したことを表す。
	ErrUserVisibleOnly = errors.New("userVisibleOnly: true が必要です")
	// ErrApplicationServerKeyChanged は既存のサブスクリプションと異なる鍵で作成しようとしたことを表す。
	ErrApplicationServerKeyChanged = errors.New("既存のサブスクリプションと異なるapplicationServerKeyです")
)

// Browser はプロファイルに状態を保存するヘッドレスブラウザ。
type Browser struct {
	profiles    *ProfileStore
	pushService *httpclient.Client
	now         func() time.Time
	log         *zap.Logger
}

var (
	_ pushclient.PermissionSource = (*Browser)(nil)
	_ pushclient.WorkerRegistry   = (*Browser)(nil)
)

// New は新しいBrowserを生成する。pushServiceURLは開発用プッシュサービスのベースURL。
func New(profiles *ProfileStore, pushServiceURL string, log *zap.Logger) *Browser {
	pushService := httpclient.New(pushServiceURL)
	return &Browser{
		profiles:    profiles,
		pushService: pushService,
		now:         time.Now,
		log:         log.Named("headless").With(zap.String("push_service", pushService.BaseURL())),
	}
}

// Capabilities はヘッドレスブラウザが対応している機能を返す。
func (b *Browser) Capabilities() pushclient.Capabilities {
	return pushclient.Capabilities{
		ServiceWorker:    true,
		PushManager:      true,
		ShowNotification: true,
	}
}

// Permission は通知許可の状態を返す。
func (b *Browser) Permission(ctx context.Context) (pushclient.Permission, error) {
	p, err := b.profiles.Load(ctx)
	if err != nil {
		return "", err
	}
	if p.Permission == "" {
		return pushclient.PermissionDefault, nil
	}
	return pushclient.ParsePermission(p.Permission)
}

// SetPermission はユーザー操作として通知許可の状態を変更する。
func (b *Browser) SetPermission(ctx context.Context, perm pushclient.Permission) error {
	if _, err := pushclient.ParsePermission(string(perm)); err != nil {
		return err
	}
	return b.profiles.Update(ctx, func(p *Profile) error {
		p.Permission = string(perm)
		return nil
	})
}

// SubscriberID はプロファイルのサブスクライバーIDを返す。無ければ生成して保存する。
func (b *Browser) SubscriberID(ctx context.Context) (string, error) {
	var id string
	err := b.profiles.Update(ctx, func(p *Profile) error {
		if p.SubscriberID == "" {
			p.SubscriberID = pushapi.NewSubscriberID()
		}
		id = p.SubscriberID
		return nil
	})
	return id, err
}

// Register はサービスワーカーを登録する。既に登録済みなら上書きする。
func (b *Browser) Register(ctx context.Context, scriptURL string) error {
	return b.profiles.Update(ctx, func(p *Profile) error {
		p.Worker = &WorkerRecord{ScriptURL: scriptURL, RegisteredAt: b.now().UTC()}
		return nil
	})
}

// Ready は登録済みのサービスワーカーを返す。無い場合はErrNoActiveWorker。
func (b *Browser) Ready(ctx context.Context) (pushclient.Registration, error) {
	p, err := b.profiles.Load(ctx)
	if err != nil {
		return nil, err
	}
	if p.Worker == nil {
		return nil, pushclient.ErrNoActiveWorker
	}
	return registration{browser: b}, nil
}

// registration はサービスワーカーの登録。
type registration struct {
	browser *Browser
}

func (r registration) PushManager() pushclient.PushManager {
	return pushManager{browser: r.browser}
}

// pushManager はプッシュサービスとやり取りしてサブスクリプションを管理する。
type pushManager struct {
	browser *Browser
}

// Subscribe はサブスクリプションを作成する。同じ鍵の既存のサブスクリプションがあればそれを返す。
func (m pushManager) Subscribe(ctx context.Context, opts pushclient.SubscribeOptions) (pushclient.Subscription, error) {
	if !opts.UserVisibleOnly {
		return nil, ErrUserVisibleOnly
	}

	b := m.browser
	var record *SubscriptionRecord
	err := b.profiles.Update(ctx, func(p *Profile) error {
		if p.Subscription != nil {
			if p.Subscription.ApplicationServerKey != opts.ApplicationServerKey {
				return ErrApplicationServerKeyChanged
			}
			record = p.Subscription
			return nil
		}

		created, err := b.createSubscription(ctx, opts.ApplicationServerKey)
		if err != nil {
			return err
		}
		p.Subscription = created
		record = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &subscription{browser: b, record: *record}, nil
}

// GetSubscription は現在のサブスクリプションを返す。無い場合は(nil, nil)。
func (m pushManager) GetSubscription(ctx context.Context) (pushclient.Subscription, error) {
	p, err := m.browser.profiles.Load(ctx)
	if err != nil {
		return nil, err
	}
	if p.Subscription == nil {
		return nil, nil
	}
	return &subscription{browser: m.browser, record: *p.Subscription}, nil
}

// createSubscription はプッシュサービスにサブスクリプションを作成し、復号用の鍵を生成する。
func (b *Browser) createSubscription(ctx context.Context, applicationServerKey string) (*SubscriptionRecord, error) {
	var resp pushapi.PushSubscribeResponse
	err := b.pushService.PostJSON(ctx, pushapi.PathPushSubscribe, pushapi.PushSubscribeRequest{
		ApplicationServerKey: applicationServerKey,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("プッシュサービスへのサブスクリプション作成に失敗: %w", err)
	}

	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("ECDH鍵の生成に失敗: %w", err)
	}
	auth := make([]byte, authSecretSize)
	if _, err := rand.Read(auth); err != nil {
		return nil, fmt.Errorf("認証シークレットの生成に失敗: %w", err)
	}

	b.log.Info("サブスクリプションを作成しました", zap.String("id", resp.ID), zap.String("endpoint", resp.Endpoint))
	return &SubscriptionRecord{
		ID:                   resp.ID,
		Endpoint:             resp.Endpoint,
		ApplicationServerKey: applicationServerKey,
		PrivateKey:           base64.RawURLEncoding.EncodeToString(priv.Bytes()),
		P256dh:               base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
		Auth:                 base64.RawURLEncoding.EncodeToString(auth),
		CreatedAt:            b.now().UTC(),
	}, nil
}

// subscription はプロファイルに保存されたサブスクリプションのハンドル。
type subscription struct {
	browser *Browser
	record  SubscriptionRecord
}

// JSON はPushSubscription.toJSON()と同じ形を返す。
func (s *subscription) JSON() pushapi.Subscription {
	return pushapi.Subscription{
		Endpoint: s.record.Endpoint,
		Keys: pushapi.Keys{
			P256dh: s.record.P256dh,
			Auth:   s.record.Auth,
		},
	}
}

// Unsubscribe はプッシュサービスからサブスクリプションを解除してプロファイルから消す。
// プッシュサービス側で既に解除されていた場合はfalseを返す。
func (s *subscription) Unsubscribe(ctx context.Context) (bool, error) {
	b := s.browser
	removed := true
	if err := b.pushService.Delete(ctx, pushapi.PathPushPrefix+s.record.ID); err != nil {
		var statusErr *httpclient.StatusError
		if !errors.As(err, &statusErr) || (statusErr.StatusCode != http.StatusNotFound && statusErr.StatusCode != http.StatusGone) {
			return false, fmt.Errorf("プッシュサービスでの解除に失敗: %w", err)
		}
		removed = false
	}

	err := b.profiles.Update(ctx, func(p *Profile) error {
		if p.Subscription != nil && p.Subscription.ID == s.record.ID {
			p.Subscription = nil
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}
