package pushclient

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nao1215/webpush/pkg/pushapi"
)

// WorkerScriptURL はサービスワーカーのスクリプトのパス。
const WorkerScriptURL = "./sw.js"

// DefaultApplicationServerKey はサブスクリプション作成時に使うVAPID公開鍵。
const DefaultApplicationServerKey = "BETvXTi2xVhQSj2lWNPuci7q57GTCgxwQMlJBpsG3EH-TsQHMnNpKd3NkVtR1Mu9tOIN_lBYhNM1gT8BgDPQUnY"

// ErrNilSubscription はPushManagerがサブスクリプションを返さなかったことを表す。
var ErrNilSubscription = errors.New("サブスクリプションが作成されませんでした")

// GateResult は通知許可の確認結果。
type GateResult struct {
	// Permission は確認時点の通知許可の状態。
	Permission Permission
	// Subscription は許可済みの場合に作成されたサブスクリプション。
	Subscription *pushapi.Subscription
}

// Client はWeb Pushのクライアント側フローを実行する。
type Client struct {
	permissions          PermissionSource
	workers              WorkerRegistry
	transport            Transport
	applicationServerKey string
	log                  *zap.Logger
}

// Option はClientのオプション。
type Option func(*Client)

// WithApplicationServerKey はサブスクリプション作成時のVAPID公開鍵を差し替える。
func WithApplicationServerKey(key string) Option {
	return func(c *Client) {
		c.applicationServerKey = key
	}
}

// New は新しいClientを生成する。
func New(permissions PermissionSource, workers WorkerRegistry, transport Transport, log *zap.Logger, opts ...Option) *Client {
	c := &Client{
		permissions:          permissions,
		workers:              workers,
		transport:            transport,
		applicationServerKey: DefaultApplicationServerKey,
		log:                  log.Named("pushclient"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckPermissionStateAndAct は通知許可を確認し、許可済みの場合だけ
// ワーカー登録とサブスクリプション作成を行う。許可を求めるプロンプトは出さない。
func (c *Client) CheckPermissionStateAndAct(ctx context.Context) (GateResult, error) {
	perm, err := c.permissions.Permission(ctx)
	if err != nil {
		return GateResult{}, fmt.Errorf("通知許可の取得に失敗: %w", err)
	}

	result := GateResult{Permission: perm}
	switch perm {
	case PermissionGranted:
		sub, err := c.RegisterAndSubscribe(ctx)
		if err != nil {
			return result, err
		}
		result.Subscription = sub
	case PermissionDenied:
		c.log.Debug("通知が拒否されています")
	default:
		c.log.Debug("通知許可が未選択です", zap.String("permission", string(perm)))
	}
	return result, nil
}

// RegisterAndSubscribe はサービスワーカーを登録してからサブスクリプションを作成する。
func (c *Client) RegisterAndSubscribe(ctx context.Context) (*pushapi.Subscription, error) {
	if err := c.workers.Register(ctx, WorkerScriptURL); err != nil {
		c.log.Error("サービスワーカーの登録に失敗しました", zap.String("script", WorkerScriptURL), zap.Error(err))
		return nil, fmt.Errorf("サービスワーカーの登録に失敗: %w", err)
	}
	c.log.Info("サービスワーカーを登録しました", zap.String("script", WorkerScriptURL))

	return c.Subscribe(ctx)
}

// Subscribe はサブスクリプションを作成してサーバーへ送信する。
func (c *Client) Subscribe(ctx context.Context) (*pushapi.Subscription, error) {
	pm, err := c.pushManager(ctx)
	if err != nil {
		return nil, err
	}

	handle, err := pm.Subscribe(ctx, SubscribeOptions{
		UserVisibleOnly:      true,
		ApplicationServerKey: c.applicationServerKey,
	})
	if err != nil {
		c.log.Error("サブスクリプションの作成に失敗しました", zap.Error(err))
		return nil, fmt.Errorf("サブスクリプションの作成に失敗: %w", err)
	}
	if handle == nil {
		return nil, ErrNilSubscription
	}

	sub := handle.JSON()
	c.log.Info("サブスクリプションを作成しました", zap.String("endpoint", sub.Endpoint))

	if err := c.transport.SubmitSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// Unsubscribe は現在のサブスクリプションを解除し、サーバーからも削除する。
// サブスクリプションが無い場合は何もせず false を返す。
func (c *Client) Unsubscribe(ctx context.Context) (bool, error) {
	pm, err := c.pushManager(ctx)
	if err != nil {
		return false, err
	}

	handle, err := pm.GetSubscription(ctx)
	if err != nil {
		c.log.Error("サブスクリプションの取得に失敗しました", zap.Error(err))
		return false, fmt.Errorf("サブスクリプションの取得に失敗: %w", err)
	}
	if handle == nil {
		c.log.Warn("解除するサブスクリプションがありません")
		return false, nil
	}

	sub := handle.JSON()
	ok, err := handle.Unsubscribe(ctx)
	if err != nil {
		c.log.Error("サブスクリプションの解除に失敗しました", zap.Error(err))
		return false, fmt.Errorf("サブスクリプションの解除に失敗: %w", err)
	}
	if !ok {
		c.log.Warn("サブスクリプションは既に解除されています", zap.String("endpoint", sub.Endpoint))
	}

	if err := c.transport.RemoveSubscription(ctx, sub); err != nil {
		return false, err
	}
	c.log.Info("サブスクリプションを解除しました", zap.String("endpoint", sub.Endpoint))
	return true, nil
}

// SendWebPush はサーバーにテスト送信を要求する。
func (c *Client) SendWebPush(ctx context.Context, message *string) error {
	return c.transport.SendWebPush(ctx, message)
}

func (c *Client) pushManager(ctx context.Context) (PushManager, error) {
	reg, err := c.workers.Ready(ctx)
	if err != nil {
		c.log.Error("サービスワーカーの準備に失敗しました", zap.Error(err))
		return nil, fmt.Errorf("サービスワーカーの準備に失敗: %w", err)
	}
	return reg.PushManager(), nil
}
