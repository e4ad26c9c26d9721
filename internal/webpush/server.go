package webpush

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nao1215/webpush/internal/config"
	"github.com/nao1215/webpush/pkg/middleware"
	"github.com/nao1215/webpush/pkg/pushapi"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 10 * time.Second

// Server はWeb PushサーバーのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// store はサブスクライバーごとのサブスクリプション保存先。
	store Store
	// deliverer はプッシュサービスへの配信を行う。
	deliverer Deliverer
	// limiter は送信レートを制限する。
	limiter *rate.Limiter
	// vapidPublicKey はクライアントに公開するVAPID公開鍵。
	vapidPublicKey string
	// registry はPrometheusのレジストリ。
	registry *prometheus.Registry
	metrics  *metrics
	log      *zap.Logger
}

// Options はNewに渡す依存関係。
type Options struct {
	// Port はリッスンポート。
	Port string
	// Store はサブスクリプションの保存先。
	Store Store
	// Deliverer は配信処理。
	Deliverer Deliverer
	// Limiter は送信レート制限。nilなら制限しない。
	Limiter *rate.Limiter
	// VAPIDPublicKey はクライアントに公開するVAPID公開鍵。
	VAPIDPublicKey string
	// AllowedOrigins はCORSで許可するオリジン。
	AllowedOrigins []string
}

// NewServer は設定からストアと配信処理を組み立ててサーバーを生成する。
func NewServer(cfg *config.Server, log *zap.Logger) (*Server, error) {
	var store Store
	switch cfg.Store.Driver {
	case config.StoreDriverSQLite:
		s, err := OpenSQLiteStore(cfg.Store.SQLiteDSN, log)
		if err != nil {
			return nil, fmt.Errorf("SQLiteストアの初期化に失敗: %w", err)
		}
		store = s
	default:
		store = NewMemoryStore()
	}

	deliverer := NewWebPushDeliverer(DelivererConfig{
		VAPIDPublicKey:  cfg.VAPID.PublicKey,
		VAPIDPrivateKey: cfg.VAPID.PrivateKey,
		Subject:         cfg.VAPID.Subject,
		TTL:             cfg.Push.TTL,
		Urgency:         cfg.Push.Urgency,
		HTTPClient:      &http.Client{Timeout: 30 * time.Second},
	}, log)

	return New(Options{
		Port:           cfg.Port,
		Store:          store,
		Deliverer:      deliverer,
		Limiter:        rate.NewLimiter(rate.Limit(cfg.Push.SendRate), cfg.Push.SendBurst),
		VAPIDPublicKey: cfg.VAPID.PublicKey,
		AllowedOrigins: cfg.AllowedOrigins,
	}, log), nil
}

// New は依存関係を受け取ってサーバーを生成する。
func New(opts Options, log *zap.Logger) *Server {
	limiter := opts.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	router := gin.New()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.Logger(log))
	router.Use(middleware.CORS(opts.AllowedOrigins))

	s := &Server{
		router:         router,
		port:           opts.Port,
		store:          opts.Store,
		deliverer:      opts.Deliverer,
		limiter:        limiter,
		vapidPublicKey: opts.VAPIDPublicKey,
		registry:       registry,
		metrics:        newMetrics(registry),
		log:            log.Named("webpush"),
	}
	s.setupRoutes()

	return s
}

// Handler はHTTPハンドラーを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとシャットダウンする。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("シャットダウンに失敗: %w", err)
	}
	return nil
}

// Close はストアを閉じる。
func (s *Server) Close() error {
	return s.store.Close()
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/web-push")
	{
		// サブスクリプション登録
		api.POST("/subscription", s.handleSetSubscription())
		// プッシュ送信
		api.POST("/send", s.handleSend())
		// サブスクリプション削除
		api.POST("/remove-subscription", s.handleRemoveSubscription())
		// VAPID公開鍵
		api.GET("/vapid-public-key", s.handleVAPIDPublicKey())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "webpush"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, pushapi.ErrorResponse{Error: pushapi.ErrorInvalidEndpoint})
	})
}

// subscriberKey はリクエストのサブスクライバーIDを返す。未指定はデフォルトスロット。
func subscriberKey(c *gin.Context) string {
	return c.GetHeader(pushapi.HeaderSubscriberID)
}

// bindSubscription はリクエストボディの {subscription} を検証して取り出す。
// 不正な場合は400を返してfalseを返す。
func bindSubscription(c *gin.Context) (*pushapi.Subscription, bool) {
	var req pushapi.SubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, pushapi.ErrorResponse{Error: fmt.Sprintf("リクエストが不正です: %v", err)})
		return nil, false
	}
	if req.Subscription == nil {
		c.JSON(http.StatusBadRequest, pushapi.ErrorResponse{Error: "subscriptionが必要です"})
		return nil, false
	}
	if err := req.Subscription.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, pushapi.ErrorResponse{Error: err.Error()})
		return nil, false
	}
	return req.Subscription, true
}

// handleSetSubscription はサブスクリプションを保存するハンドラ。
// 同じサブスクライバーの既存のサブスクリプションは上書きされる。
func (s *Server) handleSetSubscription() gin.HandlerFunc {
	return func(c *gin.Context) {
		sub, ok := bindSubscription(c)
		if !ok {
			return
		}

		key := subscriberKey(c)
		if err := s.store.Set(c.Request.Context(), key, *sub); err != nil {
			c.JSON(http.StatusInternalServerError, pushapi.ErrorResponse{Error: "サブスクリプションの保存に失敗しました"})
			s.log.Error("サブスクリプション保存エラー", zap.String("subscriber", key), zap.Error(err))
			return
		}
		s.metrics.subscriptionsSet.Inc()

		s.log.Info("サブスクリプションを保存しました",
			zap.String("subscriber", key),
			zap.String("endpoint", sub.Endpoint),
		)
		c.JSON(http.StatusOK, pushapi.MessageResponse{Message: pushapi.MessageSubscriptionSet})
	}
}

// handleRemoveSubscription はサブスクリプションを削除するハンドラ。
// 保存中のサブスクリプションとendpointが一致しない場合は404を返す。
func (s *Server) handleRemoveSubscription() gin.HandlerFunc {
	return func(c *gin.Context) {
		sub, ok := bindSubscription(c)
		if !ok {
			return
		}

		key := subscriberKey(c)
		removed, err := s.store.Remove(c.Request.Context(), key, sub.Endpoint)
		if err != nil {
			c.JSON(http.StatusInternalServerError, pushapi.ErrorResponse{Error: "サブスクリプションの削除に失敗しました"})
			s.log.Error("サブスクリプション削除エラー", zap.String("subscriber", key), zap.Error(err))
			return
		}
		if !removed {
			c.JSON(http.StatusNotFound, pushapi.ErrorResponse{Error: pushapi.ErrorSubscriptionNotFound})
			return
		}
		s.metrics.subscriptionsRemoved.Inc()

		s.log.Info("サブスクリプションを削除しました", zap.String("subscriber", key), zap.String("endpoint", sub.Endpoint))
		c.JSON(http.StatusOK, pushapi.MessageResponse{Message: pushapi.MessageSubscriptionRemoved})
	}
}

// handleSend は保存中のサブスクリプションへプッシュ通知を送信するハンドラ。
func (s *Server) handleSend() gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, pushapi.ErrorResponse{Error: fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		// 形だけ検証し、ボディはそのまま配信する
		if _, err := pushapi.Decode[pushapi.Message](payload); err != nil {
			c.JSON(http.StatusBadRequest, pushapi.ErrorResponse{Error: fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		ctx := c.Request.Context()
		key := subscriberKey(c)
		log := s.log.With(zap.String("subscriber", key))

		sub, err := s.store.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			s.metrics.deliveries.WithLabelValues(resultNoSubscription).Inc()
			c.JSON(http.StatusConflict, pushapi.ErrorResponse{Error: pushapi.ErrorNoSubscription})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, pushapi.ErrorResponse{Error: "サブスクリプションの取得に失敗しました"})
			log.Error("サブスクリプション取得エラー", zap.Error(err))
			return
		}

		if err := s.limiter.Wait(ctx); err != nil {
			s.metrics.deliveries.WithLabelValues(resultThrottled).Inc()
			c.JSON(http.StatusTooManyRequests, pushapi.ErrorResponse{Error: "送信レートの上限に達しました"})
			log.Warn("送信レート制限", zap.Error(err))
			return
		}

		if err := s.deliverer.Deliver(ctx, sub, payload); err != nil {
			s.handleDeliveryError(c, log, key, sub, err)
			return
		}

		s.metrics.deliveries.WithLabelValues(resultSuccess).Inc()
		log.Info("プッシュ通知を送信しました", zap.String("endpoint", sub.Endpoint))
		c.JSON(http.StatusOK, pushapi.MessageResponse{Message: pushapi.MessagePushSent})
	}
}

// handleDeliveryError は配信失敗をレスポンスに変換する。
// プッシュサービスがサブスクリプションの失効を返した場合はストアから削除する。
func (s *Server) handleDeliveryError(c *gin.Context, log *zap.Logger, key string, sub pushapi.Subscription, err error) {
	var deliveryErr *DeliveryError
	if !errors.As(err, &deliveryErr) {
		s.metrics.deliveries.WithLabelValues(resultFailed).Inc()
		log.Error("プッシュ通知の送信に失敗しました", zap.Error(err))
		c.JSON(http.StatusBadGateway, pushapi.ErrorResponse{Error: err.Error()})
		return
	}

	if !deliveryErr.Gone() {
		s.metrics.deliveries.WithLabelValues(resultFailed).Inc()
		log.Error("プッシュサービスが配信を拒否しました", zap.Int("status", deliveryErr.StatusCode), zap.String("body", deliveryErr.Body))
		c.JSON(http.StatusBadGateway, pushapi.ErrorResponse{Error: deliveryErr.Error(), Status: deliveryErr.StatusCode})
		return
	}

	s.metrics.deliveries.WithLabelValues(resultGone).Inc()
	removed, rmErr := s.store.Remove(c.Request.Context(), key, sub.Endpoint)
	if rmErr != nil {
		log.Error("失効したサブスクリプションの削除に失敗しました", zap.Error(rmErr))
	} else if removed {
		s.metrics.subscriptionsRemoved.Inc()
	}
	log.Warn("サブスクリプションが失効しています", zap.String("endpoint", sub.Endpoint), zap.Int("status", deliveryErr.StatusCode))
	c.JSON(http.StatusGone, pushapi.ErrorResponse{Error: pushapi.ErrorSubscriptionExpired, Status: deliveryErr.StatusCode})
}

// handleVAPIDPublicKey はVAPID公開鍵を返すハンドラ。
func (s *Server) handleVAPIDPublicKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, pushapi.VAPIDPublicKeyResponse{PublicKey: s.vapidPublicKey})
	}
}
