package pushservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nao1215/webpush/internal/config"
	"github.com/nao1215/webpush/pkg/middleware"
	"github.com/nao1215/webpush/pkg/pushapi"
)

const (
	// maxPushBody はRFC 8291が定めるプッシュメッセージの最大サイズ。
	maxPushBody = 4096
	// aes128gcmHeaderSize は salt(16) + rs(4) + idlen(1) + keyid(65)。
	aes128gcmHeaderSize = 86
	// shutdownTimeout はグレースフルシャットダウンの待ち時間。
	shutdownTimeout = 10 * time.Second
)

var validUrgencies = map[string]struct{}{
	"very-low": {},
	"low":      {},
	"normal":   {},
	"high":     {},
}

// Server は開発用プッシュサービスのHTTPサーバー。
type Server struct {
	router    *gin.Engine
	port      string
	publicURL string
	queue     *queue
	verifier  verifier
	registry  *prometheus.Registry
	received  *prometheus.CounterVec
	now       func() time.Time
	log       *zap.Logger
}

// New は新しいプッシュサービスを生成する。
func New(cfg *config.PushService, log *zap.Logger) *Server {
	return newServer(cfg, log, time.Now)
}

func newServer(cfg *config.PushService, log *zap.Logger, now func() time.Time) *Server {
	registry := prometheus.NewRegistry()

	router := gin.New()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.Logger(log))

	s := &Server{
		router:    router,
		port:      cfg.Port,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		queue:     newQueue(cfg.MaxMessages, now),
		verifier:  verifier{now: now},
		registry:  registry,
		received: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "pushservice_messages_received_total",
			Help: "Total number of push messages received by result.",
		}, []string{"result"}),
		now: now,
		log: log.Named("pushservice"),
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

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	s.router.POST(pushapi.PathPushSubscribe, s.handleSubscribe())
	push := s.router.Group("/push/:id")
	{
		push.POST("", s.handlePush())
		push.GET("/messages", s.handleMessages())
		push.DELETE("", s.handleUnsubscribe())
	}

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "pushservice"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
}

// origin はエンドポイントURLのオリジンを返す。
func (s *Server) origin(c *gin.Context) string {
	if s.publicURL != "" {
		return s.publicURL
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host
}

// handleSubscribe はサブスクリプションを作成するハンドラ。
func (s *Server) handleSubscribe() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req pushapi.PushSubscribeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です"})
			return
		}
		key, err := decodeApplicationServerKey(req.ApplicationServerKey)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("applicationServerKeyが不正です: %v", err)})
			return
		}

		id := s.queue.create(key)
		endpoint := s.origin(c) + pushapi.PathPushPrefix + id

		s.log.Info("サブスクリプションを作成しました", zap.String("id", id))
		c.JSON(http.StatusCreated, pushapi.PushSubscribeResponse{ID: id, Endpoint: endpoint})
	}
}

// handlePush はアプリケーションサーバーからのプッシュメッセージを受け付けるハンドラ。
func (s *Server) handlePush() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		log := s.log.With(zap.String("id", id))

		key, err := s.queue.key(id)
		if err != nil {
			s.received.WithLabelValues("gone").Inc()
			c.JSON(http.StatusGone, gin.H{"error": err.Error()})
			return
		}

		if err := s.verifier.verify(c.GetHeader("Authorization"), key, s.origin(c)); err != nil {
			s.received.WithLabelValues("unauthorized").Inc()
			log.Warn("VAPIDの検証に失敗しました", zap.Error(err))
			status := http.StatusUnauthorized
			if errors.Is(err, ErrKeyMismatch) {
				status = http.StatusForbidden
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		msg, status, err := s.readMessage(c)
		if err != nil {
			s.received.WithLabelValues("rejected").Inc()
			log.Warn("プッシュメッセージを拒否しました", zap.Error(err))
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		if err := s.queue.push(id, msg); err != nil {
			s.received.WithLabelValues("gone").Inc()
			c.JSON(http.StatusGone, gin.H{"error": err.Error()})
			return
		}
		s.received.WithLabelValues("accepted").Inc()

		log.Info("プッシュメッセージを受信しました",
			zap.String("message_id", msg.ID),
			zap.Int("size", len(msg.Body)),
			zap.Int("ttl", msg.TTL),
			zap.String("urgency", msg.Urgency),
		)
		c.Header("Location", pushapi.PushMessagesPath(id)+"/"+msg.ID)
		c.Status(http.StatusCreated)
	}
}

// readMessage はヘッダーとボディを検証してメッセージを組み立てる。
// 失敗時は返すべきステータスコードを一緒に返す。
func (s *Server) readMessage(c *gin.Context) (pushapi.PushMessage, int, error) {
	ttlHeader := c.GetHeader("TTL")
	if ttlHeader == "" {
		return pushapi.PushMessage{}, http.StatusBadRequest, errors.New("TTLヘッダーがありません")
	}
	ttl, err := strconv.Atoi(ttlHeader)
	if err != nil || ttl < 0 {
		return pushapi.PushMessage{}, http.StatusBadRequest, fmt.Errorf("TTLヘッダーが不正です: %q", ttlHeader)
	}

	urgency := c.GetHeader("Urgency")
	if urgency == "" {
		urgency = "normal"
	}
	if _, ok := validUrgencies[urgency]; !ok {
		return pushapi.PushMessage{}, http.StatusBadRequest, fmt.Errorf("Urgencyヘッダーが不正です: %q", urgency)
	}

	if enc := c.GetHeader("Content-Encoding"); enc != "aes128gcm" {
		return pushapi.PushMessage{}, http.StatusUnsupportedMediaType, fmt.Errorf("未対応のContent-Encodingです: %q", enc)
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPushBody+1))
	if err != nil {
		return pushapi.PushMessage{}, http.StatusBadRequest, fmt.Errorf("ボディの読み込みに失敗: %w", err)
	}
	if len(body) > maxPushBody {
		return pushapi.PushMessage{}, http.StatusRequestEntityTooLarge, errors.New("ボディが大きすぎます")
	}
	if len(body) <= aes128gcmHeaderSize || body[20] != 65 {
		return pushapi.PushMessage{}, http.StatusBadRequest, errors.New("aes128gcmのヘッダーが不正です")
	}

	return pushapi.PushMessage{
		ID:         uuid.NewString(),
		Body:       body,
		TTL:        ttl,
		Urgency:    urgency,
		Topic:      c.GetHeader("Topic"),
		ReceivedAt: s.now().UTC(),
	}, http.StatusCreated, nil
}

// handleMessages は届いているメッセージを取り出すハンドラ。
func (s *Server) handleMessages() gin.HandlerFunc {
	return func(c *gin.Context) {
		msgs, err := s.queue.drain(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusGone, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, msgs)
	}
}

// handleUnsubscribe はサブスクリプションを解除するハンドラ。
func (s *Server) handleUnsubscribe() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := s.queue.remove(id); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		s.log.Info("サブスクリプションを解除しました", zap.String("id", id))
		c.Status(http.StatusNoContent)
	}
}
