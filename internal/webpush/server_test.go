package webpush

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nao1215/webpush/pkg/pushapi"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// deliveryCall はfakeDelivererが受け取った1回分の配信要求。
type deliveryCall struct {
	sub     pushapi.Subscription
	payload []byte
}

// fakeDeliverer は受け取った配信要求を記録するDeliverer。
type fakeDeliverer struct {
	mu    sync.Mutex
	calls []deliveryCall
	err   error
}

func (f *fakeDeliverer) Deliver(_ context.Context, sub pushapi.Subscription, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, deliveryCall{sub: sub, payload: payload})
	return f.err
}

func (f *fakeDeliverer) recorded() []deliveryCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]deliveryCall(nil), f.calls...)
}

// newTestServer はテスト用のWeb Pushサーバーを生成する。
func newTestServer(t *testing.T, deliverer Deliverer, limiter *rate.Limiter) (*Server, Store) {
	t.Helper()

	store := NewMemoryStore()
	s := New(Options{
		Port:           "0",
		Store:          store,
		Deliverer:      deliverer,
		Limiter:        limiter,
		VAPIDPublicKey: "test-public-key",
	}, zap.NewNop())
	t.Cleanup(func() { s.Close() })

	return s, store
}

// doRequest はテスト用HTTPリクエストを実行してレスポンスを返す。
func doRequest(t *testing.T, s *Server, method, path, subscriberID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		if raw, ok := body.(string); ok {
			reqBody = strings.NewReader(raw)
		} else {
			data, err := json.Marshal(body)
			if err != nil {
				t.Fatalf("リクエストボディのシリアライズに失敗: %v", err)
			}
			reqBody = strings.NewReader(string(data))
		}
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if subscriberID != "" {
		req.Header.Set(pushapi.HeaderSubscriberID, subscriberID)
	}

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

// parseJSON はレスポンスボディをJSONとしてパースする。
func parseJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var result map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("JSONパースに失敗: %v (body: %s)", err, w.Body.String())
	}
	return result
}

// testSubscription はテスト用のサブスクリプションを生成する。
func testSubscription(endpoint string) pushapi.Subscription {
	return pushapi.Subscription{
		Endpoint: endpoint,
		Keys: pushapi.Keys{
			P256dh: "BOr8x0WYpN3sVsb3ZHrJ8JQhzZ7mPAgYTzwQtkBTkWJ9LfUgqOPvRKqLbTqNo8JYlk9tCxDmXOj8tYqSlL4d1e0",
			Auth:   "x5PfH0PmUS7z3JYdZlXvCQ",
		},
	}
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, &fakeDeliverer{}, nil)
	w := doRequest(t, s, http.MethodGet, "/health", "", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
	}
	body := parseJSON(t, w)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want %q", body["status"], "ok")
	}
	if body["service"] != "webpush" {
		t.Errorf("service = %v, want %q", body["service"], "webpush")
	}
}

func TestUnknownEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		method string
		path   string
	}{
		{name: "未知のPOSTパス", method: http.MethodPost, path: "/api/web-push/unknown"},
		{name: "GETで送信パス", method: http.MethodGet, path: pushapi.PathSend},
		{name: "ルート", method: http.MethodPost, path: "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, _ := newTestServer(t, &fakeDeliverer{}, nil)
			w := doRequest(t, s, tt.method, tt.path, "", nil)

			if w.Code != http.StatusNotFound {
				t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
			}
			if got := strings.TrimSpace(w.Body.String()); got != `{"error":"Invalid endpoint"}` {
				t.Errorf("body = %s, want %s", got, `{"error":"Invalid endpoint"}`)
			}
		})
	}
}

func TestSetSubscription(t *testing.T) {
	t.Parallel()

	t.Run("正常に保存できる", func(t *testing.T) {
		t.Parallel()

		s, store := newTestServer(t, &fakeDeliverer{}, nil)
		sub := testSubscription("https://push.example.com/send/a")
		w := doRequest(t, s, http.MethodPost, pushapi.PathSubscription, "", pushapi.SubscriptionRequest{Subscription: &sub})

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
		}
		if got := parseJSON(t, w)["message"]; got != pushapi.MessageSubscriptionSet {
			t.Errorf("message = %v, want %q", got, pushapi.MessageSubscriptionSet)
		}

		stored, err := store.Get(context.Background(), "")
		if err != nil {
			t.Fatalf("保存されたサブスクリプションの取得に失敗: %v", err)
		}
		if stored.Endpoint != sub.Endpoint {
			t.Errorf("endpoint = %q, want %q", stored.Endpoint, sub.Endpoint)
		}
	})

	t.Run("不正なリクエストは400", func(t *testing.T) {
		t.Parallel()

		invalid := testSubscription("not-a-url")
		noKeys := pushapi.Subscription{Endpoint: "https://push.example.com/send/a"}

		tests := []struct {
			name string
			body any
		}{
			{name: "JSONでない", body: "{invalid"},
			{name: "subscriptionが無い", body: map[string]any{}},
			{name: "endpointが不正", body: pushapi.SubscriptionRequest{Subscription: &invalid}},
			{name: "keysが無い", body: pushapi.SubscriptionRequest{Subscription: &noKeys}},
		}

		for _, tt := range tests {
			s, _ := newTestServer(t, &fakeDeliverer{}, nil)
			w := doRequest(t, s, http.MethodPost, pushapi.PathSubscription, "", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("%s: ステータスコード = %d, want %d", tt.name, w.Code, http.StatusBadRequest)
			}
		}
	})
}

func TestSend(t *testing.T) {
	t.Parallel()

	t.Run("最後に保存したサブスクリプションへ送信する", func(t *testing.T) {
		t.Parallel()

		deliverer := &fakeDeliverer{}
		s, _ := newTestServer(t, deliverer, nil)

		subA := testSubscription("https://push.example.com/send/a")
		subB := testSubscription("https://push.example.com/send/b")
		doRequest(t, s, http.MethodPost, pushapi.PathSubscription, "", pushapi.SubscriptionRequest{Subscription: &subA})
		doRequest(t, s, http.MethodPost, pushapi.PathSubscription, "", pushapi.SubscriptionRequest{Subscription: &subB})

		msg := pushapi.Message{Title: "Test Push", Body: "hello", URL: "https://google.com"}
		w := doRequest(t, s, http.MethodPost, pushapi.PathSend, "", msg)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
		}
		if got := parseJSON(t, w)["message"]; got != pushapi.MessagePushSent {
			t.Errorf("message = %v, want %q", got, pushapi.MessagePushSent)
		}

		calls := deliverer.recorded()
		if len(calls) != 1 {
			t.Fatalf("配信回数 = %d, want 1", len(calls))
		}
		if calls[0].sub.Endpoint != subB.Endpoint {
			t.Errorf("配信先 = %q, want %q", calls[0].sub.Endpoint, subB.Endpoint)
		}

		got, err := pushapi.Decode[pushapi.Message](calls[0].payload)
		if err != nil {
			t.Fatalf("ペイロードのデコードに失敗: %v", err)
		}
		if *got != msg {
			t.Errorf("payload = %+v, want %+v", *got, msg)
		}
	})

	t.Run("ボディは未知のフィールドも含めてそのまま配信する", func(t *testing.T) {
		t.Parallel()

		deliverer := &fakeDeliverer{}
		s, _ := newTestServer(t, deliverer, nil)

		sub := testSubscription("https://push.example.com/send/a")
		doRequest(t, s, http.MethodPost, pushapi.PathSubscription, "", pushapi.SubscriptionRequest{Subscription: &sub})

		body := `{"title":"Test Push","body":"hello","tag":"news","data":{"id":1}}`
		w := doRequest(t, s, http.MethodPost, pushapi.PathSend, "", body)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
		}

		calls := deliverer.recorded()
		if len(calls) != 1 {
			t.Fatalf("配信回数 = %d, want 1", len(calls))
		}
		if got := string(calls[0].payload); got != body {
			t.Errorf("payload = %s, want %s", got, body)
		}
	})

	t.Run("JSONオブジェクトでないボディは400", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name string
			body string
		}{
			{name: "空", body: ""},
			{name: "不正なJSON", body: "{"},
			{name: "配列", body: "[1,2]"},
		}

		for _, tt := range tests {
			deliverer := &fakeDeliverer{}
			s, _ := newTestServer(t, deliverer, nil)

			sub := testSubscription("https://push.example.com/send/a")
			doRequest(t, s, http.MethodPost, pushapi.PathSubscription, "", pushapi.SubscriptionRequest{Subscription: &sub})

			w := doRequest(t, s, http.MethodPost, pushapi.PathSend, "", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("%s: ステータスコード = %d, want %d", tt.name, w.Code, http.StatusBadRequest)
			}
			if n := len(deliverer.recorded()); n != 0 {
				t.Errorf("%s: 配信回数 = %d, want 0", tt.name, n)
			}
		}
	})

	t.Run("保存前の送信は409", func(t *testing.T) {
		t.Parallel()

		deliverer := &fakeDeliverer{}
		s, _ := newTestServer(t, deliverer, nil)

		w := doRequest(t, s, http.MethodPost, pushapi.PathSend, "", pushapi.Message{Body: "hello"})
		if w.Code != http.StatusConflict {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusConflict)
		}
		if got := parseJSON(t, w)["error"]; got != pushapi.ErrorNoSubscription {
			t.Errorf("error = %v, want %q", got, pushapi.ErrorNoSubscription)
		}
		if n := len(deliverer.recorded()); n != 0 {
			t.Errorf("配信回数 = %d, want 0", n)
		}
	})

	t.Run("サブスクライバーごとに分離される", func(t *testing.T) {
		t.Parallel()

		deliverer := &fakeDeliverer{}
		s, _ := newTestServer(t, deliverer, nil)

		subA := testSubscription("https://push.example.com/send/alice")
		subB := testSubscription("https://push.example.com/send/bob")
		doRequest(t, s, http.MethodPost, pushapi.PathSubscription, "alice", pushapi.SubscriptionRequest{Subscription: &subA})
		doRequest(t, s, http.MethodPost, pushapi.PathSubscription, "bob", pushapi.SubscriptionRequest{Subscription: &subB})

		w := doRequest(t, s, http.MethodPost, pushapi.PathSend, "alice", pushapi.Message{Body: "hi"})
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		calls := deliverer.recorded()
		if len(calls) != 1 || calls[0].sub.Endpoint != subA.Endpoint {
			t.Fatalf("配信先 = %+v, want %q", calls, subA.Endpoint)
		}

		w = doRequest(t, s, http.MethodPost, pushapi.PathSend, "", pushapi.Message{Body: "hi"})
		if w.Code != http.StatusConflict {
			t.Errorf("デフォルトスロットのステータスコード = %d, want %d", w.Code, http.StatusConflict)
		}
	})

	t.Run("配信失敗は502", func(t *testing.T) {
		t.Parallel()

		deliverer := &fakeDeliverer{err: &DeliveryError{StatusCode: http.StatusBadRequest, Body: "bad"}}
		s, store := newTestServer(t, deliverer, nil)

		sub := testSubscription("https://push.example.com/send/a")
		doRequest(t, s, http.MethodPost, pushapi.PathSubscription, "", pushapi.SubscriptionRequest{Subscription: &sub})

		w := doRequest(t, s, http.MethodPost, pushapi.PathSend, "", pushapi.Message{Body: "hi"})
		if w.Code != http.StatusBadGateway {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusBadGateway)
		}
		if got := parseJSON(t, w)["status"]; got != float64(http.StatusBadRequest) {
			t.Errorf("status = %v, want %d", got, http.StatusBadRequest)
		}
		if _, err := store.Get(context.Background(), ""); err != nil {
			t.Errorf("サブスクリプションが残っていない: %v", err)
		}
	})

	t.Run("ネットワークエラーは502", func(t *testing.T) {
		t.Parallel()

		deliverer := &fakeDeliverer{err: errors.New("connection refused")}
		s, _ := newTestServer(t, deliverer, nil)

		sub := testSubscription("https://push.example.com/send/a")
		doRequest(t, s, http.MethodPost, pushapi.PathSubscription, "", pushapi.SubscriptionRequest{Subscription: &sub})

		w := doRequest(t, s, http.MethodPost, pushapi.PathSend, "", pushapi.Message{Body: "hi"})
		if w.Code != http.StatusBadGateway {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusBadGateway)
		}
	})

	t.Run("失効したサブスクリプションは410で削除される", func(t *testing.T) {
		t.Parallel()

		deliverer := &fakeDeliverer{err: &DeliveryError{StatusCode: http.StatusGone}}
		s, store := newTestServer(t, deliverer, nil)

		sub := testSubscription("https://push.example.com/send/a")
		doRequest(t, s, http.MethodPost, pushapi.PathSubscription, "", pushapi.SubscriptionRequest{Subscription: &sub})

		w := doRequest(t, s, http.MethodPost, pushapi.PathSend, "", pushapi.Message{Body: "hi"})
		if w.Code != http.StatusGone {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusGone)
		}
		if got := parseJSON(t, w)["error"]; got != pushapi.ErrorSubscriptionExpired {
			t.Errorf("error = %v, want %q", got, pushapi.ErrorSubscriptionExpired)
		}
		if _, err := store.Get(context.Background(), ""); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("レート制限を超えると429", func(t *testing.T) {
		t.Parallel()

		// バーストを使い切ると、次のトークンまでの待ちがコンテキストの期限を超える
		limiter := rate.NewLimiter(rate.Limit(0.0001), 1)
		deliverer := &fakeDeliverer{}
		s, _ := newTestServer(t, deliverer, limiter)

		sub := testSubscription("https://push.example.com/send/a")
		doRequest(t, s, http.MethodPost, pushapi.PathSubscription, "", pushapi.SubscriptionRequest{Subscription: &sub})

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		w := doRequest(t, s, http.MethodPost, pushapi.PathSend, "", pushapi.Message{Body: "1"})
		if w.Code != http.StatusOK {
			t.Fatalf("1回目のステータスコード = %d, want %d", w.Code, http.StatusOK)
		}

		req := httptest.NewRequest(http.MethodPost, pushapi.PathSend, strings.NewReader(`{"body":"2"}`)).WithContext(ctx)
		req.Header.Set("Content-Type", "application/json")
		w = httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusTooManyRequests {
			t.Fatalf("2回目のステータスコード = %d, want %d", w.Code, http.StatusTooManyRequests)
		}
		if n := len(deliverer.recorded()); n != 1 {
			t.Errorf("配信回数 = %d, want 1", n)
		}
	})
}

func TestRemoveSubscription(t *testing.T) {
	t.Parallel()

	t.Run("一致するサブスクリプションを削除する", func(t *testing.T) {
		t.Parallel()

		s, store := newTestServer(t, &fakeDeliverer{}, nil)
		sub := testSubscription("https://push.example.com/send/a")
		doRequest(t, s, http.MethodPost, pushapi.PathSubscription, "", pushapi.SubscriptionRequest{Subscription: &sub})

		w := doRequest(t, s, http.MethodPost, pushapi.PathRemoveSubscription, "", pushapi.SubscriptionRequest{Subscription: &sub})
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
		}
		if got := parseJSON(t, w)["message"]; got != pushapi.MessageSubscriptionRemoved {
			t.Errorf("message = %v, want %q", got, pushapi.MessageSubscriptionRemoved)
		}
		if _, err := store.Get(context.Background(), ""); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("endpointが一致しない場合は404", func(t *testing.T) {
		t.Parallel()

		s, store := newTestServer(t, &fakeDeliverer{}, nil)
		stored := testSubscription("https://push.example.com/send/a")
		other := testSubscription("https://push.example.com/send/b")
		doRequest(t, s, http.MethodPost, pushapi.PathSubscription, "", pushapi.SubscriptionRequest{Subscription: &stored})

		w := doRequest(t, s, http.MethodPost, pushapi.PathRemoveSubscription, "", pushapi.SubscriptionRequest{Subscription: &other})
		if w.Code != http.StatusNotFound {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
		if got := parseJSON(t, w)["error"]; got != pushapi.ErrorSubscriptionNotFound {
			t.Errorf("error = %v, want %q", got, pushapi.ErrorSubscriptionNotFound)
		}
		if _, err := store.Get(context.Background(), ""); err != nil {
			t.Errorf("保存中のサブスクリプションが消えた: %v", err)
		}
	})
}

func TestVAPIDPublicKey(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, &fakeDeliverer{}, nil)
	w := doRequest(t, s, http.MethodGet, pushapi.PathVAPIDPublicKey, "", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
	}
	if got := parseJSON(t, w)["publicKey"]; got != "test-public-key" {
		t.Errorf("publicKey = %v, want %q", got, "test-public-key")
	}
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, &fakeDeliverer{}, nil)
	sub := testSubscription("https://push.example.com/send/a")
	doRequest(t, s, http.MethodPost, pushapi.PathSend, "", pushapi.Message{Body: "hi"})
	doRequest(t, s, http.MethodPost, pushapi.PathSubscription, "", pushapi.SubscriptionRequest{Subscription: &sub})
	doRequest(t, s, http.MethodPost, pushapi.PathSend, "", pushapi.Message{Body: "hi"})

	w := doRequest(t, s, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
	}

	body := w.Body.String()
	for _, want := range []string{
		"webpush_subscriptions_set_total 1",
		`webpush_deliveries_total{result="success"} 1`,
		`webpush_deliveries_total{result="no_subscription"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("メトリクスに %q が含まれていない", want)
		}
	}
}
