package webpush

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 配信結果のラベル値。
const (
	resultSuccess        = "success"
	resultGone           = "gone"
	resultFailed         = "failed"
	resultNoSubscription = "no_subscription"
	resultThrottled      = "throttled"
)

// metrics はサーバーごとのPrometheusメトリクス。
type metrics struct {
	subscriptionsSet     prometheus.Counter
	subscriptionsRemoved prometheus.Counter
	deliveries           *prometheus.CounterVec
}

// newMetrics はregにメトリクスを登録する。
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		subscriptionsSet: factory.NewCounter(prometheus.CounterOpts{
			Name: "webpush_subscriptions_set_total",
			Help: "Total number of stored push subscriptions.",
		}),
		subscriptionsRemoved: factory.NewCounter(prometheus.CounterOpts{
			Name: "webpush_subscriptions_removed_total",
			Help: "Total number of removed push subscriptions, including expired ones.",
		}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "webpush_deliveries_total",
			Help: "Total number of push send requests by result.",
		}, []string{"result"}),
	}
}
