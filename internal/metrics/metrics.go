// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 認証操作の結果ラベル。
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ゲートウェイ、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordAuthOperation(operation, outcome string)
	RecordIdentityLatency(operation string, duration time.Duration)
	RecordHTTPStatus(statusCode int)
	SetActiveClients(count int)
	RecordSessionsPurged(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authOps         *prometheus.CounterVec
	identityLatency *prometheus.HistogramVec
	httpStatus      *prometheus.CounterVec
	activeClients   prometheus.Gauge
	sessionsPurged  prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authpanel_auth_operations_total",
			Help: "認証操作の実行数（操作・結果別）",
		}, []string{"operation", "outcome"}),
		identityLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "authpanel_identity_request_seconds",
			Help:    "認証サービス呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authpanel_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		activeClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "authpanel_active_clients",
			Help: "メモリ上に保持しているクライアント数",
		}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authpanel_sessions_purged_total",
			Help: "クリーンアップで削除された期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.authOps,
		c.identityLatency,
		c.httpStatus,
		c.activeClients,
		c.sessionsPurged,
	)

	return c
}

// RecordAuthOperation は認証操作の結果を記録する。
func (c *Collector) RecordAuthOperation(operation, outcome string) {
	c.authOps.WithLabelValues(operation, outcome).Inc()
}

// RecordIdentityLatency は認証サービス呼び出しのレイテンシを記録する。
func (c *Collector) RecordIdentityLatency(operation string, duration time.Duration) {
	c.identityLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// SetActiveClients は保持中のクライアント数を設定する。
func (c *Collector) SetActiveClients(count int) {
	c.activeClients.Set(float64(count))
}

// RecordSessionsPurged は削除されたセッション数を記録する。
func (c *Collector) RecordSessionsPurged(count int64) {
	c.sessionsPurged.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// Noop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Noop struct{}

func (Noop) RecordAuthOperation(string, string) {}
func (Noop) RecordIdentityLatency(string, time.Duration) {}
func (Noop) RecordHTTPStatus(int) {}
func (Noop) SetActiveClients(int) {}
func (Noop) RecordSessionsPurged(int64) {}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
var _ MetricsCollector = Noop{}
