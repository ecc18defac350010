// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラーとReconciliation Workerから利用する。
type MetricsCollector interface {
	RecordCapture(created bool)
	RecordConfirmation()
	RecordReconcileOutcome(result string)
	RecordProviderStatus(statusCode int)
	RecordTokenRefresh(success bool)
	RecordReconcileLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	captures         *prometheus.CounterVec
	confirmations    prometheus.Counter
	reconcileOutcome *prometheus.CounterVec
	providerStatus   *prometheus.CounterVec
	tokenRefresh     *prometheus.CounterVec
	reconcileLatency prometheus.Histogram
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fanlink_captures_total",
			Help: "ファン登録の合計数（新規/更新別）",
		}, []string{"kind"}),
		confirmations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fanlink_confirmations_total",
			Help: "購読確認（ダブルオプトイン完了）の合計数",
		}),
		reconcileOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fanlink_reconcile_outcomes_total",
			Help: "Pre-Save照合の結果別合計数",
		}, []string{"result"}),
		providerStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fanlink_provider_http_status_total",
			Help: "プロバイダーAPIのHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		tokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fanlink_token_refresh_total",
			Help: "トークンリフレッシュの結果別合計数",
		}, []string{"result"}),
		reconcileLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fanlink_reconcile_latency_seconds",
			Help:    "照合バッチ1回あたりのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.captures,
		c.confirmations,
		c.reconcileOutcome,
		c.providerStatus,
		c.tokenRefresh,
		c.reconcileLatency,
	)

	return c
}

// RecordCapture はファン登録を記録する。
func (c *Collector) RecordCapture(created bool) {
	kind := "updated"
	if created {
		kind = "created"
	}
	c.captures.WithLabelValues(kind).Inc()
}

// RecordConfirmation は購読確認を記録する。
func (c *Collector) RecordConfirmation() {
	c.confirmations.Inc()
}

// RecordReconcileOutcome は照合結果（completed/failed/skipped）を記録する。
func (c *Collector) RecordReconcileOutcome(result string) {
	c.reconcileOutcome.WithLabelValues(result).Inc()
}

// RecordProviderStatus はプロバイダーAPIのHTTPステータスコードを記録する。
func (c *Collector) RecordProviderStatus(statusCode int) {
	c.providerStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordTokenRefresh はトークンリフレッシュの結果を記録する。
func (c *Collector) RecordTokenRefresh(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.tokenRefresh.WithLabelValues(result).Inc()
}

// RecordReconcileLatency は照合バッチのレイテンシを記録する。
func (c *Collector) RecordReconcileLatency(duration time.Duration) {
	c.reconcileLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// サービングポートとは別のポートで公開され、外部には露出しない。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
