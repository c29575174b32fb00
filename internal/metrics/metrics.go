// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 操作結果のラベル値。
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// MetricsCollector はメトリクス収集のインターフェース。
// データプロバイダ、認証、シード、ワーカーから利用する。
type MetricsCollector interface {
	RecordDataOperation(resource, operation, outcome string)
	RecordDataLatency(operation string, duration time.Duration)
	RecordBatchFailures(operation string, count int)
	RecordSeedInserted(collection string, count int)
	RecordAuthEvent(event, outcome string)
	RecordHTTPStatus(statusCode int)
	RecordSessionsCleaned(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	dataOps         *prometheus.CounterVec
	dataLatency     *prometheus.HistogramVec
	batchFailures   *prometheus.CounterVec
	seedInserted    *prometheus.CounterVec
	authEvents      *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	sessionsCleaned prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		dataOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crmadmin_data_operations_total",
			Help: "リソース・操作・結果別のデータ操作数",
		}, []string{"resource", "operation", "outcome"}),
		dataLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crmadmin_data_operation_latency_seconds",
			Help:    "データ操作のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		batchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crmadmin_batch_item_failures_total",
			Help: "一括操作で失敗した要素の合計数",
		}, []string{"operation"}),
		seedInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crmadmin_seed_documents_inserted_total",
			Help: "シードで作成したドキュメントの合計数",
		}, []string{"collection"}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crmadmin_auth_events_total",
			Help: "認証イベント数",
		}, []string{"event", "outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crmadmin_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		sessionsCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crmadmin_sessions_cleaned_total",
			Help: "クリーンアップで削除した期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.dataOps,
		c.dataLatency,
		c.batchFailures,
		c.seedInserted,
		c.authEvents,
		c.httpStatus,
		c.sessionsCleaned,
	)

	return c
}

// RecordDataOperation はデータ操作1件の結果を記録する。
func (c *Collector) RecordDataOperation(resource, operation, outcome string) {
	c.dataOps.WithLabelValues(resource, operation, outcome).Inc()
}

// RecordDataLatency はデータ操作のレイテンシを記録する。
func (c *Collector) RecordDataLatency(operation string, duration time.Duration) {
	c.dataLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordBatchFailures は一括操作で失敗した要素数を記録する。
func (c *Collector) RecordBatchFailures(operation string, count int) {
	if count <= 0 {
		return
	}
	c.batchFailures.WithLabelValues(operation).Add(float64(count))
}

// RecordSeedInserted はシードで作成したドキュメント数を記録する。
func (c *Collector) RecordSeedInserted(collection string, count int) {
	if count <= 0 {
		return
	}
	c.seedInserted.WithLabelValues(collection).Add(float64(count))
}

// RecordAuthEvent はログイン・ログアウト・サインアップ等の認証イベントを記録する。
func (c *Collector) RecordAuthEvent(event, outcome string) {
	c.authEvents.WithLabelValues(event, outcome).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordSessionsCleaned は削除した期限切れセッション数を記録する。
func (c *Collector) RecordSessionsCleaned(count int64) {
	c.sessionsCleaned.Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。メトリクスを使わない構成やテストで使う。
type Nop struct{}

func (Nop) RecordDataOperation(string, string, string) {}
func (Nop) RecordDataLatency(string, time.Duration) {}
func (Nop) RecordBatchFailures(string, int) {}
func (Nop) RecordSeedInserted(string, int) {}
func (Nop) RecordAuthEvent(string, string) {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordSessionsCleaned(int64) {}

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
