// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// リフレッシュスケジューラと上流クライアントから利用する。
type Collector struct {
	refreshSuccess *prometheus.CounterVec
	refreshFail    *prometheus.CounterVec
	refreshLatency *prometheus.HistogramVec
	purgedItems    prometheus.Counter
	upstreamStatus *prometheus.CounterVec
	storeHits      prometheus.Counter
	storeMisses    prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		refreshSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hnreader_refresh_success_total",
			Help: "リストリフレッシュ成功の合計数",
		}, []string{"list"}),
		refreshFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hnreader_refresh_fail_total",
			Help: "リストリフレッシュ失敗の合計数",
		}, []string{"list"}),
		refreshLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hnreader_refresh_latency_seconds",
			Help:    "リストリフレッシュのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"list"}),
		purgedItems: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hnreader_purged_items_total",
			Help: "ガベージコレクションで削除されたアイテムの合計数",
		}),
		upstreamStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hnreader_upstream_status_total",
			Help: "上流APIのHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		storeHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hnreader_store_hits_total",
			Help: "ストアヒット（新鮮なアイテムが見つかった）の合計数",
		}),
		storeMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hnreader_store_misses_total",
			Help: "ストアミス（未格納または鮮度切れ）の合計数",
		}),
	}

	reg.MustRegister(
		c.refreshSuccess,
		c.refreshFail,
		c.refreshLatency,
		c.purgedItems,
		c.upstreamStatus,
		c.storeHits,
		c.storeMisses,
	)

	return c
}

// RecordRefreshSuccess はリストリフレッシュ成功を記録する。
func (c *Collector) RecordRefreshSuccess(list string) {
	c.refreshSuccess.WithLabelValues(list).Inc()
}

// RecordRefreshFailure はリストリフレッシュ失敗を記録する。
func (c *Collector) RecordRefreshFailure(list string) {
	c.refreshFail.WithLabelValues(list).Inc()
}

// RecordRefreshLatency はリストリフレッシュのレイテンシを記録する。
func (c *Collector) RecordRefreshLatency(list string, duration time.Duration) {
	c.refreshLatency.WithLabelValues(list).Observe(duration.Seconds())
}

// RecordPurgedItems はガベージコレクションの削除件数を記録する。
func (c *Collector) RecordPurgedItems(count int) {
	c.purgedItems.Add(float64(count))
}

// RecordUpstreamStatus は上流APIのHTTPステータスコードを記録する。
func (c *Collector) RecordUpstreamStatus(statusCode int) {
	c.upstreamStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordStoreHit はストアヒットを記録する。
func (c *Collector) RecordStoreHit() {
	c.storeHits.Inc()
}

// RecordStoreMiss はストアミスを記録する。
func (c *Collector) RecordStoreMiss() {
	c.storeMisses.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
