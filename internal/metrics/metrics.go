// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/hitoshi/holmirdas/internal/model"
)

// jobName はPushgatewayに登録するジョブ名。
const jobName = "holmirdas"

// Collector はPrometheusメトリクスを収集する実装。
// relay.MetricsRecorderを満たす。
type Collector struct {
	forwardSuccess prometheus.Counter
	forwardFail    prometheus.Counter
	giveUp         prometheus.Counter
	rateLimited    prometheus.Counter
	discovered     prometheus.Counter
	feedFail       prometheus.Counter
	logEntries     *prometheus.GaugeVec
	runDuration    prometheus.Histogram
	lastRun        prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		forwardSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "holmirdas_forward_success_total",
			Help: "投稿転送成功の合計数",
		}),
		forwardFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "holmirdas_forward_fail_total",
			Help: "投稿転送失敗（レート制限を除く）の合計数",
		}),
		giveUp: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "holmirdas_forward_give_up_total",
			Help: "再試行上限に達して転送を諦めた投稿の合計数",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "holmirdas_rate_limited_total",
			Help: "レート制限により早期終了した実行の合計数",
		}),
		discovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "holmirdas_items_discovered_total",
			Help: "フィードから発見した投稿URLの合計数（重複除去後）",
		}),
		feedFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "holmirdas_feed_fetch_fail_total",
			Help: "フィード取得失敗の合計数",
		}),
		logEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "holmirdas_log_entries",
			Help: "保存された転送ログの状態別エントリ数",
		}, []string{"state"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "holmirdas_run_duration_seconds",
			Help:    "1回の転送処理の所要時間（秒）",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "holmirdas_last_run_timestamp_seconds",
			Help: "最後に転送処理が完了した時刻（UNIX秒）",
		}),
	}

	reg.MustRegister(
		c.forwardSuccess,
		c.forwardFail,
		c.giveUp,
		c.rateLimited,
		c.discovered,
		c.feedFail,
		c.logEntries,
		c.runDuration,
		c.lastRun,
	)

	return c
}

// RecordForwardSuccess は転送成功を記録する。
func (c *Collector) RecordForwardSuccess() {
	c.forwardSuccess.Inc()
}

// RecordForwardFailure は転送失敗を記録する。
func (c *Collector) RecordForwardFailure() {
	c.forwardFail.Inc()
}

// RecordGiveUp は転送を諦めた投稿を記録する。
func (c *Collector) RecordGiveUp() {
	c.giveUp.Inc()
}

// RecordRateLimited はレート制限による早期終了を記録する。
func (c *Collector) RecordRateLimited() {
	c.rateLimited.Inc()
}

// RecordDiscovered は発見した投稿URL数を記録する。
func (c *Collector) RecordDiscovered(count int) {
	c.discovered.Add(float64(count))
}

// RecordFeedFailure はフィード取得失敗を記録する。
func (c *Collector) RecordFeedFailure() {
	c.feedFail.Inc()
}

// RecordLogEntries は保存した転送ログの状態別件数を記録する。
func (c *Collector) RecordLogEntries(counts map[model.EntryState]int) {
	for state, n := range counts {
		c.logEntries.WithLabelValues(string(state)).Set(float64(n))
	}
}

// RecordRunDuration は1回の実行の所要時間と完了時刻を記録する。
func (c *Collector) RecordRunDuration(d time.Duration) {
	c.runDuration.Observe(d.Seconds())
	c.lastRun.SetToCurrentTime()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Push はgathererのメトリクスをPushgatewayに送信する。
// 1回実行モード（スクレイプされる前にプロセスが終了する）で使用する。
func Push(ctx context.Context, url string, gatherer prometheus.Gatherer) error {
	if err := push.New(url, jobName).Gatherer(gatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}
