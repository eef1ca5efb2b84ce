// Package metrics 提供 relayer-collector 的 Prometheus 监控指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "relayer_collector"

// 分发器请求指标
var (
	// DistributorRequestsTotal 分发器请求总数
	DistributorRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "distributor_requests_total",
			Help:      "分发器请求总数",
		},
		[]string{"endpoint", "status"}, // status: ok, http_error, transport_error
	)

	// DistributorRequestDuration 分发器请求耗时
	DistributorRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "distributor_request_duration_seconds",
			Help:      "分发器请求耗时(秒)",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 45},
		},
		[]string{"endpoint"},
	)
)

// 数据处理指标
var (
	// ItemsProcessedTotal 已处理数据条数
	ItemsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_processed_total",
			Help:      "已处理数据条数",
		},
		[]string{"kind"}, // cycle, receipt, original_tx, account, transaction
	)

	// ItemsDroppedTotal 校验失败被丢弃的条数
	ItemsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_dropped_total",
			Help:      "校验失败被丢弃的数据条数",
		},
		[]string{"kind", "reason"},
	)

	// DedupHitsTotal 去重命中数
	DedupHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_hits_total",
			Help:      "去重命中数",
		},
		[]string{"kind"},
	)

	// DedupPrunedTotal 去重条目清理数
	DedupPrunedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_pruned_total",
			Help:      "去重条目清理数",
		},
		[]string{"kind"},
	)
)

// 区块指标
var (
	// BlocksBuiltTotal 已生成区块数
	BlocksBuiltTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_built_total",
			Help:      "已生成区块数",
		},
	)

	// BlocksSkippedTotal 因缺少父块跳过的区块数
	BlocksSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_skipped_total",
			Help:      "因缺少父块跳过的区块数",
		},
	)

	// LatestBlockGauge 最新区块号
	LatestBlockGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "latest_block_number",
			Help:      "最新合成区块号",
		},
	)

	// LatestCycleGauge 最新周期号
	LatestCycleGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "latest_cycle_counter",
			Help:      "最新写入的周期号",
		},
	)
)

// 对账指标
var (
	// ReconcileMatchedCycle 最近一次对账一致的周期
	ReconcileMatchedCycle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconcile_matched_cycle",
			Help:      "最近一次对账一致的周期",
		},
		[]string{"kind"},
	)

	// DivergenceTotal 对账失败次数
	DivergenceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "divergence_total",
			Help:      "本地数据与分发器不一致次数",
		},
		[]string{"kind"},
	)

	// GapRepairDiscrepanciesTotal 补缺时遇到空页的次数
	GapRepairDiscrepanciesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gap_repair_discrepancies_total",
			Help:      "补缺下载提前结束次数",
		},
		[]string{"kind"},
	)

	// GapRepairCyclesTotal 需要补缺的周期数
	GapRepairCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gap_repair_cycles_total",
			Help:      "计数不一致需要补缺的周期数",
		},
		[]string{"kind"},
	)
)

// 推送指标
var (
	// FanoutPublishedTotal 推送成功数
	FanoutPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_published_total",
			Help:      "推送成功数",
		},
		[]string{"sink", "event"}, // sink: ws, kafka
	)

	// FanoutDroppedTotal 推送丢弃数
	FanoutDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_dropped_total",
			Help:      "推送丢弃数",
		},
		[]string{"sink", "event"},
	)

	// WSClientsGauge 当前订阅连接数
	WSClientsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "当前 WebSocket 订阅连接数",
		},
	)
)

// Kafka 指标
var (
	// KafkaMessagesConsumed Kafka 消费消息数
	KafkaMessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_messages_consumed_total",
			Help:      "Kafka 消费消息总数",
		},
		[]string{"topic", "status"},
	)
)

// 定时任务指标
var (
	// JobExecutionsTotal 任务执行次数
	JobExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_executions_total",
			Help:      "定时任务执行次数",
		},
		[]string{"job", "status"}, // status: success, failed, skipped
	)

	// JobDuration 任务耗时
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "定时任务耗时(秒)",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"job"},
	)
)

// Helper functions

// RecordDistributorRequest 记录分发器请求
func RecordDistributorRequest(endpoint, status string, durationSeconds float64) {
	DistributorRequestsTotal.WithLabelValues(endpoint, status).Inc()
	DistributorRequestDuration.WithLabelValues(endpoint).Observe(durationSeconds)
}

// RecordProcessed 记录处理条数
func RecordProcessed(kind string, n int) {
	if n > 0 {
		ItemsProcessedTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// RecordDropped 记录丢弃
func RecordDropped(kind, reason string) {
	ItemsDroppedTotal.WithLabelValues(kind, reason).Inc()
}

// RecordDedupHit 记录去重命中
func RecordDedupHit(kind string) {
	DedupHitsTotal.WithLabelValues(kind).Inc()
}

// RecordBlockBuilt 记录区块生成
func RecordBlockBuilt(number int64) {
	BlocksBuiltTotal.Inc()
	LatestBlockGauge.Set(float64(number))
}

// RecordJob 记录任务执行
func RecordJob(job, status string, durationSeconds float64) {
	JobExecutionsTotal.WithLabelValues(job, status).Inc()
	if durationSeconds > 0 {
		JobDuration.WithLabelValues(job).Observe(durationSeconds)
	}
}
