// Package metrics 点赞引擎的 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// KudosSent 发送结果计数（result=ok|rejected|error）
	KudosSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kudos",
		Name:      "send_total",
		Help:      "Recognition send attempts by result.",
	}, []string{"result"})

	// CircularFlagged 被标记为疑似互赞的流水数
	CircularFlagged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kudos",
		Name:      "circular_flagged_total",
		Help:      "Transactions annotated as potentially circular.",
	})

	// QuotaResets 周额度重置数（source=request|scheduler）
	QuotaResets = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kudos",
		Name:      "quota_resets_total",
		Help:      "Weekly quota resets by source.",
	}, []string{"source"})

	// SchedulerPassDuration 单次调度耗时
	SchedulerPassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kudos",
		Name:      "quota_reset_pass_seconds",
		Help:      "Duration of one quota reset scheduler pass.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	// NotificationOutcomes 通知投递结果（result=sent|no_provider|failed|dropped）
	NotificationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kudos",
		Name:      "notification_outcomes_total",
		Help:      "Notification dispatch outcomes.",
	}, []string{"result"})
)

var (
	// HTTPRequests 按路由模板统计的请求数
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kudos",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	// HTTPDuration 请求耗时
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kudos",
		Subsystem: "http",
		Name:      "request_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)
