package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	queueSize        prometheus.Gauge
	runningTasks     prometheus.Gauge
	submissionsTotal prometheus.Counter
	discardedTotal   prometheus.Counter
	taskDuration     *prometheus.HistogramVec
	taskResultsTotal *prometheus.CounterVec

	collectorEntries      prometheus.Gauge
	collectTotal          prometheus.Counter
	collectorDumpsTotal   *prometheus.CounterVec
	collectorDumpDuration prometheus.Histogram

	requestsTotal      *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec

	gatewayClients  prometheus.Gauge
	gatewayMessages *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "pool_queue_size",
					Help: "Tasks waiting for a free worker slot.",
				},
			),
			runningTasks: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "pool_running_tasks",
					Help: "Tasks currently occupying a worker slot.",
				},
			),
			submissionsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "pool_submissions_total",
					Help: "Total tasks accepted by the pool.",
				},
			),
			discardedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "pool_discarded_total",
					Help: "Queued tasks discarded at shutdown.",
				},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "task_duration_seconds",
					Help:    "Task execution duration in seconds by outcome.",
					Buckets: []float64{0.5, 1, 5, 15, 30, 60, 300, 900, 1800, 3600},
				},
				[]string{"outcome"},
			),
			taskResultsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "task_results_total",
					Help: "Task results by outcome and error kind.",
				},
				[]string{"outcome", "kind"},
			),
			collectorEntries: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "collector_entries",
					Help: "Entries held in memory by the collector.",
				},
			),
			collectTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "collector_collect_total",
					Help: "Total entries collected.",
				},
			),
			collectorDumpsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "collector_dumps_total",
					Help: "Collector dumps by status.",
				},
				[]string{"status"},
			),
			collectorDumpDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "collector_dump_duration_seconds",
					Help:    "Collector dump duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			requestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dispatcher_requests_total",
					Help: "Inbound requests by channel and disposition.",
				},
				[]string{"channel", "status"},
			),
			notificationsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dispatcher_notifications_total",
					Help: "Completion notifications by status.",
				},
				[]string{"status"},
			),
			gatewayClients: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "gateway_clients",
					Help: "Connected gateway WebSocket clients.",
				},
			),
			gatewayMessages: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "gateway_messages_total",
					Help: "Inbound gateway messages by status.",
				},
				[]string{"status"},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.runningTasks,
			m.submissionsTotal,
			m.discardedTotal,
			m.taskDuration,
			m.taskResultsTotal,
			m.collectorEntries,
			m.collectTotal,
			m.collectorDumpsTotal,
			m.collectorDumpDuration,
			m.requestsTotal,
			m.notificationsTotal,
			m.gatewayClients,
			m.gatewayMessages,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordSubmission(queueSize int) {
	m := getMetrics()
	m.submissionsTotal.Inc()
	m.queueSize.Set(float64(queueSize))
}

func SetPoolState(queued, running int) {
	m := getMetrics()
	m.queueSize.Set(float64(queued))
	m.runningTasks.Set(float64(running))
}

func RecordDiscarded(count int) {
	m := getMetrics()
	m.discardedTotal.Add(float64(count))
	m.queueSize.Set(0)
}

func RecordTaskResult(duration time.Duration, outcome, kind string) {
	m := getMetrics()
	if kind == "" {
		kind = "none"
	}
	m.taskDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	m.taskResultsTotal.WithLabelValues(outcome, kind).Inc()
}

func RecordCollect(entries int) {
	m := getMetrics()
	m.collectTotal.Inc()
	m.collectorEntries.Set(float64(entries))
}

func RecordDump(duration time.Duration, success bool, remaining int) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.collectorDumpsTotal.WithLabelValues(status).Inc()
	m.collectorDumpDuration.Observe(duration.Seconds())
	m.collectorEntries.Set(float64(remaining))
}

func RecordRequest(channel, status string) {
	m := getMetrics()
	if channel == "" {
		channel = "unknown"
	}
	m.requestsTotal.WithLabelValues(channel, status).Inc()
}

func RecordNotification(success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.notificationsTotal.WithLabelValues(status).Inc()
}

// SetGatewayClients records the number of connected gateway clients.
func SetGatewayClients(n int) {
	getMetrics().gatewayClients.Set(float64(n))
}

// RecordGatewayMessage counts an inbound gateway message by status.
func RecordGatewayMessage(status string) {
	getMetrics().gatewayMessages.WithLabelValues(status).Inc()
}
