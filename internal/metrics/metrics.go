package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// client side
	PollCount     *prometheus.CounterVec
	PollErrors    *prometheus.CounterVec
	TaskStalls    *prometheus.CounterVec
	TaskOutcomes  *prometheus.CounterVec
	PageFetches   prometheus.Counter
	PageFetchTime prometheus.Histogram
	ActivePollers prometheus.Gauge

	// server side
	TasksSubmitted *prometheus.CounterVec
	TasksFinished  *prometheus.CounterVec
	TasksSwept     prometheus.Counter
	TasksPurged    prometheus.Counter
}

// NewMetrics creates metrics on the default registry
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates metrics on reg. Tests pass a fresh registry so
// several instances can coexist.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PollCount: f.NewCounterVec(prometheus.CounterOpts{
			Name: "emailtidy_poll_count",
			Help: "Total number of task status polls",
		}, []string{"state"}),
		PollErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "emailtidy_poll_errors",
			Help: "Total number of failed task status polls by task kind and reason",
		}, []string{"kind", "reason"}),
		TaskStalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "emailtidy_task_stalls",
			Help: "Total number of tasks that never left the unknown state",
		}, []string{"kind"}),
		TaskOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "emailtidy_task_outcomes",
			Help: "Tasks observed to completion by outcome",
		}, []string{"kind", "outcome"}),
		PageFetches: f.NewCounter(prometheus.CounterOpts{
			Name: "emailtidy_page_fetches",
			Help: "Total number of result pages fetched",
		}),
		PageFetchTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "emailtidy_page_fetch_duration_seconds",
			Help:    "Time spent fetching result pages",
			Buckets: prometheus.DefBuckets,
		}),
		ActivePollers: f.NewGauge(prometheus.GaugeOpts{
			Name: "emailtidy_active_pollers",
			Help: "Number of tasks currently being polled",
		}),
		TasksSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "emailtidy_tasks_submitted",
			Help: "Total number of tasks accepted by the server",
		}, []string{"kind"}),
		TasksFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "emailtidy_tasks_finished",
			Help: "Total number of tasks that reached a terminal state",
		}, []string{"kind", "state"}),
		TasksSwept: f.NewCounter(prometheus.CounterOpts{
			Name: "emailtidy_tasks_swept",
			Help: "Total number of stale tasks marked failed by the sweeper",
		}),
		TasksPurged: f.NewCounter(prometheus.CounterOpts{
			Name: "emailtidy_tasks_purged",
			Help: "Total number of finished tasks deleted after retention",
		}),
	}
}

// The helpers below accept a nil receiver so callers can run without metrics.

func (m *Metrics) ObservePoll(state string) {
	if m == nil {
		return
	}
	m.PollCount.WithLabelValues(state).Inc()
}

// ObservePollError counts a failed poll. reason is auth or transport.
func (m *Metrics) ObservePollError(kind, reason string) {
	if m == nil {
		return
	}
	m.PollErrors.WithLabelValues(kind, reason).Inc()
}

func (m *Metrics) ObserveStall(kind string) {
	if m == nil {
		return
	}
	m.TaskStalls.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveOutcome(kind, outcome string) {
	if m == nil {
		return
	}
	m.TaskOutcomes.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObservePageFetch(seconds float64) {
	if m == nil {
		return
	}
	m.PageFetches.Inc()
	m.PageFetchTime.Observe(seconds)
}

func (m *Metrics) PollerStarted() {
	if m == nil {
		return
	}
	m.ActivePollers.Inc()
}

func (m *Metrics) PollerStopped() {
	if m == nil {
		return
	}
	m.ActivePollers.Dec()
}

func (m *Metrics) ObserveSubmitted(kind string) {
	if m == nil {
		return
	}
	m.TasksSubmitted.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveFinished(kind, state string) {
	if m == nil {
		return
	}
	m.TasksFinished.WithLabelValues(kind, state).Inc()
}

func (m *Metrics) ObserveSweep(swept, purged int64) {
	if m == nil {
		return
	}
	m.TasksSwept.Add(float64(swept))
	m.TasksPurged.Add(float64(purged))
}
