package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
//
// Every Record/Inc/Set method is safe on a nil *Metrics so runtime
// components built without metrics (tests, embedded use) need no guards.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Class registry metrics
	ClassLoads        *prometheus.CounterVec
	ClassLoadDuration prometheus.Histogram
	DependencyLoads   *prometheus.CounterVec

	// Gadget metrics
	GadgetsDeclared  *prometheus.CounterVec
	Acquisitions     *prometheus.CounterVec
	MonitorRejects   prometheus.Counter
	PageCrashes      prometheus.Counter
	PagesActive      prometheus.Gauge
	FramesActive     prometheus.Gauge
	ChannelMessages  *prometheus.CounterVec
	ChannelCallTimes *prometheus.HistogramVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	gatherer prometheus.Gatherer

	// Snapshot for the JSON health endpoint
	snapshot Snapshot

	mu sync.RWMutex
}

// Snapshot holds current metric values for the JSON health endpoint
type Snapshot struct {
	TotalRequests int64 `json:"total_requests"`
	ClassLoads    int64 `json:"class_loads"`
	ActivePages   int64 `json:"active_pages"`
	ActiveFrames  int64 `json:"active_frames"`
	Crashes       int64 `json:"crashes"`
}

// NewMetrics creates a metrics collector on the default Prometheus registry
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewMetricsWith creates a metrics collector registered on reg. Tests pass a
// fresh prometheus.NewRegistry() to avoid duplicate registration.
func NewMetricsWith(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),
		gatherer:  gatherer,

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gadgetry_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gadgetry_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gadgetry_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		// Class registry metrics
		ClassLoads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gadgetry_class_loads_total",
				Help: "Gadget class definitions fetched and parsed",
			},
			[]string{"result"},
		),
		ClassLoadDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gadgetry_class_load_duration_seconds",
				Help:    "Class load duration including script and stylesheet dependencies",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		DependencyLoads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gadgetry_dependency_loads_total",
				Help: "Script and stylesheet dependencies loaded",
			},
			[]string{"kind", "result"},
		),

		// Gadget metrics
		GadgetsDeclared: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gadgetry_gadgets_declared_total",
				Help: "Gadget declarations by sandbox",
			},
			[]string{"sandbox", "result"},
		),
		Acquisitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gadgetry_acquisitions_total",
				Help: "Acquisition lookups by outcome",
			},
			[]string{"result"},
		),
		MonitorRejects: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gadgetry_monitor_rejections_total",
				Help: "Gadget monitors rejected by a failed operation",
			},
		),
		PageCrashes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gadgetry_page_crashes_total",
				Help: "Pages replaced by the crash diagnostic",
			},
		),
		PagesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gadgetry_pages_active",
				Help: "Number of open pages",
			},
		),
		FramesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gadgetry_frames_active",
				Help: "Number of isolated gadgets hosted for remote parents",
			},
		),
		ChannelMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gadgetry_channel_messages_total",
				Help: "Channel messages by direction and kind",
			},
			[]string{"direction", "kind"},
		),
		ChannelCallTimes: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gadgetry_channel_call_duration_seconds",
				Help:    "Channel request round-trip in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
			},
			[]string{"method"},
		),

		// System metrics
		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gadgetry_uptime_seconds",
				Help: "Process uptime in seconds",
			},
		),
	}

	return m
}

// Run updates the uptime gauge until done is closed
func (m *Metrics) Run(done <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.Uptime.Set(time.Since(m.startTime).Seconds())
		}
	}
}

// Handler serves the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, respSize int64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.mu.Unlock()
}

// RecordClassLoad records one class definition load
func (m *Metrics) RecordClassLoad(err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.ClassLoads.WithLabelValues(result(err)).Inc()
	m.ClassLoadDuration.Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.ClassLoads++
	m.mu.Unlock()
}

// RecordDependencyLoad records one script ("js") or stylesheet ("css") load
func (m *Metrics) RecordDependencyLoad(kind string, err error) {
	if m == nil {
		return
	}
	m.DependencyLoads.WithLabelValues(kind, result(err)).Inc()
}

// RecordGadgetDeclared records a gadget declaration
func (m *Metrics) RecordGadgetDeclared(sandbox string, err error) {
	if m == nil {
		return
	}
	m.GadgetsDeclared.WithLabelValues(sandbox, result(err)).Inc()
}

// RecordAcquisition records an acquisition outcome ("handled", "unclaimed", "failed")
func (m *Metrics) RecordAcquisition(outcome string) {
	if m == nil {
		return
	}
	m.Acquisitions.WithLabelValues(outcome).Inc()
}

// RecordChannelMessage records a channel message ("in"/"out", "request"/"response"/"notify")
func (m *Metrics) RecordChannelMessage(direction, kind string) {
	if m == nil {
		return
	}
	m.ChannelMessages.WithLabelValues(direction, kind).Inc()
}

// RecordChannelCall records a completed channel request
func (m *Metrics) RecordChannelCall(method string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ChannelCallTimes.WithLabelValues(method).Observe(duration.Seconds())
}

// IncMonitorRejects counts a monitor rejection
func (m *Metrics) IncMonitorRejects() {
	if m == nil {
		return
	}
	m.MonitorRejects.Inc()
}

// IncCrashes counts a page crash
func (m *Metrics) IncCrashes() {
	if m == nil {
		return
	}
	m.PageCrashes.Inc()
	m.mu.Lock()
	m.snapshot.Crashes++
	m.mu.Unlock()
}

// AddPages adjusts the open page gauge
func (m *Metrics) AddPages(delta int) {
	if m == nil {
		return
	}
	m.PagesActive.Add(float64(delta))
	m.mu.Lock()
	m.snapshot.ActivePages += int64(delta)
	m.mu.Unlock()
}

// AddFrames adjusts the hosted frame gauge
func (m *Metrics) AddFrames(delta int) {
	if m == nil {
		return
	}
	m.FramesActive.Add(float64(delta))
	m.mu.Lock()
	m.snapshot.ActiveFrames += int64(delta)
	m.mu.Unlock()
}

// Snapshot returns current values for the JSON health endpoint
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
