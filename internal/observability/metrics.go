package observability

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dpapctl",
			Subsystem: "admin",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dpapctl",
			Subsystem: "admin",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	fetchRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dpapctl",
			Subsystem: "transport",
			Name:      "fetches_total",
			Help:      "Requests issued to photo-sharing servers.",
		},
		[]string{"route", "status"},
	)
	fetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dpapctl",
			Subsystem: "transport",
			Name:      "fetch_duration_seconds",
			Help:      "Server request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route", "status"},
	)
	refreshCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dpapctl",
			Subsystem: "sync",
			Name:      "refresh_total",
			Help:      "Per-database refresh cycles by outcome.",
		},
		[]string{"outcome"},
	)
	mirrorEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dpapctl",
			Subsystem: "sync",
			Name:      "events_total",
			Help:      "Mirror change events by kind.",
		},
		[]string{"kind"},
	)
	serverRevision = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dpapctl",
			Subsystem: "sync",
			Name:      "server_revision",
			Help:      "Last revision observed from the server.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, fetchRequests, fetchDuration,
			refreshCycles, mirrorEvents, serverRevision)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// RecordFetch counts one server request. Status 0 means no response.
func RecordFetch(path string, status int, duration time.Duration) {
	RegisterMetrics()
	route := Route(path)
	statusLabel := strconv.Itoa(status)
	fetchRequests.WithLabelValues(route, statusLabel).Inc()
	fetchDuration.WithLabelValues(route, statusLabel).Observe(duration.Seconds())
}

func RecordRefresh(success bool) {
	RegisterMetrics()
	outcome := "ok"
	if !success {
		outcome = "failed"
	}
	refreshCycles.WithLabelValues(outcome).Inc()
}

func RecordEvent(kind string) {
	RegisterMetrics()
	mirrorEvents.WithLabelValues(kind).Inc()
}

func SetRevision(rev int32) {
	RegisterMetrics()
	serverRevision.Set(float64(rev))
}

// Route collapses numeric path segments so ids do not explode label sets.
func Route(path string) string {
	segs := strings.Split(path, "/")
	for i, s := range segs {
		if s == "" {
			continue
		}
		if _, err := strconv.Atoi(s); err == nil {
			segs[i] = ":id"
		}
	}
	return strings.Join(segs, "/")
}
