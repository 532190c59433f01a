// Package redisprom collects request statistics into prometheus metrics.
package redisprom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joomcode/redismap/redis"
	"github.com/joomcode/redismap/redisconn"
)

// Metrics holds request latency histogram and error counter, both labelled by command.
type Metrics struct {
	latency *prometheus.HistogramVec
	errors  *prometheus.CounterVec
}

// New creates metrics "<namespace>_<subsystem>_request_duration_seconds" and
// "<namespace>_<subsystem>_request_errors_total".
func New(namespace, subsystem string) *Metrics {
	return &Metrics{
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "request_duration_seconds",
			Help:      "Duration of redis requests in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 9),
		}, []string{"command"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "request_errors_total",
			Help:      "Number of redis requests resolved with error.",
		}, []string{"command", "kind"}),
	}
}

// Describe implements prometheus.Collector
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.latency.Describe(ch)
	m.errors.Describe(ch)
}

// Collect implements prometheus.Collector
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.latency.Collect(ch)
	m.errors.Collect(ch)
}

// Observe records single request. It fits rediszap.StatFunc.
func (m *Metrics) Observe(conn *redisconn.Connection, req redis.Request, res interface{}, nanos int64) {
	m.latency.WithLabelValues(req.Cmd).Observe(time.Duration(nanos).Seconds())
	if rerr := redis.AsErrorx(res); rerr != nil {
		m.errors.WithLabelValues(req.Cmd, rerr.Type().FullName()).Inc()
	}
}

// Report implements redisconn.Logger.Report, events are ignored.
func (m *Metrics) Report(conn *redisconn.Connection, event redisconn.LogEvent) {}

// ReqStat implements redisconn.Logger.ReqStat
func (m *Metrics) ReqStat(conn *redisconn.Connection, req redis.Request, res interface{}, nanos int64) {
	m.Observe(conn, req, res, nanos)
}
