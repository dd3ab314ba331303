package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector groups the client-side counters for the request pipeline and
// session controller. A nil *Collector is valid and records nothing.
type Collector struct {
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Refreshes       *prometheus.CounterVec
	Resends         prometheus.Counter
	Logouts         prometheus.Counter
	Logins          *prometheus.CounterVec
}

// New creates a Collector and registers it with reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blogctl_requests_total",
				Help: "Backend requests sent by the pipeline (by method and status).",
			},
			[]string{"method", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blogctl_request_duration_seconds",
				Help:    "Duration of single backend transmissions in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms → ~10s
			},
			[]string{"method"},
		),
		Refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blogctl_token_refreshes_total",
				Help: "Access token refresh attempts (by result).",
			},
			[]string{"result"},
		),
		Resends: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blogctl_request_resends_total",
			Help: "Requests resent after a successful token refresh.",
		}),
		Logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blogctl_logouts_total",
			Help: "Local session terminations.",
		}),
		Logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blogctl_logins_total",
				Help: "Login attempts (by result).",
			},
			[]string{"result"},
		),
	}
	reg.MustRegister(c.Requests, c.RequestDuration, c.Refreshes, c.Resends, c.Logouts, c.Logins)
	return c
}

// IncRequest counts one transmission. status 0 means a transport failure.
func (c *Collector) IncRequest(method string, status int) {
	if c == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	c.Requests.WithLabelValues(method, label).Inc()
}

// ObserveDuration records the time since start for method.
func (c *Collector) ObserveDuration(method string, start time.Time) {
	if c == nil {
		return
	}
	c.RequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

func (c *Collector) IncRefresh(ok bool) {
	if c == nil {
		return
	}
	c.Refreshes.WithLabelValues(result(ok)).Inc()
}

func (c *Collector) IncLogin(ok bool) {
	if c == nil {
		return
	}
	c.Logins.WithLabelValues(result(ok)).Inc()
}

func (c *Collector) IncResend() {
	if c == nil {
		return
	}
	c.Resends.Inc()
}

func (c *Collector) IncLogout() {
	if c == nil {
		return
	}
	c.Logouts.Inc()
}

// WriteTextfile dumps everything in g to path in the text exposition format,
// for pickup by a node_exporter textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
