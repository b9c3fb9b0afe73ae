// Package metrics provides Prometheus collectors for range fetches, directory
// listings and in-flight read operations. All methods are safe on a nil
// *Collectors so instrumentation stays optional.
package metrics

import (
	"time"

	"github.com/davstream/internal/core/failure"
	"github.com/prometheus/client_golang/prometheus"
)

type Collectors struct {
	fetchTotal   *prometheus.CounterVec
	listTotal    *prometheus.CounterVec
	readTotal    *prometheus.CounterVec
	bytesRead    prometheus.Counter
	inFlight     prometheus.Gauge
	readDuration prometheus.Histogram
}

// New creates the collectors and registers them with reg when reg is not nil.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		fetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "davstream_range_fetches_total",
				Help: "Total number of range fetches by result",
			},
			[]string{"result"},
		),
		listTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "davstream_directory_listings_total",
				Help: "Total number of directory listings by result",
			},
			[]string{"result"},
		),
		readTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "davstream_reads_total",
				Help: "Total number of read requests by terminal outcome",
			},
			[]string{"result"},
		),
		bytesRead: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "davstream_read_bytes_total",
				Help: "Total bytes delivered to read requests",
			},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "davstream_inflight_operations",
				Help: "Number of registered in-flight read operations",
			},
		),
		readDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "davstream_read_duration_seconds",
				Help:    "Read request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	if reg != nil {
		reg.MustRegister(c.fetchTotal, c.listTotal, c.readTotal, c.bytesRead, c.inFlight, c.readDuration)
	}
	return c
}

func result(err error) string {
	if err == nil {
		return "ok"
	}
	if k := failure.KindOf(err); k != 0 {
		return k.String()
	}
	return "error"
}

func (c *Collectors) ObserveFetch(err error) {
	if c == nil {
		return
	}
	c.fetchTotal.WithLabelValues(result(err)).Inc()
}

func (c *Collectors) ObserveList(err error) {
	if c == nil {
		return
	}
	c.listTotal.WithLabelValues(result(err)).Inc()
}

// ObserveRead records the terminal outcome of one read request.
func (c *Collectors) ObserveRead(d time.Duration, n int, err error) {
	if c == nil {
		return
	}
	c.readTotal.WithLabelValues(result(err)).Inc()
	c.readDuration.Observe(d.Seconds())
	if n > 0 {
		c.bytesRead.Add(float64(n))
	}
}

func (c *Collectors) InFlightInc() {
	if c == nil {
		return
	}
	c.inFlight.Inc()
}

func (c *Collectors) InFlightDec() {
	if c == nil {
		return
	}
	c.inFlight.Dec()
}
